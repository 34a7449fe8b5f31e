package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"commercehub/internal/common/api"
	"commercehub/internal/gateway/stripe"
	"commercehub/internal/reconcile"
)

// DeliveryLister reads journaled deliveries for the operator surface.
type DeliveryLister interface {
	ListRecent(ctx context.Context, limit int) ([]*reconcile.DeliveryRecord, error)
}

// Handler handles webhook and operator HTTP requests.
type Handler struct {
	engine  *reconcile.Engine
	journal DeliveryLister
	logger  *slog.Logger
}

// NewHandler creates a new reconciliation handler.
func NewHandler(engine *reconcile.Engine, journal DeliveryLister, logger *slog.Logger) *Handler {
	return &Handler{
		engine:  engine,
		journal: journal,
		logger:  logger,
	}
}

// Routes returns the public webhook routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/stripe", h.HandleStripeWebhook)
	return r
}

// AdminRoutes returns the operator routes.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/reconcile/replay", h.ReplayDelivery)
	r.Get("/deliveries", h.ListDeliveries)
	return r
}

// HandleStripeWebhook handles POST /webhooks/stripe.
//
// 2xx tells the gateway to stop redelivering, so every outcome the sender
// cannot fix by retrying (including domain conflicts, which are operator
// work) acknowledges with 200. Only pre-validation rejections and deployment
// misconfiguration surface as errors.
func (h *Handler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	res := h.engine.Process(r.Context(), reconcile.Delivery{
		Body:            body,
		SignatureHeader: r.Header.Get(stripe.SignatureHeader),
		ReceivedAt:      time.Now().UTC(),
	})

	switch res.Outcome {
	case reconcile.OutcomeRejectedBadSignature:
		api.Unauthorized(w, "invalid signature")
	case reconcile.OutcomeRejectedMalformed, reconcile.OutcomeUnknownChannel:
		api.BadRequest(w, "invalid payload")
	case reconcile.OutcomeHandlerNotConfigured:
		api.Misconfigured(w, "payment handler not configured")
	default:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// ReplayRequest is the operator request to re-run reconciliation for an
// event body that was already verified once.
type ReplayRequest struct {
	EventBody json.RawMessage `json:"event_body" validate:"required"`
}

// ReplayResponse reports the replay outcome.
type ReplayResponse struct {
	Outcome         string `json:"outcome"`
	EventID         string `json:"event_id,omitempty"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	OrderCode       string `json:"order_code,omitempty"`
	Detail          string `json:"detail,omitempty"`
}

// ReplayDelivery handles POST /admin/reconcile/replay.
func (h *Handler) ReplayDelivery(w http.ResponseWriter, r *http.Request) {
	var req ReplayRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	res := h.engine.ProcessVerified(r.Context(), req.EventBody)

	api.WriteData(w, http.StatusOK, ReplayResponse{
		Outcome:         string(res.Outcome),
		EventID:         res.EventID,
		PaymentIntentID: res.PaymentIntentID,
		OrderCode:       res.OrderCode,
		Detail:          res.Detail,
	})
}

// ListDeliveries handles GET /admin/deliveries.
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > reconcile.MaxDeliveryLimit {
			api.BadRequest(w, fmt.Sprintf("limit must be between 1 and %d", reconcile.MaxDeliveryLimit))
			return
		}
		limit = n
	}

	records, err := h.journal.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list deliveries", "error", err)
		api.InternalError(w, "failed to list deliveries")
		return
	}

	api.WriteData(w, http.StatusOK, records)
}
