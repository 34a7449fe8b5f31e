package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"commercehub/internal/gateway/stripe"
	"commercehub/internal/order"
	"commercehub/internal/reconcile"
	"commercehub/internal/tenant"
)

const testSecret = "whsec_test"

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, token string) (*tenant.Context, error) {
	if token != "t1" {
		return nil, fmt.Errorf("%w: token %q", tenant.ErrUnknownChannel, token)
	}
	return tenant.SystemContext(&tenant.Channel{ID: "ch_1", Token: "t1", Active: true}), nil
}

// stubGateway accepts every mutation so handler tests exercise only the
// HTTP mapping, not the reconciliation decisions.
type stubGateway struct {
	methodErr error
}

func (g *stubGateway) TransitionToState(ctx context.Context, actor *tenant.Context, orderID string, target order.State) (*order.Order, error) {
	return &order.Order{ID: orderID, ChannelID: actor.Channel.ID, State: target}, nil
}

func (g *stubGateway) FindPaymentMethodByHandler(ctx context.Context, actor *tenant.Context, handlerCode string) (*order.PaymentMethod, error) {
	if g.methodErr != nil {
		return nil, g.methodErr
	}
	return &order.PaymentMethod{ID: "pm_1", Code: "stripe-default", HandlerCode: handlerCode, Enabled: true}, nil
}

func (g *stubGateway) AddPayment(ctx context.Context, actor *tenant.Context, orderID string, input order.PaymentInput) (*order.Order, error) {
	return &order.Order{ID: orderID, ChannelID: actor.Channel.ID, State: order.StatePaymentSettled}, nil
}

type stubJournal struct {
	records []*reconcile.DeliveryRecord
	listErr error
}

func (j *stubJournal) Record(ctx context.Context, rec *reconcile.DeliveryRecord) error {
	j.records = append(j.records, rec)
	return nil
}

func (j *stubJournal) ListRecent(ctx context.Context, limit int) ([]*reconcile.DeliveryRecord, error) {
	if j.listErr != nil {
		return nil, j.listErr
	}
	if limit > len(j.records) {
		limit = len(j.records)
	}
	return j.records[:limit], nil
}

func newTestHandler(gateway *stubGateway) (*Handler, *stubJournal) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	journal := &stubJournal{}
	engine := reconcile.NewEngine(reconcile.Config{
		WebhookSecret:      testSecret,
		SignatureTolerance: 5 * time.Minute,
		HandlerCode:        "stripe",
	}, stubResolver{}, gateway, logger)
	engine.SetJournal(journal)
	return NewHandler(engine, journal, logger), journal
}

const webhookBody = `{"id": "evt_1", "type": "payment_intent.succeeded",
	"data": {"object": {"id": "pi_123", "amount": 4200, "currency": "usd",
		"metadata": {"channelToken": "t1", "orderId": "42", "orderCode": "ABC"}}}}`

func postWebhook(t *testing.T, h *Handler, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/stripe", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(stripe.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHandleStripeWebhook(t *testing.T) {
	sign := func(body string) string {
		return stripe.SignatureFor(testSecret, time.Now().Unix(), []byte(body))
	}

	t.Run("succeeded acks with 200", func(t *testing.T) {
		h, journal := newTestHandler(&stubGateway{})

		rec := postWebhook(t, h, webhookBody, sign(webhookBody))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
		}
		if got := rec.Body.String(); got != `{"status":"ok"}` {
			t.Errorf("body = %q, want ok ack", got)
		}
		if len(journal.records) != 1 {
			t.Errorf("journal records = %d, want 1", len(journal.records))
		}
	})

	t.Run("missing signature is 401", func(t *testing.T) {
		h, _ := newTestHandler(&stubGateway{})

		rec := postWebhook(t, h, webhookBody, "")

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("bad signature is 401", func(t *testing.T) {
		h, _ := newTestHandler(&stubGateway{})

		rec := postWebhook(t, h, webhookBody, stripe.SignatureFor("whsec_other", time.Now().Unix(), []byte(webhookBody)))

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("malformed payload is 400", func(t *testing.T) {
		h, _ := newTestHandler(&stubGateway{})
		body := `{not json`

		rec := postWebhook(t, h, body, sign(body))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("unknown channel is 400", func(t *testing.T) {
		h, _ := newTestHandler(&stubGateway{})
		body := `{"id": "evt_1", "type": "payment_intent.succeeded",
			"data": {"object": {"id": "pi_123", "metadata": {"channelToken": "nope", "orderId": "42"}}}}`

		rec := postWebhook(t, h, body, sign(body))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("handler not configured is 500", func(t *testing.T) {
		h, _ := newTestHandler(&stubGateway{methodErr: order.ErrMethodNotConfigured})

		rec := postWebhook(t, h, webhookBody, sign(webhookBody))

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rec.Code)
		}
	})

	t.Run("ignored event type acks with 200", func(t *testing.T) {
		h, _ := newTestHandler(&stubGateway{})
		body := `{"id": "evt_1", "type": "charge.refunded", "data": {"object": {"id": "pi_123"}}}`

		rec := postWebhook(t, h, body, sign(body))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})
}

func TestReplayDelivery(t *testing.T) {
	t.Run("replays a verified body", func(t *testing.T) {
		h, _ := newTestHandler(&stubGateway{})
		payload := fmt.Sprintf(`{"event_body": %s}`, webhookBody)

		req := httptest.NewRequest(http.MethodPost, "/reconcile/replay", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.AdminRoutes().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), `"outcome":"succeeded"`) {
			t.Errorf("body = %s, want succeeded outcome", rec.Body.String())
		}
	})

	t.Run("missing event body is a validation error", func(t *testing.T) {
		h, _ := newTestHandler(&stubGateway{})

		req := httptest.NewRequest(http.MethodPost, "/reconcile/replay", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.AdminRoutes().ServeHTTP(rec, req)

		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422 (body: %s)", rec.Code, rec.Body.String())
		}
	})
}

func TestListDeliveries(t *testing.T) {
	h, journal := newTestHandler(&stubGateway{})
	journal.records = []*reconcile.DeliveryRecord{
		{ID: "d1", EventID: "evt_1", Outcome: "succeeded"},
		{ID: "d2", EventID: "evt_2", Outcome: "rejected_malformed"},
	}

	t.Run("lists journaled deliveries", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/deliveries", nil)
		rec := httptest.NewRecorder()
		h.AdminRoutes().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "evt_1") || !strings.Contains(rec.Body.String(), "evt_2") {
			t.Errorf("body = %s, want both deliveries", rec.Body.String())
		}
	})

	t.Run("honors limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/deliveries?limit=1", nil)
		rec := httptest.NewRecorder()
		h.AdminRoutes().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if strings.Contains(rec.Body.String(), "evt_2") {
			t.Errorf("body = %s, want only the first delivery", rec.Body.String())
		}
	})

	t.Run("rejects a bad limit", func(t *testing.T) {
		for _, limit := range []string{"zero", "0", "-5", "600"} {
			req := httptest.NewRequest(http.MethodGet, "/deliveries?limit="+limit, nil)
			rec := httptest.NewRecorder()
			h.AdminRoutes().ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("limit=%s: status = %d, want 400", limit, rec.Code)
			}
		}
	})
}
