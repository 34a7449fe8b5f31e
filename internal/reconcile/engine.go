// Package reconcile turns untrusted payment-gateway webhook deliveries into
// idempotent state changes on order aggregates.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"commercehub/internal/common/events"
	"commercehub/internal/common/money"
	"commercehub/internal/gateway/stripe"
	"commercehub/internal/order"
	"commercehub/internal/tenant"
)

// Outcome is the terminal result of handling one delivery.
type Outcome string

const (
	OutcomeRejectedBadSignature Outcome = "rejected_bad_signature"
	OutcomeRejectedMalformed    Outcome = "rejected_malformed"
	OutcomeIgnoredEventType     Outcome = "ignored_event_type"
	OutcomeIgnoredPaymentFailed Outcome = "ignored_payment_failed"
	OutcomeUnknownChannel       Outcome = "failed_unknown_channel"
	OutcomeHandlerNotConfigured Outcome = "handler_not_configured"
	OutcomeTransitionFailed     Outcome = "transition_failed"
	OutcomePaymentAttachFailed  Outcome = "payment_attach_failed"
	OutcomeSucceeded            Outcome = "succeeded"
)

// NATS subjects for reconciliation outcome events.
const (
	SubjectSucceeded = "webhook.reconciliation.succeeded"
	SubjectIgnored   = "webhook.reconciliation.ignored"
	SubjectFailed    = "webhook.reconciliation.failed"
)

// Delivery is one inbound webhook delivery, consumed exactly once.
// Body must be the raw request bytes, untouched by any re-serialization.
type Delivery struct {
	Body            []byte
	SignatureHeader string
	ReceivedAt      time.Time
}

// Result carries the terminal outcome plus the identifiers operators need
// for manual reconciliation.
type Result struct {
	Outcome         Outcome
	EventID         string
	EventType       string
	PaymentIntentID string
	ChannelToken    string
	OrderID         string
	OrderCode       string
	Detail          string
	Err             error
}

// ChannelResolver maps channel tokens to execution contexts.
type ChannelResolver interface {
	Resolve(ctx context.Context, token string) (*tenant.Context, error)
}

// OrderGateway exposes the order aggregate operations the engine needs.
// Both mutations must be safe to repeat: transitioning an order already in
// the target state is a no-op, and a duplicate payment attach reports
// order.ErrDuplicatePayment instead of a second record.
type OrderGateway interface {
	TransitionToState(ctx context.Context, actor *tenant.Context, orderID string, target order.State) (*order.Order, error)
	FindPaymentMethodByHandler(ctx context.Context, actor *tenant.Context, handlerCode string) (*order.PaymentMethod, error)
	AddPayment(ctx context.Context, actor *tenant.Context, orderID string, input order.PaymentInput) (*order.Order, error)
}

// Publisher publishes outcome events to NATS.
type Publisher interface {
	Publish(ctx context.Context, subject string, env *events.Envelope) error
}

// Journal records terminal outcomes for operator reconciliation.
type Journal interface {
	Record(ctx context.Context, rec *DeliveryRecord) error
}

// Config holds engine configuration.
type Config struct {
	WebhookSecret      string        `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`
	SignatureTolerance time.Duration `envconfig:"STRIPE_SIGNATURE_TOLERANCE" default:"5m"`
	HandlerCode        string        `envconfig:"PAYMENT_HANDLER_CODE" default:"stripe"`
}

// Engine is the per-delivery reconciliation state machine. It holds no
// state shared across deliveries; concurrent deliveries for different orders
// proceed fully in parallel, and same-order races are resolved by the order
// gateway's guarded mutations.
type Engine struct {
	cfg       Config
	channels  ChannelResolver
	orders    OrderGateway
	journal   Journal
	publisher Publisher
	logger    *slog.Logger
}

// NewEngine creates a new reconciliation engine.
func NewEngine(cfg Config, channels ChannelResolver, orders OrderGateway, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		channels: channels,
		orders:   orders,
		logger:   logger,
	}
}

// SetJournal sets the delivery journal.
func (e *Engine) SetJournal(j Journal) { e.journal = j }

// SetPublisher sets the outcome event publisher.
func (e *Engine) SetPublisher(p Publisher) { e.publisher = p }

// Process handles one webhook delivery end to end: verify, classify,
// resolve, transition, attach. Each stage can short-circuit with a terminal
// outcome; no stage after a short-circuit runs.
func (e *Engine) Process(ctx context.Context, delivery Delivery) Result {
	event, err := stripe.VerifyAndParse(
		delivery.Body,
		delivery.SignatureHeader,
		e.cfg.WebhookSecret,
		e.cfg.SignatureTolerance,
		delivery.ReceivedAt,
	)
	if err != nil {
		switch {
		case errors.Is(err, stripe.ErrMissingSignature):
			e.logger.Warn("webhook rejected: missing signature")
			return e.finish(ctx, delivery.ReceivedAt, Result{
				Outcome: OutcomeRejectedBadSignature,
				Detail:  "missing signature header",
				Err:     err,
			})
		case errors.Is(err, stripe.ErrSignatureMismatch):
			e.logger.Warn("webhook rejected: signature mismatch", "error", err)
			return e.finish(ctx, delivery.ReceivedAt, Result{
				Outcome: OutcomeRejectedBadSignature,
				Detail:  "signature mismatch",
				Err:     err,
			})
		default:
			e.logger.Warn("webhook rejected: unparseable payload", "error", err)
			return e.finish(ctx, delivery.ReceivedAt, Result{
				Outcome: OutcomeRejectedMalformed,
				Detail:  "unparseable payload",
				Err:     err,
			})
		}
	}

	return e.finish(ctx, delivery.ReceivedAt, e.reconcile(ctx, event))
}

// ProcessVerified reconciles an event body whose authenticity was already
// established, e.g. an operator replaying a journaled delivery.
func (e *Engine) ProcessVerified(ctx context.Context, body []byte) Result {
	now := time.Now().UTC()

	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return e.finish(ctx, now, Result{
			Outcome: OutcomeRejectedMalformed,
			Detail:  "unparseable payload",
			Err:     fmt.Errorf("%w: %s", stripe.ErrMalformedPayload, err),
		})
	}

	return e.finish(ctx, now, e.reconcile(ctx, &event))
}

// reconcile applies the decision table to a verified event. First match wins.
func (e *Engine) reconcile(ctx context.Context, event *stripe.Event) Result {
	classified, err := stripe.Classify(event)
	if err != nil {
		e.logger.Warn("webhook rejected: no payment object",
			"event_id", event.ID,
			"event_type", event.Type,
		)
		return Result{
			Outcome:   OutcomeRejectedMalformed,
			EventID:   event.ID,
			EventType: event.Type,
			Detail:    "missing payment object",
			Err:       err,
		}
	}

	res := Result{
		EventID:         classified.EventID,
		EventType:       classified.EventType,
		PaymentIntentID: classified.Intent.ID,
		ChannelToken:    classified.Correlation.ChannelToken,
		OrderID:         classified.Correlation.OrderID,
		OrderCode:       classified.Correlation.OrderCode,
	}

	switch classified.Bucket {
	case stripe.BucketOther:
		// The gateway may expand its event taxonomy at any time; an
		// unrecognized type is a no-op, never an error.
		e.logger.Info("ignoring webhook event type",
			"event_type", classified.EventType,
			"payment_intent_id", classified.Intent.ID,
		)
		res.Outcome = OutcomeIgnoredEventType
		return res

	case stripe.BucketFailed:
		// A failed payment attempt must not touch order state.
		e.logger.Warn("payment failed at gateway",
			"payment_intent_id", classified.Intent.ID,
			"order_code", classified.Correlation.OrderCode,
			"reason", classified.FailureMessage,
		)
		res.Outcome = OutcomeIgnoredPaymentFailed
		res.Detail = classified.FailureMessage
		return res
	}

	if !classified.Correlation.Resolvable() {
		e.logger.Warn("webhook rejected: missing correlation metadata",
			"event_id", classified.EventID,
			"payment_intent_id", classified.Intent.ID,
			"channel_token", classified.Correlation.ChannelToken,
			"order_id", classified.Correlation.OrderID,
		)
		res.Outcome = OutcomeRejectedMalformed
		res.Detail = "missing channel token or order id"
		return res
	}

	actor, err := e.channels.Resolve(ctx, classified.Correlation.ChannelToken)
	if err != nil {
		e.logger.Error("channel resolution failed",
			"channel_token", classified.Correlation.ChannelToken,
			"order_code", classified.Correlation.OrderCode,
			"error", err,
		)
		res.Outcome = OutcomeUnknownChannel
		res.Detail = "channel token did not resolve"
		res.Err = err
		return res
	}

	// The order must reach ArrangingPayment before any payment is attached;
	// attaching to an order in an invalid state would be incorrect.
	_, err = e.orders.TransitionToState(ctx, actor, classified.Correlation.OrderID, order.StateArrangingPayment)
	if err != nil {
		e.logger.Error("order transition failed",
			"order_id", classified.Correlation.OrderID,
			"order_code", classified.Correlation.OrderCode,
			"target_state", order.StateArrangingPayment,
			"error", err,
		)
		res.Outcome = OutcomeTransitionFailed
		res.Detail = err.Error()
		res.Err = err
		return res
	}

	method, err := e.orders.FindPaymentMethodByHandler(ctx, actor, e.cfg.HandlerCode)
	if err != nil {
		// Deployment misconfiguration, not a transient condition.
		e.logger.Error("payment handler not configured for channel",
			"channel_token", classified.Correlation.ChannelToken,
			"handler_code", e.cfg.HandlerCode,
			"error", err,
		)
		res.Outcome = OutcomeHandlerNotConfigured
		res.Detail = fmt.Sprintf("no enabled payment method for handler %q", e.cfg.HandlerCode)
		res.Err = err
		return res
	}

	amount := money.New(classified.Intent.Amount, money.Currency(strings.ToUpper(classified.Intent.Currency)))

	_, err = e.orders.AddPayment(ctx, actor, classified.Correlation.OrderID, order.PaymentInput{
		Method:        method.Code,
		Amount:        amount,
		TransactionID: classified.Intent.ID,
		Metadata: map[string]string{
			"paymentIntentId": classified.Intent.ID,
		},
	})
	if err != nil {
		// The order stays in ArrangingPayment; recovery is operator-driven.
		level := slog.LevelError
		if errors.Is(err, order.ErrDuplicatePayment) {
			level = slog.LevelWarn
		}
		e.logger.Log(ctx, level, "payment attach failed",
			"order_id", classified.Correlation.OrderID,
			"order_code", classified.Correlation.OrderCode,
			"payment_intent_id", classified.Intent.ID,
			"error", err,
		)
		res.Outcome = OutcomePaymentAttachFailed
		res.Detail = err.Error()
		res.Err = err
		return res
	}

	e.logger.Info("payment reconciled",
		"order_id", classified.Correlation.OrderID,
		"order_code", classified.Correlation.OrderCode,
		"payment_intent_id", classified.Intent.ID,
		"amount", amount.AmountMinor,
		"currency", amount.Currency,
	)
	res.Outcome = OutcomeSucceeded
	return res
}

// finish journals and publishes the terminal outcome. Both are best effort
// and never fail the delivery.
func (e *Engine) finish(ctx context.Context, receivedAt time.Time, res Result) Result {
	if e.journal != nil {
		rec := &DeliveryRecord{
			EventID:         res.EventID,
			EventType:       res.EventType,
			Outcome:         string(res.Outcome),
			ChannelToken:    res.ChannelToken,
			OrderID:         res.OrderID,
			OrderCode:       res.OrderCode,
			PaymentIntentID: res.PaymentIntentID,
			Detail:          res.Detail,
			ReceivedAt:      receivedAt,
		}
		if err := e.journal.Record(ctx, rec); err != nil {
			e.logger.Error("failed to journal delivery", "error", err, "outcome", res.Outcome)
		}
	}

	e.publish(ctx, res)
	return res
}

// OutcomeEvent is the data payload of published reconciliation events.
type OutcomeEvent struct {
	Outcome         string `json:"outcome"`
	EventID         string `json:"event_id,omitempty"`
	EventType       string `json:"event_type,omitempty"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	OrderID         string `json:"order_id,omitempty"`
	OrderCode       string `json:"order_code,omitempty"`
	Detail          string `json:"detail,omitempty"`
}

func (e *Engine) publish(ctx context.Context, res Result) {
	if e.publisher == nil {
		return
	}
	// Unauthenticated junk is not worth a domain event.
	if res.Outcome == OutcomeRejectedBadSignature {
		return
	}

	var subject string
	switch res.Outcome {
	case OutcomeSucceeded:
		subject = SubjectSucceeded
	case OutcomeIgnoredEventType, OutcomeIgnoredPaymentFailed:
		subject = SubjectIgnored
	default:
		subject = SubjectFailed
	}

	data := OutcomeEvent{
		Outcome:         string(res.Outcome),
		EventID:         res.EventID,
		EventType:       res.EventType,
		PaymentIntentID: res.PaymentIntentID,
		OrderID:         res.OrderID,
		OrderCode:       res.OrderCode,
		Detail:          res.Detail,
	}

	env, err := events.NewEnvelope("webhook.reconciliation", res.ChannelToken, res.EventID, data)
	if err != nil {
		e.logger.Error("failed to create outcome envelope", "error", err)
		return
	}

	if err := e.publisher.Publish(ctx, subject, env); err != nil {
		e.logger.Error("failed to publish outcome event", "error", err, "subject", subject)
	}
}
