package stripe

import (
	"fmt"
)

// Gateway event types this service acts on. Every other type the gateway
// sends now, or adds later, is a no-op.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

// Metadata keys embedded in the payment intent when checkout initiates the
// payment. They route the webhook back to the originating order.
const (
	MetadataChannelToken = "channelToken"
	MetadataOrderID      = "orderId"
	MetadataOrderCode    = "orderCode"
)

// Event is the gateway's webhook envelope.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object *PaymentIntent `json:"object"`
	} `json:"data"`
}

// PaymentIntent is the gateway's payment-intent snapshot carried in the
// event envelope.
type PaymentIntent struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *PaymentError     `json:"last_payment_error,omitempty"`
}

// PaymentError is the gateway-supplied reason for a failed payment attempt.
type PaymentError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Bucket is the closed classification of gateway event types.
type Bucket string

const (
	BucketSucceeded Bucket = "succeeded"
	BucketFailed    Bucket = "failed"
	BucketOther     Bucket = "other"
)

// Correlation is the order routing metadata extracted from the payment
// intent. OrderCode is diagnostic only.
type Correlation struct {
	ChannelToken string
	OrderID      string
	OrderCode    string
}

// Resolvable reports whether the event carries enough correlation metadata
// to be routed to an order.
func (c Correlation) Resolvable() bool {
	return c.ChannelToken != "" && c.OrderID != ""
}

// ClassifiedEvent is a verified event reduced to what reconciliation needs.
type ClassifiedEvent struct {
	EventID        string
	EventType      string
	Bucket         Bucket
	Intent         *PaymentIntent
	Correlation    Correlation
	FailureMessage string
}

// Classify maps an event envelope onto the closed bucket set and extracts
// the correlation metadata. Only the exact succeeded/failed type tags map to
// their buckets; everything else, including types the gateway adds in the
// future, is BucketOther. A missing payment object is a malformed payload.
//
// Absent correlation metadata is tolerated here; the reconciliation engine
// decides the outcome.
func Classify(event *Event) (*ClassifiedEvent, error) {
	intent := event.Data.Object
	if intent == nil {
		return nil, fmt.Errorf("%w: missing data.object", ErrMalformedPayload)
	}

	classified := &ClassifiedEvent{
		EventID:   event.ID,
		EventType: event.Type,
		Intent:    intent,
		Correlation: Correlation{
			ChannelToken: intent.Metadata[MetadataChannelToken],
			OrderID:      intent.Metadata[MetadataOrderID],
			OrderCode:    intent.Metadata[MetadataOrderCode],
		},
	}

	switch event.Type {
	case EventPaymentSucceeded:
		classified.Bucket = BucketSucceeded
	case EventPaymentFailed:
		classified.Bucket = BucketFailed
		if intent.LastPaymentError != nil {
			classified.FailureMessage = intent.LastPaymentError.Message
		}
		if classified.FailureMessage == "" {
			classified.FailureMessage = "unknown failure"
		}
	default:
		classified.Bucket = BucketOther
	}

	return classified, nil
}
