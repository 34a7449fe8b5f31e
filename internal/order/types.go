// Package order implements the order aggregate surface consumed by payment
// reconciliation: bounded state transitions and payment attachment.
package order

import (
	"errors"
	"fmt"
	"time"

	"commercehub/internal/common/money"
)

// State is an order lifecycle state.
type State string

const (
	StateAddingItems       State = "AddingItems"
	StateArrangingPayment  State = "ArrangingPayment"
	StatePaymentAuthorized State = "PaymentAuthorized"
	StatePaymentSettled    State = "PaymentSettled"
	StateShipped           State = "Shipped"
	StateDelivered         State = "Delivered"
	StateCancelled         State = "Cancelled"
)

// transitions is the allowed edge set of the order lifecycle.
var transitions = map[State][]State{
	StateAddingItems:       {StateArrangingPayment, StateCancelled},
	StateArrangingPayment:  {StatePaymentAuthorized, StatePaymentSettled, StateAddingItems, StateCancelled},
	StatePaymentAuthorized: {StatePaymentSettled, StateCancelled},
	StatePaymentSettled:    {StateShipped, StateCancelled},
	StateShipped:           {StateDelivered},
}

// CanTransition reports whether from -> to is an allowed lifecycle edge.
// A transition to the current state is not an edge; callers treat it as a
// redundant no-op, not an error.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is the aggregate root.
type Order struct {
	ID        string      `json:"id"`
	ChannelID string      `json:"channel_id"`
	Code      string      `json:"code"`
	State     State       `json:"state"`
	Total     money.Money `json:"total"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// PaymentState is the lifecycle state of an attached payment.
type PaymentState string

const PaymentStateSettled PaymentState = "Settled"

// Payment is a settled payment attached to an order.
type Payment struct {
	ID            string            `json:"id"`
	OrderID       string            `json:"order_id"`
	Method        string            `json:"method"`
	Amount        money.Money       `json:"amount"`
	TransactionID string            `json:"transaction_id"`
	State         PaymentState      `json:"state"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// PaymentMethod is a channel's configured payment handler.
type PaymentMethod struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	HandlerCode string    `json:"handler_code"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
}

// Domain errors
var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrDuplicatePayment    = errors.New("payment already recorded for transaction")
	ErrAmountMismatch      = errors.New("payment amount does not match order total")
	ErrMethodNotConfigured = errors.New("no enabled payment method for handler")
)

// TransitionError reports a lifecycle transition the state machine forbids.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}
