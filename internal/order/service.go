package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"commercehub/internal/common/money"
	"commercehub/internal/tenant"
)

// Store persists orders, payments and payment method configuration.
type Store interface {
	GetOrder(ctx context.Context, channelID, orderID string) (*Order, error)
	UpdateState(ctx context.Context, channelID, orderID string, from, to State) (*Order, error)
	AddPayment(ctx context.Context, channelID string, payment *Payment) (*Order, error)
	FindPaymentMethodByHandler(ctx context.Context, channelID, handlerCode string) (*PaymentMethod, error)
}

// Service exposes the order aggregate operations consumed by reconciliation.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new order service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// TransitionToState moves an order to the target lifecycle state on behalf
// of the acting channel context. An order already in the target state is a
// no-op success, so redelivered webhooks can repeat this call safely.
func (s *Service) TransitionToState(ctx context.Context, actor *tenant.Context, orderID string, target State) (*Order, error) {
	ord, err := s.store.GetOrder(ctx, actor.Channel.ID, orderID)
	if err != nil {
		return nil, err
	}

	if ord.State == target {
		s.logger.Debug("order already in target state",
			"order_id", ord.ID,
			"order_code", ord.Code,
			"state", target,
		)
		return ord, nil
	}

	if !CanTransition(ord.State, target) {
		return nil, &TransitionError{From: ord.State, To: target}
	}

	updated, err := s.store.UpdateState(ctx, actor.Channel.ID, orderID, ord.State, target)
	if err != nil {
		if errors.Is(err, errStateConflict) {
			// Lost a race with a concurrent delivery; re-read and decide.
			current, rerr := s.store.GetOrder(ctx, actor.Channel.ID, orderID)
			if rerr != nil {
				return nil, rerr
			}
			if current.State == target {
				return current, nil
			}
			return nil, &TransitionError{From: current.State, To: target}
		}
		return nil, fmt.Errorf("updating order state: %w", err)
	}

	s.logger.Info("order state transitioned",
		"order_id", updated.ID,
		"order_code", updated.Code,
		"from", ord.State,
		"to", target,
	)

	return updated, nil
}

// PaymentInput describes a payment to attach to an order.
type PaymentInput struct {
	Method        string
	Amount        money.Money
	TransactionID string
	Metadata      map[string]string
}

// AddPayment attaches a settled payment to an order and settles the order.
// The transaction ID deduplicates redelivered webhooks: a repeat attach
// returns ErrDuplicatePayment rather than a second payment record.
func (s *Service) AddPayment(ctx context.Context, actor *tenant.Context, orderID string, input PaymentInput) (*Order, error) {
	if input.TransactionID == "" {
		return nil, errors.New("transaction ID is required")
	}
	if !input.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrAmountMismatch)
	}

	ord, err := s.store.GetOrder(ctx, actor.Channel.ID, orderID)
	if err != nil {
		return nil, err
	}

	if !ord.Total.IsZero() && !input.Amount.Equal(ord.Total) {
		return nil, fmt.Errorf("%w: got %s, order total %s", ErrAmountMismatch, input.Amount, ord.Total)
	}

	payment := &Payment{
		ID:            ulid.Make().String(),
		OrderID:       orderID,
		Method:        input.Method,
		Amount:        input.Amount,
		TransactionID: input.TransactionID,
		State:         PaymentStateSettled,
		Metadata:      input.Metadata,
		CreatedAt:     time.Now().UTC(),
	}

	updated, err := s.store.AddPayment(ctx, actor.Channel.ID, payment)
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment attached",
		"order_id", updated.ID,
		"order_code", updated.Code,
		"payment_id", payment.ID,
		"transaction_id", payment.TransactionID,
		"amount", payment.Amount.AmountMinor,
	)

	return updated, nil
}

// FindPaymentMethodByHandler looks up the channel's configured handler by its
// stable handler code. Handler identifiers differ per channel but the code
// is constant across the deployment.
func (s *Service) FindPaymentMethodByHandler(ctx context.Context, actor *tenant.Context, handlerCode string) (*PaymentMethod, error) {
	return s.store.FindPaymentMethodByHandler(ctx, actor.Channel.ID, handlerCode)
}
