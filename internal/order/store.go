package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"commercehub/internal/common/database"
)

// errStateConflict signals a guarded update matched zero rows because the
// order's state moved underneath it. Resolved by re-reading.
var errStateConflict = errors.New("order state changed concurrently")

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL order store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `id, channel_id, code, state, total_minor, currency, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var ord Order
	err := row.Scan(
		&ord.ID, &ord.ChannelID, &ord.Code, &ord.State,
		&ord.Total.AmountMinor, &ord.Total.Currency,
		&ord.CreatedAt, &ord.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scanning order: %w", err)
	}
	return &ord, nil
}

// GetOrder retrieves an order scoped to a channel.
func (s *PostgresStore) GetOrder(ctx context.Context, channelID, orderID string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND channel_id = $2`
	return scanOrder(s.db.QueryRow(ctx, query, orderID, channelID))
}

// UpdateState performs a compare-and-swap state update. It matches only when
// the order is still in the expected state, so concurrent deliveries for the
// same order cannot both win; the loser gets errStateConflict and re-reads.
func (s *PostgresStore) UpdateState(ctx context.Context, channelID, orderID string, from, to State) (*Order, error) {
	query := `
		UPDATE orders
		SET state = $4, updated_at = $5
		WHERE id = $1 AND channel_id = $2 AND state = $3
		RETURNING ` + orderColumns

	ord, err := scanOrder(s.db.QueryRow(ctx, query, orderID, channelID, from, to, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, errStateConflict
		}
		return nil, err
	}
	return ord, nil
}

// AddPayment inserts a payment and settles the order in one transaction.
// A duplicate transaction ID surfaces as ErrDuplicatePayment via the unique
// constraint, which is what makes redelivered webhooks safe to repeat.
func (s *PostgresStore) AddPayment(ctx context.Context, channelID string, payment *Payment) (*Order, error) {
	var ord *Order

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND channel_id = $2 FOR UPDATE`,
			payment.OrderID, channelID,
		)
		current, err := scanOrder(row)
		if err != nil {
			return err
		}

		if current.State != StateArrangingPayment && current.State != StatePaymentAuthorized {
			return &TransitionError{From: current.State, To: StatePaymentSettled}
		}

		metadata, err := json.Marshal(payment.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling payment metadata: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO payments (id, order_id, method, amount_minor, currency, transaction_id, state, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			payment.ID, payment.OrderID, payment.Method,
			payment.Amount.AmountMinor, payment.Amount.Currency,
			payment.TransactionID, payment.State, metadata, payment.CreatedAt,
		)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return ErrDuplicatePayment
			}
			return fmt.Errorf("inserting payment: %w", err)
		}

		row = tx.QueryRow(ctx, `
			UPDATE orders SET state = $3, updated_at = $4
			WHERE id = $1 AND channel_id = $2
			RETURNING `+orderColumns,
			payment.OrderID, channelID, StatePaymentSettled, time.Now().UTC(),
		)
		ord, err = scanOrder(row)
		return err
	})
	if err != nil {
		return nil, err
	}

	return ord, nil
}

// FindPaymentMethodByHandler retrieves the channel's enabled payment method
// for a handler code. At most one match is expected per channel.
func (s *PostgresStore) FindPaymentMethodByHandler(ctx context.Context, channelID, handlerCode string) (*PaymentMethod, error) {
	query := `
		SELECT id, channel_id, code, name, handler_code, enabled, created_at
		FROM payment_methods
		WHERE channel_id = $1 AND handler_code = $2 AND enabled
	`

	var pm PaymentMethod
	err := s.db.QueryRow(ctx, query, channelID, handlerCode).Scan(
		&pm.ID, &pm.ChannelID, &pm.Code, &pm.Name, &pm.HandlerCode, &pm.Enabled, &pm.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMethodNotConfigured
		}
		return nil, fmt.Errorf("querying payment method: %w", err)
	}

	return &pm, nil
}
