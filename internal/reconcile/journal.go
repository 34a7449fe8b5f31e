package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"commercehub/internal/common/database"
)

// DeliveryRecord is one journaled terminal outcome. The journal exists for
// operator reconciliation only; the decision path never reads it.
type DeliveryRecord struct {
	ID              string    `json:"id"`
	EventID         string    `json:"event_id,omitempty"`
	EventType       string    `json:"event_type,omitempty"`
	Outcome         string    `json:"outcome"`
	ChannelToken    string    `json:"channel_token,omitempty"`
	OrderID         string    `json:"order_id,omitempty"`
	OrderCode       string    `json:"order_code,omitempty"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	Detail          string    `json:"detail,omitempty"`
	ReceivedAt      time.Time `json:"received_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// PostgresJournal implements Journal using PostgreSQL.
type PostgresJournal struct {
	db *database.DB
}

// NewPostgresJournal creates a new PostgreSQL delivery journal.
func NewPostgresJournal(db *database.DB) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// Record appends a delivery record.
func (j *PostgresJournal) Record(ctx context.Context, rec *DeliveryRecord) error {
	rec.ID = ulid.Make().String()
	rec.CreatedAt = time.Now().UTC()

	_, err := j.db.Exec(ctx, `
		INSERT INTO webhook_deliveries (
			id, event_id, event_type, outcome, channel_token,
			order_id, order_code, payment_intent_id, detail,
			received_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.EventID, rec.EventType, rec.Outcome, rec.ChannelToken,
		rec.OrderID, rec.OrderCode, rec.PaymentIntentID, rec.Detail,
		rec.ReceivedAt, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting delivery record: %w", err)
	}
	return nil
}

// MaxDeliveryLimit caps how many journal records one listing can return.
const MaxDeliveryLimit = 500

// ListRecent returns the most recent delivery records, newest first.
func (j *PostgresJournal) ListRecent(ctx context.Context, limit int) ([]*DeliveryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > MaxDeliveryLimit {
		limit = MaxDeliveryLimit
	}

	rows, err := j.db.Query(ctx, `
		SELECT id, event_id, event_type, outcome, channel_token,
			   order_id, order_code, payment_intent_id, detail,
			   received_at, created_at
		FROM webhook_deliveries
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying delivery records: %w", err)
	}
	defer rows.Close()

	var records []*DeliveryRecord
	for rows.Next() {
		var rec DeliveryRecord
		if err := rows.Scan(
			&rec.ID, &rec.EventID, &rec.EventType, &rec.Outcome, &rec.ChannelToken,
			&rec.OrderID, &rec.OrderCode, &rec.PaymentIntentID, &rec.Detail,
			&rec.ReceivedAt, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning delivery record: %w", err)
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}
