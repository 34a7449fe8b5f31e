package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"commercehub/internal/common/database"
)

// PostgresChannelStore implements ChannelStore using PostgreSQL.
type PostgresChannelStore struct {
	db *database.DB
}

// NewPostgresChannelStore creates a new PostgreSQL channel store.
func NewPostgresChannelStore(db *database.DB) *PostgresChannelStore {
	return &PostgresChannelStore{db: db}
}

// GetChannelByToken retrieves a channel by its API token.
func (s *PostgresChannelStore) GetChannelByToken(ctx context.Context, token string) (*Channel, error) {
	query := `
		SELECT id, token, code, default_currency, active, created_at
		FROM channels
		WHERE token = $1
	`

	var ch Channel
	err := s.db.QueryRow(ctx, query, token).Scan(
		&ch.ID, &ch.Token, &ch.Code, &ch.DefaultCurrency, &ch.Active, &ch.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("querying channel: %w", err)
	}

	return &ch, nil
}
