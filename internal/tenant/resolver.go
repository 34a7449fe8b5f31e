package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"commercehub/internal/common/database"
)

// ErrUnknownChannel indicates the token does not map to an active channel.
var ErrUnknownChannel = errors.New("unknown channel token")

// ChannelStore loads channels by their API token.
type ChannelStore interface {
	GetChannelByToken(ctx context.Context, token string) (*Channel, error)
}

// Resolver maps channel tokens to execution contexts.
type Resolver struct {
	store  ChannelStore
	logger *slog.Logger
}

// NewResolver creates a new channel resolver.
func NewResolver(store ChannelStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger,
	}
}

// Resolve looks up the channel for a token and returns a system-actor
// context scoped to it. Inactive channels resolve the same as unknown ones.
func (r *Resolver) Resolve(ctx context.Context, token string) (*Context, error) {
	channel, err := r.store.GetChannelByToken(ctx, token)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, token)
		}
		return nil, fmt.Errorf("resolving channel %q: %w", token, err)
	}

	if !channel.Active {
		return nil, fmt.Errorf("%w: %q is inactive", ErrUnknownChannel, token)
	}

	return SystemContext(channel), nil
}
