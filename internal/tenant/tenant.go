// Package tenant resolves channel tokens into per-request execution contexts.
package tenant

import (
	"time"

	"commercehub/internal/common/money"
)

// Channel is an isolated logical storefront sharing the deployment.
type Channel struct {
	ID              string         `json:"id"`
	Token           string         `json:"token"`
	Code            string         `json:"code"`
	DefaultCurrency money.Currency `json:"default_currency"`
	Active          bool           `json:"active"`
	CreatedAt       time.Time      `json:"created_at"`
}

// ActorKind distinguishes end-user identities from internal ones.
type ActorKind string

// ActorSystem identifies the fixed privileged identity used when no end-user
// session exists, e.g. for gateway webhook deliveries.
const ActorSystem ActorKind = "system"

// Actor is the identity a request executes as.
type Actor struct {
	ID   string    `json:"id"`
	Kind ActorKind `json:"kind"`
}

// Context is the resolved channel plus the identity authorized to act on it.
// It is created once per request, passed into every downstream call, and
// discarded when the request completes. It authorizes order mutation only,
// not administrative action.
type Context struct {
	Channel *Channel
	Actor   Actor
}

// SystemContext builds a least-privilege system-actor context for a channel.
func SystemContext(channel *Channel) *Context {
	return &Context{
		Channel: channel,
		Actor:   Actor{ID: "system", Kind: ActorSystem},
	}
}
