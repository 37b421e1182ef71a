// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/artpar/agentmeter/domain/event"
	"github.com/artpar/agentmeter/domain/key"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Hasher provides key-secret hashing.
type Hasher interface {
	// Hash generates a hash from a plaintext value.
	Hash(plaintext string) ([]byte, error)

	// Compare checks if plaintext matches hash.
	Compare(hash []byte, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// KeyStore persists API keys. Keys are never deleted; revocation and
// rotation are single-row updates.
type KeyStore interface {
	// Get retrieves keys matching a prefix (for validation).
	Get(ctx context.Context, prefix string) ([]key.Key, error)

	// GetByID retrieves a key by ID.
	GetByID(ctx context.Context, id string) (key.Key, error)

	// Create stores a new key.
	Create(ctx context.Context, k key.Key) error

	// Revoke marks a key as revoked. The record survives.
	Revoke(ctx context.Context, id string, at time.Time) error

	// Rotate atomically replaces a key's credential material.
	// No reader may observe a state where both the old and the new
	// secret validate, or where neither does beyond this single update.
	Rotate(ctx context.Context, id string, hash []byte, prefix string) error

	// ListByUser returns all keys for a user.
	ListByUser(ctx context.Context, userID string) ([]key.Key, error)

	// UpdateLastUsed updates the last used timestamp.
	UpdateLastUsed(ctx context.Context, id string, at time.Time) error
}

// EventStore persists usage events (append-only).
type EventStore interface {
	// Insert stores one event and assigns its per-user sequence.
	// Returns the stored event with Seq populated.
	Insert(ctx context.Context, e event.Event) (event.Event, error)

	// ListByUser returns a user's complete history in persistence
	// order (oldest first).
	ListByUser(ctx context.Context, userID string) ([]event.Event, error)

	// Recent returns a user's most recent events, newest first.
	Recent(ctx context.Context, userID string, limit int) ([]event.Event, error)

	// RecentByKey returns the most recent events recorded with one key,
	// newest first.
	RecentByKey(ctx context.Context, keyID string, limit int) ([]event.Event, error)
}

// -----------------------------------------------------------------------------
// Live Feed Ports
// -----------------------------------------------------------------------------

// Subscription is one consumer's handle on a user's live event stream.
// Delivery is best-effort and at-most-once: a slow or disconnected
// consumer loses updates and must rebuild from the store. Events arrive
// in persistence order; consumers detect missed deliveries via Seq gaps.
type Subscription interface {
	// Events returns the channel of delivered events.
	// The channel is closed when the subscription ends.
	Events() <-chan event.Event

	// Close ends the subscription. Safe to call more than once.
	Close()
}

// Feed delivers newly persisted usage events to per-user subscribers.
type Feed interface {
	// Publish delivers one persisted event to the owner's subscribers.
	// Best-effort: publishing to nobody is not an error.
	Publish(ctx context.Context, e event.Event) error

	// Subscribe opens a live stream of one user's events.
	Subscribe(ctx context.Context, userID string) (Subscription, error)

	// Close shuts down the feed and all subscriptions.
	Close() error
}
