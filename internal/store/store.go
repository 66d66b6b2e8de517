// Package store provides the shared ephemeral-state backend used by the
// realtime core: dedup reservations, presence records, rate-limit windows,
// the pending-receipt queue, and the token revocation list.
//
// Two implementations exist behind one interface: a Redis-backed store that
// extends correctness to multiple cooperating instances, and an in-memory
// store that is correct for a single process. Connect picks one at startup;
// callers never branch on the mode again.
package store

import (
	"context"
	"time"
)

// Store is the narrow key/value + window + queue surface consumed by the
// realtime components. All methods are safe for concurrent use.
type Store interface {
	// Get returns the value at key. The boolean reports presence; expired
	// keys behave as absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes value at key with the given TTL (0 means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes value at key only if the key is absent, returning true
	// when the write happened. This is the atomic reservation primitive;
	// two concurrent calls for the same key must never both return true.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// WindowReserve counts occurrences in the trailing window at key and,
	// only when that count is below max, records a new occurrence at time
	// at. It returns the pre-existing count and whether the occurrence was
	// recorded. Count-and-record is a single atomic step; two concurrent
	// calls at the cap must never both record. A missing window counts as
	// zero (fail-open to "no history").
	WindowReserve(ctx context.Context, key string, at time.Time, window time.Duration, max int) (count int, recorded bool, err error)

	// QueuePush appends value to the named queue.
	QueuePush(ctx context.Context, queue, value string) error

	// QueueDrain atomically removes and returns every value currently in
	// the named queue, oldest first.
	QueueDrain(ctx context.Context, queue string) ([]string, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Name identifies the backend ("redis" or "memory") for logs and health.
	Name() string
}

// Key prefixes shared by all components so the two backends stay
// interchangeable and keys remain greppable in redis-cli.
const (
	KeyPrefixDedup    = "dedup:"
	KeyPrefixPresence = "presence:"
	KeyPrefixRate     = "rate:"
	KeyPrefixRevoked  = "revoked:"
	KeyReceiptQueue   = "receipts:pending"
)
