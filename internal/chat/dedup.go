package chat

import (
	"context"
	"time"

	"github.com/tbourn/go-chat-realtime/internal/store"
)

// Deduplicator guards message persistence with short-lived reservations on
// the client-supplied idempotency token. Exactly one concurrent attempt per
// token wins the reservation and proceeds to persist; the others look up the
// winner's result instead of creating a duplicate.
type Deduplicator struct {
	store store.Store
	ttl   time.Duration
}

// NewDeduplicator constructs a Deduplicator holding reservations for ttl.
func NewDeduplicator(st store.Store, ttl time.Duration) *Deduplicator {
	return &Deduplicator{store: st, ttl: ttl}
}

// Reserve attempts to claim the token. It returns true when this caller won
// the reservation. A store failure is reported as an error rather than
// failing open: without the reservation guarantee, two attempts could both
// persist.
func (d *Deduplicator) Reserve(ctx context.Context, token string) (bool, error) {
	return d.store.SetNX(ctx, store.KeyPrefixDedup+token, "1", d.ttl)
}

// Release drops the reservation. Called when persistence fails so the
// client's retry does not have to wait out the TTL.
func (d *Deduplicator) Release(ctx context.Context, token string) error {
	return d.store.Delete(ctx, store.KeyPrefixDedup+token)
}
