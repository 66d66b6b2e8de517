package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-realtime/internal/store"
)

// RateLimiter enforces a per-user sliding-window cap on message sends. The
// window lives in the shared store, so with a Redis backplane the cap holds
// across cooperating instances.
//
// The limiter fails open: if the store errors, the send is allowed and the
// failure logged. Losing rate-limit history is a degradation, not a
// correctness problem; blocking every send on a cache hiccup would be.
type RateLimiter struct {
	store  store.Store
	max    int
	window time.Duration

	now func() time.Time // test seam
}

// NewRateLimiter constructs a limiter allowing max sends per trailing window.
func NewRateLimiter(st store.Store, max int, window time.Duration) *RateLimiter {
	return &RateLimiter{store: st, max: max, window: window, now: time.Now}
}

// Allow checks the user's window and records the attempt when accepted.
// A rejected attempt is not recorded, so being rate limited does not extend
// the penalty. The returned retry-after hint equals the window length.
func (l *RateLimiter) Allow(ctx context.Context, userID string) (bool, time.Duration, error) {
	key := store.KeyPrefixRate + userID
	_, recorded, err := l.store.WindowReserve(ctx, key, l.now(), l.window, l.max)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("rate window unavailable, allowing send")
		return true, 0, nil
	}
	if !recorded {
		return false, l.window, nil
	}
	return true, 0, nil
}
