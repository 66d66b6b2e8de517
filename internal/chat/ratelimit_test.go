package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-chat-realtime/internal/store"
)

// failingStore wraps a real store and forces errors on selected methods.
type failingStore struct {
	store.Store
	windowErr error
	setNXErr  error
	queueErr  error
	drainErr  error
}

func (f *failingStore) WindowReserve(ctx context.Context, key string, at time.Time, window time.Duration, max int) (int, bool, error) {
	if f.windowErr != nil {
		return 0, false, f.windowErr
	}
	return f.Store.WindowReserve(ctx, key, at, window, max)
}

func (f *failingStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if f.setNXErr != nil {
		return false, f.setNXErr
	}
	return f.Store.SetNX(ctx, key, value, ttl)
}

func (f *failingStore) QueuePush(ctx context.Context, queue, value string) error {
	if f.queueErr != nil {
		return f.queueErr
	}
	return f.Store.QueuePush(ctx, queue, value)
}

func (f *failingStore) QueueDrain(ctx context.Context, queue string) ([]string, error) {
	if f.drainErr != nil {
		return nil, f.drainErr
	}
	return f.Store.QueueDrain(ctx, queue)
}

func TestRateLimiter_AllowsUpToMax(t *testing.T) {
	l := NewRateLimiter(store.NewMemory(), 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := l.Allow(ctx, "u1")
		if err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("send %d rejected before cap", i)
		}
	}

	ok, retryAfter, err := l.Allow(ctx, "u1")
	if err != nil {
		t.Fatalf("Allow over cap: %v", err)
	}
	if ok {
		t.Fatalf("send over cap accepted")
	}
	if retryAfter != time.Minute {
		t.Fatalf("retryAfter = %v; want %v", retryAfter, time.Minute)
	}
}

func TestRateLimiter_PerUserIsolation(t *testing.T) {
	l := NewRateLimiter(store.NewMemory(), 1, time.Minute)
	ctx := context.Background()

	if ok, _, _ := l.Allow(ctx, "u1"); !ok {
		t.Fatalf("first send for u1 rejected")
	}
	if ok, _, _ := l.Allow(ctx, "u1"); ok {
		t.Fatalf("second send for u1 accepted over cap")
	}
	// A different user has an independent window.
	if ok, _, _ := l.Allow(ctx, "u2"); !ok {
		t.Fatalf("first send for u2 rejected")
	}
}

func TestRateLimiter_RejectionNotRecorded(t *testing.T) {
	l := NewRateLimiter(store.NewMemory(), 2, time.Minute)
	base := time.Now()
	l.now = func() time.Time { return base }
	ctx := context.Background()

	l.Allow(ctx, "u1")
	l.Allow(ctx, "u1")
	// Hammer while throttled; none of these may extend the window.
	for i := 0; i < 10; i++ {
		if ok, _, _ := l.Allow(ctx, "u1"); ok {
			t.Fatalf("send accepted while throttled")
		}
	}

	// Once the original sends age out, capacity returns in full.
	l.now = func() time.Time { return base.Add(61 * time.Second) }
	if ok, _, _ := l.Allow(ctx, "u1"); !ok {
		t.Fatalf("send rejected after window elapsed")
	}
}

func TestRateLimiter_FailsOpenOnStoreError(t *testing.T) {
	fs := &failingStore{Store: store.NewMemory(), windowErr: errors.New("backend down")}
	l := NewRateLimiter(fs, 1, time.Minute)

	ok, retryAfter, err := l.Allow(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !ok || retryAfter != 0 {
		t.Fatalf("Allow = (%v, %v); want fail-open accept", ok, retryAfter)
	}
}
