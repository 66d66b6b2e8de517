package chat

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-realtime/internal/store"
)

// Presence status values. Offline is derived by the server when the grace
// period elapses without a fresh heartbeat; clients may only ever assert
// online or away.
const (
	PresenceOnline  = "online"
	PresenceAway    = "away"
	PresenceOffline = "offline"
)

// PresenceTracker maintains per-user online/away/offline state. Heartbeats
// upsert a TTL'd record in the shared store; connection loss schedules a
// grace timer that re-checks the record before asserting offline, so a
// disconnect/reconnect blip inside the grace window never flips the
// broadcast status.
type PresenceTracker struct {
	store store.Store
	ttl   time.Duration
	grace time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool

	now func() time.Time // test seam
}

// NewPresenceTracker constructs a tracker with the given record TTL and
// offline grace period.
func NewPresenceTracker(st store.Store, ttl, grace time.Duration) *PresenceTracker {
	return &PresenceTracker{
		store:  st,
		ttl:    ttl,
		grace:  grace,
		timers: make(map[string]*time.Timer),
		now:    time.Now,
	}
}

// Heartbeat upserts the user's presence record and cancels any pending
// offline-grace timer. Only online and away are accepted; offline is a
// server-asserted state and an offline heartbeat is a validation error.
// The returned flag reports whether the publicly visible status changed,
// so callers broadcast transitions and not every keepalive.
func (p *PresenceTracker) Heartbeat(ctx context.Context, userID, status string) (bool, error) {
	if status != PresenceOnline && status != PresenceAway {
		return false, ErrValidation("status must be online or away")
	}

	prev := PresenceOffline
	if val, found, err := p.store.Get(ctx, store.KeyPrefixPresence+userID); err == nil && found {
		prev, _ = splitPresenceValue(val)
	}

	val := status + "|" + strconv.FormatInt(p.now().UnixMilli(), 10)
	if err := p.store.Set(ctx, store.KeyPrefixPresence+userID, val, p.ttl); err != nil {
		return false, err
	}

	p.mu.Lock()
	if t, ok := p.timers[userID]; ok {
		t.Stop()
		delete(p.timers, userID)
	}
	p.mu.Unlock()
	return prev != status, nil
}

// Status returns the user's current presence. A missing or expired record
// reads as offline.
func (p *PresenceTracker) Status(ctx context.Context, userID string) (string, error) {
	val, found, err := p.store.Get(ctx, store.KeyPrefixPresence+userID)
	if err != nil {
		return PresenceOffline, err
	}
	if !found {
		return PresenceOffline, nil
	}
	status, _ := splitPresenceValue(val)
	return status, nil
}

// ScheduleOffline starts (or restarts) the grace timer for a user whose
// connection was lost. When the timer fires, the user is asserted offline
// only if no heartbeat fresher than the disconnect has arrived. This covers
// reconnects on this instance (timer cancelled by Heartbeat) and on other
// instances sharing the store (record timestamp renewed). The callback runs
// at most once per scheduled timer.
func (p *PresenceTracker) ScheduleOffline(userID string, onOffline func()) {
	disconnectedAt := p.now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if t, ok := p.timers[userID]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(p.grace, func() {
		p.mu.Lock()
		// A heartbeat or a newer schedule may have replaced this timer.
		if p.timers[userID] != timer {
			p.mu.Unlock()
			return
		}
		delete(p.timers, userID)
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if p.heartbeatSince(ctx, userID, disconnectedAt) {
			return
		}
		if err := p.store.Delete(ctx, store.KeyPrefixPresence+userID); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("presence record delete failed")
		}
		onOffline()
	})
	p.timers[userID] = timer
	p.mu.Unlock()
}

// heartbeatSince reports whether the user's presence record carries a
// heartbeat timestamp at or after t.
func (p *PresenceTracker) heartbeatSince(ctx context.Context, userID string, t time.Time) bool {
	val, found, err := p.store.Get(ctx, store.KeyPrefixPresence+userID)
	if err != nil || !found {
		return false
	}
	_, at := splitPresenceValue(val)
	return !at.Before(t)
}

// Close stops all pending grace timers. No offline callbacks fire after
// Close returns.
func (p *PresenceTracker) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for uid, t := range p.timers {
		t.Stop()
		delete(p.timers, uid)
	}
}

// splitPresenceValue parses "<status>|<unix_milli>" records. A malformed
// record reads as an online heartbeat at the zero time, which the grace
// check treats as stale.
func splitPresenceValue(val string) (string, time.Time) {
	status, tsStr, ok := strings.Cut(val, "|")
	if !ok {
		return PresenceOnline, time.Time{}
	}
	ms, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return status, time.Time{}
	}
	return status, time.UnixMilli(ms)
}
