package chat

import (
	"context"
	"time"

	"github.com/tbourn/go-chat-realtime/internal/config"
	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/repo"
	"github.com/tbourn/go-chat-realtime/internal/store"
)

// MessageRepo is the external message-persistence collaborator consumed by
// the pipeline. Implementations must surface repo.ErrNotFound for missing
// rows and repo.ErrDuplicateClientID for idempotency-token collisions.
type MessageRepo interface {
	FindByClientID(ctx context.Context, clientMessageID string) (*domain.Message, error)
	Create(ctx context.Context, in repo.CreateMessageInput) (*domain.Message, error)
	MarkRead(ctx context.Context, messageID string) error
}

// ConversationRepo answers membership and sizing queries, the authorization
// boundary for every room-scoped action.
type ConversationRepo interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	CountParticipants(ctx context.Context, conversationID string) (int, error)
}

// ReceiptRepo persists read receipts and last-read watermarks. Create must
// treat an existing (message, user) pair as success.
type ReceiptRepo interface {
	Exists(ctx context.Context, messageID, userID string) (bool, error)
	Create(ctx context.Context, messageID, userID string, readAt time.Time) (*domain.Receipt, error)
	Count(ctx context.Context, messageID string) (int, error)
	UpsertLastRead(ctx context.Context, conversationID, userID, messageID string, readAt time.Time) error
}

// Coordinator owns the realtime components and their shared lifecycle:
// construct on startup, Close on shutdown. Nothing in this package keeps
// package-level mutable state, so tests can run isolated coordinators side
// by side.
type Coordinator struct {
	Store         store.Store
	Limiter       *RateLimiter
	Dedup         *Deduplicator
	Presence      *PresenceTracker
	Receipts      *ReceiptAggregator
	Sender        *SendService
	Conversations ConversationRepo
}

// NewCoordinator wires the realtime components from config, the shared
// store, and the persistence collaborators, and starts the receipt flush
// loop.
func NewCoordinator(cfg config.RealtimeConfig, st store.Store, messages MessageRepo, conversations ConversationRepo, receipts ReceiptRepo) *Coordinator {
	limiter := NewRateLimiter(st, cfg.RateLimitMax, cfg.RateLimitWindow)
	dedup := NewDeduplicator(st, cfg.DedupTTL)

	c := &Coordinator{
		Store:    st,
		Limiter:  limiter,
		Dedup:    dedup,
		Presence: NewPresenceTracker(st, cfg.PresenceTTL, cfg.PresenceGrace),
		Receipts: NewReceiptAggregator(st, receipts, conversations, messages, cfg.ReceiptBatchThreshold, cfg.ReceiptFlushInterval),
		Sender: &SendService{
			Limiter:       limiter,
			Dedup:         dedup,
			Conversations: conversations,
			Messages:      messages,
		},
		Conversations: conversations,
	}
	c.Receipts.Start()
	return c
}

// Close releases the coordinator: presence timers stop and the receipt
// queue gets a final flush before being discarded.
func (c *Coordinator) Close(ctx context.Context) error {
	c.Presence.Close()
	return c.Receipts.Close(ctx)
}
