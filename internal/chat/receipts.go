package chat

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chat-realtime/internal/store"
)

// PendingReceipt is a queued read acknowledgement awaiting the periodic
// flush. Queued receipts are deduplicated by (message, user) at flush time.
type PendingReceipt struct {
	MessageID      string    `json:"message_id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	ReadAt         time.Time `json:"read_at"`
}

// ReceiptOutcome tells the transport layer what to broadcast after a
// markAsRead call.
type ReceiptOutcome struct {
	// Duplicate is true when the receipt already existed; nothing to notify.
	Duplicate bool
	// Queued is true when the receipt was enqueued for batched handling;
	// the caller broadcasts the coarse read/total counters instead of a
	// per-user notification.
	Queued bool
	// ReadAt is the recorded read time (instant and queued paths).
	ReadAt time.Time
	// ReadCount and TotalParticipants back the receipt:count event on the
	// queued path.
	ReadCount         int
	TotalParticipants int
}

// ReceiptAggregator records read receipts. Small conversations get instant
// writes; conversations at or above the batch threshold get their receipts
// queued and flushed on a fixed interval, bounding write amplification when
// a popular message is read by hundreds of members at once.
type ReceiptAggregator struct {
	store         store.Store
	receipts      ReceiptRepo
	conversations ConversationRepo
	messages      MessageRepo

	threshold int
	interval  time.Duration

	flushing atomic.Bool // single active flush at a time

	// pending tracks (message, user) pairs this instance queued since the
	// last flush, so a client re-sending before the flush is a no-op instead
	// of a re-enqueue and a repeated count broadcast.
	pendingMu sync.Mutex
	pending   map[string]struct{}

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	now func() time.Time // test seam
}

// NewReceiptAggregator constructs an aggregator. Start must be called to
// run the background flush loop.
func NewReceiptAggregator(st store.Store, receipts ReceiptRepo, conversations ConversationRepo, messages MessageRepo, threshold int, interval time.Duration) *ReceiptAggregator {
	return &ReceiptAggregator{
		store:         st,
		receipts:      receipts,
		conversations: conversations,
		messages:      messages,
		threshold:     threshold,
		interval:      interval,
		pending:       make(map[string]struct{}),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		now:           time.Now,
	}
}

// MarkAsRead records that userID read messageID in the conversation. The
// (message, user) pair is recorded at most once no matter how many times
// the client re-sends the event.
func (a *ReceiptAggregator) MarkAsRead(ctx context.Context, userID, conversationID, messageID string) (ReceiptOutcome, error) {
	tr := otel.Tracer("chat/ReceiptAggregator")
	ctx, span := tr.Start(ctx, "MarkAsRead",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("message.id", messageID),
		),
	)
	defer span.End()

	ok, err := a.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return ReceiptOutcome{}, AsError(err)
	}
	if !ok {
		return ReceiptOutcome{}, ErrNotInConversation()
	}

	exists, err := a.receipts.Exists(ctx, messageID, userID)
	if err != nil {
		return ReceiptOutcome{}, AsError(err)
	}
	if exists {
		return ReceiptOutcome{Duplicate: true}, nil
	}

	readAt := a.now().UTC()

	count, err := a.conversations.CountParticipants(ctx, conversationID)
	if err != nil {
		return ReceiptOutcome{}, AsError(err)
	}

	if count < a.threshold {
		// Instant path: write the receipt and advance the watermark now.
		if _, err := a.receipts.Create(ctx, messageID, userID, readAt); err != nil {
			return ReceiptOutcome{}, AsError(err)
		}
		if err := a.receipts.UpsertLastRead(ctx, conversationID, userID, messageID, readAt); err != nil {
			return ReceiptOutcome{}, AsError(err)
		}
		if err := a.messages.MarkRead(ctx, messageID); err != nil {
			log.Warn().Err(err).Str("message_id", messageID).Msg("message status update failed")
		}
		return ReceiptOutcome{ReadAt: readAt, TotalParticipants: count}, nil
	}

	// Batched path: enqueue and report aggregate counters only. Pairs this
	// instance already queued are duplicates; the flush-time dedupe still
	// guards enqueues racing across instances sharing the queue.
	pk := messageID + "|" + userID
	a.pendingMu.Lock()
	_, alreadyQueued := a.pending[pk]
	a.pendingMu.Unlock()
	if alreadyQueued {
		return ReceiptOutcome{Duplicate: true}, nil
	}

	raw, err := json.Marshal(PendingReceipt{
		MessageID:      messageID,
		UserID:         userID,
		ConversationID: conversationID,
		ReadAt:         readAt,
	})
	if err != nil {
		return ReceiptOutcome{}, AsError(err)
	}
	if err := a.store.QueuePush(ctx, store.KeyReceiptQueue, string(raw)); err != nil {
		return ReceiptOutcome{}, &Error{Code: CodeRedisUnavailable, Message: "receipt queue unavailable", Retryable: true}
	}
	a.pendingMu.Lock()
	a.pending[pk] = struct{}{}
	a.pendingMu.Unlock()

	persisted, err := a.receipts.Count(ctx, messageID)
	if err != nil {
		persisted = 0
	}
	return ReceiptOutcome{
		Queued:            true,
		ReadAt:            readAt,
		ReadCount:         persisted + 1, // queued receipt counts toward the total shown
		TotalParticipants: count,
	}, nil
}

// Start launches the background flush loop. It returns immediately and is
// idempotent.
func (a *ReceiptAggregator) Start() {
	if !a.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(a.doneCh)
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := a.Flush(context.Background()); err != nil {
					log.Error().Err(err).Msg("receipt flush failed")
				} else if n > 0 {
					log.Debug().Int("receipts", n).Msg("receipt batch flushed")
				}
			case <-a.stopCh:
				return
			}
		}
	}()
}

// Flush drains the pending queue, deduplicates by (message, user), writes
// every surviving receipt, and advances the affected watermarks. Only one
// flush runs at a time; overlapping calls return immediately.
func (a *ReceiptAggregator) Flush(ctx context.Context) (int, error) {
	if !a.flushing.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer a.flushing.Store(false)

	tr := otel.Tracer("chat/ReceiptAggregator")
	ctx, span := tr.Start(ctx, "Flush")
	defer span.End()

	raws, err := a.store.QueueDrain(ctx, store.KeyReceiptQueue)
	if err != nil {
		return 0, err
	}

	// The drained entries are about to persist; from here on a re-sent pair
	// must go through Exists again rather than the pending short-circuit.
	a.pendingMu.Lock()
	a.pending = make(map[string]struct{})
	a.pendingMu.Unlock()

	if len(raws) == 0 {
		return 0, nil
	}

	type pairKey struct{ messageID, userID string }
	seen := make(map[pairKey]struct{}, len(raws))
	written := 0

	for _, raw := range raws {
		var pr PendingReceipt
		if err := json.Unmarshal([]byte(raw), &pr); err != nil {
			log.Warn().Str("entry", raw).Msg("dropping malformed pending receipt")
			continue
		}
		k := pairKey{pr.MessageID, pr.UserID}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		// CreateReceipt treats an existing (message, user) row as success,
		// so receipts queued twice across flush cycles stay single.
		if _, err := a.receipts.Create(ctx, pr.MessageID, pr.UserID, pr.ReadAt); err != nil {
			log.Error().Err(err).
				Str("message_id", pr.MessageID).
				Str("user_id", pr.UserID).
				Msg("batched receipt write failed")
			continue
		}
		if err := a.receipts.UpsertLastRead(ctx, pr.ConversationID, pr.UserID, pr.MessageID, pr.ReadAt); err != nil {
			log.Warn().Err(err).Str("user_id", pr.UserID).Msg("last-read update failed")
		}
		if err := a.messages.MarkRead(ctx, pr.MessageID); err != nil {
			log.Warn().Err(err).Str("message_id", pr.MessageID).Msg("message status update failed")
		}
		written++
	}

	span.SetAttributes(attribute.Int("receipts.flushed", written))
	return written, nil
}

// Close stops the flush loop and attempts one final flush so queued
// receipts are not discarded on shutdown.
func (a *ReceiptAggregator) Close(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	if a.started.Load() {
		<-a.doneCh
	}
	_, err := a.Flush(ctx)
	return err
}
