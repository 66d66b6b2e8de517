package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/repo"
	"github.com/tbourn/go-chat-realtime/internal/store"
)

// fakeReceipts is an in-memory ReceiptRepo mirroring the real repo's
// semantics: an existing (message, user) pair is a successful no-op and the
// watermark only moves forward in time.
type fakeReceipts struct {
	mu        sync.Mutex
	rows      map[string]time.Time // messageID+"|"+userID -> readAt
	watermark map[string]string    // conversationID+"|"+userID -> messageID
	creates   int
}

func newFakeReceipts() *fakeReceipts {
	return &fakeReceipts{
		rows:      make(map[string]time.Time),
		watermark: make(map[string]string),
	}
}

func (f *fakeReceipts) Exists(ctx context.Context, messageID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[messageID+"|"+userID]
	return ok, nil
}

func (f *fakeReceipts) Create(ctx context.Context, messageID, userID string, readAt time.Time) (*domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := messageID + "|" + userID
	if at, ok := f.rows[k]; ok {
		return &domain.Receipt{ID: k, MessageID: messageID, UserID: userID, ReadAt: at}, nil
	}
	f.creates++
	f.rows[k] = readAt
	return &domain.Receipt{ID: uuid.NewString(), MessageID: messageID, UserID: userID, ReadAt: readAt}, nil
}

func (f *fakeReceipts) Count(ctx context.Context, messageID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k := range f.rows {
		if len(k) > len(messageID) && k[:len(messageID)] == messageID {
			n++
		}
	}
	return n, nil
}

func (f *fakeReceipts) UpsertLastRead(ctx context.Context, conversationID, userID, messageID string, readAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watermark[conversationID+"|"+userID] = messageID
	return nil
}

func newTestAggregator(st store.Store, receipts *fakeReceipts, convs *fakeConversations, msgs *fakeMessages, threshold int) *ReceiptAggregator {
	return NewReceiptAggregator(st, receipts, convs, msgs, threshold, time.Hour)
}

func seedMessage(t *testing.T, msgs *fakeMessages, conversationID string) *domain.Message {
	t.Helper()
	m, err := msgs.Create(context.Background(), repo.CreateMessageInput{
		ConversationID:  conversationID,
		SenderID:        "alice",
		Content:         "hello",
		ContentType:     "text",
		ClientMessageID: uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return m
}

func TestReceipts_InstantPathForSmallConversations(t *testing.T) {
	msgs := newFakeMessages()
	convs := newFakeConversations("conv-1", "alice", "bob")
	receipts := newFakeReceipts()
	a := newTestAggregator(store.NewMemory(), receipts, convs, msgs, 10)
	defer a.Close(context.Background())
	ctx := context.Background()

	m := seedMessage(t, msgs, "conv-1")

	out, err := a.MarkAsRead(ctx, "bob", "conv-1", m.ID)
	if err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if out.Duplicate || out.Queued {
		t.Fatalf("outcome = %+v; want instant", out)
	}
	if out.ReadAt.IsZero() {
		t.Fatalf("instant outcome missing ReadAt")
	}
	if receipts.creates != 1 {
		t.Fatalf("creates = %d; want 1", receipts.creates)
	}
	if receipts.watermark["conv-1|bob"] != m.ID {
		t.Fatalf("watermark not advanced")
	}
	if msgs.byID[m.ID].Status != domain.MessageStatusRead {
		t.Fatalf("message status = %q; want read", msgs.byID[m.ID].Status)
	}
}

func TestReceipts_DuplicateIsNoOp(t *testing.T) {
	msgs := newFakeMessages()
	convs := newFakeConversations("conv-1", "alice", "bob")
	receipts := newFakeReceipts()
	a := newTestAggregator(store.NewMemory(), receipts, convs, msgs, 10)
	defer a.Close(context.Background())
	ctx := context.Background()

	m := seedMessage(t, msgs, "conv-1")

	if _, err := a.MarkAsRead(ctx, "bob", "conv-1", m.ID); err != nil {
		t.Fatalf("first MarkAsRead: %v", err)
	}
	out, err := a.MarkAsRead(ctx, "bob", "conv-1", m.ID)
	if err != nil {
		t.Fatalf("second MarkAsRead: %v", err)
	}
	if !out.Duplicate {
		t.Fatalf("outcome = %+v; want duplicate", out)
	}
	if receipts.creates != 1 {
		t.Fatalf("creates = %d; want 1", receipts.creates)
	}
}

func TestReceipts_NonParticipantRejected(t *testing.T) {
	msgs := newFakeMessages()
	convs := newFakeConversations("conv-1", "alice")
	receipts := newFakeReceipts()
	a := newTestAggregator(store.NewMemory(), receipts, convs, msgs, 10)
	defer a.Close(context.Background())

	m := seedMessage(t, msgs, "conv-1")

	_, err := a.MarkAsRead(context.Background(), "mallory", "conv-1", m.ID)
	if err == nil {
		t.Fatalf("expected rejection")
	}
	if ce := AsError(err); ce.Code != CodeNotInConversation {
		t.Fatalf("code = %q; want %q", ce.Code, CodeNotInConversation)
	}
}

func TestReceipts_BatchedPathQueuesAndCounts(t *testing.T) {
	msgs := newFakeMessages()
	convs := newFakeConversations("conv-1", "a", "b", "c", "d")
	receipts := newFakeReceipts()
	st := store.NewMemory()
	a := newTestAggregator(st, receipts, convs, msgs, 3) // 4 participants >= threshold 3
	defer a.Close(context.Background())
	ctx := context.Background()

	m := seedMessage(t, msgs, "conv-1")

	out, err := a.MarkAsRead(ctx, "b", "conv-1", m.ID)
	if err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if !out.Queued {
		t.Fatalf("outcome = %+v; want queued", out)
	}
	if out.ReadCount != 1 || out.TotalParticipants != 4 {
		t.Fatalf("counters = %d/%d; want 1/4", out.ReadCount, out.TotalParticipants)
	}
	// Nothing persisted until the flush runs.
	if receipts.creates != 0 {
		t.Fatalf("creates = %d before flush; want 0", receipts.creates)
	}

	n, err := a.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 1 || receipts.creates != 1 {
		t.Fatalf("flushed %d, creates %d; want 1, 1", n, receipts.creates)
	}
	if receipts.watermark["conv-1|b"] != m.ID {
		t.Fatalf("watermark not advanced by flush")
	}
}

func TestReceipts_ResendBeforeFlushIsDuplicate(t *testing.T) {
	msgs := newFakeMessages()
	convs := newFakeConversations("conv-1", "a", "b", "c")
	receipts := newFakeReceipts()
	st := store.NewMemory()
	a := newTestAggregator(st, receipts, convs, msgs, 2)
	defer a.Close(context.Background())
	ctx := context.Background()

	m := seedMessage(t, msgs, "conv-1")

	out, err := a.MarkAsRead(ctx, "b", "conv-1", m.ID)
	if err != nil {
		t.Fatalf("first MarkAsRead: %v", err)
	}
	if !out.Queued {
		t.Fatalf("first outcome = %+v; want queued", out)
	}

	// Re-sending before the flush is a no-op, not a second enqueue.
	out, err = a.MarkAsRead(ctx, "b", "conv-1", m.ID)
	if err != nil {
		t.Fatalf("second MarkAsRead: %v", err)
	}
	if !out.Duplicate {
		t.Fatalf("second outcome = %+v; want duplicate", out)
	}

	queued, err := st.QueueDrain(ctx, store.KeyReceiptQueue)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("queue holds %d entries; want 1", len(queued))
	}
}

func TestReceipts_FlushDeduplicatesPairs(t *testing.T) {
	msgs := newFakeMessages()
	convs := newFakeConversations("conv-1", "a", "b", "c")
	receipts := newFakeReceipts()
	st := store.NewMemory()
	a := newTestAggregator(st, receipts, convs, msgs, 2)
	defer a.Close(context.Background())
	ctx := context.Background()

	m := seedMessage(t, msgs, "conv-1")

	// Another instance sharing the queue can enqueue the pair this instance
	// already queued; seed the duplicate directly.
	raw, err := json.Marshal(PendingReceipt{
		MessageID:      m.ID,
		UserID:         "b",
		ConversationID: "conv-1",
		ReadAt:         time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := st.QueuePush(ctx, store.KeyReceiptQueue, string(raw)); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	n, err := a.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 1 || receipts.creates != 1 {
		t.Fatalf("flushed %d, creates %d; want 1, 1", n, receipts.creates)
	}
}

func TestReceipts_QueueDownIsRetryable(t *testing.T) {
	msgs := newFakeMessages()
	convs := newFakeConversations("conv-1", "a", "b", "c")
	receipts := newFakeReceipts()
	fs := &failingStore{Store: store.NewMemory(), queueErr: errors.New("backend down")}
	a := newTestAggregator(fs, receipts, convs, msgs, 2)
	defer a.Close(context.Background())

	m := seedMessage(t, msgs, "conv-1")

	_, err := a.MarkAsRead(context.Background(), "b", "conv-1", m.ID)
	if err == nil {
		t.Fatalf("expected queue failure")
	}
	if ce := AsError(err); ce.Code != CodeRedisUnavailable || !ce.Retryable {
		t.Fatalf("error = %+v; want retryable REDIS_UNAVAILABLE", ce)
	}
}

func TestReceipts_CloseRunsFinalFlush(t *testing.T) {
	msgs := newFakeMessages()
	convs := newFakeConversations("conv-1", "a", "b", "c")
	receipts := newFakeReceipts()
	st := store.NewMemory()
	a := newTestAggregator(st, receipts, convs, msgs, 2)
	ctx := context.Background()

	m := seedMessage(t, msgs, "conv-1")
	if _, err := a.MarkAsRead(ctx, "b", "conv-1", m.ID); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}

	a.Start()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if receipts.creates != 1 {
		t.Fatalf("creates after Close = %d; want 1", receipts.creates)
	}
}
