package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedConversation(t *testing.T, db *gorm.DB, userIDs ...string) *domain.Conversation {
	t.Helper()
	conv, err := CreateConversation(context.Background(), db, "test chat", len(userIDs) > 2, userIDs)
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return conv
}

// ----- conversations -----

func TestCreateConversation_PersistsParticipants(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	conv := seedConversation(t, db, "alice", "bob", "carol")
	if conv.ID == "" || !conv.IsGroup {
		t.Fatalf("unexpected conversation: %+v", conv)
	}

	n, err := CountParticipants(ctx, db, conv.ID)
	if err != nil || n != 3 {
		t.Fatalf("CountParticipants = (%d, %v); want 3", n, err)
	}

	ids, err := ListParticipantIDs(ctx, db, conv.ID)
	if err != nil || len(ids) != 3 {
		t.Fatalf("ListParticipantIDs = (%v, %v)", ids, err)
	}
}

func TestIsParticipant(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv := seedConversation(t, db, "alice", "bob")

	ok, err := IsParticipant(ctx, db, conv.ID, "alice")
	if err != nil || !ok {
		t.Fatalf("alice should be a participant: (%v, %v)", ok, err)
	}
	ok, err = IsParticipant(ctx, db, conv.ID, "mallory")
	if err != nil || ok {
		t.Fatalf("mallory should not be a participant: (%v, %v)", ok, err)
	}
}

func TestAddParticipant_DuplicateRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv := seedConversation(t, db, "alice")

	if err := AddParticipant(ctx, db, conv.ID, "bob"); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if err := AddParticipant(ctx, db, conv.ID, "bob"); err == nil {
		t.Fatalf("duplicate membership accepted")
	}
}

func TestSoftDeleteConversation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv := seedConversation(t, db, "alice")

	if err := SoftDeleteConversation(ctx, db, conv.ID); err != nil {
		t.Fatalf("SoftDeleteConversation: %v", err)
	}
	if err := SoftDeleteConversation(ctx, db, conv.ID); err != ErrNotFound {
		t.Fatalf("second delete = %v; want ErrNotFound", err)
	}

	// Soft delete keeps the row but hides it from default queries.
	var n int64
	if err := db.Unscoped().Model(&domain.Conversation{}).Where("id = ?", conv.ID).Count(&n).Error; err != nil || n != 1 {
		t.Fatalf("row not retained: (%d, %v)", n, err)
	}
}

// ----- messages -----

func TestCreateMessage_DefaultsAndRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv := seedConversation(t, db, "alice", "bob")

	m, err := CreateMessage(ctx, db, CreateMessageInput{
		ConversationID:  conv.ID,
		SenderID:        "alice",
		Content:         "hello",
		ClientMessageID: "tok-1",
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if m.Status != domain.MessageStatusDelivered {
		t.Fatalf("status = %q; want delivered", m.Status)
	}
	if m.ContentType != "text" {
		t.Fatalf("content type default = %q; want text", m.ContentType)
	}

	got, err := GetMessage(ctx, db, m.ID)
	if err != nil || got.Content != "hello" {
		t.Fatalf("GetMessage = (%+v, %v)", got, err)
	}
}

func TestCreateMessage_DuplicateClientID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv := seedConversation(t, db, "alice", "bob")

	in := CreateMessageInput{
		ConversationID:  conv.ID,
		SenderID:        "alice",
		Content:         "hello",
		ClientMessageID: "tok-1",
	}
	first, err := CreateMessage(ctx, db, in)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := CreateMessage(ctx, db, in); err != ErrDuplicateClientID {
		t.Fatalf("second create = %v; want ErrDuplicateClientID", err)
	}

	got, err := FindMessageByClientID(ctx, db, "tok-1")
	if err != nil || got.ID != first.ID {
		t.Fatalf("FindMessageByClientID = (%+v, %v); want the first row", got, err)
	}
}

func TestFindMessageByClientID_NotFound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := FindMessageByClientID(ctx, db, "missing"); err != ErrNotFound {
		t.Fatalf("err = %v; want ErrNotFound", err)
	}
	// An empty token must never match rows whose token is NULL.
	if _, err := FindMessageByClientID(ctx, db, ""); err != ErrNotFound {
		t.Fatalf("empty token err = %v; want ErrNotFound", err)
	}
}

func TestMarkMessageRead_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv := seedConversation(t, db, "alice", "bob")

	m, err := CreateMessage(ctx, db, CreateMessageInput{
		ConversationID: conv.ID, SenderID: "alice", Content: "hi",
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := MarkMessageRead(ctx, db, m.ID); err != nil {
			t.Fatalf("MarkMessageRead %d: %v", i, err)
		}
	}
	got, _ := GetMessage(ctx, db, m.ID)
	if got.Status != domain.MessageStatusRead {
		t.Fatalf("status = %q; want read", got.Status)
	}
}

func TestListMessagesPage_OrderAndBounds(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv := seedConversation(t, db, "alice", "bob")

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		m := &domain.Message{
			ID:             fmt.Sprintf("m-%d", i),
			ConversationID: conv.ID,
			SenderID:       "alice",
			Content:        fmt.Sprintf("msg %d", i),
			ContentType:    "text",
			Status:         domain.MessageStatusDelivered,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.Create(m).Error; err != nil {
			t.Fatalf("seed message %d: %v", i, err)
		}
	}

	page, err := ListMessagesPage(ctx, db, conv.ID, 1, 2)
	if err != nil {
		t.Fatalf("ListMessagesPage: %v", err)
	}
	if len(page) != 2 || page[0].ID != "m-1" || page[1].ID != "m-2" {
		t.Fatalf("page = %+v; want [m-1 m-2]", page)
	}
}

// ----- receipts -----

func TestReceiptLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv := seedConversation(t, db, "alice", "bob")
	m, err := CreateMessage(ctx, db, CreateMessageInput{
		ConversationID: conv.ID, SenderID: "alice", Content: "hi",
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	exists, err := ReceiptExists(ctx, db, m.ID, "bob")
	if err != nil || exists {
		t.Fatalf("ReceiptExists before create = (%v, %v)", exists, err)
	}

	readAt := time.Now().UTC()
	if _, err := CreateReceipt(ctx, db, m.ID, "bob", readAt); err != nil {
		t.Fatalf("CreateReceipt: %v", err)
	}
	// The duplicate pair converges instead of erroring.
	if _, err := CreateReceipt(ctx, db, m.ID, "bob", readAt.Add(time.Second)); err != nil {
		t.Fatalf("duplicate CreateReceipt: %v", err)
	}

	n, err := CountReceipts(ctx, db, m.ID)
	if err != nil || n != 1 {
		t.Fatalf("CountReceipts = (%d, %v); want 1", n, err)
	}
}

func TestUpsertLastRead_ForwardOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv := seedConversation(t, db, "alice", "bob")

	t1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	if err := UpsertLastRead(ctx, db, conv.ID, "bob", "m-1", t1); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := UpsertLastRead(ctx, db, conv.ID, "bob", "m-2", t2); err != nil {
		t.Fatalf("forward upsert: %v", err)
	}
	// A stale update must not move the watermark backwards.
	if err := UpsertLastRead(ctx, db, conv.ID, "bob", "m-0", t1); err != nil {
		t.Fatalf("stale upsert: %v", err)
	}

	rec, err := GetLastRead(ctx, db, conv.ID, "bob")
	if err != nil {
		t.Fatalf("GetLastRead: %v", err)
	}
	if rec.LastReadMessageID != "m-2" || !rec.LastReadAt.Equal(t2) {
		t.Fatalf("watermark = (%s, %v); want (m-2, %v)", rec.LastReadMessageID, rec.LastReadAt, t2)
	}
}

func TestGetLastRead_NotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := GetLastRead(context.Background(), db, "conv-x", "nobody"); err != ErrNotFound {
		t.Fatalf("err = %v; want ErrNotFound", err)
	}
}
