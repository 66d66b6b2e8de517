// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for read receipts
// and the per-user last-read watermark.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

// ReceiptExists reports whether a receipt is already stored for the
// (message, user) pair.
func ReceiptExists(ctx context.Context, db *gorm.DB, messageID, userID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Receipt{}).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Count(&n).Error
	return n > 0, err
}

// CreateReceipt inserts a receipt row. A duplicate (message, user) pair is
// treated as success so racing writers converge.
func CreateReceipt(ctx context.Context, db *gorm.DB, messageID, userID string, readAt time.Time) (*domain.Receipt, error) {
	r := &domain.Receipt{
		ID:        uuid.NewString(),
		MessageID: messageID,
		UserID:    userID,
		ReadAt:    readAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return r, nil
		}
		return nil, err
	}
	return r, nil
}

// CountReceipts returns how many users have read the message.
func CountReceipts(ctx context.Context, db *gorm.DB, messageID string) (int, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Receipt{}).
		Where("message_id = ?", messageID).
		Count(&n).Error
	return int(n), err
}

// UpsertLastRead advances the user's last-read watermark for a conversation.
// The watermark only moves forward in time; a stale update is a no-op.
func UpsertLastRead(ctx context.Context, db *gorm.DB, conversationID, userID, messageID string, readAt time.Time) error {
	readAt = readAt.UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec domain.ConversationRead
		err := tx.Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			First(&rec).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec = domain.ConversationRead{
				ID:                uuid.NewString(),
				ConversationID:    conversationID,
				UserID:            userID,
				LastReadMessageID: messageID,
				LastReadAt:        readAt,
			}
			return tx.Create(&rec).Error
		case err != nil:
			return err
		}
		if !readAt.After(rec.LastReadAt) {
			return nil
		}
		return tx.Model(&rec).Updates(map[string]any{
			"last_read_message_id": messageID,
			"last_read_at":         readAt,
		}).Error
	})
}

// GetLastRead returns the user's last-read watermark, or ErrNotFound.
func GetLastRead(ctx context.Context, db *gorm.DB, conversationID, userID string) (*domain.ConversationRead, error) {
	var rec domain.ConversationRead
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
