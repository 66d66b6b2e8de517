// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model, including the idempotency-token lookup used by the send pipeline.
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

// ErrDuplicateClientID indicates a message with the same client message ID
// already exists. The unique index on client_message_id is the last line of
// defense behind the reservation step.
var ErrDuplicateClientID = errors.New("duplicate client message id")

// CreateMessageInput carries the fields of a new message. ClientMessageID
// and ReplyToID are optional.
type CreateMessageInput struct {
	ConversationID  string
	SenderID        string
	Content         string
	ContentType     string
	ClientMessageID string
	ReplyToID       string
}

// CreateMessage inserts a new message row with status delivered.
func CreateMessage(ctx context.Context, db *gorm.DB, in CreateMessageInput) (*domain.Message, error) {
	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		ContentType:    in.ContentType,
		Status:         domain.MessageStatusDelivered,
		CreatedAt:      time.Now().UTC(),
	}
	if m.ContentType == "" {
		m.ContentType = "text"
	}
	if in.ClientMessageID != "" {
		cid := in.ClientMessageID
		m.ClientMessageID = &cid
	}
	if in.ReplyToID != "" {
		rid := in.ReplyToID
		m.ReplyToID = &rid
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicateClientID
		}
		return nil, err
	}
	return m, nil
}

// FindMessageByClientID returns the message persisted under the given
// idempotency token, or ErrNotFound.
func FindMessageByClientID(ctx context.Context, db *gorm.DB, clientMessageID string) (*domain.Message, error) {
	if strings.TrimSpace(clientMessageID) == "" {
		return nil, ErrNotFound
	}
	var m domain.Message
	err := db.WithContext(ctx).
		Where("client_message_id = ?", clientMessageID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkMessageRead flips a message's status to read. Idempotent: a message
// already marked read is left untouched.
func MarkMessageRead(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ? AND status <> ?", id, domain.MessageStatusRead).
		Update("status", domain.MessageStatusRead).Error
}

// ListMessagesPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SoftDeleteMessage marks a message deleted without dropping the row.
func SoftDeleteMessage(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Message{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
