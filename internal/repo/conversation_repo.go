// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for conversations
// and participant membership, which gate every room-scoped realtime action.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

// CreateConversation inserts a conversation with the given participants.
func CreateConversation(ctx context.Context, db *gorm.DB, title string, isGroup bool, userIDs []string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		IsGroup:   isGroup,
		CreatedAt: now,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		for _, uid := range userIDs {
			p := &domain.Participant{
				ID:             uuid.NewString(),
				ConversationID: conv.ID,
				UserID:         uid,
				JoinedAt:       now,
			}
			if err := tx.Create(p).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// IsParticipant reports whether userID belongs to the conversation.
func IsParticipant(ctx context.Context, db *gorm.DB, conversationID, userID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&n).Error
	return n > 0, err
}

// CountParticipants returns the number of members in the conversation.
func CountParticipants(ctx context.Context, db *gorm.DB, conversationID string) (int, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Participant{}).
		Where("conversation_id = ?", conversationID).
		Count(&n).Error
	return int(n), err
}

// ListParticipantIDs returns the user IDs of all conversation members.
func ListParticipantIDs(ctx context.Context, db *gorm.DB, conversationID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Model(&domain.Participant{}).
		Where("conversation_id = ?", conversationID).
		Order("joined_at ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// AddParticipant joins a user to a conversation. Re-adding an existing
// member surfaces the unique-index violation to the caller.
func AddParticipant(ctx context.Context, db *gorm.DB, conversationID, userID string) error {
	p := &domain.Participant{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		JoinedAt:       time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(p).Error
}

// SoftDeleteConversation marks a conversation deleted without dropping rows.
func SoftDeleteConversation(ctx context.Context, db *gorm.DB, conversationID string) error {
	res := db.WithContext(ctx).Where("id = ?", conversationID).Delete(&domain.Conversation{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
