// Package domain defines the persistence models for conversations,
// participants, messages, and read receipts. These types are mapped with
// GORM and form the durable data layer that the realtime core delegates to.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Message status values as observed by clients. "sending" exists only as a
// client-side optimistic state; the server persists messages as delivered
// and later flips them to read.
const (
	MessageStatusSending   = "sending"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusError     = "error"
)

// Conversation represents a chat between two or more participants.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Title: optional human-readable name (group chats).
//   - IsGroup: true for group conversations.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker (retains row for audit/history).
type Conversation struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	Title     string         `json:"title"      gorm:"type:varchar(255)"`
	IsGroup   bool           `json:"is_group"   gorm:"not null;default:false"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Participant links a user to a conversation. Membership is the authorization
// boundary for every room-scoped realtime action; a user can appear at most
// once per conversation (enforced by unique index).
type Participant struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string         `json:"conversation_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_participant_conv_user"`
	UserID         string         `json:"user_id"         gorm:"type:varchar(64);not null;index;uniqueIndex:ux_participant_conv_user"`
	JoinedAt       time.Time      `json:"joined_at"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`

	// Conversation is the parent chat. Participants are cascade-deleted
	// if the conversation is removed.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Participant.
func (Participant) TableName() string { return "participants" }

// Message represents a single utterance within a conversation.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ConversationID: foreign key to the owning conversation (indexed).
//   - SenderID: identifier of the authoring user.
//   - Content / ContentType: payload and its MIME-ish kind ("text", "image", …).
//   - ClientMessageID: client-supplied idempotency token; unique when present
//     so repeated send attempts converge on one row.
//   - Status: delivered|read|error (see constants above).
//   - ReplyToID: optional self-reference for threaded replies.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker.
type Message struct {
	ID              string         `json:"id"                gorm:"type:char(36);primaryKey"`
	ConversationID  string         `json:"conversation_id"   gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1"`
	SenderID        string         `json:"sender_id"         gorm:"type:varchar(64);not null;index"`
	Content         string         `json:"content"           gorm:"type:text;not null"`
	ContentType     string         `json:"content_type"      gorm:"type:varchar(32);not null;default:'text'"`
	ClientMessageID *string        `json:"client_message_id,omitempty" gorm:"type:varchar(200);uniqueIndex:ux_messages_client_id"`
	Status          string         `json:"status"            gorm:"type:varchar(16);not null;default:'delivered';check:status IN ('delivered','read','error')"`
	ReplyToID       *string        `json:"reply_to_id,omitempty" gorm:"type:char(36)"`
	CreatedAt       time.Time      `json:"created_at"        gorm:"index:idx_conv_msgs,priority:2"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-"                 gorm:"index"`

	// Conversation is the parent chat. Messages are cascade-deleted
	// if their conversation is removed.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Receipt records that a user has read a specific message. A user can have
// at most one receipt per message (enforced by unique index); re-reads are
// no-ops at the service layer.
type Receipt struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	MessageID string         `json:"message_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_receipt_message_user"`
	UserID    string         `json:"user_id"    gorm:"type:varchar(64);not null;index;uniqueIndex:ux_receipt_message_user"`
	ReadAt    time.Time      `json:"read_at"    gorm:"not null"`
	CreatedAt time.Time      `json:"created_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`

	// Message is the read message. Receipts are cascade-deleted if the
	// underlying message is removed.
	Message Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Receipt.
func (Receipt) TableName() string { return "receipts" }

// ConversationRead is the per-user last-read watermark within a conversation.
// It backs unread counters without scanning individual receipts.
type ConversationRead struct {
	ID                string    `json:"id"                   gorm:"type:char(36);primaryKey"`
	ConversationID    string    `json:"conversation_id"      gorm:"type:char(36);not null;index;uniqueIndex:ux_convread_conv_user"`
	UserID            string    `json:"user_id"              gorm:"type:varchar(64);not null;uniqueIndex:ux_convread_conv_user"`
	LastReadMessageID string    `json:"last_read_message_id" gorm:"type:char(36);not null"`
	LastReadAt        time.Time `json:"last_read_at"         gorm:"not null"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName returns the database table name for ConversationRead.
func (ConversationRead) TableName() string { return "conversation_reads" }
