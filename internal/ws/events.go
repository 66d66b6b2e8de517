// Package ws implements the WebSocket transport for the realtime core:
// connection authentication, per-event payload validation, room membership
// and fanout, and the dispatch table routing client events to the chat
// coordinator.
package ws

import (
	"encoding/json"
	"time"
)

// Client→server event names.
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventMessageSend = "message:send"
	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"
	EventHeartbeat   = "presence:heartbeat"
	EventReceiptRead = "receipt:read"
)

// Server→client event names.
const (
	EventAuthSuccess     = "auth:success"
	EventAuthError       = "auth:error"
	EventSubscribed      = "subscribed"
	EventUnsubscribed    = "unsubscribed"
	EventMessageSent     = "message:sent"
	EventMessageReceived = "message:received"
	EventMessageError    = "message:error"
	EventTypingStarted   = "typing:started"
	EventTypingStopped   = "typing:stopped"
	EventPresenceUpdate  = "presence:update"
	EventReceiptUpdated  = "receipt:updated"
	EventReceiptCount    = "receipt:count"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ---- Client→server payloads (validated by the codec) ----

// SubscribePayload backs subscribe and unsubscribe.
type SubscribePayload struct {
	ConversationID string `json:"conversationId" validate:"required,max=100"`
}

// MessageSendPayload backs message:send. ClientMessageID is the idempotency
// token; repeated sends with the same token converge on one message.
type MessageSendPayload struct {
	ConversationID  string `json:"conversationId" validate:"required,max=100"`
	Content         string `json:"content" validate:"required,max=4000"`
	ContentType     string `json:"contentType" validate:"omitempty,oneof=text image file"`
	ClientMessageID string `json:"clientMessageId" validate:"required,max=200"`
	ReplyToID       string `json:"replyToId" validate:"omitempty,max=100"`
}

// TypingPayload backs typing:start and typing:stop.
type TypingPayload struct {
	ConversationID string `json:"conversationId" validate:"required,max=100"`
}

// HeartbeatPayload backs presence:heartbeat. Offline is not an acceptable
// client-asserted status.
type HeartbeatPayload struct {
	Status string `json:"status" validate:"required,oneof=online away"`
}

// ReceiptReadPayload backs receipt:read.
type ReceiptReadPayload struct {
	ConversationID string `json:"conversationId" validate:"required,max=100"`
	MessageID      string `json:"messageId" validate:"required,max=100"`
}

// ---- Server→client payloads ----

// AuthSuccessPayload acknowledges a successful handshake.
type AuthSuccessPayload struct {
	UserID string `json:"userId"`
}

// AuthErrorPayload reports a handshake or authorization failure.
type AuthErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// RoomAckPayload acknowledges subscribe/unsubscribe.
type RoomAckPayload struct {
	ConversationID string `json:"conversationId"`
}

// MessageSentPayload acknowledges a send to the originating connection,
// echoing the idempotency token so the client can reconcile its optimistic
// state.
type MessageSentPayload struct {
	ClientMessageID string    `json:"clientMessageId"`
	MessageID       string    `json:"messageId"`
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	ConversationID  string    `json:"conversationId"`
}

// MessageReceivedPayload carries a new message to other room members.
type MessageReceivedPayload struct {
	Message any `json:"message"`
}

// MessageErrorPayload reports a failed send. Retryable tells the client it
// may resend the identical payload (same clientMessageId) safely.
type MessageErrorPayload struct {
	ClientMessageID string `json:"clientMessageId,omitempty"`
	Message         string `json:"message"`
	Code            string `json:"code"`
	Retryable       bool   `json:"retryable"`
	RetryAfter      int    `json:"retryAfter,omitempty"` // seconds
}

// TypingEventPayload backs typing:started and typing:stopped.
type TypingEventPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// PresenceUpdatePayload broadcasts a user's new status.
type PresenceUpdatePayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// ReceiptUpdatedPayload is the per-user notification on the instant path.
type ReceiptUpdatedPayload struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

// ReceiptCountPayload is the aggregate notification on the batched path.
type ReceiptCountPayload struct {
	MessageID         string `json:"messageId"`
	ReadCount         int    `json:"readCount"`
	TotalParticipants int    `json:"totalParticipants"`
}
