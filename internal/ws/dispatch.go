package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tbourn/go-chat-realtime/internal/chat"
)

// eventTimeout bounds the external-collaborator work done for one inbound
// event. It is not a client-visible contract, just a guard against a stuck
// database call pinning a connection handler forever.
const eventTimeout = 15 * time.Second

// dispatch routes one validated inbound event to its handler. The table is
// explicit: event name to typed handler, nothing dynamic.
func (s *Server) dispatch(client *Client, env Envelope) {
	payload, err := s.codec.Decode(env.Event, env.Data)
	if err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			client.log.Debug().Str("event", env.Event).Msg("unknown event ignored")
			eventsTotal.WithLabelValues("_unknown", "error").Inc()
			return
		}
		// Echo the idempotency token on send validation failures so the
		// client can reconcile its optimistic message.
		clientMessageID := ""
		if env.Event == EventMessageSend {
			var probe struct {
				ClientMessageID string `json:"clientMessageId"`
			}
			_ = json.Unmarshal(env.Data, &probe)
			clientMessageID = probe.ClientMessageID
		}
		client.EmitError(clientMessageID, chat.CodeValidation, err.Error(), false, 0)
		eventsTotal.WithLabelValues(env.Event, "error").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	outcome := "ok"
	switch p := payload.(type) {
	case *SubscribePayload:
		if env.Event == EventSubscribe {
			outcome = s.handleSubscribe(ctx, client, p)
		} else {
			s.handleUnsubscribe(client, p)
		}
	case *MessageSendPayload:
		outcome = s.handleSend(ctx, client, p)
	case *TypingPayload:
		s.handleTyping(client, env.Event, p)
	case *HeartbeatPayload:
		outcome = s.handleHeartbeat(ctx, client, p)
	case *ReceiptReadPayload:
		s.handleReceipt(ctx, client, p)
	}
	eventsTotal.WithLabelValues(env.Event, outcome).Inc()
}

// handleSubscribe joins the client to the conversation's room after the
// participant check. Non-participants get an authorization error and are
// not joined.
func (s *Server) handleSubscribe(ctx context.Context, client *Client, p *SubscribePayload) string {
	if client.UserID == "" {
		client.Emit(EventAuthError, AuthErrorPayload{Error: "not authenticated", Code: chat.CodeAuthFailed})
		return "error"
	}
	ok, err := s.coord.Conversations.IsParticipant(ctx, p.ConversationID, client.UserID)
	if err != nil {
		client.log.Error().Err(err).Str("conversation_id", p.ConversationID).Msg("membership check failed")
		client.Emit(EventAuthError, AuthErrorPayload{Error: "subscription failed", Code: chat.CodeDB})
		return "error"
	}
	if !ok {
		client.Emit(EventAuthError, AuthErrorPayload{Error: "not a participant of this conversation", Code: chat.CodeNotInConversation})
		return "error"
	}
	s.hub.Join(client, RoomName(p.ConversationID))
	client.Emit(EventSubscribed, RoomAckPayload{ConversationID: p.ConversationID})
	return "ok"
}

// handleUnsubscribe leaves the room. Leaving needs no re-authorization.
func (s *Server) handleUnsubscribe(client *Client, p *SubscribePayload) {
	s.hub.Leave(client, RoomName(p.ConversationID))
	client.Emit(EventUnsubscribed, RoomAckPayload{ConversationID: p.ConversationID})
}

// handleSend runs the message pipeline and fans the result out: a
// message:sent ack to the originator, a message:received event to the rest
// of the room.
func (s *Server) handleSend(ctx context.Context, client *Client, p *MessageSendPayload) string {
	m, err := s.coord.Sender.Send(ctx, client.UserID, chat.SendInput{
		ConversationID:  p.ConversationID,
		Content:         p.Content,
		ContentType:     p.ContentType,
		ClientMessageID: p.ClientMessageID,
		ReplyToID:       p.ReplyToID,
	})
	if err != nil {
		ce := chat.AsError(err)
		client.EmitError(p.ClientMessageID, ce.Code, ce.Message, ce.Retryable, ce.RetryAfter)
		return "error"
	}

	client.Emit(EventMessageSent, MessageSentPayload{
		ClientMessageID: p.ClientMessageID,
		MessageID:       m.ID,
		Status:          m.Status,
		Timestamp:       m.CreatedAt,
		ConversationID:  m.ConversationID,
	})
	s.hub.Broadcast(RoomName(m.ConversationID), EventMessageReceived, MessageReceivedPayload{Message: m}, client)
	return "ok"
}

// handleTyping relays typing indicators to the rest of the room. The
// client must have subscribed first (which ran the participant check);
// typing outside a joined room is dropped.
func (s *Server) handleTyping(client *Client, event string, p *TypingPayload) {
	room := RoomName(p.ConversationID)
	if !s.hub.InRoom(client, room) {
		client.log.Debug().Str("conversation_id", p.ConversationID).Msg("typing event outside joined room dropped")
		return
	}
	out := EventTypingStarted
	if event == EventTypingStop {
		out = EventTypingStopped
	}
	s.hub.Broadcast(room, out, TypingEventPayload{
		ConversationID: p.ConversationID,
		UserID:         client.UserID,
	}, client)
}

// handleHeartbeat refreshes the presence record and broadcasts the new
// status to the client's rooms when it actually changed.
func (s *Server) handleHeartbeat(ctx context.Context, client *Client, p *HeartbeatPayload) string {
	changed, err := s.coord.Presence.Heartbeat(ctx, client.UserID, p.Status)
	if err != nil {
		client.log.Warn().Err(err).Msg("heartbeat failed")
		return "error"
	}
	if changed {
		s.hub.BroadcastToRooms(s.hub.RoomsOf(client), EventPresenceUpdate, PresenceUpdatePayload{
			UserID: client.UserID,
			Status: p.Status,
		}, nil)
	}
	return "ok"
}

// handleReceipt records a read acknowledgement. Failures here (including
// authorization) are swallowed after logging: read receipts are best effort
// and never disrupt the reading user's session.
func (s *Server) handleReceipt(ctx context.Context, client *Client, p *ReceiptReadPayload) {
	outcome, err := s.coord.Receipts.MarkAsRead(ctx, client.UserID, p.ConversationID, p.MessageID)
	if err != nil {
		client.log.Warn().Err(err).
			Str("conversation_id", p.ConversationID).
			Str("message_id", p.MessageID).
			Msg("receipt dropped")
		return
	}
	if outcome.Duplicate {
		return
	}

	room := RoomName(p.ConversationID)
	if outcome.Queued {
		s.hub.Broadcast(room, EventReceiptCount, ReceiptCountPayload{
			MessageID:         p.MessageID,
			ReadCount:         outcome.ReadCount,
			TotalParticipants: outcome.TotalParticipants,
		}, nil)
		return
	}
	s.hub.Broadcast(room, EventReceiptUpdated, ReceiptUpdatedPayload{
		MessageID: p.MessageID,
		UserID:    client.UserID,
		ReadAt:    outcome.ReadAt,
	}, nil)
}
