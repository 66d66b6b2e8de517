package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/repo"
)

// SendInput carries a schema-valid message:send payload. Validation happens
// at the transport boundary; by the time Send runs, the fields are shaped
// correctly and ClientMessageID is non-empty.
type SendInput struct {
	ConversationID  string
	Content         string
	ContentType     string
	ClientMessageID string
	ReplyToID       string
}

// SendService runs the message send pipeline: rate check, participant
// authorization, idempotency reservation, persistence. Broadcast of the
// result is the transport layer's job.
type SendService struct {
	Limiter       *RateLimiter
	Dedup         *Deduplicator
	Conversations ConversationRepo
	Messages      MessageRepo
}

// Send executes the pipeline for an authenticated user. On success the
// returned message is either freshly persisted or the prior result for the
// same idempotency token; callers cannot tell the difference, which is the
// point. Failures are always *Error values with stable codes.
func (s *SendService) Send(ctx context.Context, userID string, in SendInput) (*domain.Message, error) {
	tr := otel.Tracer("chat/SendService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("conversation.id", in.ConversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	// 1) Rate check. Rejected attempts are not recorded, so the client's
	// penalty never grows while it is being throttled.
	allowed, retryAfter, err := s.Limiter.Allow(ctx, userID)
	if err != nil {
		return nil, AsError(err)
	}
	if !allowed {
		return nil, ErrRateLimited(retryAfter)
	}

	// 2) Authorization.
	ok, err := s.Conversations.IsParticipant(ctx, in.ConversationID, userID)
	if err != nil {
		return nil, &Error{Code: CodeDB, Message: "membership check failed", Retryable: true}
	}
	if !ok {
		return nil, ErrNotInConversation()
	}

	// 3) Reservation on the idempotency token.
	won, err := s.Dedup.Reserve(ctx, in.ClientMessageID)
	if err != nil {
		return nil, &Error{Code: CodeRedisUnavailable, Message: "dedup store unavailable", Retryable: true}
	}
	if !won {
		// Another attempt holds (or held) the token. If its message is
		// already visible this call is an idempotent success; otherwise the
		// winner is still in flight and the client should retry.
		if m, err := s.Messages.FindByClientID(ctx, in.ClientMessageID); err == nil {
			return m, nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, &Error{Code: CodeDB, Message: "message lookup failed", Retryable: true}
		}
		return nil, ErrSendInFlight()
	}

	// 4) Idempotent re-check. The reservation store and the database are
	// not transactionally linked; a prior attempt may have persisted after
	// its reservation expired.
	if m, err := s.Messages.FindByClientID(ctx, in.ClientMessageID); err == nil {
		return m, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		s.releaseReservation(in.ClientMessageID)
		return nil, &Error{Code: CodeDB, Message: "message lookup failed", Retryable: true}
	}

	// 5) Persist.
	m, err := s.Messages.Create(ctx, repo.CreateMessageInput{
		ConversationID:  in.ConversationID,
		SenderID:        userID,
		Content:         in.Content,
		ContentType:     in.ContentType,
		ClientMessageID: in.ClientMessageID,
		ReplyToID:       in.ReplyToID,
	})
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateClientID) {
			// The unique index caught a duplicate the re-check missed.
			if m, err := s.Messages.FindByClientID(ctx, in.ClientMessageID); err == nil {
				return m, nil
			}
		}
		// Free the token so the client's retry does not wait out the TTL.
		s.releaseReservation(in.ClientMessageID)
		log.Error().Err(err).
			Str("user_id", userID).
			Str("conversation_id", in.ConversationID).
			Str("client_message_id", in.ClientMessageID).
			Msg("message persist failed")
		return nil, &Error{Code: CodeDB, Message: "message could not be saved", Retryable: true}
	}

	return m, nil
}

func (s *SendService) releaseReservation(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Dedup.Release(ctx, token); err != nil {
		log.Warn().Err(err).Str("client_message_id", token).Msg("dedup release failed")
	}
}
