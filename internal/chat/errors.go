// Package chat implements the live-messaging coordination core: the message
// send pipeline (rate limiting + idempotent dedup), presence tracking with
// an offline grace window, and read-receipt aggregation. This file
// centralizes the error taxonomy surfaced to realtime clients so that every
// failure maps to a stable, machine-readable code and a retryability hint.
package chat

import (
	"errors"
	"time"
)

// Stable error codes delivered to clients. Raw internal error details are
// never forwarded; unexpected failures collapse into one of these.
const (
	CodeAuthFailed        = "AUTH_FAILED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeNotInConversation = "NOT_IN_CONVERSATION"
	CodeValidation        = "VALIDATION_ERROR"
	CodeDB                = "DB_ERROR"
	CodeRedisUnavailable  = "REDIS_UNAVAILABLE"
	CodeInternal          = "INTERNAL_ERROR"
)

// Error is the client-facing failure type. Retryable errors may be resent
// with an identical payload (including the same idempotency token);
// terminal errors require the client to change something first.
type Error struct {
	Code       string
	Message    string
	Retryable  bool
	RetryAfter time.Duration // > 0 only for RATE_LIMITED
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Code + ": " + e.Message }

// ErrAuthFailed builds a terminal authentication failure.
func ErrAuthFailed(msg string) *Error {
	return &Error{Code: CodeAuthFailed, Message: msg}
}

// ErrRateLimited builds a retryable rate-limit rejection carrying the
// retry-after hint.
func ErrRateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Code:       CodeRateLimited,
		Message:    "rate limit exceeded",
		Retryable:  true,
		RetryAfter: retryAfter,
	}
}

// ErrNotInConversation builds a terminal authorization rejection.
func ErrNotInConversation() *Error {
	return &Error{Code: CodeNotInConversation, Message: "not a participant of this conversation"}
}

// ErrValidation builds a terminal payload-validation failure.
func ErrValidation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// ErrSendInFlight is returned when another attempt with the same idempotency
// token holds the reservation but its message is not yet visible. Clients
// retry with the same token and converge on the persisted result.
func ErrSendInFlight() *Error {
	return &Error{Code: CodeDB, Message: "send already in flight, retry shortly", Retryable: true}
}

// AsError translates any error into a client-facing *Error. Known *Error
// values pass through; everything else becomes a retryable catch-all so
// internals never leak to clients.
func AsError(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Code: CodeInternal, Message: "internal error", Retryable: true}
}
