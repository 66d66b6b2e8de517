package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/tbourn/go-chat-realtime/internal/auth"
	"github.com/tbourn/go-chat-realtime/internal/chat"
)

// extractToken pulls the bearer credential from the handshake: the "token"
// query parameter or, failing that, a standard Authorization header. The
// credential is supplied at connection time only, never per event.
func extractToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// authenticate runs the connection gate against an already-upgraded
// connection: verify the handshake credential (signature, expiry,
// revocation) and return the identity. On any failure it returns a chat
// error for the auth:error frame; no retry happens server-side and the client
// must reconnect with a fresh credential.
func authenticate(ctx context.Context, verifier *auth.Verifier, r *http.Request) (auth.Identity, *chat.Error) {
	token := extractToken(r)
	if token == "" {
		return auth.Identity{}, chat.ErrAuthFailed("missing credentials")
	}
	id, err := verifier.Verify(ctx, token)
	if err != nil {
		if err == auth.ErrTokenRevoked {
			return auth.Identity{}, chat.ErrAuthFailed("token revoked")
		}
		return auth.Identity{}, chat.ErrAuthFailed("invalid or expired token")
	}
	return id, nil
}
