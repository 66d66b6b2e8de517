// Package auth implements bearer-credential verification for realtime
// connections. Tokens are HMAC-signed JWTs issued elsewhere; this package
// only verifies signature, expiry, and optional issuer, and consults the
// revocation list so logged-out tokens stop working before they expire.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/go-chat-realtime/internal/config"
	"github.com/tbourn/go-chat-realtime/internal/store"
)

// Verification errors. Callers translate these into the AUTH_FAILED wire
// code; the distinction exists for logging only.
var (
	// ErrInvalidToken covers malformed, badly signed, or expired tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenRevoked indicates a structurally valid token whose revocation
	// identifier appears on the revocation list.
	ErrTokenRevoked = errors.New("token revoked")
)

// Identity is the authenticated subject attached to a connection.
type Identity struct {
	UserID string
	// RevocationID is the token's "jti" claim when present; empty when the
	// token carries no revocation identifier.
	RevocationID string
}

// Verifier validates connection tokens and answers revocation queries.
type Verifier struct {
	secret []byte
	issuer string
	store  store.Store
}

// NewVerifier builds a Verifier from the auth config and the shared store
// holding the revocation list.
func NewVerifier(cfg config.AuthConfig, st store.Store) *Verifier {
	return &Verifier{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		store:  st,
	}
}

// Verify checks the token's signature and registered claims and, when the
// token carries a revocation identifier, consults the revocation list. On
// success it returns the subject identity.
func (v *Verifier) Verify(ctx context.Context, tokenStr string) (Identity, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return Identity{}, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	id := Identity{UserID: claims.Subject, RevocationID: claims.ID}

	if id.RevocationID != "" {
		revoked, err := v.IsRevoked(ctx, id.RevocationID)
		if err != nil {
			// Revocation storage being down must not lock every user out;
			// the token itself already passed signature and expiry checks.
			return id, nil
		}
		if revoked {
			return Identity{}, ErrTokenRevoked
		}
	}
	return id, nil
}

// IsRevoked reports whether the given revocation identifier is listed.
func (v *Verifier) IsRevoked(ctx context.Context, revocationID string) (bool, error) {
	_, found, err := v.store.Get(ctx, store.KeyPrefixRevoked+revocationID)
	return found, err
}

// Revoke places a revocation identifier on the list for ttl. Used by the
// logout path; after ttl the token has expired anyway.
func (v *Verifier) Revoke(ctx context.Context, revocationID string, ttl time.Duration) error {
	return v.store.Set(ctx, store.KeyPrefixRevoked+revocationID, "1", ttl)
}
