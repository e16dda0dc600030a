// Package auth defines the authentication provider surface consumed by the
// connector core. The core calls a Provider to validate bearer tokens and
// extract identity claims; it never implements token validation itself.
package auth

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidToken is returned when a token fails validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// Info is the identity result of a successful authentication.
type Info struct {
	// UserID is the authenticated subject.
	UserID string

	// TenantID is the tenant the subject belongs to, if any.
	TenantID string

	// Token is the validated access token.
	Token string

	// TokenExpiresAt is when the access token expires, if known.
	TokenExpiresAt time.Time

	// RefreshToken can be exchanged for a new access token, if issued.
	RefreshToken string

	// Claims holds the raw identity claims.
	Claims map[string]any

	// Authenticated reports whether validation succeeded.
	Authenticated bool
}

// Provider validates tokens and extracts identity claims. Implementations
// must be safe for concurrent use.
type Provider interface {
	// AuthenticateWithToken validates token and returns the identity it
	// carries. Returns ErrInvalidToken for malformed or expired tokens.
	AuthenticateWithToken(ctx context.Context, token string) (*Info, error)

	// ValidateToken reports whether token is currently valid.
	ValidateToken(ctx context.Context, token string) bool

	// RefreshToken exchanges refreshToken for a fresh identity.
	RefreshToken(ctx context.Context, refreshToken string) (*Info, error)

	// ExtractClaims returns the claim map carried by token without
	// asserting validity beyond signature checks.
	ExtractClaims(ctx context.Context, token string) (map[string]any, error)
}
