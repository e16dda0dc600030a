package auth

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyDef defines one recognized API key. Hash is the bcrypt digest of
// the key material; plaintext keys never live in configuration.
type APIKeyDef struct {
	Name     string
	TenantID string
	Hash     string
}

// APIKeyProvider authenticates static API keys. Keys carry no expiry and
// no refresh flow; RefreshToken always fails.
type APIKeyProvider struct {
	keys []APIKeyDef
}

// NewAPIKeyProvider creates a provider over the configured key set.
func NewAPIKeyProvider(keys []APIKeyDef) *APIKeyProvider {
	return &APIKeyProvider{keys: keys}
}

// AuthenticateWithToken matches token against the configured key hashes.
func (p *APIKeyProvider) AuthenticateWithToken(_ context.Context, token string) (*Info, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidToken)
	}

	for _, key := range p.keys {
		if bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(token)) == nil {
			return &Info{
				UserID:        key.Name,
				TenantID:      key.TenantID,
				Token:         token,
				Claims:        map[string]any{"sub": key.Name, "auth_type": "api_key"},
				Authenticated: true,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown API key", ErrInvalidToken)
}

// ValidateToken reports whether token matches a configured key.
func (p *APIKeyProvider) ValidateToken(ctx context.Context, token string) bool {
	_, err := p.AuthenticateWithToken(ctx, token)
	return err == nil
}

// RefreshToken is unsupported for API keys.
func (*APIKeyProvider) RefreshToken(context.Context, string) (*Info, error) {
	return nil, fmt.Errorf("%w: API keys cannot be refreshed", ErrInvalidToken)
}

// ExtractClaims returns the synthetic claim map for a matching key.
func (p *APIKeyProvider) ExtractClaims(ctx context.Context, token string) (map[string]any, error) {
	info, err := p.AuthenticateWithToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return info.Claims, nil
}

// Verify interface compliance.
var _ Provider = (*APIKeyProvider)(nil)
