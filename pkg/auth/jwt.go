package auth

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the JWT provider.
type JWTConfig struct {
	// Issuer is the expected issuer claim.
	Issuer string

	// SigningKey is the HMAC key used to verify signatures.
	SigningKey []byte

	// TenantClaimPath is the dot-separated path to the tenant claim.
	TenantClaimPath string

	// RefreshLifetime is the validity window stamped on refreshed tokens.
	RefreshLifetime time.Duration
}

// defaultRefreshLifetime applies when JWTConfig.RefreshLifetime is zero.
const defaultRefreshLifetime = time.Hour

// JWTProvider validates HMAC-signed JWT access tokens.
type JWTProvider struct {
	cfg       JWTConfig
	extractor *ClaimsExtractor
}

// NewJWTProvider creates a JWT provider.
func NewJWTProvider(cfg JWTConfig) (*JWTProvider, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("jwt issuer is required")
	}
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("jwt signing key is required")
	}
	if cfg.RefreshLifetime == 0 {
		cfg.RefreshLifetime = defaultRefreshLifetime
	}

	extractor := DefaultClaimsExtractor()
	if cfg.TenantClaimPath != "" {
		extractor.TenantClaimPath = cfg.TenantClaimPath
	}

	return &JWTProvider{cfg: cfg, extractor: extractor}, nil
}

// AuthenticateWithToken validates token and returns the identity it carries.
func (p *JWTProvider) AuthenticateWithToken(_ context.Context, token string) (*Info, error) {
	claims, err := p.parseAndVerify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}

	info := &Info{
		UserID:        sub,
		TenantID:      p.extractor.StringValue(claims, p.extractor.TenantClaimPath),
		Token:         token,
		Claims:        claims,
		Authenticated: true,
	}
	if exp, ok := claims["exp"].(float64); ok {
		info.TokenExpiresAt = time.Unix(int64(exp), 0)
	}
	return info, nil
}

// ValidateToken reports whether token is currently valid.
func (p *JWTProvider) ValidateToken(ctx context.Context, token string) bool {
	_, err := p.AuthenticateWithToken(ctx, token)
	return err == nil
}

// RefreshToken exchanges a refresh token for a fresh identity. The refresh
// token must be a valid JWT carrying a "refresh" token_use claim.
func (p *JWTProvider) RefreshToken(ctx context.Context, refreshToken string) (*Info, error) {
	claims, err := p.parseAndVerify(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if use, _ := claims["token_use"].(string); use != "refresh" {
		return nil, fmt.Errorf("%w: not a refresh token", ErrInvalidToken)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}

	now := time.Now()
	access := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": p.cfg.Issuer,
		"sub": sub,
		"iat": now.Unix(),
		"exp": now.Add(p.cfg.RefreshLifetime).Unix(),
	})
	signed, err := access.SignedString(p.cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("signing refreshed token: %w", err)
	}

	return p.AuthenticateWithToken(ctx, signed)
}

// ExtractClaims returns the claim map after signature verification only.
func (p *JWTProvider) ExtractClaims(_ context.Context, token string) (map[string]any, error) {
	claims, err := p.parseAndVerify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// parseAndVerify parses the JWT, verifies the HMAC signature, and checks
// the issuer.
func (p *JWTProvider) parseAndVerify(tokenString string) (map[string]any, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.cfg.SigningKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	if iss, _ := claims["iss"].(string); iss != p.cfg.Issuer {
		return nil, fmt.Errorf("invalid issuer: got %q, want %q", iss, p.cfg.Issuer)
	}

	claimsMap := make(map[string]any, len(claims))
	maps.Copy(claimsMap, claims)
	return claimsMap, nil
}

// Verify interface compliance.
var _ Provider = (*JWTProvider)(nil)
