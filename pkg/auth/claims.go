package auth

import "strings"

// ClaimsExtractor reads values out of a claim map by dot-separated path.
type ClaimsExtractor struct {
	// SubjectClaimPath is the path to the subject claim.
	SubjectClaimPath string

	// TenantClaimPath is the path to the tenant claim.
	TenantClaimPath string

	// EmailClaimPath is the path to the email claim.
	EmailClaimPath string
}

// DefaultClaimsExtractor returns an extractor with common defaults.
func DefaultClaimsExtractor() *ClaimsExtractor {
	return &ClaimsExtractor{
		SubjectClaimPath: "sub",
		TenantClaimPath:  "tenant",
		EmailClaimPath:   "email",
	}
}

// StringValue returns the string at a dot-separated path, or "" when the
// path is absent or not a string.
func (e *ClaimsExtractor) StringValue(claims map[string]any, path string) string {
	if s, ok := e.value(claims, path).(string); ok {
		return s
	}
	return ""
}

// value walks the claim map along a dot-separated path.
func (*ClaimsExtractor) value(claims map[string]any, path string) any {
	if path == "" {
		return nil
	}

	parts := strings.Split(path, ".")
	var current any = claims
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}
