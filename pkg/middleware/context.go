// Package middleware provides the request-path session gate for the
// connector. The gate annotates requests with session validity; it never
// rejects. Enforcement belongs to downstream collaborators such as the MCP
// protocol middleware in this package.
package middleware

import (
	"context"

	"github.com/txn2/mcp-connector/pkg/session"
)

// contextKey is a private type for context keys.
type contextKey int

const (
	requestContextKey contextKey = iota
	tokenContextKey
)

// RequestContext carries the session gate's annotation for one request.
type RequestContext struct {
	// SessionID is the identifier resolved from the request, if any.
	SessionID string

	// ConnectionID is the connection identifier from the request, if any.
	ConnectionID string

	// Valid reports whether the session passed validation.
	Valid bool

	// Session is a copy of the resolved session when Valid is true.
	Session *session.Session

	// Error describes why validation failed, when it did.
	Error string

	// RequiresAuth signals that the caller must (re-)authenticate.
	RequiresAuth bool
}

// WithRequestContext attaches the gate annotation to the context.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// GetRequestContext retrieves the gate annotation, or nil when the request
// never passed through the gate.
func GetRequestContext(ctx context.Context) *RequestContext {
	if rc, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
		return rc
	}
	return nil
}

// WithToken adds an authentication token to the context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// GetToken retrieves an authentication token from the context.
func GetToken(ctx context.Context) string {
	if token, ok := ctx.Value(tokenContextKey).(string); ok {
		return token
	}
	return ""
}
