package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/txn2/mcp-connector/pkg/connection"
	"github.com/txn2/mcp-connector/pkg/session"
)

const (
	// sessionIDHeader carries the session identifier.
	sessionIDHeader = "Mcp-Session-Id"

	// sessionIDQueryParam is the fallback query parameter.
	sessionIDQueryParam = "session_id"

	// sessionIDPathValue is the route parameter fallback.
	sessionIDPathValue = "session_id"

	// connectionIDHeader carries the connection identifier. Header only.
	connectionIDHeader = "Mcp-Connection-Id"

	// errNoSessionID is the annotation for requests without an identifier.
	errNoSessionID = "no session identifier"
)

// SessionGateConfig configures the gate.
type SessionGateConfig struct {
	// SessionHeader overrides the session ID header name.
	SessionHeader string

	// SessionQueryParam overrides the session ID query parameter name.
	SessionQueryParam string

	// SessionPathValue overrides the session ID route parameter name.
	SessionPathValue string

	// ConnectionHeader overrides the connection ID header name.
	ConnectionHeader string
}

// SessionGate validates and touches sessions on the request path. It
// performs annotation, not rejection: every request proceeds to the next
// handler, carrying a RequestContext describing the outcome.
type SessionGate struct {
	sessions    session.Registry
	connections *connection.Registry
	cfg         SessionGateConfig
}

// NewSessionGate creates a gate over the registries. connections may be nil
// when connection tracking is disabled.
func NewSessionGate(sessions session.Registry, connections *connection.Registry, cfg SessionGateConfig) *SessionGate {
	if cfg.SessionHeader == "" {
		cfg.SessionHeader = sessionIDHeader
	}
	if cfg.SessionQueryParam == "" {
		cfg.SessionQueryParam = sessionIDQueryParam
	}
	if cfg.SessionPathValue == "" {
		cfg.SessionPathValue = sessionIDPathValue
	}
	if cfg.ConnectionHeader == "" {
		cfg.ConnectionHeader = connectionIDHeader
	}
	return &SessionGate{
		sessions:    sessions,
		connections: connections,
		cfg:         cfg,
	}
}

// Wrap returns a handler that annotates each request and forwards it.
func (g *SessionGate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := g.annotate(r)
		next.ServeHTTP(w, r.WithContext(WithRequestContext(r.Context(), rc)))
	})
}

// annotate resolves and validates the session identifier. A panic during
// validation (e.g. a corrupted record) is recovered and treated as invalid
// so a single malformed session cannot take down request handling.
func (g *SessionGate) annotate(r *http.Request) (rc *RequestContext) {
	rc = &RequestContext{}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("session gate: panic during validation",
				"session_id", rc.SessionID,
				"panic", fmt.Sprintf("%v", rec),
			)
			rc.Valid = false
			rc.Session = nil
			rc.Error = "internal validation error"
		}
	}()

	rc.SessionID = g.resolveSessionID(r)
	rc.ConnectionID = r.Header.Get(g.cfg.ConnectionHeader)

	if rc.SessionID == "" {
		rc.Error = errNoSessionID
		rc.RequiresAuth = true
		return rc
	}

	result, err := g.sessions.Validate(r.Context(), rc.SessionID)
	if err != nil {
		slog.Error("session gate: validation failed", "session_id", rc.SessionID, "error", err)
		rc.Error = "internal validation error"
		return rc
	}
	if !result.Valid {
		rc.Error = result.Reason
		rc.RequiresAuth = result.RequiresAuth
		return rc
	}

	rc.Valid = true
	rc.Session = result.Session

	// Validation is side-effect-free; activity is recorded here, after a
	// successful validation.
	if err := g.sessions.Touch(r.Context(), rc.SessionID); err != nil {
		slog.Debug("session gate: touch failed", "session_id", rc.SessionID, "error", err)
	}
	if g.connections != nil && rc.ConnectionID != "" {
		if err := g.connections.Touch(r.Context(), rc.ConnectionID); err != nil {
			slog.Debug("session gate: connection touch failed", "connection_id", rc.ConnectionID, "error", err)
		}
	}
	return rc
}

// resolveSessionID resolves the session identifier. Resolution order:
// header, then query parameter, then route parameter; first non-empty wins.
func (g *SessionGate) resolveSessionID(r *http.Request) string {
	if id := r.Header.Get(g.cfg.SessionHeader); id != "" {
		return id
	}
	if id := r.URL.Query().Get(g.cfg.SessionQueryParam); id != "" {
		return id
	}
	return r.PathValue(g.cfg.SessionPathValue)
}
