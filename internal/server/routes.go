package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-connector/pkg/middleware"
	"github.com/txn2/mcp-connector/pkg/session"
)

// routes builds the HTTP mux. Session-scoped routes pass through the gate;
// the gate annotates and the handlers decide.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.checker.LivenessHandler())
	mux.HandleFunc("GET /readyz", s.checker.ReadinessHandler())
	mux.HandleFunc("GET /stats", s.handleStats)

	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.Handle("GET /sessions/{session_id}", s.gate.Wrap(http.HandlerFunc(s.handleGetSession)))
	mux.Handle("DELETE /sessions/{session_id}", s.gate.Wrap(http.HandlerFunc(s.handleTerminateSession)))
	mux.Handle("POST /sessions/{session_id}/suspend", s.gate.Wrap(http.HandlerFunc(s.handleSuspendSession)))
	mux.HandleFunc("POST /sessions/{session_id}/resume", s.handleResumeSession)
	mux.Handle("POST /sessions/{session_id}/connections", s.gate.Wrap(http.HandlerFunc(s.handleRegisterConnection)))
	mux.HandleFunc("DELETE /connections/{connection_id}", s.handleDisconnect)

	if s.authn != nil {
		mux.HandleFunc("POST /auth/refresh", s.handleRefreshToken)
	}

	streamable := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
	mux.Handle("/mcp", s.gate.Wrap(streamable))

	return mux
}

// createSessionRequest is the body of POST /sessions.
type createSessionRequest struct {
	ClientID     string   `json:"client_id"`
	UserID       string   `json:"user_id,omitempty"`
	TenantID     string   `json:"tenant_id,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	LifetimeSecs int      `json:"lifetime_seconds,omitempty"`
}

// sessionResponse is the JSON view of a session.
type sessionResponse struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	UserID       string    `json:"user_id,omitempty"`
	TenantID     string    `json:"tenant_id,omitempty"`
	State        string    `json:"state"`
	Capabilities []string  `json:"capabilities"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func toSessionResponse(sess *session.Session) sessionResponse {
	return sessionResponse{
		ID:           sess.ID,
		ClientID:     sess.ClientID,
		UserID:       sess.UserID,
		TenantID:     sess.TenantID,
		State:        string(sess.State),
		Capabilities: sess.Capabilities,
		CreatedAt:    sess.CreatedAt,
		ExpiresAt:    sess.ExpiresAt,
	}
}

// errorResponse is the JSON body of failed requests.
type errorResponse struct {
	Error        string `json:"error"`
	RequiresAuth bool   `json:"requires_auth,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.ClientID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "client_id is required"})
		return
	}

	params := session.CreateParams{
		ClientID:         req.ClientID,
		UserID:           req.UserID,
		TenantID:         req.TenantID,
		Capabilities:     req.Capabilities,
		LifetimeOverride: time.Duration(req.LifetimeSecs) * time.Second,
	}

	if token := bearerToken(r); token != "" && s.authn != nil {
		info, err := s.authn.AuthenticateWithToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid token", RequiresAuth: true})
			return
		}
		params.UserID = info.UserID
		params.TenantID = info.TenantID
		params.Auth = &session.AuthInfo{
			Token:          info.Token,
			TokenExpiresAt: info.TokenExpiresAt,
			RefreshToken:   info.RefreshToken,
			Claims:         info.Claims,
			Authenticated:  info.Authenticated,
		}
	}

	sess, err := s.sessions.Create(r.Context(), params)
	if err != nil {
		if errors.Is(err, session.ErrClientSessionLimit) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error()})
			return
		}
		slog.Error("session create failed", "client_id", req.ClientID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "session creation failed"})
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	rc := middleware.GetRequestContext(r.Context())
	if rc == nil || !rc.Valid {
		writeInvalid(w, rc)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(rc.Session))
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	rc := middleware.GetRequestContext(r.Context())
	if rc == nil || rc.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no session identifier"})
		return
	}

	if err := s.sessions.Terminate(r.Context(), rc.SessionID); err != nil {
		slog.Error("session terminate failed", "session_id", rc.SessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "termination failed"})
		return
	}

	// Reap the terminated session's connections off the request path.
	s.enqueueConnectionReap(r.Context())

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSuspendSession(w http.ResponseWriter, r *http.Request) {
	rc := middleware.GetRequestContext(r.Context())
	if rc == nil || !rc.Valid {
		writeInvalid(w, rc)
		return
	}

	if err := s.sessions.Suspend(r.Context(), rc.SessionID); err != nil {
		slog.Error("session suspend failed", "session_id", rc.SessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "suspend failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResumeSession bypasses the gate: a suspended session fails the
// validity predicate by definition, yet resuming it must be possible.
func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no session identifier"})
		return
	}

	if err := s.sessions.Resume(r.Context(), id); err != nil {
		slog.Error("session resume failed", "session_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "resume failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// connectionResponse is the JSON view of a registered connection.
type connectionResponse struct {
	ConnectionID string `json:"connection_id"`
	SessionID    string `json:"session_id"`
}

func (s *Server) handleRegisterConnection(w http.ResponseWriter, r *http.Request) {
	rc := middleware.GetRequestContext(r.Context())
	if rc == nil || !rc.Valid {
		writeInvalid(w, rc)
		return
	}

	connID, err := s.connections.Register(r.Context(), rc.SessionID, r.RemoteAddr)
	if err != nil {
		slog.Error("connection register failed", "session_id", rc.SessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "connection registration failed"})
		return
	}

	writeJSON(w, http.StatusCreated, connectionResponse{
		ConnectionID: connID,
		SessionID:    rc.SessionID,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("connection_id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no connection identifier"})
		return
	}

	// Disconnect is idempotent: repeating it, or racing the sweeper, is fine.
	if err := s.connections.Disconnect(r.Context(), id); err != nil {
		slog.Error("disconnect failed", "connection_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "disconnect failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// refreshRequest is the body of POST /auth/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refreshResponse carries the refreshed access token.
type refreshResponse struct {
	Token          string    `json:"token"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
}

func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "refresh_token is required"})
		return
	}

	info, err := s.authn.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "refresh failed", RequiresAuth: true})
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		Token:          info.Token,
		TokenExpiresAt: info.TokenExpiresAt,
	})
}

// statsResponse aggregates runtime statistics across components.
type statsResponse struct {
	Sessions struct {
		TotalActive      int            `json:"total_active"`
		ByState          map[string]int `json:"by_state"`
		OldestSessionAge string         `json:"oldest_session_age"`
	} `json:"sessions"`
	Connections struct {
		Total int `json:"total"`
	} `json:"connections"`
	Queue struct {
		Depth     int    `json:"depth"`
		Capacity  int    `json:"capacity"`
		Processed uint64 `json:"processed"`
		Failed    uint64 `json:"failed"`
	} `json:"queue"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sessions.Stats(r.Context())
	if err != nil {
		slog.Error("stats failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "statistics unavailable"})
		return
	}

	var resp statsResponse
	resp.Sessions.TotalActive = stats.TotalActive
	resp.Sessions.ByState = make(map[string]int, len(stats.TotalByState))
	for state, count := range stats.TotalByState {
		resp.Sessions.ByState[string(state)] = count
	}
	resp.Sessions.OldestSessionAge = stats.OldestSessionAge.String()
	resp.Connections.Total = s.connections.Count(r.Context())
	resp.Queue.Depth = s.queue.Depth()
	resp.Queue.Capacity = s.queue.Capacity()
	resp.Queue.Processed = s.worker.Processed()
	resp.Queue.Failed = s.worker.Failed()

	writeJSON(w, http.StatusOK, resp)
}

// enqueueConnectionReap schedules a connection sweep on the work queue so
// orphaned connections disappear without waiting for the next sweeper tick.
// Enqueue blocks when the queue is full; the request context bounds the wait.
func (s *Server) enqueueConnectionReap(ctx context.Context) {
	err := s.queue.Enqueue(ctx, func(itemCtx context.Context) error {
		s.sweeper.Sweep(itemCtx)
		return nil
	})
	if err != nil {
		slog.Warn("connection reap not enqueued", "error", err)
	}
}

// bearerToken extracts a bearer token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// writeInvalid renders the gate's annotation for an unusable session.
func writeInvalid(w http.ResponseWriter, rc *middleware.RequestContext) {
	resp := errorResponse{Error: "invalid session"}
	if rc != nil {
		if rc.Error != "" {
			resp.Error = rc.Error
		}
		resp.RequiresAuth = rc.RequiresAuth
	}

	code := http.StatusNotFound
	if resp.RequiresAuth {
		code = http.StatusUnauthorized
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
