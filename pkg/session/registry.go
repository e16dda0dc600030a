package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config configures a MemoryRegistry.
type Config struct {
	// DefaultLifetime is the absolute session lifetime applied at creation.
	DefaultLifetime time.Duration

	// InactivityTimeout is the maximum idle duration before a session is
	// considered expired regardless of its absolute expiry.
	InactivityTimeout time.Duration

	// MaxSessionsPerClient caps concurrent active sessions per client.
	// Zero means unlimited.
	MaxSessionsPerClient int

	// RecognizedCapabilities is the set of grantable capability names.
	// Requested capabilities outside this set are silently dropped.
	// Empty means all requested capabilities are recognized.
	RecognizedCapabilities []string
}

// MemoryRegistry implements Registry using an in-memory map. It is safe for
// concurrent use; every operation completes in bounded time under a
// short-held lock.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      Config
	known    map[string]bool
}

// NewMemoryRegistry creates a new in-memory session registry.
func NewMemoryRegistry(cfg Config) *MemoryRegistry {
	var known map[string]bool
	if len(cfg.RecognizedCapabilities) > 0 {
		known = make(map[string]bool, len(cfg.RecognizedCapabilities))
		for _, c := range cfg.RecognizedCapabilities {
			known[c] = true
		}
	}
	return &MemoryRegistry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		known:    known,
	}
}

// Create establishes a new session.
func (r *MemoryRegistry) Create(_ context.Context, params CreateParams) (*Session, error) {
	granted := r.grantCapabilities(params.Capabilities)

	lifetime := r.cfg.DefaultLifetime
	if params.LifetimeOverride > 0 {
		lifetime = params.LifetimeOverride
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.MaxSessionsPerClient > 0 {
		active := 0
		now := time.Now()
		for _, sess := range r.sessions {
			if sess.ClientID == params.ClientID && r.isValidLocked(sess, now) {
				active++
			}
		}
		if active >= r.cfg.MaxSessionsPerClient {
			return nil, ErrClientSessionLimit
		}
	}

	now := time.Now()
	sess := &Session{
		ID:           uuid.New().String(),
		ClientID:     params.ClientID,
		UserID:       params.UserID,
		TenantID:     params.TenantID,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(lifetime),
		State:        StateActive,
		Capabilities: granted,
		Data:         make(map[string]any),
	}
	if params.Auth != nil {
		authCopy := *params.Auth
		sess.Auth = &authCopy
	}
	r.sessions[sess.ID] = sess

	return sess.Clone(), nil
}

// grantCapabilities deduplicates the requested list, preserving order, and
// drops names outside the recognized set. Drops never cause failure.
func (r *MemoryRegistry) grantCapabilities(requested []string) []string {
	granted := make([]string, 0, len(requested))
	seen := make(map[string]bool, len(requested))
	for _, name := range requested {
		if seen[name] {
			continue
		}
		seen[name] = true
		if r.known != nil && !r.known[name] {
			slog.Debug("session: dropping unrecognized capability", "capability", name)
			continue
		}
		granted = append(granted, name)
	}
	return granted
}

// Validate checks the validity predicate. It never moves LastActiveAt; the
// only side effect is the lazy transition of a stale record to StateExpired.
func (r *MemoryRegistry) Validate(_ context.Context, id string) (ValidationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return ValidationResult{Reason: ReasonNotFound, RequiresAuth: true}, nil
	}

	now := time.Now()
	if !r.isValidLocked(sess, now) {
		if sess.State == StateActive {
			sess.State = StateExpired
		}
		return ValidationResult{Reason: ReasonExpired, RequiresAuth: true}, nil
	}

	return ValidationResult{Valid: true, Session: sess.Clone()}, nil
}

// isValidLocked evaluates the validity predicate. Callers must hold the lock.
func (r *MemoryRegistry) isValidLocked(sess *Session, now time.Time) bool {
	if sess.State != StateActive {
		return false
	}
	if !now.Before(sess.ExpiresAt) {
		return false
	}
	if r.cfg.InactivityTimeout > 0 && now.Sub(sess.LastActiveAt) >= r.cfg.InactivityTimeout {
		return false
	}
	return true
}

// Touch sets LastActiveAt to now. Missing sessions are a no-op.
func (r *MemoryRegistry) Touch(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[id]; ok {
		sess.LastActiveAt = time.Now()
	}
	return nil
}

// SetData stores a session-scoped value. Missing sessions are a no-op.
func (r *MemoryRegistry) SetData(_ context.Context, id, key string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil
	}
	if sess.Data == nil {
		sess.Data = make(map[string]any)
	}
	sess.Data[key] = value
	return nil
}

// GetData reads a session-scoped value. Missing sessions or keys report
// absence, never an error.
func (r *MemoryRegistry) GetData(_ context.Context, id, key string) (any, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, false, nil
	}
	value, ok := sess.Data[key]
	return value, ok, nil
}

// Terminate moves the session to StateTerminated.
func (r *MemoryRegistry) Terminate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[id]; ok {
		sess.State = StateTerminated
	}
	return nil
}

// Suspend moves an active session to StateSuspended.
func (r *MemoryRegistry) Suspend(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[id]; ok && sess.State == StateActive {
		sess.State = StateSuspended
	}
	return nil
}

// Resume moves a suspended session back to StateActive.
func (r *MemoryRegistry) Resume(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[id]; ok && sess.State == StateSuspended {
		sess.State = StateActive
	}
	return nil
}

// Stats returns a point-in-time snapshot. It holds only a read lock for the
// duration of the scan.
func (r *MemoryRegistry) Stats(_ context.Context) (Statistics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Statistics{TotalByState: make(map[State]int)}
	now := time.Now()
	for _, sess := range r.sessions {
		stats.TotalByState[sess.State]++
		if r.isValidLocked(sess, now) {
			stats.TotalActive++
			if age := now.Sub(sess.CreatedAt); age > stats.OldestSessionAge {
				stats.OldestSessionAge = age
			}
		}
	}
	return stats, nil
}

// List returns copies of all sessions passing the validity predicate.
func (r *MemoryRegistry) List(_ context.Context) ([]*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	result := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if r.isValidLocked(sess, now) {
			result = append(result, sess.Clone())
		}
	}
	return result, nil
}

// Cleanup removes sessions that are Expired, Terminated, or newly failing
// the validity predicate. Validity is re-checked per entry under the write
// lock so a session touched concurrently survives the sweep.
func (r *MemoryRegistry) Cleanup(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, sess := range r.sessions {
		if sess.State == StateSuspended {
			continue
		}
		if !r.isValidLocked(sess, now) {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("session: cleanup removed sessions", "count", removed)
	}
	return nil
}

// Close releases resources. The memory registry holds none beyond the map.
func (r *MemoryRegistry) Close() error {
	return nil
}

// Verify interface compliance.
var _ Registry = (*MemoryRegistry)(nil)
