// Package session provides session lifecycle management for the connector.
// It defines the Registry interface for session state and the Session type
// that represents a logical, time-bounded client engagement.
package session

import (
	"context"
	"errors"
	"time"
)

// State is the lifecycle state of a session.
type State string

const (
	// StateActive means the session is usable, subject to its time bounds.
	StateActive State = "active"

	// StateExpired means the session failed its validity predicate. Expired
	// sessions remain in the registry until the sweeper removes them.
	StateExpired State = "expired"

	// StateTerminated means the session was explicitly terminated.
	StateTerminated State = "terminated"

	// StateSuspended is reserved for future use. A suspended session is
	// invalid for access but can be resumed.
	StateSuspended State = "suspended"
)

// Validation failure reasons surfaced to callers.
const (
	// ReasonNotFound indicates the session ID is unknown to the registry.
	ReasonNotFound = "not found"

	// ReasonExpired indicates the session exists but failed its validity
	// predicate (absolute expiry, inactivity, or a non-active state).
	ReasonExpired = "expired"
)

// ErrClientSessionLimit is returned by Create when the client already holds
// the configured maximum number of concurrent sessions.
var ErrClientSessionLimit = errors.New("session: client session limit reached")

// AuthInfo holds cached authentication state embedded in a session.
type AuthInfo struct {
	Token          string
	TokenExpiresAt time.Time
	RefreshToken   string
	Claims         map[string]any
	Authenticated  bool
}

// Session represents a logical client engagement.
type Session struct {
	// ID is the unique session identifier, generated at creation.
	ID string

	// ClientID identifies the owning client. Required.
	ClientID string

	// UserID identifies the authenticated user, if any.
	UserID string

	// TenantID identifies the tenant, if any.
	TenantID string

	// CreatedAt is when the session was established.
	CreatedAt time.Time

	// LastActiveAt is the most recent validated activity timestamp.
	LastActiveAt time.Time

	// ExpiresAt is the absolute expiry, fixed at creation. Activity moves
	// LastActiveAt forward but never extends ExpiresAt.
	ExpiresAt time.Time

	// State is the lifecycle state.
	State State

	// Capabilities is the ordered, deduplicated list of capability names
	// granted at creation. It never grows after creation.
	Capabilities []string

	// Data holds arbitrary session-scoped key/value state.
	Data map[string]any

	// Auth holds cached authentication state, if the session carries any.
	Auth *AuthInfo
}

// Clone returns a deep copy of the session so callers can read it without
// holding registry locks.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Capabilities = append([]string(nil), s.Capabilities...)
	cp.Data = make(map[string]any, len(s.Data))
	for k, v := range s.Data {
		cp.Data[k] = v
	}
	if s.Auth != nil {
		auth := *s.Auth
		auth.Claims = make(map[string]any, len(s.Auth.Claims))
		for k, v := range s.Auth.Claims {
			auth.Claims[k] = v
		}
		cp.Auth = &auth
	}
	return &cp
}

// CreateParams holds the inputs to Create.
type CreateParams struct {
	ClientID         string
	UserID           string
	TenantID         string
	Capabilities     []string
	LifetimeOverride time.Duration

	// Auth carries authentication state to cache on the session, if the
	// creating request was authenticated.
	Auth *AuthInfo
}

// ValidationResult is the structured outcome of Validate. Expected failure
// conditions are values, never errors.
type ValidationResult struct {
	// Valid reports whether the session passed the validity predicate.
	Valid bool

	// Session is a copy of the session record when Valid is true.
	Session *Session

	// Reason distinguishes failure causes: ReasonNotFound or ReasonExpired.
	Reason string

	// RequiresAuth signals that the caller must (re-)authenticate.
	RequiresAuth bool
}

// Statistics is a point-in-time snapshot of registry state.
type Statistics struct {
	TotalActive      int
	TotalByState     map[State]int
	OldestSessionAge time.Duration
}

// Registry manages session records. All expected conditions (not found,
// expired, capacity) surface as result values or sentinel errors; only
// unexpected faults propagate as other errors.
type Registry interface {
	// Create establishes a new session. Unknown capabilities are silently
	// dropped; duplicates are collapsed preserving first occurrence order.
	// Returns ErrClientSessionLimit when the client is at capacity.
	Create(ctx context.Context, params CreateParams) (*Session, error)

	// Validate checks the validity predicate without touching activity.
	// The only permitted side effect is the lazy Active→Expired transition.
	Validate(ctx context.Context, id string) (ValidationResult, error)

	// Touch sets LastActiveAt to now. Missing sessions are a no-op so that
	// benign races with the sweeper do not surface as errors.
	Touch(ctx context.Context, id string) error

	// SetData stores a session-scoped value under key.
	SetData(ctx context.Context, id, key string, value any) error

	// GetData reads a session-scoped value. The bool reports presence; a
	// missing session or key is not an error.
	GetData(ctx context.Context, id, key string) (any, bool, error)

	// Terminate moves the session to StateTerminated. The record stays in
	// the registry until the sweeper removes it.
	Terminate(ctx context.Context, id string) error

	// Suspend moves an active session to StateSuspended.
	Suspend(ctx context.Context, id string) error

	// Resume moves a suspended session back to StateActive.
	Resume(ctx context.Context, id string) error

	// Stats returns a point-in-time snapshot.
	Stats(ctx context.Context) (Statistics, error)

	// List returns copies of all sessions currently passing the validity
	// predicate.
	List(ctx context.Context) ([]*Session, error)

	// Cleanup removes sessions whose state is Expired or Terminated, or
	// whose validity predicate newly evaluates to false. Removal re-checks
	// validity per entry so a concurrently touched session survives.
	Cleanup(ctx context.Context) error

	// Close stops background routines and releases resources.
	Close() error
}
