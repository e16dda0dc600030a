package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry manages connection records. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
	}
}

// Register records a new connection bound to sessionID. The session is not
// validated here; registration only records intent to associate, and access
// time validation belongs to the session registry.
func (r *Registry) Register(_ context.Context, sessionID, remoteEndpoint string) (string, error) {
	now := time.Now()
	conn := &Connection{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		RemoteEndpoint: remoteEndpoint,
		ConnectedAt:    now,
		LastActivityAt: now,
		State:          StateConnected,
		Metadata:       make(map[string]any),
	}

	r.mu.Lock()
	r.connections[conn.ID] = conn
	r.mu.Unlock()

	return conn.ID, nil
}

// Get returns a copy of the connection, or nil when unknown.
func (r *Registry) Get(_ context.Context, id string) (*Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[id]
	if !ok {
		return nil, nil //nolint:nilnil // absent connections are a value, not an error
	}
	return conn.Clone(), nil
}

// Touch sets LastActivityAt to now. Missing connections are a no-op.
func (r *Registry) Touch(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.connections[id]; ok {
		conn.LastActivityAt = time.Now()
	}
	return nil
}

// SetMetadata stores a channel attribute. Missing connections are a no-op.
func (r *Registry) SetMetadata(_ context.Context, id, key string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.connections[id]; ok {
		if conn.Metadata == nil {
			conn.Metadata = make(map[string]any)
		}
		conn.Metadata[key] = value
	}
	return nil
}

// Disconnect flips the connection to StateDisconnected. The record is kept
// for post-mortem inspection until the sweeper removes it. Idempotent:
// unknown or already-terminal connections succeed silently.
func (r *Registry) Disconnect(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[id]
	if !ok || conn.State.Terminal() {
		return nil
	}
	conn.State = StateDisconnected
	return nil
}

// MarkError flips the connection to StateError after a transport failure.
// Idempotent like Disconnect.
func (r *Registry) MarkError(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[id]
	if !ok || conn.State.Terminal() {
		return nil
	}
	conn.State = StateError
	return nil
}

// Count returns the number of tracked connections, terminal ones included.
func (r *Registry) Count(_ context.Context) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Cleanup removes connections whose bound session no longer exists, whose
// own inactivity exceeds the window, or whose state is terminal. Inactivity
// is re-checked per entry under the write lock so a connection touched
// concurrently survives the sweep; expiring entries transition to
// StateTimeout before removal.
func (r *Registry) Cleanup(_ context.Context, sessionExists func(string) bool, inactivity time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, conn := range r.connections {
		switch {
		case conn.State.Terminal():
		case sessionExists != nil && !sessionExists(conn.SessionID):
		case inactivity > 0 && now.Sub(conn.LastActivityAt) >= inactivity:
			conn.State = StateTimeout
		default:
			continue
		}
		delete(r.connections, id)
		removed++
	}
	if removed > 0 {
		slog.Debug("connection: cleanup removed connections", "count", removed)
	}
	return nil
}
