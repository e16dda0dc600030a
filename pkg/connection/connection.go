// Package connection tracks physical-channel records bound to sessions.
// A connection references its session but never keeps it alive; the two
// registries stay loosely coupled and are reconciled by the sweeper.
package connection

import "time"

// State is the transport state of a connection.
type State string

const (
	// StateConnected means the channel is live.
	StateConnected State = "connected"

	// StateDisconnected means the channel was explicitly closed. Terminal.
	StateDisconnected State = "disconnected"

	// StateError means the channel failed with a transport error. Terminal.
	StateError State = "error"

	// StateTimeout means the channel exceeded its activity window. Terminal.
	StateTimeout State = "timeout"
)

// Terminal reports whether the state is absorbing. Terminal connections are
// kept for post-mortem inspection until the sweeper removes them.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateError || s == StateTimeout
}

// Connection represents one physical channel bound to exactly one session.
type Connection struct {
	// ID is the unique connection identifier.
	ID string

	// SessionID references the bound session. Relation only, not ownership.
	SessionID string

	// RemoteEndpoint describes the peer (e.g. "10.0.0.7:52114").
	RemoteEndpoint string

	// ConnectedAt is when the channel was registered.
	ConnectedAt time.Time

	// LastActivityAt is the most recent activity timestamp.
	LastActivityAt time.Time

	// State is the transport state.
	State State

	// Metadata holds free-form channel attributes.
	Metadata map[string]any
}

// Clone returns a copy safe to read outside registry locks.
func (c *Connection) Clone() *Connection {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Metadata = make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}
