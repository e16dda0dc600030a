// Package sweeper runs the periodic cleanup pass over the session and
// connection registries.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/txn2/mcp-connector/pkg/connection"
	"github.com/txn2/mcp-connector/pkg/session"
)

// Config configures the sweeper.
type Config struct {
	// Interval is the tick period. Typically shorter than the session
	// inactivity timeout.
	Interval time.Duration

	// ConnectionInactivity is the idle window after which a connection is
	// timed out and removed.
	ConnectionInactivity time.Duration
}

// Sweeper periodically evicts expired sessions and dead connections. Each
// tick removes sessions first, then connections, so connections orphaned by
// the session pass are collected in the same tick.
type Sweeper struct {
	sessions    session.Registry
	connections *connection.Registry
	cfg         Config

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a sweeper over the two registries.
func New(sessions session.Registry, connections *connection.Registry, cfg Config) *Sweeper {
	return &Sweeper{
		sessions:    sessions,
		connections: connections,
		cfg:         cfg,
	}
}

// Start launches the background sweep goroutine. The goroutine is stopped
// when Stop is called.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop stops the sweep goroutine and waits for it to exit. It is safe to
// call Stop even if Start was never called.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Sweep performs one cleanup pass. It is safe to run concurrently with any
// number of in-flight validate and touch calls: both registries re-check
// validity immediately before deleting an entry, so ties break in favor of
// not removing.
func (s *Sweeper) Sweep(ctx context.Context) {
	if err := s.sessions.Cleanup(ctx); err != nil {
		slog.Warn("sweeper: session cleanup failed", "error", err)
	}

	if s.connections == nil {
		return
	}

	exists := func(sessionID string) bool {
		result, err := s.sessions.Validate(ctx, sessionID)
		if err != nil {
			// On registry failure keep the connection; the next tick
			// retries.
			return true
		}
		return result.Valid
	}
	if err := s.connections.Cleanup(ctx, exists, s.cfg.ConnectionInactivity); err != nil {
		slog.Warn("sweeper: connection cleanup failed", "error", err)
	}
}
