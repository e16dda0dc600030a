package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-connector/pkg/connection"
	"github.com/txn2/mcp-connector/pkg/session"
)

const (
	sweepTestLifetime   = 5 * time.Minute
	sweepTestInactivity = 100 * time.Millisecond
	sweepTestInterval   = 20 * time.Millisecond
)

func newRegistries(inactivity time.Duration) (*session.MemoryRegistry, *connection.Registry) {
	sessions := session.NewMemoryRegistry(session.Config{
		DefaultLifetime:   sweepTestLifetime,
		InactivityTimeout: inactivity,
	})
	return sessions, connection.NewRegistry()
}

func TestSweeper_SweepExpiresSessionsThenConnections(t *testing.T) {
	sessions, connections := newRegistries(sweepTestInactivity)
	ctx := context.Background()

	sess, err := sessions.Create(ctx, session.CreateParams{ClientID: "client-1"})
	require.NoError(t, err)
	connID, err := connections.Register(ctx, sess.ID, "10.0.0.1:1000")
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	s := New(sessions, connections, Config{Interval: sweepTestInterval})
	s.Sweep(ctx)

	result, err := sessions.Validate(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ReasonNotFound, result.Reason)

	// The connection is orphaned in the same pass.
	conn, err := connections.Get(ctx, connID)
	require.NoError(t, err)
	assert.Nil(t, conn)
}

func TestSweeper_SweepSparesLiveEntries(t *testing.T) {
	sessions, connections := newRegistries(sweepTestLifetime)
	ctx := context.Background()

	sess, err := sessions.Create(ctx, session.CreateParams{ClientID: "client-1"})
	require.NoError(t, err)
	connID, err := connections.Register(ctx, sess.ID, "10.0.0.1:1000")
	require.NoError(t, err)

	s := New(sessions, connections, Config{
		Interval:             sweepTestInterval,
		ConnectionInactivity: sweepTestLifetime,
	})
	s.Sweep(ctx)

	result, err := sessions.Validate(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	conn, err := connections.Get(ctx, connID)
	require.NoError(t, err)
	assert.NotNil(t, conn)
}

func TestSweeper_BackgroundLifecycle(t *testing.T) {
	sessions, connections := newRegistries(sweepTestInactivity)
	ctx := context.Background()

	for _, client := range []string{"client-a", "client-b", "client-c"} {
		_, err := sessions.Create(ctx, session.CreateParams{ClientID: client})
		require.NoError(t, err)
	}

	s := New(sessions, connections, Config{Interval: sweepTestInterval})
	s.Start()

	time.Sleep(200 * time.Millisecond)

	stats, err := sessions.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalActive, "all three sessions expire together and are swept")

	s.Stop()
}

func TestSweeper_StopWithoutStart(t *testing.T) {
	sessions, connections := newRegistries(sweepTestInactivity)

	s := New(sessions, connections, Config{Interval: sweepTestInterval})
	assert.NotPanics(t, s.Stop)
}

func TestSweeper_TouchedSessionSurvivesSweep(t *testing.T) {
	sessions, connections := newRegistries(sweepTestInactivity)
	ctx := context.Background()

	sess, err := sessions.Create(ctx, session.CreateParams{ClientID: "client-1"})
	require.NoError(t, err)

	s := New(sessions, connections, Config{Interval: sweepTestInterval})
	s.Start()
	defer s.Stop()

	// Keep touching across several sweep ticks; the session must survive.
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.NoError(t, sessions.Touch(ctx, sess.ID))
		time.Sleep(sweepTestInterval)
	}

	result, err := sessions.Validate(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
}
