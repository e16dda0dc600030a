// Package server wires the connector components into a running service:
// session and connection registries, the background work queue, the cleanup
// sweeper, authentication, and the HTTP and MCP surfaces.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-connector/pkg/auth"
	"github.com/txn2/mcp-connector/pkg/connection"
	"github.com/txn2/mcp-connector/pkg/database/migrate"
	"github.com/txn2/mcp-connector/pkg/health"
	"github.com/txn2/mcp-connector/pkg/middleware"
	"github.com/txn2/mcp-connector/pkg/platform"
	"github.com/txn2/mcp-connector/pkg/session"
	sessionpg "github.com/txn2/mcp-connector/pkg/session/postgres"
	"github.com/txn2/mcp-connector/pkg/sweeper"
	"github.com/txn2/mcp-connector/pkg/workqueue"
)

// Version is set at build time.
var Version = "dev"

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Server is the assembled connector service.
type Server struct {
	cfg *platform.Config

	sessions    session.Registry
	connections *connection.Registry
	queue       *workqueue.Queue
	worker      *workqueue.Worker
	sweeper     *sweeper.Sweeper
	authn       auth.Provider
	checker     *health.Checker
	gate        *middleware.SessionGate

	mcpServer  *mcp.Server
	httpServer *http.Server
	db         *sql.DB
}

// New assembles a Server from configuration. The configuration is validated
// and then treated as immutable.
func New(cfg *platform.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	s := &Server{
		cfg:         cfg,
		connections: connection.NewRegistry(),
		checker:     health.NewChecker(),
	}

	sessionCfg := session.Config{
		DefaultLifetime:        cfg.Session.DefaultLifetime,
		InactivityTimeout:      cfg.Session.InactivityTimeout,
		MaxSessionsPerClient:   cfg.Session.MaxSessionsPerClient,
		RecognizedCapabilities: cfg.Session.Capabilities,
	}

	if cfg.Database.DSN != "" {
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)

		if err := migrate.Run(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}

		s.db = db
		s.sessions = sessionpg.New(db, sessionCfg)
		s.checker.AddProbe("database", db.PingContext)
		slog.Info("session registry: postgres")
	} else {
		s.sessions = session.NewMemoryRegistry(sessionCfg)
		slog.Info("session registry: in-memory")
	}

	s.queue = workqueue.NewQueue(cfg.Queue.Capacity)
	s.worker = workqueue.NewWorker(s.queue)

	s.sweeper = sweeper.New(s.sessions, s.connections, sweeper.Config{
		Interval:             cfg.Session.CleanupInterval,
		ConnectionInactivity: cfg.Session.InactivityTimeout,
	})

	authn, err := buildAuthProvider(cfg)
	if err != nil {
		return nil, err
	}
	s.authn = authn

	s.gate = middleware.NewSessionGate(s.sessions, s.connections, middleware.SessionGateConfig{})

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
	}, nil)
	s.mcpServer.AddReceivingMiddleware(middleware.MCPSessionGateMiddleware())
	s.registerInfoTool()
	s.registerStatsTool()

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s, nil
}

// buildAuthProvider selects the authentication provider from configuration.
// A nil provider means unauthenticated session creation is allowed.
func buildAuthProvider(cfg *platform.Config) (auth.Provider, error) {
	if cfg.Auth.JWT.Enabled {
		provider, err := auth.NewJWTProvider(auth.JWTConfig{
			Issuer:          cfg.Auth.JWT.Issuer,
			SigningKey:      []byte(cfg.Auth.JWT.SigningKey),
			TenantClaimPath: cfg.Auth.JWT.TenantClaimPath,
		})
		if err != nil {
			return nil, fmt.Errorf("creating jwt provider: %w", err)
		}
		return provider, nil
	}

	if cfg.Auth.APIKeys.Enabled {
		keys := make([]auth.APIKeyDef, 0, len(cfg.Auth.APIKeys.Keys))
		for _, k := range cfg.Auth.APIKeys.Keys {
			keys = append(keys, auth.APIKeyDef{
				Name:     k.Name,
				TenantID: k.Tenant,
				Hash:     k.Hash,
			})
		}
		return auth.NewAPIKeyProvider(keys), nil
	}

	return nil, nil //nolint:nilnil // no provider configured is a valid mode
}

// MCPServer returns the underlying MCP server, mainly for tests.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// Sessions returns the session registry.
func (s *Server) Sessions() session.Registry {
	return s.sessions
}

// Start runs the connector until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.worker.Start(workerCtx)
	s.sweeper.Start()
	s.checker.SetReady()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "address", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains and stops every component in reverse start order.
func (s *Server) Shutdown() error {
	s.checker.SetDraining()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	s.sweeper.Stop()
	s.worker.Stop()

	if err := s.sessions.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing session registry: %w", err))
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}

	slog.Info("connector stopped")
	return errors.Join(errs...)
}
