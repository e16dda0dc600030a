// Package postgres provides PostgreSQL-backed session storage implementing
// the same registry contract as the in-memory registry, for deployments
// that need sessions to survive restarts.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/txn2/mcp-connector/pkg/session"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// sessionColumns lists columns returned by session SELECT queries.
var sessionColumns = []string{
	"id", "client_id", "user_id", "tenant_id",
	"created_at", "last_active_at", "expires_at",
	"state", "capabilities", "data", "auth",
}

// Store implements session.Registry using PostgreSQL.
type Store struct {
	db  *sql.DB
	cfg session.Config
}

// New creates a PostgreSQL session registry. The registry applies the same
// capability and validity policies as the in-memory registry.
func New(db *sql.DB, cfg session.Config) *Store {
	return &Store{db: db, cfg: cfg}
}

// Create establishes a new session.
func (s *Store) Create(ctx context.Context, params session.CreateParams) (*session.Session, error) {
	granted := grantCapabilities(s.cfg.RecognizedCapabilities, params.Capabilities)

	lifetime := s.cfg.DefaultLifetime
	if params.LifetimeOverride > 0 {
		lifetime = params.LifetimeOverride
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.cfg.MaxSessionsPerClient > 0 {
		var active int
		row := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sessions WHERE client_id = $1 AND `+validityPredicate("$2"),
			params.ClientID, inactivityInterval(s.cfg.InactivityTimeout),
		)
		if err := row.Scan(&active); err != nil {
			return nil, fmt.Errorf("counting client sessions: %w", err)
		}
		if active >= s.cfg.MaxSessionsPerClient {
			return nil, session.ErrClientSessionLimit
		}
	}

	now := time.Now()
	sess := &session.Session{
		ID:           uuid.New().String(),
		ClientID:     params.ClientID,
		UserID:       params.UserID,
		TenantID:     params.TenantID,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(lifetime),
		State:        session.StateActive,
		Capabilities: granted,
		Data:         make(map[string]any),
	}

	var authJSON []byte
	if params.Auth != nil {
		authCopy := *params.Auth
		sess.Auth = &authCopy
		authJSON, err = json.Marshal(sess.Auth)
		if err != nil {
			return nil, fmt.Errorf("marshaling auth info: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, client_id, user_id, tenant_id, created_at, last_active_at, expires_at, state, capabilities, data, auth)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		sess.ID, sess.ClientID, sess.UserID, sess.TenantID,
		sess.CreatedAt, sess.LastActiveAt, sess.ExpiresAt,
		string(sess.State), pq.Array(sess.Capabilities), []byte("{}"), authJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing session: %w", err)
	}
	return sess, nil
}

// Validate checks the validity predicate without touching activity. Stale
// active rows are lazily flipped to expired.
func (s *Store) Validate(ctx context.Context, id string) (session.ValidationResult, error) {
	query, args, err := psq.Select(sessionColumns...).
		From("sessions").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return session.ValidationResult{}, fmt.Errorf("building query: %w", err)
	}

	sess, err := s.scanSession(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return session.ValidationResult{}, err
	}
	if sess == nil {
		return session.ValidationResult{Reason: session.ReasonNotFound, RequiresAuth: true}, nil
	}

	if !s.isValid(sess, time.Now()) {
		if sess.State == session.StateActive {
			_, err := s.db.ExecContext(ctx,
				`UPDATE sessions SET state = $2 WHERE id = $1 AND state = $3`,
				id, string(session.StateExpired), string(session.StateActive),
			)
			if err != nil {
				slog.Warn("session: lazy expire failed", "session_id", id, "error", err)
			}
		}
		return session.ValidationResult{Reason: session.ReasonExpired, RequiresAuth: true}, nil
	}

	return session.ValidationResult{Valid: true, Session: sess}, nil
}

// Touch sets last_active_at to now. Missing sessions are a no-op.
func (s *Store) Touch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

// SetData stores a session-scoped value using JSONB concatenation.
func (s *Store) SetData(ctx context.Context, id, key string, value any) error {
	patch, err := json.Marshal(map[string]any{key: value})
	if err != nil {
		return fmt.Errorf("marshaling session data: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET data = data || $2::jsonb WHERE id = $1`, id, patch)
	if err != nil {
		return fmt.Errorf("updating session data: %w", err)
	}
	return nil
}

// GetData reads a session-scoped value.
func (s *Store) GetData(ctx context.Context, id, key string) (any, bool, error) {
	var raw []byte
	row := s.db.QueryRowContext(ctx,
		`SELECT data -> $2 FROM sessions WHERE id = $1`, id, key)
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading session data: %w", err)
	}
	if raw == nil {
		return nil, false, nil
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, fmt.Errorf("unmarshaling session data: %w", err)
	}
	return value, true, nil
}

// Terminate moves the session to the terminated state.
func (s *Store) Terminate(ctx context.Context, id string) error {
	return s.setState(ctx, id, session.StateTerminated, "")
}

// Suspend moves an active session to the suspended state.
func (s *Store) Suspend(ctx context.Context, id string) error {
	return s.setState(ctx, id, session.StateSuspended, session.StateActive)
}

// Resume moves a suspended session back to the active state.
func (s *Store) Resume(ctx context.Context, id string) error {
	return s.setState(ctx, id, session.StateActive, session.StateSuspended)
}

// setState flips a session state, optionally guarded by the current state.
func (s *Store) setState(ctx context.Context, id string, to, from session.State) error {
	builder := psq.Update("sessions").
		Set("state", string(to)).
		Where(sq.Eq{"id": id})
	if from != "" {
		builder = builder.Where(sq.Eq{"state": string(from)})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating session state: %w", err)
	}
	return nil
}

// Stats returns a point-in-time snapshot.
func (s *Store) Stats(ctx context.Context) (session.Statistics, error) {
	stats := session.Statistics{TotalByState: make(map[session.State]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM sessions GROUP BY state`)
	if err != nil {
		return stats, fmt.Errorf("counting sessions by state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return stats, fmt.Errorf("scanning state count: %w", err)
		}
		stats.TotalByState[session.State(state)] = count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterating state counts: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(EXTRACT(EPOCH FROM NOW() - MIN(created_at)), 0)
		FROM sessions WHERE `+validityPredicate("$1"),
		inactivityInterval(s.cfg.InactivityTimeout),
	)
	var oldestSeconds float64
	if err := row.Scan(&stats.TotalActive, &oldestSeconds); err != nil {
		return stats, fmt.Errorf("counting active sessions: %w", err)
	}
	stats.OldestSessionAge = time.Duration(oldestSeconds * float64(time.Second))

	return stats, nil
}

// List returns all sessions currently passing the validity predicate.
func (s *Store) List(ctx context.Context) ([]*session.Session, error) {
	query, args, err := psq.Select(sessionColumns...).
		From("sessions").
		Where(validityPredicate("?"), inactivityInterval(s.cfg.InactivityTimeout)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := s.scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// Cleanup removes sessions that are terminal or newly failing the validity
// predicate. The predicate is evaluated inside the DELETE so a concurrent
// touch that lands first keeps its session.
func (s *Store) Cleanup(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE state IN ('expired', 'terminated')
		   OR (state = 'active' AND NOT (`+validityPredicate("$1")+`))
	`, inactivityInterval(s.cfg.InactivityTimeout))
	if err != nil {
		return fmt.Errorf("cleaning up sessions: %w", err)
	}
	return nil
}

// Close releases the registry. The caller owns the *sql.DB.
func (*Store) Close() error {
	return nil
}

// validityPredicate renders the SQL validity predicate with the inactivity
// interval bound at the given placeholder.
func validityPredicate(placeholder string) string {
	return fmt.Sprintf(
		"state = 'active' AND expires_at > NOW() AND last_active_at > NOW() - %s::interval",
		placeholder,
	)
}

// inactivityInterval renders the inactivity window as a Postgres interval.
// A zero window disables the inactivity bound with an effectively infinite
// interval.
func inactivityInterval(d time.Duration) string {
	if d <= 0 {
		return "100 years"
	}
	return fmt.Sprintf("%d seconds", int(d.Seconds()))
}

// isValid mirrors the in-memory validity predicate for rows already loaded.
func (s *Store) isValid(sess *session.Session, now time.Time) bool {
	if sess.State != session.StateActive {
		return false
	}
	if !now.Before(sess.ExpiresAt) {
		return false
	}
	if s.cfg.InactivityTimeout > 0 && now.Sub(sess.LastActiveAt) >= s.cfg.InactivityTimeout {
		return false
	}
	return true
}

// grantCapabilities applies the same policy as the in-memory registry.
func grantCapabilities(recognized, requested []string) []string {
	var known map[string]bool
	if len(recognized) > 0 {
		known = make(map[string]bool, len(recognized))
		for _, c := range recognized {
			known[c] = true
		}
	}

	granted := make([]string, 0, len(requested))
	seen := make(map[string]bool, len(requested))
	for _, name := range requested {
		if seen[name] {
			continue
		}
		seen[name] = true
		if known != nil && !known[name] {
			slog.Debug("session: dropping unrecognized capability", "capability", name)
			continue
		}
		granted = append(granted, name)
	}
	return granted
}

// rowScanner abstracts sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession scans a single row into a Session, returning nil on no rows.
func (*Store) scanSession(row *sql.Row) (*session.Session, error) {
	sess, err := scanInto(row)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // absent sessions are a value, not an error
	}
	return sess, err
}

// scanSessionRow scans a row from sql.Rows into a Session.
func (*Store) scanSessionRow(rows *sql.Rows) (*session.Session, error) {
	return scanInto(rows)
}

func scanInto(scanner rowScanner) (*session.Session, error) {
	var sess session.Session
	var state string
	var capabilities pq.StringArray
	var dataJSON, authJSON []byte

	err := scanner.Scan(
		&sess.ID, &sess.ClientID, &sess.UserID, &sess.TenantID,
		&sess.CreatedAt, &sess.LastActiveAt, &sess.ExpiresAt,
		&state, &capabilities, &dataJSON, &authJSON,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	sess.State = session.State(state)
	sess.Capabilities = []string(capabilities)
	sess.Data = make(map[string]any)
	if len(dataJSON) > 0 {
		_ = json.Unmarshal(dataJSON, &sess.Data)
	}
	if len(authJSON) > 0 {
		var info session.AuthInfo
		if err := json.Unmarshal(authJSON, &info); err == nil {
			sess.Auth = &info
		}
	}
	return &sess, nil
}

// Verify interface compliance.
var _ session.Registry = (*Store)(nil)
