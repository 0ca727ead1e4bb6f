// Package history keeps a SQLite journal of finished sessions so anchor
// drift can be traced across build versions.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/driftpatch/driftpatch/internal/session"
)

// Entry is one journaled session
type Entry struct {
	ID          string
	Mode        string
	DryRun      bool
	Stage       string
	Version     string
	Fingerprint string
	Passed      int
	Total       int
	Threshold   string
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// SpecOutcome is the status one spec reached in one session
type SpecOutcome struct {
	SessionID string
	Role      string
	Artifact  string
	SpecID    string
	Status    string
	Error     string
}

// RoleBinding is the artifact a role resolved to in one session
type RoleBinding struct {
	SessionID  string
	Role       string
	Path       string
	Confidence string
	Method     string
}

// Journal persists sessions in a SQL database
type Journal struct {
	db *sql.DB
}

// New wraps an open database. Call Initialize before first use.
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Open opens (creating if needed) the journal database at path
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	j := New(db)
	if err := j.Initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the underlying database
func (j *Journal) Close() error {
	return j.db.Close()
}

// Initialize creates the journal tables if they don't exist
func (j *Journal) Initialize() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			dry_run INTEGER NOT NULL DEFAULT 0,
			stage TEXT NOT NULL,
			version TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			passed INTEGER NOT NULL DEFAULT 0,
			total INTEGER NOT NULL DEFAULT 0,
			threshold TEXT NOT NULL,
			error TEXT,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)`,
		`CREATE TABLE IF NOT EXISTS spec_outcomes (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			role TEXT NOT NULL,
			artifact TEXT NOT NULL,
			spec_id TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spec_outcomes_session ON spec_outcomes(session_id)`,
		`CREATE TABLE IF NOT EXISTS role_bindings (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			role TEXT NOT NULL,
			path TEXT NOT NULL,
			confidence TEXT NOT NULL,
			method TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_role_bindings_session ON role_bindings(session_id)`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create history tables: %w", err)
		}
	}
	return nil
}

// Record journals a finished session in one transaction. It satisfies
// session.Journal.
func (j *Journal) Record(ctx context.Context, s *session.Summary) error {
	return j.withTransaction(ctx, func(tx *sql.Tx) error {
		passed, total := 0, 0
		if s.Report != nil {
			passed, total = s.Report.Passed, s.Report.Total
		}
		var errText sql.NullString
		if s.Err != nil {
			errText = sql.NullString{String: s.Err.Error(), Valid: true}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, mode, dry_run, stage, version, fingerprint, passed, total, threshold, error, started_at, finished_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, s.Mode.String(), s.DryRun, string(s.Stage), s.Version, s.Fingerprint,
			passed, total, s.Threshold.String(), errText, s.Started.UTC(), s.Finished.UTC())
		if err != nil {
			return fmt.Errorf("failed to record session: %w", err)
		}

		insertOutcome := func(role, artifact string, o outcome) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO spec_outcomes (session_id, role, artifact, spec_id, status, error) VALUES (?, ?, ?, ?, ?, ?)`,
				s.ID, role, artifact, o.id, o.status, o.err)
			if err != nil {
				return fmt.Errorf("failed to record outcome of %s: %w", o.id, err)
			}
			return nil
		}
		for _, o := range s.Unbound {
			if err := insertOutcome("", "", newOutcome(o.SpecID, string(o.Status), o.Err)); err != nil {
				return err
			}
		}
		for _, rec := range s.Records {
			for _, o := range rec.Outcomes {
				if err := insertOutcome(rec.Role, rec.Artifact, newOutcome(o.SpecID, string(o.Status), o.Err)); err != nil {
					return err
				}
			}
		}

		if s.Resolution == nil {
			return nil
		}
		roles := make([]string, 0, len(s.Resolution.Roles))
		for role := range s.Resolution.Roles {
			roles = append(roles, role)
		}
		sort.Strings(roles)
		for _, role := range roles {
			art := s.Resolution.Roles[role]
			_, err := tx.ExecContext(ctx,
				`INSERT INTO role_bindings (session_id, role, path, confidence, method) VALUES (?, ?, ?, ?, ?)`,
				s.ID, role, art.Path, art.Confidence.String(), string(art.Method))
			if err != nil {
				return fmt.Errorf("failed to record role %s: %w", role, err)
			}
		}
		return nil
	})
}

type outcome struct {
	id     string
	status string
	err    sql.NullString
}

func newOutcome(id, status string, err error) outcome {
	o := outcome{id: id, status: status}
	if err != nil {
		o.err = sql.NullString{String: err.Error(), Valid: true}
	}
	return o
}

// withTransaction runs fn in a transaction, committing on success and
// rolling back on error or panic
func (j *Journal) withTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const entryColumns = `id, mode, dry_run, stage, version, fingerprint, passed, total, threshold, error, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e       Entry
		errText sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Mode, &e.DryRun, &e.Stage, &e.Version, &e.Fingerprint,
		&e.Passed, &e.Total, &e.Threshold, &errText, &e.StartedAt, &e.FinishedAt); err != nil {
		return nil, err
	}
	e.Error = errText.String
	return &e, nil
}

// List returns the most recent sessions, newest first. A limit of zero
// returns every session.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM sessions ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return entries, nil
}

// GetLast returns the most recent session, or nil when the journal is empty
func (j *Journal) GetLast(ctx context.Context) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM sessions ORDER BY started_at DESC, id LIMIT 1`)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last session: %w", err)
	}
	return e, nil
}

// Outcomes returns the spec outcomes recorded for a session
func (j *Journal) Outcomes(ctx context.Context, sessionID string) ([]SpecOutcome, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT session_id, role, artifact, spec_id, status, error FROM spec_outcomes WHERE session_id = ? ORDER BY rowid`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var out []SpecOutcome
	for rows.Next() {
		var (
			o       SpecOutcome
			errText sql.NullString
		)
		if err := rows.Scan(&o.SessionID, &o.Role, &o.Artifact, &o.SpecID, &o.Status, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Error = errText.String
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcomes: %w", err)
	}
	return out, nil
}

// Bindings returns the role bindings recorded for a session
func (j *Journal) Bindings(ctx context.Context, sessionID string) ([]RoleBinding, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT session_id, role, path, confidence, method FROM role_bindings WHERE session_id = ? ORDER BY role`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query role bindings: %w", err)
	}
	defer rows.Close()

	var out []RoleBinding
	for rows.Next() {
		var b RoleBinding
		if err := rows.Scan(&b.SessionID, &b.Role, &b.Path, &b.Confidence, &b.Method); err != nil {
			return nil, fmt.Errorf("failed to scan role binding: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating role bindings: %w", err)
	}
	return out, nil
}

// Count returns how many sessions are journaled
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}
