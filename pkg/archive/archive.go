// Package archive keeps the final snapshots of runs evicted from the
// in-memory registry in a sqlite database, so that finished runs can still be
// looked up after the janitor has removed them.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lipish/openrunner/internal/tracing"
	"github.com/lipish/openrunner/pkg/run"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrNotFound is returned when no archived run has the requested id.
var ErrNotFound = errors.New("archived run not found")

// DefaultListLimit caps ListByUser when the caller passes no limit.
const DefaultListLimit = 100

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		agent_type TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		input TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		archived_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_user ON runs(user_id, created_at);
`

// Store is a sqlite backed run history. It implements run.Archiver and run.Pruner.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

var (
	_ run.Archiver = (*Store)(nil)
	_ run.Pruner   = (*Store)(nil)
)

// Open opens (creating if needed) the archive database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("archive path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger = logger.With().Str("component", "run_archive").Logger()
	logger.Info().Str("path", path).Msg("Run archive opened")
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Archive stores the snapshots in one transaction. Re-archiving an id
// replaces the previous row.
func (s *Store) Archive(ctx context.Context, runs []run.Run) (err error) {
	if len(runs) == 0 {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "archive.store", attribute.Int("runs", len(runs)))
	defer func() { tracing.EndSpan(span, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, user_id, session_id, agent_type, status, input, output, error, created_at, updated_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	archivedAt := s.now().UTC().UnixNano()
	for _, r := range runs {
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.UserID, r.SessionID, r.AgentType, string(r.Status),
			r.Input, r.Output, r.Error,
			r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano(), archivedAt,
		); err != nil {
			return fmt.Errorf("failed to archive run %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive: %w", err)
	}
	s.logger.Debug().Int("runs", len(runs)).Msg("Runs archived")
	return nil
}

const selectColumns = `id, user_id, session_id, agent_type, status, input, output, error, created_at, updated_at`

// Get returns the archived snapshot of id.
func (s *Store) Get(ctx context.Context, id string) (run.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return run.Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return run.Run{}, fmt.Errorf("failed to read archived run %s: %w", id, err)
	}
	return r, nil
}

// ListByUser returns the user's archived runs, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]run.Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM runs WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived runs: %w", err)
	}
	defer rows.Close()

	var runs []run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archived run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Count returns the number of archived runs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count archived runs: %w", err)
	}
	return n, nil
}

// Prune deletes runs archived before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE archived_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune archive: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (run.Run, error) {
	var (
		r                    run.Run
		status               string
		createdAt, updatedAt int64
	)
	if err := sc.Scan(&r.ID, &r.UserID, &r.SessionID, &r.AgentType, &status,
		&r.Input, &r.Output, &r.Error, &createdAt, &updatedAt); err != nil {
		return run.Run{}, err
	}
	r.Status = run.Status(status)
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	r.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return r, nil
}
