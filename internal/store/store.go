// Package store persists run summaries and result records in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"conductor/internal/core"
	"conductor/internal/scenario"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	workers     INTEGER NOT NULL DEFAULT 1,
	suites      INTEGER NOT NULL DEFAULT 0,
	tests       INTEGER NOT NULL DEFAULT 0,
	passed      INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	duration_ns INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS records (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	kind        TEXT NOT NULL,
	worker      INTEGER NOT NULL,
	ts          TIMESTAMP NOT NULL,
	suite       TEXT NOT NULL,
	test        TEXT NOT NULL,
	name        TEXT NOT NULL,
	action      TEXT NOT NULL,
	duration_ns INTEGER NOT NULL,
	success     BOOLEAN NOT NULL,
	skipped     BOOLEAN NOT NULL,
	retries     INTEGER NOT NULL,
	error       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_run ON records(run_id);
`

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = errors.New("store: run not found")

// Store is a SQLite database of past runs.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at dsn. ":memory:" is accepted.
func Open(dsn string) (*Store, error) {
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Run buffers the records of one run until Finish writes them.
// It implements core.Reporter and is safe for concurrent use.
type Run struct {
	ID      string
	Started time.Time
	Workers int

	store   *Store
	mu      sync.Mutex
	records []core.Record
}

// BeginRun inserts a new run row and returns its recorder.
func (s *Store) BeginRun(ctx context.Context, started time.Time, workers int) (*Run, error) {
	id := ulid.MustNew(ulid.Timestamp(started), ulid.DefaultEntropy()).String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, workers) VALUES (?, ?, ?)`,
		id, started.UTC(), workers)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &Run{ID: id, Started: started, Workers: workers, store: s}, nil
}

func (r *Run) Report(rec core.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Finish stores the buffered records and the run summary in one transaction.
func (r *Run) Finish(ctx context.Context, res *scenario.Result) error {
	r.mu.Lock()
	records := r.records
	r.records = nil
	r.mu.Unlock()

	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records
		(run_id, kind, worker, ts, suite, test, name, action, duration_ns, success, skipped, retries, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, string(rec.Kind), rec.Worker, rec.Timestamp.UTC(),
			rec.Suite, rec.Test, rec.Name, rec.Action, int64(rec.Duration),
			rec.Success, rec.Skipped, rec.Retries, rec.Error); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE runs SET finished_at = ?, suites = ?, tests = ?,
		passed = ?, failed = ?, skipped = ?, duration_ns = ? WHERE id = ?`,
		r.Started.Add(res.Duration).UTC(), res.Suites, res.Tests,
		res.Passed, res.Failed, res.Skipped, int64(res.Duration), r.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return tx.Commit()
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Workers  int
	Suites   int
	Tests    int
	Passed   int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// Runs returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	q := `SELECT id, started_at, finished_at, workers, suites, tests, passed, failed, skipped, duration_ns
		FROM runs ORDER BY id DESC`
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		rs, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// Run returns the summary of run id.
func (s *Store) Run(ctx context.Context, id string) (RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, started_at, finished_at, workers, suites, tests,
		passed, failed, skipped, duration_ns FROM runs WHERE id = ?`, id)
	rs, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunSummary{}, ErrNotFound
	}
	return rs, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunSummary, error) {
	var (
		rs       RunSummary
		finished sql.NullTime
		dur      int64
	)
	if err := sc.Scan(&rs.ID, &rs.Started, &finished, &rs.Workers, &rs.Suites, &rs.Tests,
		&rs.Passed, &rs.Failed, &rs.Skipped, &dur); err != nil {
		return RunSummary{}, err
	}
	rs.Finished = finished.Time
	rs.Duration = time.Duration(dur)
	return rs, nil
}

// Records returns the records of run id in insertion order.
func (s *Store) Records(ctx context.Context, id string) ([]core.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, worker, ts, suite, test, name, action,
		duration_ns, success, skipped, retries, error FROM records WHERE run_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []core.Record
	for rows.Next() {
		var (
			rec  core.Record
			kind string
			dur  int64
		)
		if err := rows.Scan(&kind, &rec.Worker, &rec.Timestamp, &rec.Suite, &rec.Test, &rec.Name,
			&rec.Action, &dur, &rec.Success, &rec.Skipped, &rec.Retries, &rec.Error); err != nil {
			return nil, err
		}
		rec.Kind = core.Kind(kind)
		rec.Duration = time.Duration(dur)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep runs and returns how many were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}
