package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"stopsearch/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

var ledgerSchema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		source      TEXT NOT NULL,
		started_at  TEXT NOT NULL,
		finished_at TEXT,
		status      TEXT NOT NULL,
		months      INTEGER NOT NULL DEFAULT 0,
		records     INTEGER NOT NULL DEFAULT 0,
		error       TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS month_fetches (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id     TEXT NOT NULL,
		source     TEXT NOT NULL,
		month      TEXT NOT NULL,
		status     TEXT NOT NULL,
		records    INTEGER NOT NULL DEFAULT 0,
		error      TEXT NOT NULL DEFAULT '',
		fetched_at TEXT NOT NULL,
		permanent  INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS month_fetches_source_month ON month_fetches (source, month)`,
}

// timeLayout is fixed-width so that stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteLedger implements Ledger backed by a SQLite database.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens (or creates) a SQLite database at dbPath, creates
// the ledger tables and returns a ready-to-use SQLiteLedger.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	for _, stmt := range ledgerSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating ledger: %w", err)
		}
	}
	return &SQLiteLedger{db: db}, nil
}

// Close closes the underlying database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// StartRun inserts a new run row.
func (l *SQLiteLedger) StartRun(ctx context.Context, run Run) error {
	status := run.Status
	if status == "" {
		status = RunRunning
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, started_at, status) VALUES (?, ?, ?, ?)`,
		run.ID.String(), run.Source, formatTime(run.StartedAt), string(status))
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun records a run's outcome. A nil FinishedAt is stamped with the
// current time.
func (l *SQLiteLedger) FinishRun(ctx context.Context, run Run) error {
	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, months = ?, records = ?, error = ? WHERE id = ?`,
		formatTime(finished), string(run.Status), run.Months, run.Records, run.Error, run.ID.String())
	if err != nil {
		return fmt.Errorf("updating run %s: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("updating run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// LastRun returns the most recently started run for source.
func (l *SQLiteLedger) LastRun(ctx context.Context, source string) (*Run, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, source, started_at, finished_at, status, months, records, error
		 FROM runs WHERE source = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`, source)

	var (
		run                 Run
		id, started, status string
		finished            sql.NullString
	)
	err := row.Scan(&id, &run.Source, &started, &finished, &status, &run.Months, &run.Records, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading last run: %w", err)
	}

	if run.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing run id %q: %w", id, err)
	}
	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if finished.Valid {
		t, err := parseTime(finished.String)
		if err != nil {
			return nil, err
		}
		run.FinishedAt = &t
	}
	run.Status = RunStatus(status)
	return &run, nil
}

// ---------------------------------------------------------------------------
// Month fetches
// ---------------------------------------------------------------------------

// RecordMonth appends a month fetch outcome.
func (l *SQLiteLedger) RecordMonth(ctx context.Context, f MonthFetch) error {
	fetchedAt := f.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}
	permanent := 0
	if f.Permanent {
		permanent = 1
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO month_fetches (run_id, source, month, status, records, error, fetched_at, permanent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.RunID.String(), f.Source, f.Month.String(), string(f.Status), f.Records, f.Error, formatTime(fetchedAt), permanent)
	if err != nil {
		return fmt.Errorf("recording %s fetch: %w", f.Month, err)
	}
	return nil
}

// PendingFailures returns the months of source whose most recent fetch
// failed with a retryable error, ascending.
func (l *SQLiteLedger) PendingFailures(ctx context.Context, source string) ([]domain.Month, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT f.month FROM month_fetches f
		 JOIN (SELECT month, MAX(id) AS id FROM month_fetches WHERE source = ? GROUP BY month) latest
		   ON latest.id = f.id
		 WHERE f.status = ? AND f.permanent = 0
		 ORDER BY f.month`,
		source, string(domain.FetchFailed))
	if err != nil {
		return nil, fmt.Errorf("querying pending failures: %w", err)
	}
	defer rows.Close()

	var months []domain.Month
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		m, err := domain.ParseMonth(s)
		if err != nil {
			return nil, err
		}
		months = append(months, m)
	}
	return months, rows.Err()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing ledger time %q: %w", s, err)
	}
	return t, nil
}
