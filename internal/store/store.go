// Package store persists the synchronised dataset to disk and keeps a ledger
// of sync runs and per-month fetch outcomes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"stopsearch/internal/domain"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// RunStatus mirrors the runs.status column.
type RunStatus string

// Run statuses persisted in runs.status.
const (
	RunRunning  RunStatus = "running"
	RunUpToDate RunStatus = "up_to_date"
	RunNoData   RunStatus = "no_data"
	RunSaved    RunStatus = "saved"
	RunFailed   RunStatus = "failed"
)

// Run models one synchronisation pass.
type Run struct {
	ID         uuid.UUID
	Source     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Months     int
	Records    int
	Error      string
}

// MonthFetch records the outcome of fetching a single month during a run.
type MonthFetch struct {
	RunID     uuid.UUID
	Source    string
	Month     domain.Month
	Status    domain.FetchStatus
	Records   int
	Error     string
	FetchedAt time.Time

	// Permanent marks a failure that retrying will not fix. Such months are
	// not returned by PendingFailures.
	Permanent bool
}

// Ledger persists run history so that failed months can be retried on later
// runs.
type Ledger interface {
	// StartRun inserts a new run row.
	StartRun(ctx context.Context, run Run) error

	// FinishRun records the outcome of the run identified by run.ID:
	// FinishedAt, Status, Months, Records and Error.
	FinishRun(ctx context.Context, run Run) error

	// RecordMonth appends a month fetch outcome.
	RecordMonth(ctx context.Context, f MonthFetch) error

	// PendingFailures returns, ascending, the months of source whose most
	// recent fetch failed with a retryable error.
	PendingFailures(ctx context.Context, source string) ([]domain.Month, error)

	// LastRun returns the most recently started run for source, or
	// ErrNotFound.
	LastRun(ctx context.Context, source string) (*Run, error)

	// Close releases the ledger.
	Close() error
}

// Compile-time interface checks.
var _ Ledger = NopLedger{}
var _ Ledger = (*SQLiteLedger)(nil)

// NopLedger is used when no ledger path is configured. It remembers nothing.
type NopLedger struct{}

func (NopLedger) StartRun(context.Context, Run) error { return nil }
func (NopLedger) FinishRun(context.Context, Run) error {
	return nil
}
func (NopLedger) RecordMonth(context.Context, MonthFetch) error { return nil }
func (NopLedger) PendingFailures(context.Context, string) ([]domain.Month, error) {
	return nil, nil
}
func (NopLedger) LastRun(context.Context, string) (*Run, error) { return nil, ErrNotFound }
func (NopLedger) Close() error                                   { return nil }
