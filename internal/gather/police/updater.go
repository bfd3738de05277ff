package police

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"stopsearch/internal/domain"
	"stopsearch/internal/gather"
	"stopsearch/internal/normalize"
	"stopsearch/internal/store"
)

// ---------------------------------------------------------------------------
// Compile-time interface check
// ---------------------------------------------------------------------------

var _ gather.Gatherer = (*Updater)(nil)

// MonthFetcher retrieves one month of records for a force.
type MonthFetcher interface {
	FetchMonth(ctx context.Context, force string, m domain.Month) Batch
}

// DatasetStore loads and persists the local dataset.
type DatasetStore interface {
	Load(ctx context.Context) (*domain.Dataset, time.Time)
	Save(ctx context.Context, ds *domain.Dataset) error
}

var _ MonthFetcher = (*Client)(nil)
var _ DatasetStore = (*store.FileStore)(nil)

// ---------------------------------------------------------------------------
// Updater
// ---------------------------------------------------------------------------

// Updater brings the local dataset for one force up to date: it loads the
// stored data, works out which months are missing, fetches them in order and
// saves the merged, normalized result. A run saves at most once, and only
// when at least one month produced records.
type Updater struct {
	force      string
	client     MonthFetcher
	store      DatasetStore
	ledger     store.Ledger
	dedupe     bool
	dedupeKeys []string
	now        func() time.Time
	log        *slog.Logger
}

// NewUpdater creates an Updater. A nil ledger disables run history.
func NewUpdater(force string, client MonthFetcher, ds DatasetStore, ledger store.Ledger, log *slog.Logger) *Updater {
	if ledger == nil {
		ledger = store.NopLedger{}
	}
	return &Updater{
		force:  force,
		client: client,
		store:  ds,
		ledger: ledger,
		now:    time.Now,
		log:    log.With("gatherer", "police", "source", force),
	}
}

// SetClock replaces the time source used to find the current month.
func (u *Updater) SetClock(now func() time.Time) { u.now = now }

// SetDedupe controls duplicate removal before saving. It is off by default
// because records carry no identifier and identical rows can be distinct
// events. With no keys whole rows are compared.
func (u *Updater) SetDedupe(enabled bool, keys []string) {
	u.dedupe = enabled
	u.dedupeKeys = keys
}

// Name returns the gatherer identifier.
func (u *Updater) Name() string { return "police-" + u.force }

// summary is the outcome of one pass.
type summary struct {
	status  store.RunStatus
	months  int
	records int
}

// Run performs one synchronisation pass. Degraded conditions (unreadable
// dataset, failed months) are logged and do not fail the run; save and
// ledger errors are returned.
func (u *Updater) Run(ctx context.Context) error {
	runID := uuid.New()
	log := u.log.With("run", runID.String())

	if err := u.ledger.StartRun(ctx, store.Run{
		ID:        runID,
		Source:    u.force,
		StartedAt: u.now(),
		Status:    store.RunRunning,
	}); err != nil {
		return fmt.Errorf("starting run: %w", err)
	}

	sum, err := u.sync(ctx, runID, log)
	errMsg := ""
	if err != nil {
		sum.status = store.RunFailed
		errMsg = err.Error()
	}

	// A cancelled ctx must still close the run row.
	finished := u.now()
	if ferr := u.ledger.FinishRun(context.WithoutCancel(ctx), store.Run{
		ID:         runID,
		Source:     u.force,
		FinishedAt: &finished,
		Status:     sum.status,
		Months:     sum.months,
		Records:    sum.records,
		Error:      errMsg,
	}); ferr != nil {
		err = errors.Join(err, fmt.Errorf("finishing run: %w", ferr))
	}
	return err
}

// Pending returns the months the next run would fetch, without fetching.
func (u *Updater) Pending(ctx context.Context) ([]domain.Month, error) {
	_, latest := u.store.Load(ctx)
	return u.plan(ctx, latest, u.log)
}

func (u *Updater) sync(ctx context.Context, runID uuid.UUID, log *slog.Logger) (summary, error) {
	log.Info("starting update process")

	existing, latest := u.store.Load(ctx)

	months, err := u.plan(ctx, latest, log)
	if err != nil {
		return summary{}, err
	}
	if len(months) == 0 {
		log.Info("no new months to fetch, data is up to date")
		return summary{status: store.RunUpToDate}, nil
	}
	log.Info("months to fetch", "count", len(months), "first", months[0].String(), "last", months[len(months)-1].String())

	fresh := domain.NewDataset()
	failed := 0
	for _, m := range months {
		b := u.client.FetchMonth(ctx, u.force, m)

		if err := u.recordMonth(ctx, runID, b); err != nil {
			return summary{months: len(months)}, err
		}
		if b.Status == domain.FetchFailed {
			failed++
			if b.Permanent {
				log.Warn("month fetch failed permanently, not retrying", "month", m.String(), "error", b.Err)
			} else {
				log.Warn("month fetch failed, will retry next run", "month", m.String(), "error", b.Err)
			}
		}
		fresh.Append(b.Records...)

		if err := ctx.Err(); err != nil {
			return summary{months: len(months), records: fresh.Len()}, fmt.Errorf("sync interrupted after %s: %w", m, err)
		}
	}

	if fresh.Len() == 0 {
		log.Warn("no new data retrieved from the API", "months", len(months), "failed", failed)
		return summary{status: store.RunNoData, months: len(months)}, nil
	}

	merged := normalize.Normalize(existing.Concat(fresh), log)
	if u.dedupe {
		var removed int
		merged, removed = normalize.Dedupe(merged, u.dedupeKeys)
		if removed > 0 {
			log.Info("dropped duplicate rows", "count", removed)
		}
	}

	if err := u.store.Save(ctx, merged); err != nil {
		return summary{months: len(months), records: fresh.Len()}, fmt.Errorf("saving dataset: %w", err)
	}

	log.Info("data successfully updated", "new_records", fresh.Len(), "total_rows", merged.Len(), "failed_months", failed)
	return summary{status: store.RunSaved, months: len(months), records: fresh.Len()}, nil
}

// plan merges the computed gaps with months that failed on earlier runs.
// A ledger read failure is logged and the computed gaps are used alone.
func (u *Updater) plan(ctx context.Context, latest time.Time, log *slog.Logger) ([]domain.Month, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gaps := gather.ComputeGaps(latest, u.now())

	retry, err := u.ledger.PendingFailures(ctx, u.force)
	if err != nil {
		log.Warn("could not read pending failures from ledger", "error", err)
		return gaps, nil
	}
	if len(retry) > 0 {
		log.Info("retrying previously failed months", "count", len(retry))
	}
	return gather.MergeGaps(retry, gaps), nil
}

func (u *Updater) recordMonth(ctx context.Context, runID uuid.UUID, b Batch) error {
	f := store.MonthFetch{
		RunID:     runID,
		Source:    u.force,
		Month:     b.Month,
		Status:    b.Status,
		Records:   b.Len(),
		FetchedAt: u.now(),
		Permanent: b.Permanent,
	}
	if b.Err != nil {
		f.Error = b.Err.Error()
	}
	if err := u.ledger.RecordMonth(context.WithoutCancel(ctx), f); err != nil {
		return fmt.Errorf("recording %s: %w", b.Month, err)
	}
	return nil
}
