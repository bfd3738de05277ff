package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stopsearch/internal/domain"
	"stopsearch/internal/normalize"
)

// codec reads and writes a whole dataset in one file format.
type codec interface {
	decode(f *os.File) (*domain.Dataset, error)
	encode(f *os.File, ds *domain.Dataset) error
}

// FileStore persists a dataset to a single file. The format follows the
// file extension: ".parquet" for Parquet, anything else for CSV.
type FileStore struct {
	path  string
	floor time.Time
	codec codec
	log   *slog.Logger
}

// NewFileStore creates a FileStore for path. floor is returned as the latest
// timestamp whenever no stored timestamp is available.
func NewFileStore(path string, floor time.Time, log *slog.Logger) *FileStore {
	var c codec = csvCodec{}
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		c = parquetCodec{}
	}
	return &FileStore{
		path:  path,
		floor: floor,
		codec: c,
		log:   log.With("path", path),
	}
}

// Path returns the dataset file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the stored dataset and its latest timestamp. A missing,
// unreadable or malformed file yields an empty dataset and the epoch floor;
// Load never fails. Unparseable datetime values load as null, and when no
// value parses the floor is returned.
func (s *FileStore) Load(ctx context.Context) (*domain.Dataset, time.Time) {
	if err := ctx.Err(); err != nil {
		s.log.Warn("load cancelled, starting fresh", "error", err)
		return domain.NewDataset(), s.floor
	}

	ds, err := s.read()
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info("no existing data found, starting fresh", "floor", s.floor.Format(time.DateOnly))
		return domain.NewDataset(), s.floor
	}
	if err != nil {
		s.log.Warn("failed to read existing dataset, starting fresh", "error", err)
		return domain.NewDataset(), s.floor
	}

	latest, ok := parseDatetimes(ds)
	if !ok {
		s.log.Warn("no parseable datetime in existing dataset, using floor", "rows", ds.Len(), "floor", s.floor.Format(time.DateOnly))
		latest = s.floor
	}
	s.log.Info("existing data loaded", "rows", ds.Len(), "last_update", latest.Format(time.DateOnly))
	return ds, latest
}

func (s *FileStore) read() (*domain.Dataset, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ds, err := s.codec.decode(f)
	if err != nil {
		return nil, err
	}
	if !ds.HasColumn(domain.DatetimeField) {
		return nil, fmt.Errorf("missing %q column", domain.DatetimeField)
	}
	return ds, nil
}

// parseDatetimes converts every datetime value in place and returns the
// maximum parsed timestamp.
func parseDatetimes(ds *domain.Dataset) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, row := range ds.Rows {
		v := normalize.ParseValue(row[domain.DatetimeField])
		row[domain.DatetimeField] = v
		if t, ok := v.Timestamp(); ok && (!found || t.After(latest)) {
			latest = t
			found = true
		}
	}
	return latest, found
}

// Save writes ds over the stored file. The parent directory is created if
// needed and the data is written to a temporary file in the same directory
// and renamed into place, so readers never see a partial file.
func (s *FileStore) Save(ctx context.Context, ds *domain.Dataset) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating dataset dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := s.codec.encode(tmp, ds); err != nil {
		return fmt.Errorf("encoding dataset: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}

	s.log.Info("dataset saved", "rows", ds.Len(), "columns", len(ds.Columns()))
	return nil
}
