package store

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"stopsearch/internal/domain"
)

// csvCodec stores a dataset as comma-separated text with a header row.
// Empty cells load as null.
type csvCodec struct{}

func (csvCodec) decode(f *os.File) (*domain.Dataset, error) {
	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("reading csv header: empty file")
		}
		return nil, fmt.Errorf("reading csv header: %w", err)
	}

	ds := domain.NewDataset(header...)
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}
		if len(row) > len(header) {
			return nil, fmt.Errorf("csv line %d: expected %d fields, saw %d", line, len(header), len(row))
		}

		rec := make(domain.Record, len(header))
		for i, name := range header {
			if i < len(row) && row[i] != "" {
				rec[name] = domain.String(row[i])
			} else {
				rec[name] = domain.Null()
			}
		}
		ds.Rows = append(ds.Rows, rec)
	}
	return ds, nil
}

func (csvCodec) encode(f *os.File, ds *domain.Dataset) error {
	bw := bufio.NewWriter(f)
	w := csv.NewWriter(bw)

	columns := ds.Columns()
	if err := w.Write(columns); err != nil {
		return err
	}

	cells := make([]string, len(columns))
	for _, row := range ds.Rows {
		for i, c := range columns {
			cells[i] = row[c].Text()
		}
		if err := w.Write(cells); err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return bw.Flush()
}
