package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"stopsearch/internal/domain"
)

// columnsKey holds the JSON-encoded column order in the file's key/value
// metadata. Parquet group fields are stored sorted by name.
const columnsKey = "stopsearch.columns"

// parquetCodec stores a dataset as a flat Parquet file in which every column
// is an optional UTF-8 string.
type parquetCodec struct{}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

func (parquetCodec) decode(f *os.File) (*domain.Dataset, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("opening parquet: %w", err)
	}

	fields := pf.Schema().Fields()
	names := make([]string, len(fields))
	for i, field := range fields {
		names[i] = field.Name()
	}

	ds := domain.NewDataset(columnOrder(pf, names)...)
	buf := make([]parquet.Row, 256)
	for _, rg := range pf.RowGroups() {
		if err := readRowGroup(rg, names, buf, ds); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func readRowGroup(rg parquet.RowGroup, names []string, buf []parquet.Row, ds *domain.Dataset) error {
	rows := rg.Rows()
	defer rows.Close()

	for {
		n, err := rows.ReadRows(buf)
		for _, row := range buf[:n] {
			rec := make(domain.Record, len(names))
			for _, v := range row {
				col := v.Column()
				if col < 0 || col >= len(names) {
					continue
				}
				if v.IsNull() {
					rec[names[col]] = domain.Null()
				} else {
					rec[names[col]] = domain.String(string(v.ByteArray()))
				}
			}
			ds.Rows = append(ds.Rows, rec)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading parquet rows: %w", err)
		}
	}
}

// columnOrder returns the original column order recorded at write time, or
// the schema order when the metadata is absent or inconsistent.
func columnOrder(pf *parquet.File, names []string) []string {
	raw, ok := pf.Lookup(columnsKey)
	if !ok {
		return names
	}
	var ordered []string
	if err := json.Unmarshal([]byte(raw), &ordered); err != nil || len(ordered) != len(names) {
		return names
	}
	known := make(map[string]struct{}, len(names))
	for _, n := range names {
		known[n] = struct{}{}
	}
	for _, n := range ordered {
		if _, ok := known[n]; !ok {
			return names
		}
	}
	return ordered
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func (parquetCodec) encode(f *os.File, ds *domain.Dataset) error {
	columns := ds.Columns()
	if len(columns) == 0 {
		return errors.New("parquet: dataset has no columns")
	}

	group := make(parquet.Group, len(columns))
	for _, c := range columns {
		group[c] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("dataset", group)

	order, err := json.Marshal(columns)
	if err != nil {
		return err
	}

	w := parquet.NewWriter(f, schema, parquet.KeyValueMetadata(columnsKey, string(order)))

	fields := schema.Fields()
	rows := make([]parquet.Row, 0, len(ds.Rows))
	for _, rec := range ds.Rows {
		row := make(parquet.Row, len(fields))
		for i, field := range fields {
			v := rec[field.Name()]
			if v.IsNull() {
				row[i] = parquet.NullValue().Level(0, 0, i)
			} else {
				row[i] = parquet.ByteArrayValue([]byte(v.Text())).Level(0, 1, i)
			}
		}
		rows = append(rows, row)
	}

	if _, err := w.WriteRows(rows); err != nil {
		w.Close()
		return fmt.Errorf("writing parquet rows: %w", err)
	}
	return w.Close()
}
