// Package normalize cleans and standardizes merged datasets before they are
// persisted: field names are canonicalised, the datetime column is parsed,
// and blank or duplicate rows are removed.
package normalize

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"stopsearch/internal/domain"
)

// timestampLayouts are tried in order by ParseTimestamp. Layouts without a
// zone are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// ParseTimestamp parses s with the accepted layouts. Fractional seconds
// are accepted by every layout that has a seconds field.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseValue converts v to a time Value. Values that are already times pass
// through; anything that does not parse becomes null.
func ParseValue(v domain.Value) domain.Value {
	if _, ok := v.Timestamp(); ok {
		return v
	}
	if t, ok := ParseTimestamp(v.Text()); ok {
		return domain.Time(t)
	}
	return domain.Null()
}

// FieldName lowercases name and replaces spaces with underscores.
func FieldName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// Normalize returns a cleaned copy of ds. An empty dataset is returned
// unchanged with a warning. Otherwise field names are canonicalised with
// FieldName, the datetime field is parsed (failures become null), and rows
// whose every field is empty are dropped. Dropping runs last so that
// Normalize(Normalize(x)) equals Normalize(x).
//
// When two source columns map to the same name the first column's position
// is kept and, per row, the later non-null value wins.
func Normalize(ds *domain.Dataset, log *slog.Logger) *domain.Dataset {
	if ds.Len() == 0 {
		log.Warn("received empty dataset to normalize")
		return ds
	}

	columns := sourceColumns(ds)
	rename := make(map[string]string, len(columns))
	out := domain.NewDataset()
	for _, c := range columns {
		n := FieldName(c)
		rename[c] = n
		out.AddColumn(n)
	}
	hasDatetime := out.HasColumn(domain.DatetimeField)

	out.Rows = make([]domain.Record, 0, ds.Len())
	dropped := 0
	for _, row := range ds.Rows {
		rec := make(domain.Record, len(row))
		for _, c := range columns {
			v, ok := row[c]
			if !ok {
				continue
			}
			n := rename[c]
			if _, set := rec[n]; set && v.IsNull() {
				continue
			}
			rec[n] = v
		}
		if hasDatetime {
			rec[domain.DatetimeField] = ParseValue(rec[domain.DatetimeField])
		}
		if rec.IsBlank() {
			dropped++
			continue
		}
		out.Rows = append(out.Rows, rec)
	}

	log.Info("data cleaned and formatted", "rows", out.Len(), "dropped", dropped, "columns", len(out.Columns()))
	return out
}

// sourceColumns returns ds's declared columns followed by any field that
// appears in a row without being declared.
func sourceColumns(ds *domain.Dataset) []string {
	columns := ds.Columns()
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		seen[c] = struct{}{}
	}
	var extra []string
	for _, row := range ds.Rows {
		for k := range row {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(columns, extra...)
}
