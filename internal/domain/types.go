// Package domain defines the core types shared across the stopsearch
// packages: calendar months, cell values, records and datasets.
package domain

import (
	"fmt"
	"time"
)

// DatetimeField is the normalized name of the temporal anchor column.
const DatetimeField = "datetime"

// ---------------------------------------------------------------------------
// Month
// ---------------------------------------------------------------------------

// Month is a calendar (year, month) pair.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the calendar month of t in t's own location.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth parses a "YYYY-MM" string.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("parsing month %q: %w", s, err)
	}
	return MonthOf(t), nil
}

// Next returns the following calendar month.
func (m Month) Next() Month {
	if m.Month == time.December {
		return Month{Year: m.Year + 1, Month: time.January}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

// Compare returns -1, 0 or +1 depending on whether m is before, equal to or
// after o.
func (m Month) Compare(o Month) int {
	switch {
	case m.Year < o.Year:
		return -1
	case m.Year > o.Year:
		return 1
	case m.Month < o.Month:
		return -1
	case m.Month > o.Month:
		return 1
	}
	return 0
}

// Before reports whether m is strictly earlier than o.
func (m Month) Before(o Month) bool { return m.Compare(o) < 0 }

// After reports whether m is strictly later than o.
func (m Month) After(o Month) bool { return m.Compare(o) > 0 }

// Start returns midnight UTC on the first day of the month.
func (m Month) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// String renders the month as "YYYY-MM".
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// ---------------------------------------------------------------------------
// Value
// ---------------------------------------------------------------------------

// Kind identifies what a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindTime
)

// Value is a single cell. The zero Value is null.
type Value struct {
	kind Kind
	str  string
	ts   time.Time
}

// Null returns the null Value.
func Null() Value { return Value{} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Time returns a timestamp Value.
func Time(t time.Time) Value { return Value{kind: KindTime, ts: t} }

// Kind returns the kind of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsEmpty reports whether v is null or an empty string.
func (v Value) IsEmpty() bool {
	return v.kind == KindNull || (v.kind == KindString && v.str == "")
}

// Timestamp returns the time held by v and whether v is a time Value.
func (v Value) Timestamp() (time.Time, bool) {
	return v.ts, v.kind == KindTime
}

// Text renders v for persistence. Null renders as the empty string and
// times as RFC 3339.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindTime:
		return v.ts.Format(time.RFC3339Nano)
	}
	return ""
}

// Equal reports whether v and o hold the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindTime:
		return v.ts.Equal(o.ts)
	}
	return true
}

// GoString makes test failures readable.
func (v Value) GoString() string {
	switch v.kind {
	case KindString:
		return fmt.Sprintf("String(%q)", v.str)
	case KindTime:
		return fmt.Sprintf("Time(%s)", v.ts.Format(time.RFC3339Nano))
	}
	return "Null()"
}

// ---------------------------------------------------------------------------
// Record and Dataset
// ---------------------------------------------------------------------------

// Record maps field names to values. A missing key is equivalent to null.
type Record map[string]Value

// IsBlank reports whether every field of r is empty or null.
func (r Record) IsBlank() bool {
	for _, v := range r {
		if !v.IsEmpty() {
			return false
		}
	}
	return true
}

// Dataset is an ordered collection of records with an ordered column list.
// Columns appear in first-seen order.
type Dataset struct {
	columns []string
	index   map[string]struct{}
	Rows    []Record
}

// NewDataset returns an empty dataset with the given columns.
func NewDataset(columns ...string) *Dataset {
	ds := &Dataset{index: make(map[string]struct{})}
	for _, c := range columns {
		ds.AddColumn(c)
	}
	return ds
}

// Columns returns the column names in order.
func (d *Dataset) Columns() []string {
	out := make([]string, len(d.columns))
	copy(out, d.columns)
	return out
}

// HasColumn reports whether the dataset has a column with the given name.
func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.index[name]
	return ok
}

// AddColumn appends name to the column list if it is not already present.
func (d *Dataset) AddColumn(name string) {
	if d.index == nil {
		d.index = make(map[string]struct{})
	}
	if _, ok := d.index[name]; ok {
		return
	}
	d.index[name] = struct{}{}
	d.columns = append(d.columns, name)
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.Rows) }

// Append adds records, registering any new fields as columns. Fields of a
// single record are registered in sorted order since maps carry no order.
func (d *Dataset) Append(records ...Record) {
	for _, r := range records {
		for _, k := range sortedKeys(r) {
			d.AddColumn(k)
		}
		d.Rows = append(d.Rows, r)
	}
}

// Concat returns a new dataset holding d's rows followed by o's rows, with
// d's columns first and o's new columns after them.
func (d *Dataset) Concat(o *Dataset) *Dataset {
	out := NewDataset(d.columns...)
	for _, c := range o.columns {
		out.AddColumn(c)
	}
	out.Rows = make([]Record, 0, len(d.Rows)+len(o.Rows))
	out.Rows = append(out.Rows, d.Rows...)
	out.Rows = append(out.Rows, o.Rows...)
	return out
}

// Equal reports whether d and o have the same columns and rows.
func (d *Dataset) Equal(o *Dataset) bool {
	if len(d.columns) != len(o.columns) || len(d.Rows) != len(o.Rows) {
		return false
	}
	for i, c := range d.columns {
		if o.columns[i] != c {
			return false
		}
	}
	for i, r := range d.Rows {
		if !recordsEqual(r, o.Rows[i]) {
			return false
		}
	}
	return true
}

func recordsEqual(a, b Record) bool {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	for k := range keys {
		if !a[k].Equal(b[k]) {
			return false
		}
	}
	return true
}

// FetchStatus is the outcome of fetching one month from the remote source.
type FetchStatus string

const (
	// FetchOK means the month returned at least one record.
	FetchOK FetchStatus = "fetched"
	// FetchEmpty means the request succeeded with zero records.
	FetchEmpty FetchStatus = "empty"
	// FetchFailed means the request failed after retries.
	FetchFailed FetchStatus = "failed"
)
