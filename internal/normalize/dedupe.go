package normalize

import (
	"strings"

	"stopsearch/internal/domain"
)

// Dedupe drops every row whose key repeats that of an earlier row and
// returns the filtered dataset along with the number of rows removed. With
// no keys the whole row, over every column, is the key.
func Dedupe(ds *domain.Dataset, keys []string) (*domain.Dataset, int) {
	if ds.Len() == 0 {
		return ds, 0
	}
	if len(keys) == 0 {
		keys = ds.Columns()
	}

	out := domain.NewDataset(ds.Columns()...)
	out.Rows = make([]domain.Record, 0, ds.Len())
	seen := make(map[string]struct{}, ds.Len())
	for _, row := range ds.Rows {
		k := rowKey(row, keys)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out.Rows = append(out.Rows, row)
	}
	return out, ds.Len() - out.Len()
}

func rowKey(r domain.Record, keys []string) string {
	var b strings.Builder
	for _, k := range keys {
		v := r[k]
		b.WriteByte(byte('0' + v.Kind()))
		b.WriteString(v.Text())
		b.WriteByte(0x1f)
	}
	return b.String()
}
