// Package gather defines the gatherer contract and the month-gap arithmetic
// shared by the concrete source packages.
package gather

import (
	"context"

	"stopsearch/internal/domain"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one synchronisation pass and returns when it is done.
	Run(ctx context.Context) error
}

// MonthRange is an inclusive span of calendar months.
type MonthRange struct {
	First domain.Month
	Last  domain.Month
}

// Months lists every month in r in ascending order. An inverted range is
// empty.
func (r MonthRange) Months() []domain.Month {
	var out []domain.Month
	for m := r.First; !m.After(r.Last); m = m.Next() {
		out = append(out, m)
	}
	return out
}
