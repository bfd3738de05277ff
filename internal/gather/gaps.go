package gather

import (
	"time"

	"stopsearch/internal/domain"
)

// ComputeGaps returns the calendar months strictly after lastUpdate's month
// up to and including now's month, in ascending order. It is empty when now
// falls in the same month as lastUpdate or earlier. There is no cap on the
// number of months returned.
func ComputeGaps(lastUpdate, now time.Time) []domain.Month {
	return MonthRange{
		First: domain.MonthOf(lastUpdate).Next(),
		Last:  domain.MonthOf(now),
	}.Months()
}

// MergeGaps returns the ascending, de-duplicated union of a and b.
func MergeGaps(a, b []domain.Month) []domain.Month {
	seen := make(map[domain.Month]struct{}, len(a)+len(b))
	out := make([]domain.Month, 0, len(a)+len(b))
	for _, list := range [][]domain.Month{a, b} {
		for _, m := range list {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	domain.SortMonths(out)
	return out
}
