package domain

import "sort"

func sortedKeys(r Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SortMonths sorts months in ascending calendar order.
func SortMonths(months []Month) {
	sort.Slice(months, func(i, j int) bool {
		return months[i].Before(months[j])
	})
}
