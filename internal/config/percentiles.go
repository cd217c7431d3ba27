package config

import (
	"sort"
	"strconv"
	"strings"
)

// ParsePercentiles parses "90:0.5,95:9" into percentile -> ceiling (ms).
// Malformed entries and percentiles outside 1..100 are dropped; the rest of
// the string is still used. A repeated percentile keeps its last ceiling.
func ParsePercentiles(s string) map[int]float64 {
	out := make(map[int]float64)
	for _, entry := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok {
			continue
		}

		p, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || p < 1 || p > 100 {
			continue
		}
		ceiling, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			continue
		}
		out[p] = ceiling
	}
	return out
}

// FormatPercentiles renders percentiles in ParsePercentiles syntax, ordered
// by percentile.
func FormatPercentiles(percentiles map[int]float64) string {
	keys := SortedPercentiles(percentiles)
	parts := make([]string, 0, len(keys))
	for _, p := range keys {
		parts = append(parts, strconv.Itoa(p)+":"+strconv.FormatFloat(percentiles[p], 'f', -1, 64))
	}
	return strings.Join(parts, ",")
}

// SortedPercentiles returns the keys of percentiles in ascending order.
func SortedPercentiles[V any](percentiles map[int]V) []int {
	keys := make([]int, 0, len(percentiles))
	for p := range percentiles {
		keys = append(keys, p)
	}
	sort.Ints(keys)
	return keys
}
