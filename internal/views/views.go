// Package views builds derived projections over materialized read results.
package views

// Distinct projects field over records and returns the values in
// first-occurrence order with duplicates removed.
func Distinct[T any, K comparable](records []T, field func(T) K) []K {
	seen := make(map[K]struct{}, len(records))
	out := make([]K, 0, len(records))
	for _, r := range records {
		v := field(r)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
