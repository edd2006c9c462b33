// Package merge decides whether an incoming record supersedes the stored copy
// of the same key.
//
// The freshness rule: an incoming record replaces the stored one if and only if
// its last-modified instant is strictly later. Equal or earlier records are
// discarded, so re-applying the same data never regresses a newer local copy.
// Callers must hand over parsed instants; see types.Timestamp for the
// normalization of string and numeric representations.
package merge

import "time"

// Versioned is a keyed record carrying a last-modified instant.
type Versioned interface {
	Key() int64
	Modified() time.Time
}

// ShouldOverwrite reports whether a record modified at incoming replaces one
// modified at existing. A nil existing means the key is not stored yet.
func ShouldOverwrite(incoming time.Time, existing *time.Time) bool {
	if existing == nil {
		return true
	}
	return incoming.After(*existing)
}

// ShouldOverwriteRecord applies ShouldOverwrite to two records. A nil existing
// record means the key is absent.
func ShouldOverwriteRecord(incoming, existing Versioned) bool {
	if existing == nil {
		return true
	}
	m := existing.Modified()
	return ShouldOverwrite(incoming.Modified(), &m)
}

// Winners filters a batch down to the records that should be written, given
// the stored instants keyed by record key. When a batch carries the same key
// more than once, only the latest occurrence by instant can win.
func Winners[T Versioned](incoming []T, stored map[int64]time.Time) (winners []T, skipped int) {
	best := make(map[int64]int, len(incoming))
	order := make([]int64, 0, len(incoming))

	for i, rec := range incoming {
		key := rec.Key()
		var existing *time.Time
		if prev, ok := best[key]; ok {
			m := incoming[prev].Modified()
			existing = &m
		} else if m, ok := stored[key]; ok {
			existing = &m
		}

		if !ShouldOverwrite(rec.Modified(), existing) {
			skipped++
			continue
		}
		if _, seen := best[key]; seen {
			// An earlier occurrence in this batch loses to this one.
			skipped++
		} else {
			order = append(order, key)
		}
		best[key] = i
	}

	winners = make([]T, 0, len(order))
	for _, key := range order {
		winners = append(winners, incoming[best[key]])
	}
	return winners, skipped
}
