// Package dedup keeps the most recent record per partition.
package dedup

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tensorzero/curator/internal/id"
)

// Latest returns one record per partition key: the one with the greatest
// timestamp, ties going to the greater id. It makes a single pass over
// records and returns the winners sorted by id descending.
func Latest[T any, K comparable](
	records []T,
	key func(T) K,
	timestamp func(T) time.Time,
	recordID func(T) uuid.UUID,
) []T {
	if len(records) == 0 {
		return nil
	}
	winners := make(map[K]int, len(records))
	order := make([]K, 0, len(records))
	for i, r := range records {
		k := key(r)
		w, ok := winners[k]
		if !ok {
			winners[k] = i
			order = append(order, k)
			continue
		}
		if newer(records[w], r, timestamp, recordID) {
			winners[k] = i
		}
	}

	out := make([]T, 0, len(order))
	for _, k := range order {
		out = append(out, records[winners[k]])
	}
	sort.Slice(out, func(i, j int) bool {
		return id.Less(recordID(out[j]), recordID(out[i]))
	})
	return out
}

// newer reports whether candidate supersedes current.
func newer[T any](current, candidate T, timestamp func(T) time.Time, recordID func(T) uuid.UUID) bool {
	ct, nt := timestamp(current), timestamp(candidate)
	if !nt.Equal(ct) {
		return nt.After(ct)
	}
	return id.Less(recordID(current), recordID(candidate))
}

// Index is Latest keyed into a map for join lookups.
func Index[T any, K comparable](
	records []T,
	key func(T) K,
	timestamp func(T) time.Time,
	recordID func(T) uuid.UUID,
) map[K]T {
	latest := Latest(records, key, timestamp, recordID)
	out := make(map[K]T, len(latest))
	for _, r := range latest {
		out[key(r)] = r
	}
	return out
}
