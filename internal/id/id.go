// Package id provides helpers for time-ordered UUIDv7 identifiers.
//
// Every record the curator reads is keyed by a UUIDv7. The first 48 bits hold
// a big-endian Unix millisecond timestamp, so byte-wise comparison of two ids
// orders them by creation time. The lowercase canonical string form sorts the
// same way, which lets stores that keep ids as TEXT use plain string ordering.
package id

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New mints a UUIDv7 for the current time.
func New() (uuid.UUID, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("id: new v7: %w", err)
	}
	return u, nil
}

// MustNew is New for callers that cannot recover from a broken entropy source.
func MustNew() uuid.UUID {
	u, err := New()
	if err != nil {
		panic(err)
	}
	return u
}

// At builds a UUIDv7 for the given instant with seq right-aligned in the
// random bits, so ids minted for the same millisecond with increasing seq
// values are strictly increasing. Used by fixtures and the
// seed command where deterministic ordering matters.
func At(t time.Time, seq uint64) uuid.UUID {
	var u uuid.UUID
	ms := uint64(t.UnixMilli())
	u[0] = byte(ms >> 40)
	u[1] = byte(ms >> 32)
	u[2] = byte(ms >> 24)
	u[3] = byte(ms >> 16)
	u[4] = byte(ms >> 8)
	u[5] = byte(ms)
	u[6] = 0x70
	u[7] = byte(seq >> 62)
	u[8] = 0x80 | byte((seq>>56)&0x3f)
	for i := 9; i < 16; i++ {
		u[i] = byte(seq >> (8 * (15 - i)))
	}
	return u
}

// Timestamp recovers the creation time encoded in a UUIDv7.
func Timestamp(u uuid.UUID) time.Time {
	ms := int64(u[0])<<40 | int64(u[1])<<32 | int64(u[2])<<24 |
		int64(u[3])<<16 | int64(u[4])<<8 | int64(u[5])
	return time.UnixMilli(ms).UTC()
}

// IsV7 reports whether u carries the version 7 marker.
func IsV7(u uuid.UUID) bool {
	return u.Version() == 7
}

// Compare returns -1, 0 or +1 comparing a and b numerically.
func Compare(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// Less reports whether a sorts before b.
func Less(a, b uuid.UUID) bool {
	return Compare(a, b) < 0
}

// Parse parses s and rejects anything that is not a UUIDv7.
func Parse(s string) (uuid.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	if !IsV7(u) {
		return uuid.Nil, fmt.Errorf("id: %s is not a version 7 uuid", s)
	}
	return u, nil
}

// MinPtr returns the smaller of two optional ids. A nil operand is ignored.
func MinPtr(a, b *uuid.UUID) *uuid.UUID {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case Less(*b, *a):
		return b
	default:
		return a
	}
}

// MaxPtr returns the greater of two optional ids. A nil operand is ignored.
func MaxPtr(a, b *uuid.UUID) *uuid.UUID {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case Less(*a, *b):
		return b
	default:
		return a
	}
}
