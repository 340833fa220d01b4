package id

import (
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsV7AndIncreasing(t *testing.T) {
	prev := MustNew()
	for i := 0; i < 100; i++ {
		next := MustNew()
		assert.True(t, IsV7(next))
		assert.True(t, Less(prev, next), "ids must increase: %s then %s", prev, next)
		prev = next
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 14, 15, 9, 26, 535_000_000, time.UTC)
	u := At(at, 7)
	assert.True(t, IsV7(u))
	assert.Equal(t, at, Timestamp(u))
}

func TestAtOrdersBySeqWithinMillisecond(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seqs := []uint64{0, 1, 2, 255, 256, 4095, 4096, 1 << 40, 1<<62 + 3}
	for i := 1; i < len(seqs); i++ {
		assert.True(t, Less(At(at, seqs[i-1]), At(at, seqs[i])), "seq %d vs %d", seqs[i-1], seqs[i])
	}
	// A later millisecond always wins regardless of seq.
	assert.True(t, Less(At(at, 1<<62), At(at.Add(time.Millisecond), 0)))
}

func TestStringOrderMatchesNumericOrder(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ids := make([]uuid.UUID, 0, 50)
	for i := 0; i < 50; i++ {
		ids = append(ids, At(base.Add(time.Duration(i*37%11)*time.Second), uint64(i)))
	}
	byBytes := append([]uuid.UUID(nil), ids...)
	sort.Slice(byBytes, func(i, j int) bool { return Less(byBytes[i], byBytes[j]) })
	byString := append([]uuid.UUID(nil), ids...)
	sort.Slice(byString, func(i, j int) bool { return byString[i].String() < byString[j].String() })
	assert.Equal(t, byBytes, byString)
}

func TestParse(t *testing.T) {
	u := MustNew()
	got, err := Parse(u.String())
	require.NoError(t, err)
	assert.Equal(t, u, got)

	_, err = Parse("not-a-uuid")
	assert.Error(t, err)

	_, err = Parse(uuid.New().String()) // v4
	assert.Error(t, err)
}

func TestMinMaxPtr(t *testing.T) {
	at := time.Now()
	a, b := At(at, 1), At(at, 2)
	assert.Nil(t, MinPtr(nil, nil))
	assert.Equal(t, &a, MinPtr(&a, nil))
	assert.Equal(t, &b, MinPtr(nil, &b))
	assert.Equal(t, a, *MinPtr(&b, &a))
	assert.Equal(t, b, *MaxPtr(&b, &a))
	assert.Equal(t, b, *MaxPtr(&a, &b))
	assert.Nil(t, MaxPtr(nil, nil))
}
