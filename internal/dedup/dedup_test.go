package dedup

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/curator/internal/id"
)

type rec struct {
	key string
	id  uuid.UUID
	ts  time.Time
	val int
}

func recKey(r rec) string { return r.key }
func recTS(r rec) time.Time { return r.ts }
func recID(r rec) uuid.UUID { return r.id }
func at(sec int64) time.Time { return time.Unix(sec, 0).UTC() }
func idAt(sec int64, seq uint64) uuid.UUID { return id.At(at(sec), seq) }

func TestLatest_GreatestTimestampWins(t *testing.T) {
	records := []rec{
		{key: "a", id: idAt(10, 1), ts: at(10), val: 1},
		{key: "a", id: idAt(30, 2), ts: at(30), val: 2},
		{key: "a", id: idAt(20, 3), ts: at(20), val: 3},
		{key: "b", id: idAt(5, 4), ts: at(5), val: 4},
	}
	got := Latest(records, recKey, recTS, recID)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].val, "sorted by id descending: a's winner has the larger id")
	assert.Equal(t, 4, got[1].val)
}

func TestLatest_TimestampTieGoesToGreaterID(t *testing.T) {
	// Same second, so the id decides.
	lo, hi := idAt(100, 1), idAt(100, 2)
	records := []rec{
		{key: "x", id: hi, ts: at(100), val: 2},
		{key: "x", id: lo, ts: at(100), val: 1},
	}
	got := Latest(records, recKey, recTS, recID)
	require.Len(t, got, 1)
	assert.Equal(t, hi, got[0].id)

	// Order of input does not matter.
	records[0], records[1] = records[1], records[0]
	got = Latest(records, recKey, recTS, recID)
	assert.Equal(t, hi, got[0].id)
}

func TestLatest_StaleLargerIDLoses(t *testing.T) {
	// A record with a bigger id but an older timestamp does not win.
	records := []rec{
		{key: "k", id: idAt(50, 9), ts: at(10), val: 1},
		{key: "k", id: idAt(40, 1), ts: at(40), val: 2},
	}
	got := Latest(records, recKey, recTS, recID)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].val)
}

func TestLatest_Empty(t *testing.T) {
	assert.Nil(t, Latest(nil, recKey, recTS, recID))
}

func TestIndex(t *testing.T) {
	records := []rec{
		{key: "a", id: idAt(1, 1), ts: at(1), val: 1},
		{key: "a", id: idAt(2, 2), ts: at(2), val: 2},
		{key: "b", id: idAt(3, 3), ts: at(3), val: 3},
	}
	idx := Index(records, recKey, recTS, recID)
	assert.Len(t, idx, 2)
	assert.Equal(t, 2, idx["a"].val)
	assert.Equal(t, 3, idx["b"].val)
}
