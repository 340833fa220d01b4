// Package storetest is a behavioral test suite every storage.Store
// implementation must pass. Backends call Run from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/storage"
	"github.com/tensorzero/curator/internal/testutil"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) storage.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("ScanOrderAndBounds", func(t *testing.T) { testScanOrder(t, newStore(t)) })
	t.Run("ScanFilters", func(t *testing.T) { testScanFilters(t, newStore(t)) })
	t.Run("InferenceRoundTrip", func(t *testing.T) { testInferenceRoundTrip(t, newStore(t)) })
	t.Run("LatestFeedback", func(t *testing.T) { testLatest(t, newStore(t)) })
	t.Run("BoundsAndCount", func(t *testing.T) { testBoundsAndCount(t, newStore(t)) })
	t.Run("RejectsBadStreams", func(t *testing.T) { testRejects(t, newStore(t)) })
}

func testScanOrder(t *testing.T, s storage.Store) {
	ctx := context.Background()
	var g testutil.IDGen
	target := g.Next()
	var comments []model.CommentFeedback
	for i := 0; i < 5; i++ {
		c := g.Comment(target, "c")
		comments = append(comments, c)
		testutil.MustInsert(t, s, model.Feedback(c))
	}
	stream := storage.FeedbackStream(model.FeedbackComment, target)

	desc, err := s.ScanFeedback(ctx, storage.ScanRequest{Stream: stream, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{comments[4].ID, comments[3].ID, comments[2].ID}, testutil.IDs(desc))

	asc, err := s.ScanFeedback(ctx, storage.ScanRequest{Stream: stream, Limit: 2, Order: storage.Ascending})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{comments[0].ID, comments[1].ID}, testutil.IDs(asc))

	// Bounds are exclusive on both sides.
	between, err := s.ScanFeedback(ctx, storage.ScanRequest{
		Stream: stream,
		After:  &comments[1].ID,
		Before: &comments[4].ID,
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{comments[3].ID, comments[2].ID}, testutil.IDs(between))

	none, err := s.ScanFeedback(ctx, storage.ScanRequest{Stream: stream, Before: &comments[0].ID})
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := s.ScanFeedback(ctx, storage.ScanRequest{Stream: stream})
	require.NoError(t, err)
	assert.Len(t, all, 5, "limit 0 means unbounded")
}

func testScanFilters(t *testing.T, s storage.Store) {
	ctx := context.Background()
	var g testutil.IDGen
	a, b := g.Next(), g.Next()
	testutil.MustInsert(t, s,
		model.Feedback(g.Boolean(a, "solved", true)),
		model.Feedback(g.Boolean(a, "helpful", false)),
		model.Feedback(g.Boolean(b, "solved", false)),
	)

	got, err := s.ScanFeedback(ctx, storage.ScanRequest{Stream: storage.FeedbackStream(model.FeedbackBoolean, a)})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.ScanFeedback(ctx, storage.ScanRequest{
		Stream: storage.MetricStream(model.FeedbackBoolean, "solved"),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, f := range got {
		assert.Equal(t, "solved", f.(model.BooleanMetricFeedback).MetricName)
	}

	got, err = s.ScanFeedback(ctx, storage.ScanRequest{
		Stream: storage.FeedbackStream(model.FeedbackBoolean, a).Where(storage.ColMetricName, "helpful"),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].(model.BooleanMetricFeedback).Value)
}

func testInferenceRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	var g testutil.IDGen
	episode := g.Next()
	chat := g.Inference("write_haiku", episode, "an old silent pond")
	structured := g.Inference("extract", episode, "")
	structured.FunctionType = model.FunctionTypeJSON
	structured.Output = model.StructuredOutput(`{"name":"basho"}`, json.RawMessage(`{"name":"basho"}`))
	other := g.Inference("write_haiku", g.Next(), "frog jumps in")
	other.VariantName = "fancy"
	testutil.MustInsert(t, s, chat, structured, other)

	got, err := s.ScanInferences(ctx, storage.ScanRequest{
		Stream: storage.InferenceStream(model.FunctionTypeChat, "write_haiku"),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, other.ID, got[0].ID)
	assert.Equal(t, chat.ID, got[1].ID)
	assert.Equal(t, model.FunctionTypeChat, got[1].FunctionType)
	assert.Equal(t, "an old silent pond", got[1].Output.Text())
	assert.Equal(t, episode, got[1].EpisodeID)
	assert.Equal(t, chat.Timestamp.Unix(), got[1].Timestamp.Unix())
	require.Len(t, got[1].Input.Messages, 1)
	assert.Equal(t, "user", got[1].Input.Messages[0].Role)

	got, err = s.ScanInferences(ctx, storage.ScanRequest{
		Stream: storage.InferenceStream(model.FunctionTypeChat, "write_haiku").Where(storage.ColVariantName, "fancy"),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, other.ID, got[0].ID)

	got, err = s.ScanInferences(ctx, storage.ScanRequest{
		Stream: storage.InferenceStream(model.FunctionTypeJSON, "extract"),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, got[0].Output.IsJSON())
	assert.JSONEq(t, `{"name":"basho"}`, string(got[0].Output.JSON.Parsed))

	got, err = s.ScanInferences(ctx, storage.ScanRequest{
		Stream: storage.Stream{Table: storage.TableChatInference}.Where(storage.ColEpisodeID, episode),
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{chat.ID}, testutil.InferenceIDs(got))
}

func testLatest(t *testing.T, s storage.Store) {
	ctx := context.Background()
	var g testutil.IDGen
	a, b := g.Next(), g.Next()

	oldA := g.Float(a, "score", 0.1)
	newA := g.Float(a, "score", 0.9)
	onlyB := g.Float(b, "score", 0.5)

	// Two records for b sharing a timestamp: the greater id wins.
	tieLow := g.Float(b, "quality", 1)
	tieHigh := g.Float(b, "quality", 2)
	tieHigh.Timestamp = tieLow.Timestamp
	// An older timestamp with a greater id loses to a newer timestamp.
	stale := g.Float(a, "quality", 3)
	stale.Timestamp = tieLow.Timestamp.Add(-10 * time.Second)
	fresh := g.Float(a, "quality", 4)
	fresh.Timestamp = tieLow.Timestamp.Add(10 * time.Second)
	staleAfterFresh := g.Float(a, "quality", 5)
	staleAfterFresh.Timestamp = stale.Timestamp

	testutil.MustInsert(t, s,
		model.Feedback(oldA), model.Feedback(newA), model.Feedback(onlyB),
		model.Feedback(tieLow), model.Feedback(tieHigh),
		model.Feedback(stale), model.Feedback(fresh), model.Feedback(staleAfterFresh),
	)

	got, err := s.LatestFeedback(ctx, storage.MetricStream(model.FeedbackFloat, "score"), storage.ColTargetID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{onlyB.ID, newA.ID}, testutil.IDs(got), "one per target, id descending")

	got, err = s.LatestFeedback(ctx, storage.MetricStream(model.FeedbackFloat, "quality"), storage.ColTargetID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	byTarget := map[uuid.UUID]float64{}
	for _, f := range got {
		byTarget[f.Target()] = f.(model.FloatMetricFeedback).Value
	}
	assert.Equal(t, 2.0, byTarget[b], "timestamp tie resolves to greater id")
	assert.Equal(t, 4.0, byTarget[a], "newest timestamp wins over greater id")

	got, err = s.LatestFeedback(ctx, storage.FeedbackStream(model.FeedbackFloat, a), storage.ColMetricName)
	require.NoError(t, err)
	assert.Len(t, got, 2, "one per metric for the target")

	_, err = s.LatestFeedback(ctx, storage.MetricStream(model.FeedbackFloat, "score"))
	assert.Error(t, err, "partition column is required")
}

func testBoundsAndCount(t *testing.T, s storage.Store) {
	ctx := context.Background()
	var g testutil.IDGen
	target := g.Next()
	stream := storage.FeedbackStream(model.FeedbackDemonstration, target)

	b, err := s.Bounds(ctx, stream)
	require.NoError(t, err)
	assert.Nil(t, b.FirstID)
	assert.Nil(t, b.LastID)
	n, err := s.Count(ctx, stream)
	require.NoError(t, err)
	assert.Zero(t, n)

	first := g.Demonstration(target, "a")
	mid := g.Demonstration(target, "b")
	last := g.Demonstration(target, "c")
	testutil.MustInsert(t, s, model.Feedback(mid), model.Feedback(last), model.Feedback(first))
	testutil.MustInsert(t, s, model.Feedback(g.Demonstration(g.Next(), "elsewhere")))

	b, err = s.Bounds(ctx, stream)
	require.NoError(t, err)
	require.NotNil(t, b.FirstID)
	require.NotNil(t, b.LastID)
	assert.Equal(t, first.ID, *b.FirstID)
	assert.Equal(t, last.ID, *b.LastID)

	n, err = s.Count(ctx, stream)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func testRejects(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.ScanInferences(ctx, storage.ScanRequest{Stream: storage.FeedbackStream(model.FeedbackBoolean, uuid.New())})
	assert.ErrorIs(t, err, storage.ErrWrongTable)

	_, err = s.ScanFeedback(ctx, storage.ScanRequest{Stream: storage.InferenceStream(model.FunctionTypeChat, "f")})
	assert.ErrorIs(t, err, storage.ErrWrongTable)

	_, err = s.ScanFeedback(ctx, storage.ScanRequest{
		Stream: storage.Stream{Table: storage.TableCommentFeedback}.Where("value; DROP TABLE x", "1"),
	})
	assert.Error(t, err)

	_, err = s.Count(ctx, storage.Stream{Table: "nope"})
	assert.Error(t, err)
}
