package curation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

func ids(infs []model.Inference) []uuid.UUID { return testutil.InferenceIDs(infs) }

var (
	boolMax  = model.MetricPolicy{Kind: model.FeedbackBoolean, Optimize: model.OptimizeMax, Level: model.LevelInference}
	boolMin  = model.MetricPolicy{Kind: model.FeedbackBoolean, Optimize: model.OptimizeMin, Level: model.LevelInference}
	floatMax = model.MetricPolicy{Kind: model.FeedbackFloat, Optimize: model.OptimizeMax, Level: model.LevelInference}
	floatMin = model.MetricPolicy{Kind: model.FeedbackFloat, Optimize: model.OptimizeMin, Level: model.LevelInference}
)

func TestSelect_Boolean(t *testing.T) {
	var g testutil.IDGen
	ep := g.Next()
	good := g.Inference("f", ep, "a")
	bad := g.Inference("f", ep, "b")
	fb := []model.Feedback{
		g.Boolean(good.ID, "ok", true),
		g.Boolean(bad.ID, "ok", false),
	}
	infs := []model.Inference{bad, good}

	got, err := Select(infs, fb, boolMax, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{good.ID}, ids(got))

	got, err = Select(infs, fb, boolMin, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{bad.ID}, ids(got))
}

func TestSelect_LatestFeedbackWins(t *testing.T) {
	var g testutil.IDGen
	inf := g.Inference("f", g.Next(), "a")
	older := g.Boolean(inf.ID, "ok", true)
	newer := g.Boolean(inf.ID, "ok", false)

	// Order of the feedback slice must not matter.
	for _, fb := range [][]model.Feedback{{older, newer}, {newer, older}} {
		got, err := Select([]model.Inference{inf}, fb, boolMax, nil, nil)
		require.NoError(t, err)
		assert.Empty(t, got, "the newer false value supersedes the older true")
	}
}

func TestSelect_FloatThresholdIsStrict(t *testing.T) {
	var g testutil.IDGen
	ep := g.Next()
	low := g.Inference("f", ep, "low")
	at := g.Inference("f", ep, "at")
	high := g.Inference("f", ep, "high")
	fb := []model.Feedback{
		g.Float(low.ID, "score", 0.4),
		g.Float(at.ID, "score", 0.5),
		g.Float(high.ID, "score", 0.6),
	}
	infs := []model.Inference{high, at, low}

	got, err := Select(infs, fb, floatMax, ptr(0.5), nil)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{high.ID}, ids(got))

	got, err = Select(infs, fb, floatMin, ptr(0.5), nil)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{low.ID}, ids(got))
}

func TestSelect_FloatWithoutThreshold(t *testing.T) {
	_, err := Select(nil, nil, floatMax, nil, nil)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestSelect_CommentIsUnsupported(t *testing.T) {
	_, err := Select(nil, nil, model.MetricPolicy{Kind: model.FeedbackComment}, nil, nil)
	assert.ErrorIs(t, err, model.ErrUnsupportedPolicy)
}

func TestSelect_DemonstrationReplacesOutput(t *testing.T) {
	var g testutil.IDGen
	ep := g.Next()
	chat := g.Inference("f", ep, "original answer")
	structured := g.Inference("g", ep, "ignored")
	structured.FunctionType = model.FunctionTypeJSON
	structured.Output = model.StructuredOutput(`{"x":0}`, []byte(`{"x":0}`))
	untouched := g.Inference("f", ep, "no demo")

	fb := []model.Feedback{
		g.Demonstration(chat.ID, "the better answer"),
		g.Demonstration(structured.ID, `{"x":1}`),
	}
	got, err := Select([]model.Inference{untouched, structured, chat}, fb, model.DemonstrationPolicy, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{structured.ID, chat.ID}, ids(got))

	require.True(t, got[0].Output.IsJSON())
	assert.Equal(t, `{"x":1}`, got[0].Output.JSON.Raw)
	assert.JSONEq(t, `{"x":1}`, string(got[0].Output.JSON.Parsed))

	assert.Equal(t, "the better answer", got[1].Output.Text())
	assert.Equal(t, "original answer", chat.Output.Text(), "input records are not mutated")
}

func TestSelect_DemonstrationContentBlocks(t *testing.T) {
	var g testutil.IDGen
	inf := g.Inference("f", g.Next(), "original")
	demo := g.Demonstration(inf.ID, `[{"type":"text","text":"one"},{"type":"text","text":"two"}]`)

	got, err := Select([]model.Inference{inf}, []model.Feedback{demo}, model.DemonstrationPolicy, nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Output.Content, 2)
	assert.Equal(t, "onetwo", got[0].Output.Text())
}

func TestSelect_EpisodeLevelJoin(t *testing.T) {
	var g testutil.IDGen
	goodEp, badEp := g.Next(), g.Next()
	a := g.Inference("f", goodEp, "a")
	b := g.Inference("f", goodEp, "b")
	c := g.Inference("f", badEp, "c")
	fb := []model.Feedback{
		g.Boolean(goodEp, "solved", true),
		g.Boolean(badEp, "solved", false),
		// Inference-level feedback on c is not an episode key and is ignored.
		g.Boolean(c.ID, "solved", true),
	}
	policy := model.MetricPolicy{Kind: model.FeedbackBoolean, Optimize: model.OptimizeMax, Level: model.LevelEpisode}

	got, err := Select([]model.Inference{c, b, a}, fb, policy, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID, a.ID}, ids(got))
}

func TestSelect_InnerJoinAndTruncation(t *testing.T) {
	var g testutil.IDGen
	ep := g.Next()
	noFeedback := g.Inference("f", ep, "x")
	first := g.Inference("f", ep, "y")
	second := g.Inference("f", ep, "z")
	fb := []model.Feedback{
		g.Boolean(first.ID, "ok", true),
		g.Boolean(second.ID, "ok", true),
	}
	infs := []model.Inference{noFeedback, first, second}

	got, err := Select(infs, fb, boolMax, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, ids(got))

	// Truncation happens after the join, so the unmatched head does not eat
	// the budget.
	got, err = Select(infs, fb, boolMax, nil, ptr(1))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first.ID}, ids(got))

	got, err = Select(infs, fb, boolMax, nil, ptr(0))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSelect_NegativeMaxSamples(t *testing.T) {
	var g testutil.IDGen
	inf := g.Inference("f", g.Next(), "x")
	fb := []model.Feedback{g.Boolean(inf.ID, "ok", true)}

	var got []model.Inference
	var err error
	assert.NotPanics(t, func() {
		got, err = Select([]model.Inference{inf}, fb, boolMax, nil, ptr(-1))
	})
	require.ErrorIs(t, err, model.ErrInvalidArgument)
	assert.Nil(t, got)
}
