package curation

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/curator/internal/config"
	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/storage"
	"github.com/tensorzero/curator/internal/storage/memstore"
	"github.com/tensorzero/curator/internal/testutil"
)

const catalogTOML = `
[functions.write_haiku]
type = "chat"

[metrics.haiku_rating]
type = "float"
optimize = "max"
level = "inference"

[metrics.solved]
type = "boolean"
optimize = "max"
level = "episode"

[metrics.notes]
type = "comment"
`

func newService(t *testing.T, store storage.RecordStore) *Service {
	t.Helper()
	catalog, err := config.ParseCatalog([]byte(catalogTOML))
	require.NoError(t, err)
	return New(store, catalog, testutil.TestLogger())
}

func TestCurate_FloatMetric(t *testing.T) {
	store := memstore.New()
	var g testutil.IDGen
	ep := g.Next()
	a := g.Inference("write_haiku", ep, "a")
	b := g.Inference("write_haiku", ep, "b")
	c := g.Inference("write_haiku", ep, "c")
	testutil.MustInsert(t, store, a, b, c,
		model.Feedback(g.Float(a.ID, "haiku_rating", 0.9)),
		model.Feedback(g.Float(b.ID, "haiku_rating", 0.9)),
		model.Feedback(g.Float(b.ID, "haiku_rating", 0.1)), // supersedes
		model.Feedback(g.Float(c.ID, "haiku_rating", 0.8)),
		model.Feedback(g.Float(c.ID, "other_metric", 0.0)),
	)

	res, err := newService(t, store).Curate(context.Background(), model.CurationRequest{
		FunctionName: "write_haiku",
		MetricName:   "haiku_rating",
		Threshold:    ptr(0.5),
	})
	require.NoError(t, err)
	assert.Equal(t, model.FunctionTypeChat, res.FunctionType)
	assert.Equal(t, []uuid.UUID{c.ID, a.ID}, ids(res.Inferences))
}

func TestCurate_EpisodeBoolean(t *testing.T) {
	store := memstore.New()
	var g testutil.IDGen
	good, bad := g.Next(), g.Next()
	a := g.Inference("write_haiku", good, "a")
	b := g.Inference("write_haiku", bad, "b")
	testutil.MustInsert(t, store, a, b,
		model.Feedback(g.Boolean(good, "solved", true)),
		model.Feedback(g.Boolean(bad, "solved", false)),
	)

	res, err := newService(t, store).Curate(context.Background(), model.CurationRequest{
		FunctionName: "write_haiku",
		MetricName:   "solved",
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID}, ids(res.Inferences))
}

func TestCurate_Demonstration(t *testing.T) {
	store := memstore.New()
	var g testutil.IDGen
	a := g.Inference("write_haiku", g.Next(), "draft")
	testutil.MustInsert(t, store, a, model.Feedback(g.Demonstration(a.ID, "old pond, frog leaps in")))

	res, err := newService(t, store).Curate(context.Background(), model.CurationRequest{
		FunctionName: "write_haiku",
		MetricName:   model.DemonstrationMetric,
	})
	require.NoError(t, err)
	require.Len(t, res.Inferences, 1)
	assert.Equal(t, "old pond, frog leaps in", res.Inferences[0].Output.Text())
}

func TestCurate_NoMetricReturnsEverything(t *testing.T) {
	store := memstore.New()
	var g testutil.IDGen
	ep := g.Next()
	a := g.Inference("write_haiku", ep, "a")
	b := g.Inference("write_haiku", ep, "b")
	testutil.MustInsert(t, store, a, b)

	svc := newService(t, store)
	res, err := svc.Curate(context.Background(), model.CurationRequest{FunctionName: "write_haiku"})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID, a.ID}, ids(res.Inferences))

	res, err = svc.Curate(context.Background(), model.CurationRequest{FunctionName: "write_haiku", MaxSamples: ptr(1)})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID}, ids(res.Inferences))
}

func TestCurate_EmptyIsNotAnError(t *testing.T) {
	res, err := newService(t, memstore.New()).Curate(context.Background(), model.CurationRequest{
		FunctionName: "write_haiku",
		MetricName:   "haiku_rating",
		Threshold:    ptr(0.5),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Inferences)
}

// failingStore errors on any read.
type failingStore struct {
	storage.RecordStore
	calls int
}

func (s *failingStore) ScanInferences(context.Context, storage.ScanRequest) ([]model.Inference, error) {
	s.calls++
	return nil, assert.AnError
}

func (s *failingStore) LatestFeedback(context.Context, storage.Stream, ...string) ([]model.Feedback, error) {
	s.calls++
	return nil, nil
}

func TestCurate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		req     model.CurationRequest
		wantErr error
	}{
		{"missing function name", model.CurationRequest{}, model.ErrInvalidArgument},
		{"unknown function", model.CurationRequest{FunctionName: "nope"}, model.ErrNotFound},
		{"unknown metric", model.CurationRequest{FunctionName: "write_haiku", MetricName: "nope"}, model.ErrNotFound},
		{"comment metric", model.CurationRequest{FunctionName: "write_haiku", MetricName: "notes"}, model.ErrUnsupportedPolicy},
		{"float without threshold", model.CurationRequest{FunctionName: "write_haiku", MetricName: "haiku_rating"}, model.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &failingStore{}
			_, err := newService(t, store).Curate(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, store.calls, "validation happens before store access")
		})
	}
}

func TestCurate_StoreErrorPropagates(t *testing.T) {
	store := &failingStore{}
	_, err := newService(t, store).Curate(context.Background(), model.CurationRequest{
		FunctionName: "write_haiku",
		MetricName:   "solved",
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "curation: read inferences")
}

func TestWriteJSONL(t *testing.T) {
	var g testutil.IDGen
	a := g.Inference("write_haiku", g.Next(), "five seven five")
	a.Input.System = json.RawMessage(`"You are a poet."`)
	b := g.Inference("write_haiku", g.Next(), "second")
	b.Input.System = json.RawMessage(`{"tone":"calm"}`)

	var buf bytes.Buffer
	n, err := WriteJSONL(&buf, []model.Inference{a, b})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var ex Example
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ex))
	require.Len(t, ex.Messages, 3)
	assert.Equal(t, Message{Role: "system", Content: "You are a poet."}, ex.Messages[0])
	assert.Equal(t, "user", ex.Messages[1].Role)
	assert.Equal(t, Message{Role: "assistant", Content: "five seven five"}, ex.Messages[2])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ex))
	assert.Equal(t, `{"tone":"calm"}`, ex.Messages[0].Content)
}
