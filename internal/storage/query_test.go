package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/curator/internal/id"
	"github.com/tensorzero/curator/internal/model"
)

func TestBuildScan(t *testing.T) {
	target := uuid.New()
	cursor := uuid.New()
	stream := FeedbackStream(model.FeedbackComment, target)

	t.Run("no cursor descending with limit", func(t *testing.T) {
		q, err := BuildScan(Postgres, ScanRequest{Stream: stream, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t,
			"SELECT id, target_id, target_type, value, timestamp FROM comment_feedback WHERE target_id = $1 ORDER BY id DESC LIMIT $2",
			q.SQL)
		assert.Equal(t, []any{target, 10}, q.Args)
	})

	t.Run("after cursor ascending", func(t *testing.T) {
		q, err := BuildScan(Postgres, ScanRequest{Stream: stream, After: &cursor, Limit: 5, Order: Ascending})
		require.NoError(t, err)
		assert.Contains(t, q.SQL, "WHERE target_id = $1 AND id > $2 ORDER BY id ASC LIMIT $3")
		assert.Equal(t, []any{target, cursor, 5}, q.Args)
	})

	t.Run("before cursor", func(t *testing.T) {
		q, err := BuildScan(Postgres, ScanRequest{Stream: stream, Before: &cursor, Limit: 5})
		require.NoError(t, err)
		assert.Contains(t, q.SQL, "id < $2")
		assert.Contains(t, q.SQL, "ORDER BY id DESC")
	})

	t.Run("unbounded omits limit", func(t *testing.T) {
		q, err := BuildScan(Postgres, ScanRequest{Stream: stream})
		require.NoError(t, err)
		assert.NotContains(t, q.SQL, "LIMIT")
		assert.Len(t, q.Args, 1)
	})

	t.Run("sqlite placeholders and text ids", func(t *testing.T) {
		q, err := BuildScan(SQLite, ScanRequest{Stream: stream, After: &cursor, Limit: 5, Order: Ascending})
		require.NoError(t, err)
		assert.Contains(t, q.SQL, "WHERE target_id = ? AND id > ? ORDER BY id ASC LIMIT ?")
		assert.Equal(t, []any{target.String(), cursor.String(), 5}, q.Args)
	})

	t.Run("rejects non-whitelisted column", func(t *testing.T) {
		_, err := BuildScan(Postgres, ScanRequest{Stream: stream.Where("value", "x")})
		assert.Error(t, err)
	})

	t.Run("rejects unknown table", func(t *testing.T) {
		_, err := BuildScan(Postgres, ScanRequest{Stream: Stream{Table: "users"}})
		assert.Error(t, err)
	})
}

func TestBuildBounds(t *testing.T) {
	target := uuid.New()
	q, err := BuildBounds(Postgres, FeedbackStream(model.FeedbackBoolean, target))
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT (SELECT id FROM boolean_metric_feedback WHERE target_id = $1 ORDER BY id ASC LIMIT 1) AS first_id, "+
			"(SELECT id FROM boolean_metric_feedback WHERE target_id = $2 ORDER BY id DESC LIMIT 1) AS last_id",
		q.SQL)
	assert.Equal(t, []any{target, target}, q.Args)
}

func TestBuildCount(t *testing.T) {
	q, err := BuildCount(SQLite, InferenceStream(model.FunctionTypeJSON, "extract"))
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM json_inference WHERE function_name = ?", q.SQL)
	assert.Equal(t, []any{"extract"}, q.Args)
}

func TestBuildLatest(t *testing.T) {
	q, err := BuildLatest(Postgres, MetricStream(model.FeedbackFloat, "accuracy"), []string{ColTargetID})
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "ROW_NUMBER() OVER (PARTITION BY target_id ORDER BY timestamp DESC, id DESC)")
	assert.Contains(t, q.SQL, "FROM float_metric_feedback WHERE metric_name = $1")
	assert.Contains(t, q.SQL, "WHERE rn = 1 ORDER BY id DESC")
	assert.Equal(t, []any{"accuracy"}, q.Args)

	_, err = BuildLatest(Postgres, MetricStream(model.FeedbackFloat, "accuracy"), nil)
	assert.Error(t, err)

	_, err = BuildLatest(Postgres, MetricStream(model.FeedbackFloat, "accuracy"), []string{"value"})
	assert.Error(t, err)
}

func TestBuildInsert(t *testing.T) {
	u := id.At(time.Date(2025, 5, 1, 10, 0, 0, 750_000_000, time.UTC), 1)
	target := uuid.New()

	t.Run("feedback timestamp derived from id at second granularity", func(t *testing.T) {
		q, err := BuildInsertFeedback(Postgres, model.BooleanMetricFeedback{ID: u, TargetID: target, MetricName: "ok", Value: true})
		require.NoError(t, err)
		assert.Equal(t,
			"INSERT INTO boolean_metric_feedback (id, target_id, metric_name, value, timestamp) VALUES ($1, $2, $3, $4, $5)",
			q.SQL)
		require.Len(t, q.Args, 5)
		assert.Equal(t, time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC), q.Args[4])
	})

	t.Run("sqlite encodes unix seconds and text", func(t *testing.T) {
		q, err := BuildInsertFeedback(SQLite, model.CommentFeedback{ID: u, TargetID: target, TargetType: model.TargetEpisode, Value: "hi"})
		require.NoError(t, err)
		assert.Equal(t, []any{u.String(), target.String(), "episode", "hi", int64(1746093600)}, q.Args)
	})

	t.Run("inference table follows function type", func(t *testing.T) {
		inf := model.Inference{
			ID:           u,
			FunctionName: "extract",
			FunctionType: model.FunctionTypeJSON,
			VariantName:  "v1",
			EpisodeID:    target,
			Output:       model.StructuredOutput("{}", json.RawMessage("{}")),
		}
		q, err := BuildInsertInference(Postgres, inf)
		require.NoError(t, err)
		assert.Contains(t, q.SQL, "INSERT INTO json_inference")
		assert.JSONEq(t, `{"raw":"{}","parsed":{}}`, string(q.Args[5].(json.RawMessage)))
	})
}

func TestStreamHelpers(t *testing.T) {
	inf := uuid.New()
	s := FeedbackStream(model.FeedbackDemonstration, inf)
	assert.Equal(t, TableDemonstrationFeedback, s.Table)
	assert.Equal(t, []Filter{{Column: ColInferenceID, Value: inf}}, s.Filters)

	base := InferenceStream(model.FunctionTypeChat, "f")
	narrowed := base.Where(ColVariantName, "v")
	assert.Len(t, base.Filters, 1, "Where must not mutate the receiver")
	assert.Len(t, narrowed.Filters, 2)

	for _, k := range model.FeedbackKinds {
		assert.Equal(t, k, FeedbackTable(k).FeedbackKind())
	}
}
