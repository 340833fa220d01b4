package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/curator/internal/id"
	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/storage"
)

// Epoch is the fixed start time of generated ids.
var Epoch = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

// IDGen mints strictly increasing UUIDv7 ids, one second apart, starting at
// Epoch. Not safe for concurrent use.
type IDGen struct {
	n uint64
}

// Next returns the next id.
func (g *IDGen) Next() uuid.UUID {
	g.n++
	return id.At(Epoch.Add(time.Duration(g.n)*time.Second), g.n)
}

// Inference builds a chat inference with the given output text.
func (g *IDGen) Inference(function string, episode uuid.UUID, output string) model.Inference {
	u := g.Next()
	return model.Inference{
		ID:           u,
		FunctionName: function,
		FunctionType: model.FunctionTypeChat,
		VariantName:  "baseline",
		EpisodeID:    episode,
		Input: model.Input{Messages: []model.InputMessage{
			{Role: "user", Content: []model.ContentBlock{model.TextBlock("question " + u.String()[:8])}},
		}},
		Output:    model.ChatOutput(model.TextBlock(output)),
		Timestamp: id.Timestamp(u).Truncate(time.Second),
	}
}

// Boolean builds boolean metric feedback.
func (g *IDGen) Boolean(target uuid.UUID, metric string, v bool) model.BooleanMetricFeedback {
	u := g.Next()
	return model.BooleanMetricFeedback{ID: u, TargetID: target, MetricName: metric, Value: v, Timestamp: ts(u)}
}

// Float builds float metric feedback.
func (g *IDGen) Float(target uuid.UUID, metric string, v float64) model.FloatMetricFeedback {
	u := g.Next()
	return model.FloatMetricFeedback{ID: u, TargetID: target, MetricName: metric, Value: v, Timestamp: ts(u)}
}

// Comment builds inference-level comment feedback.
func (g *IDGen) Comment(target uuid.UUID, text string) model.CommentFeedback {
	u := g.Next()
	return model.CommentFeedback{ID: u, TargetID: target, TargetType: model.TargetInference, Value: text, Timestamp: ts(u)}
}

// Demonstration builds demonstration feedback.
func (g *IDGen) Demonstration(inference uuid.UUID, text string) model.DemonstrationFeedback {
	u := g.Next()
	return model.DemonstrationFeedback{ID: u, InferenceID: inference, Value: text, Timestamp: ts(u)}
}

func ts(u uuid.UUID) time.Time { return id.Timestamp(u).Truncate(time.Second) }

// MustInsert writes inferences and feedback into w, failing the test on error.
func MustInsert(t testing.TB, w storage.Writer, records ...any) {
	t.Helper()
	ctx := context.Background()
	for _, r := range records {
		switch v := r.(type) {
		case model.Inference:
			require.NoError(t, w.InsertInference(ctx, v))
		case model.Feedback:
			require.NoError(t, w.InsertFeedback(ctx, v))
		default:
			t.Fatalf("testutil: cannot insert %T", r)
		}
	}
}

// IDs extracts feedback ids in order.
func IDs(records []model.Feedback) []uuid.UUID {
	out := make([]uuid.UUID, len(records))
	for i, r := range records {
		out[i] = r.FeedbackID()
	}
	return out
}

// InferenceIDs extracts inference ids in order.
func InferenceIDs(records []model.Inference) []uuid.UUID {
	out := make([]uuid.UUID, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
