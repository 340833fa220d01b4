// Package seed writes a deterministic demo dataset: inferences for every
// catalog function plus feedback for every catalog metric.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/tensorzero/curator/internal/config"
	"github.com/tensorzero/curator/internal/id"
	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/storage"
)

// DefaultStart is the timestamp of the first seeded record.
var DefaultStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Options controls the dataset shape. Equal options produce identical ids
// and values.
type Options struct {
	// PerFunction is the number of inferences written for each function.
	PerFunction int
	// EpisodeSize is how many consecutive inferences share an episode.
	EpisodeSize int
	// Seed drives metric values.
	Seed uint64
	// Start is the timestamp of the first record; records are one second apart.
	Start time.Time
}

func (o Options) withDefaults() Options {
	if o.PerFunction <= 0 {
		o.PerFunction = 100
	}
	if o.EpisodeSize <= 0 {
		o.EpisodeSize = 3
	}
	if o.Start.IsZero() {
		o.Start = DefaultStart
	}
	return o
}

// Stats counts what was written.
type Stats struct {
	Inferences int
	Feedback   map[model.FeedbackKind]int
}

type generator struct {
	w       storage.Writer
	rng     *rand.Rand
	start   time.Time
	seq     uint64
	stats   Stats
	metrics []string
	catalog *config.Catalog
}

// next mints the id and timestamp of the next record.
func (g *generator) next() (uuid.UUID, time.Time) {
	g.seq++
	ts := g.start.Add(time.Duration(g.seq) * time.Second)
	return id.At(ts, g.seq), ts
}

// Run writes the dataset into w.
func Run(ctx context.Context, w storage.Writer, catalog *config.Catalog, opts Options, logger *slog.Logger) (Stats, error) {
	opts = opts.withDefaults()
	g := &generator{
		w:       w,
		rng:     rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		start:   opts.Start,
		stats:   Stats{Feedback: make(map[model.FeedbackKind]int)},
		catalog: catalog,
	}
	for name := range catalog.Metrics {
		g.metrics = append(g.metrics, name)
	}
	slices.Sort(g.metrics)

	for _, fn := range catalog.FunctionNames() {
		if err := g.function(ctx, fn, catalog.Functions[fn], opts); err != nil {
			return g.stats, err
		}
		logger.Info("seeded function", "function", fn, "inferences", opts.PerFunction)
	}
	return g.stats, nil
}

func (g *generator) function(ctx context.Context, name string, fn config.FunctionConfig, opts Options) error {
	variants := fn.Variants
	if len(variants) == 0 {
		variants = []string{"baseline"}
	}

	var episode uuid.UUID
	var episodeMembers []uuid.UUID
	for i := range opts.PerFunction {
		if i%opts.EpisodeSize == 0 {
			if err := g.episodeFeedback(ctx, episode, episodeMembers); err != nil {
				return err
			}
			episode, _ = g.next()
			episodeMembers = episodeMembers[:0]
		}

		infID, ts := g.next()
		inf := model.Inference{
			ID:           infID,
			FunctionName: name,
			FunctionType: fn.Type,
			VariantName:  variants[i%len(variants)],
			EpisodeID:    episode,
			Input: model.Input{Messages: []model.InputMessage{{
				Role:    "user",
				Content: []model.ContentBlock{model.TextBlock(fmt.Sprintf("%s request #%d", name, i))},
			}}},
			Output:    output(fn.Type, i),
			Timestamp: ts,
		}
		if err := g.w.InsertInference(ctx, inf); err != nil {
			return fmt.Errorf("seed: insert inference: %w", err)
		}
		g.stats.Inferences++
		episodeMembers = append(episodeMembers, infID)

		if err := g.inferenceFeedback(ctx, inf, i); err != nil {
			return err
		}
	}
	return g.episodeFeedback(ctx, episode, episodeMembers)
}

func output(ft model.FunctionType, i int) model.Output {
	if ft == model.FunctionTypeJSON {
		parsed, _ := json.Marshal(map[string]any{"index": i, "label": fmt.Sprintf("label-%d", i%4)})
		return model.StructuredOutput(string(parsed), parsed)
	}
	return model.ChatOutput(model.TextBlock(fmt.Sprintf("response #%d", i)))
}

func (g *generator) inferenceFeedback(ctx context.Context, inf model.Inference, i int) error {
	for _, name := range g.metrics {
		p := g.catalog.Metrics[name]
		if p.Level == model.LevelEpisode {
			continue
		}
		switch p.Kind {
		case model.FeedbackBoolean, model.FeedbackFloat:
			if err := g.metric(ctx, inf.ID, name, p.Kind); err != nil {
				return err
			}
		case model.FeedbackComment:
			if i%4 == 0 {
				if err := g.insert(ctx, func(u uuid.UUID, ts time.Time) model.Feedback {
					return model.CommentFeedback{ID: u, TargetID: inf.ID, TargetType: model.TargetInference,
						Value: fmt.Sprintf("note on response #%d", i), Timestamp: ts}
				}); err != nil {
					return err
				}
			}
		}
	}
	if i%5 == 0 {
		return g.insert(ctx, func(u uuid.UUID, ts time.Time) model.Feedback {
			return model.DemonstrationFeedback{ID: u, InferenceID: inf.ID, Value: demonstration(inf.FunctionType, i), Timestamp: ts}
		})
	}
	return nil
}

func demonstration(ft model.FunctionType, i int) string {
	if ft == model.FunctionTypeJSON {
		return fmt.Sprintf(`{"index":%d,"label":"gold"}`, i)
	}
	return fmt.Sprintf("ideal response #%d", i)
}

func (g *generator) episodeFeedback(ctx context.Context, episode uuid.UUID, members []uuid.UUID) error {
	if len(members) == 0 {
		return nil
	}
	for _, name := range g.metrics {
		p := g.catalog.Metrics[name]
		if p.Level != model.LevelEpisode {
			continue
		}
		if err := g.metric(ctx, episode, name, p.Kind); err != nil {
			return err
		}
	}
	return nil
}

func (g *generator) metric(ctx context.Context, target uuid.UUID, name string, kind model.FeedbackKind) error {
	return g.insert(ctx, func(u uuid.UUID, ts time.Time) model.Feedback {
		if kind == model.FeedbackBoolean {
			return model.BooleanMetricFeedback{ID: u, TargetID: target, MetricName: name, Value: g.rng.IntN(3) > 0, Timestamp: ts}
		}
		return model.FloatMetricFeedback{ID: u, TargetID: target, MetricName: name, Value: float64(g.rng.IntN(101)) / 100, Timestamp: ts}
	})
}

func (g *generator) insert(ctx context.Context, build func(uuid.UUID, time.Time) model.Feedback) error {
	u, ts := g.next()
	f := build(u, ts)
	if err := g.w.InsertFeedback(ctx, f); err != nil {
		return fmt.Errorf("seed: insert %s feedback: %w", f.Kind(), err)
	}
	g.stats.Feedback[f.Kind()]++
	return nil
}
