package curation

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/tensorzero/curator/internal/dedup"
	"github.com/tensorzero/curator/internal/model"
)

// CheckPolicy rejects policies that cannot drive a curation, and float
// policies without a threshold. It runs before any store access.
func CheckPolicy(policy model.MetricPolicy, threshold *float64) error {
	switch policy.Kind {
	case model.FeedbackComment:
		return fmt.Errorf("%w: comment metrics cannot select examples", model.ErrUnsupportedPolicy)
	case model.FeedbackFloat:
		if threshold == nil {
			return fmt.Errorf("%w: float metrics need a threshold", model.ErrInvalidArgument)
		}
	case model.FeedbackBoolean, model.FeedbackDemonstration:
	default:
		return fmt.Errorf("%w: unknown metric type %q", model.ErrInvalidArgument, policy.Kind)
	}
	return nil
}

// Select joins inferences to the latest feedback for their join key and keeps
// the ones the policy accepts. The join key is the inference id for
// inference-level metrics and the episode id for episode-level ones.
// Inferences without feedback are dropped. maxSamples, when set, truncates
// the selection; input order is preserved.
func Select(
	inferences []model.Inference,
	feedback []model.Feedback,
	policy model.MetricPolicy,
	threshold *float64,
	maxSamples *int,
) ([]model.Inference, error) {
	if err := CheckPolicy(policy, threshold); err != nil {
		return nil, err
	}
	if maxSamples != nil && *maxSamples < 0 {
		return nil, fmt.Errorf("%w: max_samples must not be negative, got %d", model.ErrInvalidArgument, *maxSamples)
	}

	latest := dedup.Index(feedback,
		model.Feedback.Target,
		model.Feedback.FeedbackTimestamp,
		model.Feedback.FeedbackID,
	)

	out := make([]model.Inference, 0, len(inferences))
	for _, inf := range inferences {
		f, ok := latest[joinKey(inf, policy)]
		if !ok || f.Kind() != policy.Kind {
			continue
		}
		switch v := f.(type) {
		case model.BooleanMetricFeedback:
			if v.Value != (policy.Optimize == model.OptimizeMax) {
				continue
			}
		case model.FloatMetricFeedback:
			if !beats(v.Value, *threshold, policy.Optimize) {
				continue
			}
		case model.DemonstrationFeedback:
			inf.Output = model.ParseDemonstration(inf.FunctionType, v.Value)
		case model.CommentFeedback:
			continue
		}
		out = append(out, inf)
	}

	if maxSamples != nil && len(out) > *maxSamples {
		out = out[:*maxSamples]
	}
	return out, nil
}

func joinKey(inf model.Inference, policy model.MetricPolicy) uuid.UUID {
	if policy.Level == model.LevelEpisode {
		return inf.EpisodeID
	}
	return inf.ID
}

// beats is a strict comparison: a value at the threshold never qualifies.
func beats(value, threshold float64, opt model.Optimize) bool {
	if opt == model.OptimizeMin {
		return value < threshold
	}
	return value > threshold
}
