package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FeedbackKind is the discriminant of the Feedback union.
type FeedbackKind string

const (
	FeedbackBoolean       FeedbackKind = "boolean"
	FeedbackFloat         FeedbackKind = "float"
	FeedbackComment       FeedbackKind = "comment"
	FeedbackDemonstration FeedbackKind = "demonstration"
)

// FeedbackKinds lists every kind in a fixed order.
var FeedbackKinds = []FeedbackKind{
	FeedbackBoolean,
	FeedbackFloat,
	FeedbackComment,
	FeedbackDemonstration,
}

// ParseFeedbackKind validates a kind string.
func ParseFeedbackKind(s string) (FeedbackKind, error) {
	switch k := FeedbackKind(s); k {
	case FeedbackBoolean, FeedbackFloat, FeedbackComment, FeedbackDemonstration:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown feedback kind %q", ErrInvalidArgument, s)
}

// TargetType says whether a comment refers to an inference or an episode.
type TargetType string

const (
	TargetInference TargetType = "inference"
	TargetEpisode   TargetType = "episode"
)

// Feedback is a sealed union over the four feedback variants. Switch on the
// concrete type to dispatch; the unexported method keeps the set closed.
type Feedback interface {
	Kind() FeedbackKind
	FeedbackID() uuid.UUID
	FeedbackTimestamp() time.Time
	// Target is the id the feedback is attached to: target_id for metrics
	// and comments, inference_id for demonstrations.
	Target() uuid.UUID
	sealed()
}

// BooleanMetricFeedback is a true/false metric value.
type BooleanMetricFeedback struct {
	ID         uuid.UUID `json:"id"`
	TargetID   uuid.UUID `json:"target_id"`
	MetricName string    `json:"metric_name"`
	Value      bool      `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// FloatMetricFeedback is a numeric metric value.
type FloatMetricFeedback struct {
	ID         uuid.UUID `json:"id"`
	TargetID   uuid.UUID `json:"target_id"`
	MetricName string    `json:"metric_name"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// CommentFeedback is free-form text about an inference or episode.
type CommentFeedback struct {
	ID         uuid.UUID  `json:"id"`
	TargetID   uuid.UUID  `json:"target_id"`
	TargetType TargetType `json:"target_type"`
	Value      string     `json:"value"`
	Timestamp  time.Time  `json:"timestamp"`
}

// DemonstrationFeedback is a desired output for an inference.
type DemonstrationFeedback struct {
	ID          uuid.UUID `json:"id"`
	InferenceID uuid.UUID `json:"inference_id"`
	Value       string    `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
}

func (BooleanMetricFeedback) Kind() FeedbackKind { return FeedbackBoolean }
func (FloatMetricFeedback) Kind() FeedbackKind   { return FeedbackFloat }
func (CommentFeedback) Kind() FeedbackKind       { return FeedbackComment }
func (DemonstrationFeedback) Kind() FeedbackKind { return FeedbackDemonstration }

func (f BooleanMetricFeedback) FeedbackID() uuid.UUID { return f.ID }
func (f FloatMetricFeedback) FeedbackID() uuid.UUID   { return f.ID }
func (f CommentFeedback) FeedbackID() uuid.UUID       { return f.ID }
func (f DemonstrationFeedback) FeedbackID() uuid.UUID { return f.ID }

func (f BooleanMetricFeedback) FeedbackTimestamp() time.Time { return f.Timestamp }
func (f FloatMetricFeedback) FeedbackTimestamp() time.Time   { return f.Timestamp }
func (f CommentFeedback) FeedbackTimestamp() time.Time       { return f.Timestamp }
func (f DemonstrationFeedback) FeedbackTimestamp() time.Time { return f.Timestamp }

func (f BooleanMetricFeedback) Target() uuid.UUID { return f.TargetID }
func (f FloatMetricFeedback) Target() uuid.UUID   { return f.TargetID }
func (f CommentFeedback) Target() uuid.UUID       { return f.TargetID }
func (f DemonstrationFeedback) Target() uuid.UUID { return f.InferenceID }

func (BooleanMetricFeedback) sealed() {}
func (FloatMetricFeedback) sealed()   {}
func (CommentFeedback) sealed()       {}
func (DemonstrationFeedback) sealed() {}

// MarshalJSON adds the "type" discriminant.
func (f BooleanMetricFeedback) MarshalJSON() ([]byte, error) {
	type alias BooleanMetricFeedback
	return json.Marshal(struct {
		Type FeedbackKind `json:"type"`
		alias
	}{FeedbackBoolean, alias(f)})
}

func (f FloatMetricFeedback) MarshalJSON() ([]byte, error) {
	type alias FloatMetricFeedback
	return json.Marshal(struct {
		Type FeedbackKind `json:"type"`
		alias
	}{FeedbackFloat, alias(f)})
}

func (f CommentFeedback) MarshalJSON() ([]byte, error) {
	type alias CommentFeedback
	return json.Marshal(struct {
		Type FeedbackKind `json:"type"`
		alias
	}{FeedbackComment, alias(f)})
}

func (f DemonstrationFeedback) MarshalJSON() ([]byte, error) {
	type alias DemonstrationFeedback
	return json.Marshal(struct {
		Type FeedbackKind `json:"type"`
		alias
	}{FeedbackDemonstration, alias(f)})
}

// DecodeFeedback decodes one JSON feedback object using its "type" field.
func DecodeFeedback(data []byte) (Feedback, error) {
	var head struct {
		Type FeedbackKind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("model: decode feedback: %w", err)
	}
	var (
		f   Feedback
		err error
	)
	switch head.Type {
	case FeedbackBoolean:
		var v BooleanMetricFeedback
		err = json.Unmarshal(data, &v)
		f = v
	case FeedbackFloat:
		var v FloatMetricFeedback
		err = json.Unmarshal(data, &v)
		f = v
	case FeedbackComment:
		var v CommentFeedback
		err = json.Unmarshal(data, &v)
		f = v
	case FeedbackDemonstration:
		var v DemonstrationFeedback
		err = json.Unmarshal(data, &v)
		f = v
	default:
		return nil, fmt.Errorf("model: decode feedback: unknown type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("model: decode %s feedback: %w", head.Type, err)
	}
	return f, nil
}

// FeedbackList decodes a JSON array of mixed feedback.
type FeedbackList []Feedback

func (l *FeedbackList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(FeedbackList, 0, len(raw))
	for _, r := range raw {
		f, err := DecodeFeedback(r)
		if err != nil {
			return err
		}
		out = append(out, f)
	}
	*l = out
	return nil
}
