package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tensorzero/curator/internal/model"
)

// Table names a physical record table.
type Table string

const (
	TableChatInference         Table = "chat_inference"
	TableJSONInference         Table = "json_inference"
	TableBooleanFeedback       Table = "boolean_metric_feedback"
	TableFloatFeedback         Table = "float_metric_feedback"
	TableCommentFeedback       Table = "comment_feedback"
	TableDemonstrationFeedback Table = "demonstration_feedback"
)

// Column names shared by several tables.
const (
	ColID           = "id"
	ColFunctionName = "function_name"
	ColVariantName  = "variant_name"
	ColEpisodeID    = "episode_id"
	ColTargetID     = "target_id"
	ColTargetType   = "target_type"
	ColMetricName   = "metric_name"
	ColInferenceID  = "inference_id"
	ColTimestamp    = "timestamp"
)

type tableSpec struct {
	columns    []string
	filterable map[string]bool
	inference  bool
}

var tables = map[Table]tableSpec{
	TableChatInference: {
		columns:    []string{"id", "function_name", "variant_name", "episode_id", "input", "output", "timestamp"},
		filterable: set(ColFunctionName, ColVariantName, ColEpisodeID),
		inference:  true,
	},
	TableJSONInference: {
		columns:    []string{"id", "function_name", "variant_name", "episode_id", "input", "output", "timestamp"},
		filterable: set(ColFunctionName, ColVariantName, ColEpisodeID),
		inference:  true,
	},
	TableBooleanFeedback: {
		columns:    []string{"id", "target_id", "metric_name", "value", "timestamp"},
		filterable: set(ColTargetID, ColMetricName),
	},
	TableFloatFeedback: {
		columns:    []string{"id", "target_id", "metric_name", "value", "timestamp"},
		filterable: set(ColTargetID, ColMetricName),
	},
	TableCommentFeedback: {
		columns:    []string{"id", "target_id", "target_type", "value", "timestamp"},
		filterable: set(ColTargetID, ColTargetType),
	},
	TableDemonstrationFeedback: {
		columns:    []string{"id", "inference_id", "value", "timestamp"},
		filterable: set(ColInferenceID),
	},
}

func set(cols ...string) map[string]bool {
	m := make(map[string]bool, len(cols))
	for _, c := range cols {
		m[c] = true
	}
	return m
}

// Columns returns the select list of t.
func (t Table) Columns() []string { return tables[t].columns }

// IsInference reports whether t holds inferences rather than feedback.
func (t Table) IsInference() bool { return tables[t].inference }

// FunctionType returns the function type stored in an inference table.
func (t Table) FunctionType() model.FunctionType {
	if t == TableJSONInference {
		return model.FunctionTypeJSON
	}
	return model.FunctionTypeChat
}

// FeedbackKind returns the feedback kind stored in a feedback table.
func (t Table) FeedbackKind() model.FeedbackKind {
	switch t {
	case TableBooleanFeedback:
		return model.FeedbackBoolean
	case TableFloatFeedback:
		return model.FeedbackFloat
	case TableCommentFeedback:
		return model.FeedbackComment
	case TableDemonstrationFeedback:
		return model.FeedbackDemonstration
	}
	return ""
}

// InferenceTable maps a function type to its table.
func InferenceTable(ft model.FunctionType) Table {
	if ft == model.FunctionTypeJSON {
		return TableJSONInference
	}
	return TableChatInference
}

// FeedbackTable maps a feedback kind to its table.
func FeedbackTable(k model.FeedbackKind) Table {
	switch k {
	case model.FeedbackBoolean:
		return TableBooleanFeedback
	case model.FeedbackFloat:
		return TableFloatFeedback
	case model.FeedbackComment:
		return TableCommentFeedback
	case model.FeedbackDemonstration:
		return TableDemonstrationFeedback
	}
	return ""
}

// TargetColumn is the column a feedback kind uses to reference its target.
func TargetColumn(k model.FeedbackKind) string {
	if k == model.FeedbackDemonstration {
		return ColInferenceID
	}
	return ColTargetID
}

// Filter is an equality predicate on a whitelisted column.
type Filter struct {
	Column string
	Value  any
}

// Stream identifies an ordered sequence of records: one table narrowed by
// equality filters. It is the "stream key" every read operation takes.
type Stream struct {
	Table   Table
	Filters []Filter
}

// Where returns a copy of s with an extra equality filter.
func (s Stream) Where(column string, value any) Stream {
	out := Stream{Table: s.Table, Filters: make([]Filter, 0, len(s.Filters)+1)}
	out.Filters = append(out.Filters, s.Filters...)
	out.Filters = append(out.Filters, Filter{Column: column, Value: value})
	return out
}

// Validate rejects unknown tables and non-whitelisted filter columns.
func (s Stream) Validate() error {
	spec, ok := tables[s.Table]
	if !ok {
		return fmt.Errorf("storage: unknown table %q", s.Table)
	}
	for _, f := range s.Filters {
		if !spec.filterable[f.Column] {
			return fmt.Errorf("storage: column %q is not filterable on %s", f.Column, s.Table)
		}
	}
	return nil
}

// String renders the stream for logs and span attributes.
func (s Stream) String() string {
	out := string(s.Table)
	for _, f := range s.Filters {
		out += fmt.Sprintf(" %s=%v", f.Column, f.Value)
	}
	return out
}

// InferenceStream is every inference of a function.
func InferenceStream(ft model.FunctionType, functionName string) Stream {
	return Stream{Table: InferenceTable(ft)}.Where(ColFunctionName, functionName)
}

// FeedbackStream is every feedback record of one kind for a target.
func FeedbackStream(k model.FeedbackKind, target uuid.UUID) Stream {
	return Stream{Table: FeedbackTable(k)}.Where(TargetColumn(k), target)
}

// MetricStream is every feedback record for a named boolean or float metric.
func MetricStream(k model.FeedbackKind, metricName string) Stream {
	return Stream{Table: FeedbackTable(k)}.Where(ColMetricName, metricName)
}

// Order is the id ordering of a scan.
type Order int

const (
	Descending Order = iota
	Ascending
)

func (o Order) String() string {
	if o == Ascending {
		return "ASC"
	}
	return "DESC"
}

// ScanRequest is a range scan over one stream. After and Before are
// exclusive id bounds; Limit <= 0 means unbounded.
type ScanRequest struct {
	Stream Stream
	After  *uuid.UUID
	Before *uuid.UUID
	Limit  int
	Order  Order
}

// RecordStore is the read interface over the backing store.
type RecordStore interface {
	// ScanInferences range-scans an inference stream.
	ScanInferences(ctx context.Context, req ScanRequest) ([]model.Inference, error)
	// ScanFeedback range-scans a feedback stream.
	ScanFeedback(ctx context.Context, req ScanRequest) ([]model.Feedback, error)
	// LatestFeedback keeps the newest record per partition of the stream
	// (greatest timestamp, ties to greatest id), sorted by id descending.
	LatestFeedback(ctx context.Context, s Stream, partitionBy ...string) ([]model.Feedback, error)
	// Bounds returns the min and max id of the stream.
	Bounds(ctx context.Context, s Stream) (model.Bounds, error)
	// Count returns the number of records in the stream.
	Count(ctx context.Context, s Stream) (int64, error)
	Ping(ctx context.Context) error
}

// Writer accepts records. Used by fixtures and the seed command.
type Writer interface {
	InsertInference(ctx context.Context, inf model.Inference) error
	InsertFeedback(ctx context.Context, f model.Feedback) error
}

// Store is a RecordStore that can also be written to and closed.
type Store interface {
	RecordStore
	Writer
	Backend() string
	Close(ctx context.Context)
}
