package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tensorzero/curator/internal/id"
	"github.com/tensorzero/curator/internal/model"
)

// Dialect selects placeholder syntax and argument encoding.
type Dialect int

const (
	// Postgres uses $N placeholders and native uuid/timestamptz/jsonb values.
	Postgres Dialect = iota
	// SQLite uses ? placeholders and stores ids as TEXT, timestamps as Unix
	// seconds and JSON as TEXT.
	SQLite
)

// Query is SQL text plus its positional arguments.
type Query struct {
	SQL  string
	Args []any
}

type builder struct {
	dialect Dialect
	args    []any
}

// arg records v and returns its placeholder.
func (b *builder) arg(v any) string {
	b.args = append(b.args, b.dialect.Value(v))
	if b.dialect == SQLite {
		return "?"
	}
	return "$" + strconv.Itoa(len(b.args))
}

// Value converts a Go value to the representation the dialect stores.
func (d Dialect) Value(v any) any {
	if d != SQLite {
		return v
	}
	switch x := v.(type) {
	case uuid.UUID:
		return x.String()
	case *uuid.UUID:
		if x == nil {
			return nil
		}
		return x.String()
	case time.Time:
		return x.Unix()
	case json.RawMessage:
		return string(x)
	case []byte:
		return string(x)
	case model.TargetType:
		return string(x)
	}
	return v
}

// where renders the stream filters plus optional exclusive id bounds.
func (b *builder) where(s Stream, after, before *uuid.UUID) string {
	var conditions []string
	for _, f := range s.Filters {
		conditions = append(conditions, fmt.Sprintf("%s = %s", f.Column, b.arg(f.Value)))
	}
	if after != nil {
		conditions = append(conditions, fmt.Sprintf("id > %s", b.arg(*after)))
	}
	if before != nil {
		conditions = append(conditions, fmt.Sprintf("id < %s", b.arg(*before)))
	}
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}

// BuildScan renders a range scan.
func BuildScan(d Dialect, req ScanRequest) (Query, error) {
	if err := req.Stream.Validate(); err != nil {
		return Query{}, err
	}
	b := &builder{dialect: d}
	cols := strings.Join(req.Stream.Table.Columns(), ", ")
	sql := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY id %s",
		cols, req.Stream.Table, b.where(req.Stream, req.After, req.Before), req.Order)
	if req.Limit > 0 {
		sql += " LIMIT " + b.arg(req.Limit)
	}
	return Query{SQL: sql, Args: b.args}, nil
}

// BuildBounds renders a min/max id lookup. Each side is an index-ordered
// subquery so an empty stream yields NULLs rather than no row.
func BuildBounds(d Dialect, s Stream) (Query, error) {
	if err := s.Validate(); err != nil {
		return Query{}, err
	}
	b := &builder{dialect: d}
	first := fmt.Sprintf("SELECT id FROM %s%s ORDER BY id ASC LIMIT 1", s.Table, b.where(s, nil, nil))
	last := fmt.Sprintf("SELECT id FROM %s%s ORDER BY id DESC LIMIT 1", s.Table, b.where(s, nil, nil))
	return Query{
		SQL:  fmt.Sprintf("SELECT (%s) AS first_id, (%s) AS last_id", first, last),
		Args: b.args,
	}, nil
}

// BuildCount renders a record count.
func BuildCount(d Dialect, s Stream) (Query, error) {
	if err := s.Validate(); err != nil {
		return Query{}, err
	}
	b := &builder{dialect: d}
	return Query{
		SQL:  fmt.Sprintf("SELECT COUNT(*) FROM %s%s", s.Table, b.where(s, nil, nil)),
		Args: b.args,
	}, nil
}

// BuildLatest renders the latest-per-partition window query.
func BuildLatest(d Dialect, s Stream, partitionBy []string) (Query, error) {
	if err := s.Validate(); err != nil {
		return Query{}, err
	}
	if len(partitionBy) == 0 {
		return Query{}, fmt.Errorf("storage: latest: partition column required")
	}
	spec := tables[s.Table]
	for _, p := range partitionBy {
		if !spec.filterable[p] {
			return Query{}, fmt.Errorf("storage: column %q cannot partition %s", p, s.Table)
		}
	}
	b := &builder{dialect: d}
	cols := strings.Join(s.Table.Columns(), ", ")
	sql := fmt.Sprintf(
		"SELECT %s FROM (SELECT %s, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY timestamp DESC, id DESC) AS rn FROM %s%s) ranked WHERE rn = 1 ORDER BY id DESC",
		cols, cols, strings.Join(partitionBy, ", "), s.Table, b.where(s, nil, nil))
	return Query{SQL: sql, Args: b.args}, nil
}

// BuildInsertInference renders an insert into the inference table matching
// the function type.
func BuildInsertInference(d Dialect, inf model.Inference) (Query, error) {
	input, err := json.Marshal(inf.Input)
	if err != nil {
		return Query{}, fmt.Errorf("storage: encode input: %w", err)
	}
	output, err := json.Marshal(inf.Output)
	if err != nil {
		return Query{}, fmt.Errorf("storage: encode output: %w", err)
	}
	return buildInsert(d, InferenceTable(inf.FunctionType),
		inf.ID, inf.FunctionName, inf.VariantName, inf.EpisodeID,
		json.RawMessage(input), json.RawMessage(output), stamp(inf.Timestamp, inf.ID)), nil
}

// BuildInsertFeedback renders an insert into the table of f's kind.
func BuildInsertFeedback(d Dialect, f model.Feedback) (Query, error) {
	switch v := f.(type) {
	case model.BooleanMetricFeedback:
		return buildInsert(d, TableBooleanFeedback, v.ID, v.TargetID, v.MetricName, v.Value, stamp(v.Timestamp, v.ID)), nil
	case model.FloatMetricFeedback:
		return buildInsert(d, TableFloatFeedback, v.ID, v.TargetID, v.MetricName, v.Value, stamp(v.Timestamp, v.ID)), nil
	case model.CommentFeedback:
		return buildInsert(d, TableCommentFeedback, v.ID, v.TargetID, v.TargetType, v.Value, stamp(v.Timestamp, v.ID)), nil
	case model.DemonstrationFeedback:
		return buildInsert(d, TableDemonstrationFeedback, v.ID, v.InferenceID, v.Value, stamp(v.Timestamp, v.ID)), nil
	}
	return Query{}, fmt.Errorf("storage: unsupported feedback type %T", f)
}

// stamp stores timestamps at second granularity, deriving them from the id
// when unset.
func stamp(ts time.Time, u uuid.UUID) time.Time {
	if ts.IsZero() {
		ts = id.Timestamp(u)
	}
	return ts.UTC().Truncate(time.Second)
}

func buildInsert(d Dialect, t Table, values ...any) Query {
	b := &builder{dialect: d}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = b.arg(v)
	}
	return Query{
		SQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			t, strings.Join(t.Columns(), ", "), strings.Join(placeholders, ", ")),
		Args: b.args,
	}
}
