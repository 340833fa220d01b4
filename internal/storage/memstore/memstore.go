// Package memstore is an in-process RecordStore. It holds every table in
// id-sorted slices and is used by tests, demos and the "memory:" backend.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tensorzero/curator/internal/dedup"
	"github.com/tensorzero/curator/internal/id"
	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/storage"
)

// Store is the in-memory RecordStore. Safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	inferences map[storage.Table][]model.Inference
	feedback   map[storage.Table][]model.Feedback
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		inferences: make(map[storage.Table][]model.Inference),
		feedback:   make(map[storage.Table][]model.Feedback),
	}
}

// Backend names the store implementation.
func (s *Store) Backend() string { return "memory" }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close(context.Context) {}

// InsertInference adds an inference, keeping its table sorted by id.
func (s *Store) InsertInference(_ context.Context, inf model.Inference) error {
	if !inf.FunctionType.Valid() {
		return fmt.Errorf("memstore: invalid function type %q", inf.FunctionType)
	}
	inf.Timestamp = stamp(inf.Timestamp, inf.ID)
	t := storage.InferenceTable(inf.FunctionType)

	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.inferences[t]
	i := sort.Search(len(rows), func(i int) bool { return !id.Less(rows[i].ID, inf.ID) })
	if i < len(rows) && rows[i].ID == inf.ID {
		return fmt.Errorf("memstore: duplicate inference id %s", inf.ID)
	}
	rows = append(rows, model.Inference{})
	copy(rows[i+1:], rows[i:])
	rows[i] = inf
	s.inferences[t] = rows
	return nil
}

// InsertFeedback adds a feedback record, keeping its table sorted by id.
func (s *Store) InsertFeedback(_ context.Context, f model.Feedback) error {
	f, err := restamp(f)
	if err != nil {
		return err
	}
	t := storage.FeedbackTable(f.Kind())

	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.feedback[t]
	fid := f.FeedbackID()
	i := sort.Search(len(rows), func(i int) bool { return !id.Less(rows[i].FeedbackID(), fid) })
	if i < len(rows) && rows[i].FeedbackID() == fid {
		return fmt.Errorf("memstore: duplicate feedback id %s", fid)
	}
	rows = append(rows, nil)
	copy(rows[i+1:], rows[i:])
	rows[i] = f
	s.feedback[t] = rows
	return nil
}

// ScanInferences range-scans an inference stream.
func (s *Store) ScanInferences(ctx context.Context, req storage.ScanRequest) ([]model.Inference, error) {
	if err := checkStream(req.Stream, true); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scan(ctx, s.inferences[req.Stream.Table], req, func(r model.Inference) uuid.UUID { return r.ID }, inferenceColumn)
}

// ScanFeedback range-scans a feedback stream.
func (s *Store) ScanFeedback(ctx context.Context, req storage.ScanRequest) ([]model.Feedback, error) {
	if err := checkStream(req.Stream, false); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scan(ctx, s.feedback[req.Stream.Table], req, model.Feedback.FeedbackID, feedbackColumn)
}

// LatestFeedback returns the newest record per partition of the stream.
func (s *Store) LatestFeedback(ctx context.Context, st storage.Stream, partitionBy ...string) ([]model.Feedback, error) {
	if err := checkStream(st, false); err != nil {
		return nil, err
	}
	if len(partitionBy) == 0 {
		return nil, fmt.Errorf("memstore: latest: partition column required")
	}
	s.mu.RLock()
	rows, err := scan(ctx, s.feedback[st.Table], storage.ScanRequest{Stream: st}, model.Feedback.FeedbackID, feedbackColumn)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	for _, p := range partitionBy {
		if err := st.Where(p, nil).Validate(); err != nil {
			return nil, err
		}
	}
	key := func(f model.Feedback) string {
		var k string
		for _, p := range partitionBy {
			v, _ := feedbackColumn(f, p)
			k += fmt.Sprintf("%v\x00", v)
		}
		return k
	}
	return dedup.Latest(rows, key, model.Feedback.FeedbackTimestamp, model.Feedback.FeedbackID), nil
}

// Bounds returns the min and max id of the stream.
func (s *Store) Bounds(ctx context.Context, st storage.Stream) (model.Bounds, error) {
	ids, err := s.ids(ctx, st)
	if err != nil {
		return model.Bounds{}, err
	}
	if len(ids) == 0 {
		return model.Bounds{}, nil
	}
	first, last := ids[0], ids[len(ids)-1]
	return model.Bounds{FirstID: &first, LastID: &last}, nil
}

// Count returns the number of records in the stream.
func (s *Store) Count(ctx context.Context, st storage.Stream) (int64, error) {
	ids, err := s.ids(ctx, st)
	return int64(len(ids)), err
}

// ids returns the ascending ids of a stream of either family.
func (s *Store) ids(ctx context.Context, st storage.Stream) ([]uuid.UUID, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	req := storage.ScanRequest{Stream: st, Order: storage.Ascending}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st.Table.IsInference() {
		rows, err := scan(ctx, s.inferences[st.Table], req, func(r model.Inference) uuid.UUID { return r.ID }, inferenceColumn)
		out := make([]uuid.UUID, len(rows))
		for i, r := range rows {
			out[i] = r.ID
		}
		return out, err
	}
	rows, err := scan(ctx, s.feedback[st.Table], req, model.Feedback.FeedbackID, feedbackColumn)
	out := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		out[i] = r.FeedbackID()
	}
	return out, err
}

func checkStream(st storage.Stream, inference bool) error {
	if err := st.Validate(); err != nil {
		return err
	}
	if st.Table.IsInference() != inference {
		return fmt.Errorf("%w: %s", storage.ErrWrongTable, st.Table)
	}
	return nil
}

// scan filters an id-ascending slice and applies bounds, order and limit.
func scan[T any](
	ctx context.Context,
	rows []T,
	req storage.ScanRequest,
	rowID func(T) uuid.UUID,
	column func(T, string) (any, bool),
) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var matched []T
	for _, r := range rows {
		if !matches(r, req.Stream.Filters, column) {
			continue
		}
		rid := rowID(r)
		if req.After != nil && !id.Less(*req.After, rid) {
			continue
		}
		if req.Before != nil && !id.Less(rid, *req.Before) {
			continue
		}
		matched = append(matched, r)
	}
	if req.Order == storage.Descending {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if req.Limit > 0 && len(matched) > req.Limit {
		matched = matched[:req.Limit]
	}
	return matched, nil
}

func matches[T any](r T, filters []storage.Filter, column func(T, string) (any, bool)) bool {
	for _, f := range filters {
		v, ok := column(r, f.Column)
		if !ok || !equal(v, f.Value) {
			return false
		}
	}
	return true
}

// equal compares a column value with a filter value, accepting string forms
// of ids so callers may filter with either.
func equal(col, want any) bool {
	switch w := want.(type) {
	case uuid.UUID:
		c, ok := col.(uuid.UUID)
		return ok && c == w
	case string:
		switch c := col.(type) {
		case string:
			return c == w
		case uuid.UUID:
			return c.String() == w
		}
		return false
	case model.TargetType:
		c, ok := col.(string)
		return ok && c == string(w)
	}
	return col == want
}

func inferenceColumn(r model.Inference, col string) (any, bool) {
	switch col {
	case storage.ColFunctionName:
		return r.FunctionName, true
	case storage.ColVariantName:
		return r.VariantName, true
	case storage.ColEpisodeID:
		return r.EpisodeID, true
	case storage.ColID:
		return r.ID, true
	}
	return nil, false
}

func feedbackColumn(r model.Feedback, col string) (any, bool) {
	switch f := r.(type) {
	case model.BooleanMetricFeedback:
		switch col {
		case storage.ColTargetID:
			return f.TargetID, true
		case storage.ColMetricName:
			return f.MetricName, true
		}
	case model.FloatMetricFeedback:
		switch col {
		case storage.ColTargetID:
			return f.TargetID, true
		case storage.ColMetricName:
			return f.MetricName, true
		}
	case model.CommentFeedback:
		switch col {
		case storage.ColTargetID:
			return f.TargetID, true
		case storage.ColTargetType:
			return string(f.TargetType), true
		}
	case model.DemonstrationFeedback:
		if col == storage.ColInferenceID {
			return f.InferenceID, true
		}
	}
	return nil, false
}

// stamp mirrors the SQL stores: second granularity, derived from the id when
// unset.
func stamp(ts time.Time, u uuid.UUID) time.Time {
	if ts.IsZero() {
		ts = id.Timestamp(u)
	}
	return ts.UTC().Truncate(time.Second)
}

func restamp(f model.Feedback) (model.Feedback, error) {
	switch v := f.(type) {
	case model.BooleanMetricFeedback:
		v.Timestamp = stamp(v.Timestamp, v.ID)
		return v, nil
	case model.FloatMetricFeedback:
		v.Timestamp = stamp(v.Timestamp, v.ID)
		return v, nil
	case model.CommentFeedback:
		v.Timestamp = stamp(v.Timestamp, v.ID)
		return v, nil
	case model.DemonstrationFeedback:
		v.Timestamp = stamp(v.Timestamp, v.ID)
		return v, nil
	}
	return nil, fmt.Errorf("memstore: unsupported feedback type %T", f)
}
