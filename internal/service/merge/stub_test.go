package merge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/storage"
)

// stubStore returns empty results, or assert.AnError for failTable.
type stubStore struct {
	failTable storage.Table
	calls     atomic.Int64
}

func (s *stubStore) fail(t storage.Table) error {
	s.calls.Add(1)
	if t == s.failTable {
		return assert.AnError
	}
	return nil
}

func (s *stubStore) ScanInferences(_ context.Context, req storage.ScanRequest) ([]model.Inference, error) {
	return nil, s.fail(req.Stream.Table)
}

func (s *stubStore) ScanFeedback(_ context.Context, req storage.ScanRequest) ([]model.Feedback, error) {
	return nil, s.fail(req.Stream.Table)
}

func (s *stubStore) LatestFeedback(_ context.Context, st storage.Stream, _ ...string) ([]model.Feedback, error) {
	return nil, s.fail(st.Table)
}

func (s *stubStore) Bounds(_ context.Context, st storage.Stream) (model.Bounds, error) {
	return model.Bounds{}, s.fail(st.Table)
}

func (s *stubStore) Count(_ context.Context, st storage.Stream) (int64, error) {
	return 0, s.fail(st.Table)
}

func (s *stubStore) Ping(context.Context) error { return nil }

// barrierStore holds every read until n reads are in flight at once, so a
// caller that issues them one at a time times out instead of completing.
type barrierStore struct {
	stubStore
	n       int
	timeout time.Duration

	mu      sync.Mutex
	arrived int
	open    chan struct{}
}

func newBarrierStore(n int) *barrierStore {
	return &barrierStore{n: n, timeout: 2 * time.Second, open: make(chan struct{})}
}

func (s *barrierStore) wait(ctx context.Context, t storage.Table) error {
	s.mu.Lock()
	s.arrived++
	if s.arrived == s.n {
		close(s.open)
	}
	s.mu.Unlock()

	select {
	case <-s.open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.timeout):
		return fmt.Errorf("read of %s waited %s for the other branches", t, s.timeout)
	}
}

func (s *barrierStore) ScanFeedback(ctx context.Context, req storage.ScanRequest) ([]model.Feedback, error) {
	return nil, s.wait(ctx, req.Stream.Table)
}

func (s *barrierStore) LatestFeedback(ctx context.Context, st storage.Stream, _ ...string) ([]model.Feedback, error) {
	return nil, s.wait(ctx, st.Table)
}

func (s *barrierStore) Bounds(ctx context.Context, st storage.Stream) (model.Bounds, error) {
	return model.Bounds{}, s.wait(ctx, st.Table)
}

func (s *barrierStore) Count(ctx context.Context, st storage.Stream) (int64, error) {
	return 0, s.wait(ctx, st.Table)
}
