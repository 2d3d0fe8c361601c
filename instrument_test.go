package polyvec

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

// stubStore lets each test override exactly the methods it exercises.
type stubStore struct {
	addFn    func(ctx context.Context, collection string, docs []Document) ([]string, error)
	searchFn func(ctx context.Context, collection string, q SimilarityQuery) ([]Match, error)
	pingFn   func(ctx context.Context) error
	closed   bool
}

func (s *stubStore) CreateCollection(context.Context, CollectionSpec) error { return nil }
func (s *stubStore) DropCollection(context.Context, string) error           { return nil }

func (s *stubStore) Add(ctx context.Context, collection string, docs []Document) ([]string, error) {
	if s.addFn != nil {
		return s.addFn(ctx, collection, docs)
	}
	return nil, nil
}

func (s *stubStore) Update(context.Context, string, string, Patch) error { return nil }

func (s *stubStore) Delete(context.Context, string, []string) (int, error) { return 0, nil }

func (s *stubStore) Get(context.Context, string, []string) ([]*Document, error) { return nil, nil }

func (s *stubStore) Exists(context.Context, string, string) (bool, error) { return false, nil }

func (s *stubStore) Count(context.Context, string, Filter) (int, error) { return 0, nil }

func (s *stubStore) Search(ctx context.Context, collection string, q SimilarityQuery) ([]Match, error) {
	if s.searchFn != nil {
		return s.searchFn(ctx, collection, q)
	}
	return nil, nil
}

func (s *stubStore) Capabilities() Capabilities {
	return Capabilities{Consistency: ConsistencyStrong, DuplicateID: DuplicateReject}
}

func (s *stubStore) Ping(ctx context.Context) error {
	if s.pingFn != nil {
		return s.pingFn(ctx)
	}
	return nil
}

func (s *stubStore) Close() error {
	s.closed = true
	return nil
}

func TestInstrument_CountsOperations(t *testing.T) {
	reg := prometheus.NewRegistry()
	inner := &stubStore{
		searchFn: func(context.Context, string, SimilarityQuery) ([]Match, error) {
			return []Match{{Score: 1}}, nil
		},
	}

	s, err := Instrument(inner, "stub", WithRegisterer(reg))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.Search(context.Background(), "col", SimilarityQuery{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Search(context.Background(), "col", SimilarityQuery{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wrapped := s.(*instrumentedStore)
	got := testutil.ToFloat64(wrapped.metrics.operations.WithLabelValues("stub", "search", "ok"))
	if got != 2 {
		t.Errorf("search ok counter = %v, want 2", got)
	}
}

func TestInstrument_CountsErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	boom := errors.New("boom")
	inner := &stubStore{
		addFn: func(context.Context, string, []Document) ([]string, error) {
			return nil, boom
		},
	}

	s, err := Instrument(inner, "stub", WithRegisterer(reg), WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.Add(context.Background(), "col", nil); !errors.Is(err, boom) {
		t.Fatalf("error not passed through: %v", err)
	}

	wrapped := s.(*instrumentedStore)
	got := testutil.ToFloat64(wrapped.metrics.operations.WithLabelValues("stub", "add", "error"))
	if got != 1 {
		t.Errorf("add error counter = %v, want 1", got)
	}
}

func TestInstrument_SharedRegistry(t *testing.T) {
	// Two instrumented stores on one registry must reuse the collectors
	// instead of failing with a duplicate registration.
	reg := prometheus.NewRegistry()
	if _, err := Instrument(&stubStore{}, "a", WithRegisterer(reg)); err != nil {
		t.Fatalf("first instrument: %v", err)
	}
	if _, err := Instrument(&stubStore{}, "b", WithRegisterer(reg)); err != nil {
		t.Fatalf("second instrument: %v", err)
	}
}

func TestInstrument_ForwardsPassthroughs(t *testing.T) {
	inner := &stubStore{}
	s, err := Instrument(inner, "stub")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if caps := s.Capabilities(); caps.DuplicateID != DuplicateReject {
		t.Errorf("capabilities not forwarded: %+v", caps)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("unexpected ping error: %v", err)
	}
	if err := s.Close(); err != nil || !inner.closed {
		t.Error("close not forwarded")
	}
}

func TestInstrument_BackendLabelOverride(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := Instrument(&stubStore{}, "stub", WithRegisterer(reg), WithBackendLabel("custom"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.DropCollection(context.Background(), "col"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wrapped := s.(*instrumentedStore)
	got := testutil.ToFloat64(wrapped.metrics.operations.WithLabelValues("custom", "drop_collection", "ok"))
	if got != 1 {
		t.Errorf("labeled counter = %v, want 1", got)
	}
}
