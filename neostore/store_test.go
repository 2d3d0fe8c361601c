package neostore

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kailas-cloud/polyvec"
)

var testSpec = polyvec.CollectionSpec{
	Name:      "docs",
	Dimension: 3,
	Metric:    polyvec.Cosine,
}

// fakeRunner records executed Cypher and serves canned rows per call.
type fakeRunner struct {
	runFn   func(cypher string, params map[string]any) ([]map[string]any, error)
	queries []string
	closed  bool
}

func (r *fakeRunner) Run(_ context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	r.queries = append(r.queries, cypher)
	if r.runFn != nil {
		return r.runFn(cypher, params)
	}
	return nil, nil
}

func (r *fakeRunner) Close(context.Context) error {
	r.closed = true
	return nil
}

func newTestStore(r *fakeRunner, cfg Config) *Store {
	s := NewWithRunner(r, cfg)
	s.specs[testSpec.Name] = testSpec
	return s
}

func nodeProps(id string, vec []float64, meta map[string]any) map[string]any {
	props := map[string]any{
		"id":         id,
		"collection": "docs",
		"embedding":  vec,
	}
	for k, v := range meta {
		props["m_"+k] = v
	}
	return map[string]any{"props": props}
}

func TestCapabilities(t *testing.T) {
	s := newTestStore(&fakeRunner{}, Config{})
	caps := s.Capabilities()

	if caps.DuplicateID != polyvec.DuplicateReject {
		t.Errorf("duplicate policy = %s, want reject", caps.DuplicateID)
	}
	if caps.Consistency != polyvec.ConsistencyStrong {
		t.Errorf("consistency = %s, want strong", caps.Consistency)
	}
	if caps.SupportsMetric(polyvec.DotProduct) {
		t.Error("dot product must not be a native index metric")
	}
	if !caps.SupportsMetric(polyvec.Cosine) || !caps.SupportsMetric(polyvec.Euclidean) {
		t.Error("cosine and euclidean should be native index metrics")
	}
}

func TestCreateCollection_DotProductNeedsForceExact(t *testing.T) {
	s := newTestStore(&fakeRunner{}, Config{})
	err := s.CreateCollection(context.Background(), polyvec.CollectionSpec{
		Name: "dots", Dimension: 2, Metric: polyvec.DotProduct,
	})
	if !errors.Is(err, polyvec.ErrUnsupportedMetric) {
		t.Fatalf("expected ErrUnsupportedMetric, got %v", err)
	}
}

func TestCreateCollection_ProvisionsIndexes(t *testing.T) {
	r := &fakeRunner{}
	s := newTestStore(r, Config{})

	err := s.CreateCollection(context.Background(), polyvec.CollectionSpec{
		Name: "articles", Dimension: 4, Metric: polyvec.Euclidean,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	joined := strings.Join(r.queries, "\n")
	for _, want := range []string{
		"CREATE (c:PolyvecCollection",
		"REQUIRE n.id IS UNIQUE",
		"CREATE VECTOR INDEX",
		"`vector.dimensions`: 4",
		"'euclidean'",
		"(n:`Polyvec_articles`)",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("queries missing %q:\n%s", want, joined)
		}
	}
}

func TestAdd_RejectsDuplicates(t *testing.T) {
	r := &fakeRunner{
		runFn: func(_ string, params map[string]any) ([]map[string]any, error) {
			if params["id"] == "taken" {
				return nil, nil // no row back: id already present
			}
			return []map[string]any{{"id": params["id"]}}, nil
		},
	}
	s := newTestStore(r, Config{})

	ids, err := s.Add(context.Background(), "docs", []polyvec.Document{
		{ID: "fresh", Vector: []float32{1, 0, 0}},
		{ID: "taken", Vector: []float32{0, 1, 0}},
	})
	if len(ids) != 2 || ids[0] != "fresh" || ids[1] != "taken" {
		t.Errorf("unexpected ids: %v", ids)
	}
	if !errors.Is(err, polyvec.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	var be *polyvec.BatchError
	if !errors.As(err, &be) {
		t.Fatalf("expected BatchError, got %T", err)
	}
	failed := be.Failed()
	if len(failed) != 1 || failed[0].ID != "taken" {
		t.Errorf("unexpected failed items: %+v", failed)
	}
}

func TestAdd_ConstraintViolationIsDuplicate(t *testing.T) {
	// Two concurrent Adds can both pass the existence check; the uniqueness
	// constraint rejects the loser and the error maps to ErrDuplicateID.
	r := &fakeRunner{
		runFn: func(_ string, params map[string]any) ([]map[string]any, error) {
			if params["id"] == "raced" {
				return nil, &neo4j.Neo4jError{
					Code: "Neo.ClientError.Schema.ConstraintValidationFailed",
					Msg:  "node already exists",
				}
			}
			return []map[string]any{{"id": params["id"]}}, nil
		},
	}
	s := newTestStore(r, Config{})

	_, err := s.Add(context.Background(), "docs", []polyvec.Document{
		{ID: "raced", Vector: []float32{1, 0, 0}},
	})
	if !errors.Is(err, polyvec.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestAdd_DimensionMismatchWritesNothing(t *testing.T) {
	r := &fakeRunner{
		runFn: func(string, map[string]any) ([]map[string]any, error) {
			t.Fatal("no query expected")
			return nil, nil
		},
	}
	s := newTestStore(r, Config{})

	_, err := s.Add(context.Background(), "docs", []polyvec.Document{
		{ID: "ok", Vector: []float32{1, 0, 0}},
		{ID: "short", Vector: []float32{1}},
	})
	if !errors.Is(err, polyvec.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	s := newTestStore(&fakeRunner{}, Config{})
	err := s.Update(context.Background(), "docs", "ghost", polyvec.Patch{Vector: []float32{1, 0, 0}})
	if !errors.Is(err, polyvec.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete_ReturnsCount(t *testing.T) {
	r := &fakeRunner{
		runFn: func(cypher string, _ map[string]any) ([]map[string]any, error) {
			if !strings.Contains(cypher, "DETACH DELETE") {
				t.Errorf("unexpected cypher: %s", cypher)
			}
			return []map[string]any{{"deleted": int64(2)}}, nil
		},
	}
	s := newTestStore(r, Config{})

	n, err := s.Delete(context.Background(), "docs", []string{"a", "b", "ghost"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
}

func TestGet_PreservesOrderWithNils(t *testing.T) {
	r := &fakeRunner{
		runFn: func(string, map[string]any) ([]map[string]any, error) {
			return []map[string]any{
				nodeProps("b", []float64{0, 1, 0}, nil),
				nodeProps("a", []float64{1, 0, 0}, map[string]any{"lang": "en"}),
			}, nil
		},
	}
	s := newTestStore(r, Config{})

	docs, err := s.Get(context.Background(), "docs", []string{"a", "ghost", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d entries, want 3", len(docs))
	}
	if docs[0] == nil || docs[0].ID != "a" || docs[0].Metadata["lang"] != "en" {
		t.Errorf("docs[0] = %+v", docs[0])
	}
	if docs[1] != nil {
		t.Errorf("docs[1] = %+v, want nil", docs[1])
	}
	if docs[2] == nil || docs[2].ID != "b" || docs[2].Vector[1] != 1 {
		t.Errorf("docs[2] = %+v", docs[2])
	}
}

func TestCount_MatchNoneSkipsBackend(t *testing.T) {
	r := &fakeRunner{
		runFn: func(string, map[string]any) ([]map[string]any, error) {
			t.Fatal("no query expected")
			return nil, nil
		},
	}
	s := newTestStore(r, Config{})

	n, err := s.Count(context.Background(), "docs", polyvec.Not(polyvec.Filter{}))
	if err != nil || n != 0 {
		t.Fatalf("count = %d err = %v, want 0 and nil", n, err)
	}
}

func TestSearch_ExactRanksAndBreaksTies(t *testing.T) {
	r := &fakeRunner{
		runFn: func(cypher string, _ map[string]any) ([]map[string]any, error) {
			if !strings.HasPrefix(cypher, "MATCH") {
				t.Errorf("expected exact scan, got: %s", cypher)
			}
			return []map[string]any{
				nodeProps("c", []float64{0.9, 0.1, 0}, nil),
				nodeProps("a", []float64{1, 0, 0}, nil),
			}, nil
		},
	}
	s := newTestStore(r, Config{ForceExact: true})

	matches, err := s.Search(context.Background(), "docs", polyvec.SimilarityQuery{
		Vector: []float32{1, 0, 0},
		K:      2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Document.ID != "a" || math.Abs(matches[0].Score-1) > 1e-6 {
		t.Errorf("matches[0] = %s score %v", matches[0].Document.ID, matches[0].Score)
	}
	if matches[1].Document.ID != "c" || matches[1].Score >= matches[0].Score {
		t.Errorf("matches[1] = %s score %v", matches[1].Document.ID, matches[1].Score)
	}
}

func TestSearch_ANNConvertsScores(t *testing.T) {
	r := &fakeRunner{
		runFn: func(cypher string, params map[string]any) ([]map[string]any, error) {
			if !strings.Contains(cypher, "db.index.vector.queryNodes") {
				t.Errorf("expected index query, got: %s", cypher)
			}
			if params["fetch"] != 2 {
				t.Errorf("fetch = %v, want 2 without a filter", params["fetch"])
			}
			rows := []map[string]any{
				nodeProps("best", []float64{1, 0, 0}, nil),
				nodeProps("next", []float64{0.9, 0.1, 0}, nil),
			}
			// Index scores are (1+cos)/2.
			rows[0]["score"] = 1.0
			rows[1]["score"] = 0.95
			return rows, nil
		},
	}
	s := newTestStore(r, Config{})

	matches, err := s.Search(context.Background(), "docs", polyvec.SimilarityQuery{
		Vector: []float32{1, 0, 0},
		K:      2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Document.ID != "best" || math.Abs(matches[0].Score-1) > 1e-9 {
		t.Errorf("matches[0] = %s score %v", matches[0].Document.ID, matches[0].Score)
	}
	if matches[1].Document.ID != "next" || math.Abs(matches[1].Score-0.9) > 1e-9 {
		t.Errorf("matches[1] = %s score %v", matches[1].Document.ID, matches[1].Score)
	}
}

func TestSearch_ANNOverfetchesUnderFilter(t *testing.T) {
	r := &fakeRunner{
		runFn: func(cypher string, params map[string]any) ([]map[string]any, error) {
			if params["fetch"] != 2*annOverfetch {
				t.Errorf("fetch = %v, want %d", params["fetch"], 2*annOverfetch)
			}
			if !strings.Contains(cypher, "WHERE") {
				t.Errorf("expected WHERE clause, got: %s", cypher)
			}
			return nil, nil
		},
	}
	s := newTestStore(r, Config{})

	_, err := s.Search(context.Background(), "docs", polyvec.SimilarityQuery{
		Vector: []float32{1, 0, 0},
		K:      2,
		Filter: polyvec.Eq("lang", "en"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConvertScore(t *testing.T) {
	if got := convertScore(polyvec.Cosine, 1); math.Abs(got-1) > 1e-9 {
		t.Errorf("cosine(1) = %v, want 1", got)
	}
	if got := convertScore(polyvec.Cosine, 0.5); math.Abs(got) > 1e-9 {
		t.Errorf("cosine(0.5) = %v, want 0", got)
	}
	if got := convertScore(polyvec.Euclidean, 0.5); math.Abs(got-1) > 1e-9 {
		t.Errorf("euclidean(0.5) = %v, want 1", got)
	}
	if got := convertScore(polyvec.Euclidean, 1); math.Abs(got) > 1e-9 {
		t.Errorf("euclidean(1) = %v, want 0", got)
	}
	if got := convertScore(polyvec.Euclidean, 0); !math.IsInf(got, 1) {
		t.Errorf("euclidean(0) = %v, want +Inf", got)
	}
}

func TestClose_ReleasesRunner(t *testing.T) {
	r := &fakeRunner{}
	s := newTestStore(r, Config{})
	if err := s.Close(); err != nil || !r.closed {
		t.Error("close not forwarded to runner")
	}
}
