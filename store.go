package polyvec

import (
	"context"
	"fmt"
	"regexp"
)

var collectionNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Metric selects the distance function for a collection.
type Metric string

const (
	// Cosine ranks by cosine similarity (higher is better).
	Cosine Metric = "cosine"
	// Euclidean ranks by L2 distance (lower is better).
	Euclidean Metric = "euclidean"
	// DotProduct ranks by inner product (higher is better).
	DotProduct Metric = "dot"
)

// IsValid reports whether the metric is one of the supported values.
func (m Metric) IsValid() bool {
	return m == Cosine || m == Euclidean || m == DotProduct
}

// Descending reports whether a higher score is a better match for this
// metric. Euclidean scores are distances and sort ascending; cosine and dot
// product scores are similarities and sort descending.
func (m Metric) Descending() bool {
	return m != Euclidean
}

// FieldType enumerates filterable metadata field kinds.
type FieldType string

const (
	// FieldTag is an exact-match string field.
	FieldTag FieldType = "tag"
	// FieldNumeric is a numeric field usable in range filters.
	FieldNumeric FieldType = "numeric"
)

// Field declares a filterable metadata field of a collection.
//
// Adapters with a schema-bound index (redisstore) index exactly the declared
// fields; schemaless adapters accept filters on any metadata key and treat
// the declaration as documentation.
type Field struct {
	Name string
	Type FieldType
}

// CollectionSpec binds a name to a fixed vector dimension and metric.
// A collection must be created before the first insert.
type CollectionSpec struct {
	Name      string
	Dimension int
	Metric    Metric
	Fields    []Field
}

// Validate checks that the spec is well-formed.
func (s CollectionSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: collection name is required", ErrInvalidDocument)
	}
	if len(s.Name) > 64 {
		return fmt.Errorf("%w: collection name too long (max 64)", ErrInvalidDocument)
	}
	if !collectionNameRegex.MatchString(s.Name) {
		return fmt.Errorf("%w: collection name must be alphanumeric with underscores and hyphens", ErrInvalidDocument)
	}
	if s.Dimension <= 0 {
		return fmt.Errorf("%w: vector dimension must be positive", ErrInvalidDocument)
	}
	if !s.Metric.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedMetric, s.Metric)
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: field name is required", ErrInvalidDocument)
		}
		if f.Type != FieldTag && f.Type != FieldNumeric {
			return fmt.Errorf("%w: unknown field type %q", ErrInvalidDocument, f.Type)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidDocument, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// Consistency describes when a write becomes visible to searches.
type Consistency string

const (
	// ConsistencyStrong means a completed write is visible to the next search.
	ConsistencyStrong Consistency = "strong"
	// ConsistencyEventual means index updates lag writes; a search started
	// after an insert completes may not observe the new document yet.
	ConsistencyEventual Consistency = "eventual"
)

// DuplicatePolicy describes what Add does when a caller-supplied id exists.
type DuplicatePolicy string

const (
	// DuplicateUpsert silently replaces the stored document.
	DuplicateUpsert DuplicatePolicy = "upsert"
	// DuplicateReject fails the item with ErrDuplicateID.
	DuplicateReject DuplicatePolicy = "reject"
)

// Capabilities is the per-adapter declaration of backend-defined behavior.
// Tests assert against these instead of assuming one model for all backends.
type Capabilities struct {
	// Metrics the adapter's native index supports. Exact search supports
	// every metric regardless.
	Metrics []Metric
	// Consistency between completed writes and subsequent searches.
	Consistency Consistency
	// DuplicateID behavior of Add.
	DuplicateID DuplicatePolicy
	// AtomicBatch is true when batch mutations are all-or-nothing; false
	// means per-item outcomes are reported via BatchError.
	AtomicBatch bool
	// NativeIndex is true when the backend provides its own vector index
	// (the ANN path); false means every search is an exact scan.
	NativeIndex bool
}

// SupportsMetric reports whether the native index supports m.
func (c Capabilities) SupportsMetric(m Metric) bool {
	for _, sm := range c.Metrics {
		if sm == m {
			return true
		}
	}
	return false
}

// SimilarityQuery is a normalized nearest-neighbor query.
type SimilarityQuery struct {
	// Vector is the query embedding; its length must match the collection
	// dimension.
	Vector []float32
	// K is the number of results to return (K >= 1).
	K int
	// Filter restricts candidates by metadata. The zero Filter matches all.
	Filter Filter
	// Exact forces the brute-force exact path even when a native index
	// exists. Recall-sensitive callers use it as a correctness reference.
	Exact bool
}

// Validate checks the query against a collection spec before any backend
// call is made.
func (q SimilarityQuery) Validate(spec CollectionSpec) error {
	if q.K < 1 {
		return fmt.Errorf("%w: k must be >= 1", ErrInvalidDocument)
	}
	if len(q.Vector) != spec.Dimension {
		return fmt.Errorf("%w: query vector has %d dimensions, collection %q expects %d",
			ErrDimensionMismatch, len(q.Vector), spec.Name, spec.Dimension)
	}
	return q.Filter.Validate()
}

// Match is one ranked search result: an owned copy of the document and its
// score under the collection metric.
type Match struct {
	Document Document
	Score    float64
}

// Store is the contract every backend adapter implements. Implementations
// are safe for concurrent use; ordering between concurrent mutations of the
// same document is whatever the backend provides (typically last-writer-wins).
type Store interface {
	// CreateCollection creates a named collection binding a dimension and
	// metric. Fails with ErrCollectionExists if the name is taken and with
	// ErrUnsupportedMetric if the adapter cannot serve the metric.
	CreateCollection(ctx context.Context, spec CollectionSpec) error

	// DropCollection removes a collection and all of its documents.
	// Dropping an absent collection fails with ErrCollectionNotFound.
	DropCollection(ctx context.Context, name string) error

	// Add inserts documents and returns their ids in input order. Documents
	// without an ID get a generated one. A vector length mismatch fails the
	// whole call before anything is written; per-item backend failures are
	// reported through a BatchError whose results say which ids succeeded.
	Add(ctx context.Context, collection string, docs []Document) ([]string, error)

	// Update applies a partial document to an existing id. Fails with
	// ErrNotFound if the id is absent.
	Update(ctx context.Context, collection, id string, p Patch) error

	// Delete removes documents by id and returns how many existed. Deleting
	// an absent id is not an error; it simply does not count.
	Delete(ctx context.Context, collection string, ids []string) (int, error)

	// Get returns documents in input-id order. Absent ids yield a nil entry
	// rather than being dropped.
	Get(ctx context.Context, collection string, ids []string) ([]*Document, error)

	// Exists reports whether a document id is present.
	Exists(ctx context.Context, collection, id string) (bool, error)

	// Count returns the number of documents matching the filter. The zero
	// Filter counts everything.
	Count(ctx context.Context, collection string, f Filter) (int, error)

	// Search returns up to q.K matches ordered best-first for the
	// collection metric, ties broken by ascending id.
	Search(ctx context.Context, collection string, q SimilarityQuery) ([]Match, error)

	// Capabilities declares the adapter's backend-defined behavior.
	Capabilities() Capabilities

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection. The store is unusable after.
	Close() error
}
