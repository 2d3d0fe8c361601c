package polyvec

import "errors"

// Error taxonomy shared by all adapters. Backend-native errors are mapped
// onto these at the driver boundary and never leak to the caller.
// Use errors.Is to check.
var (
	// ErrDimensionMismatch signals a vector whose length disagrees with the
	// collection's configured dimension.
	ErrDimensionMismatch = errors.New("polyvec: vector dimension mismatch")
	// ErrCollectionNotFound signals an operation against an absent collection.
	ErrCollectionNotFound = errors.New("polyvec: collection not found")
	// ErrCollectionExists signals a duplicate collection name.
	ErrCollectionExists = errors.New("polyvec: collection already exists")
	// ErrNotFound signals an operation targeting a missing document id.
	ErrNotFound = errors.New("polyvec: document not found")
	// ErrDuplicateID signals a uniqueness violation on adapters that reject
	// duplicate ids (see Capabilities.DuplicateID).
	ErrDuplicateID = errors.New("polyvec: duplicate document id")
	// ErrUnsupportedMetric signals a distance metric the adapter cannot
	// serve. Raised when the collection is created or opened, not at query
	// time.
	ErrUnsupportedMetric = errors.New("polyvec: unsupported distance metric")
	// ErrBackendUnavailable signals a connectivity or timeout failure.
	// Retryable by the caller; the store never retries internally because
	// blind retries of non-idempotent mutations are unsafe.
	ErrBackendUnavailable = errors.New("polyvec: backend unavailable")
	// ErrTranslation signals a filter predicate the target backend's query
	// language cannot express.
	ErrTranslation = errors.New("polyvec: filter not translatable")
	// ErrInvalidDocument signals a document or argument that fails
	// validation before any backend call.
	ErrInvalidDocument = errors.New("polyvec: invalid document")
)

// OpError wraps a backend failure with the operation and adapter name for
// diagnostics while keeping the taxonomy sentinel reachable via errors.Is.
type OpError struct {
	Backend string // adapter name, e.g. "redis"
	Op      string // operation, e.g. "search"
	Err     error
}

func (e *OpError) Error() string {
	return "polyvec: " + e.Backend + ": " + e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }
