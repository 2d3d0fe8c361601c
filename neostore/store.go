// Package neostore implements the polyvec Store contract on Neo4j. Documents
// are stored as nodes labeled per collection (Neo4j has no native namespaces,
// so the label plus a collection property provide the scoping transparently);
// filters translate to parameterized Cypher WHERE clauses.
//
// Backend-declared behavior: Add rejects duplicate ids, writes are strongly
// consistent with subsequent reads, and the native vector index supports
// cosine and euclidean only, so a dot-product collection requires exact search.
package neostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jcfg "github.com/neo4j/neo4j-go-driver/v5/neo4j/config"

	"github.com/kailas-cloud/polyvec"
)

const backendName = "neo4j"

// metaLabel marks the nodes holding collection specs.
const metaLabel = "PolyvecCollection"

// annOverfetch widens filtered index queries: the vector index knows nothing
// about the metadata predicate, so we over-fetch and trim after filtering.
// Recall under a selective filter is best-effort, backend-defined.
const annOverfetch = 4

// Compile-time check: Store implements the contract.
var _ polyvec.Store = (*Store)(nil)

// Config holds connection parameters.
type Config struct {
	// URI is the bolt/neo4j connection string, e.g. "neo4j://localhost:7687".
	URI      string
	Username string
	Password string
	// Database is the target database name. Empty uses the server default.
	Database string

	// LabelPrefix namespaces the node labels this store creates.
	// Default "Polyvec".
	LabelPrefix string

	// MaxConnPoolSize caps the driver connection pool (0 = driver default).
	MaxConnPoolSize int
	// ConnAcquisitionTimeout bounds the wait for a pooled connection when
	// the pool is exhausted (0 = driver default).
	ConnAcquisitionTimeout time.Duration

	// ForceExact bypasses the native vector index on every search. Required
	// for dot-product collections, which the index cannot serve.
	ForceExact bool
}

func (c *Config) applyDefaults() {
	if c.LabelPrefix == "" {
		c.LabelPrefix = "Polyvec"
	}
}

// runner is the consumer interface over the driver: one Cypher round-trip
// returning eager records. Tests substitute it; production uses the neo4j
// driver.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	Close(ctx context.Context) error
}

// Store is the Neo4j graph-database adapter.
type Store struct {
	run         runner
	labelPrefix string
	forceExact  bool

	mu    sync.RWMutex
	specs map[string]polyvec.CollectionSpec
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neostore: uri is required")
	}
	cfg.applyDefaults()

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4jcfg.Config) {
			if cfg.MaxConnPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxConnPoolSize
			}
			if cfg.ConnAcquisitionTimeout > 0 {
				c.ConnectionAcquisitionTimeout = cfg.ConnAcquisitionTimeout
			}
		})
	if err != nil {
		return nil, fmt.Errorf("neostore: create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, &polyvec.OpError{
			Backend: backendName, Op: "connect",
			Err: fmt.Errorf("%w: %v", polyvec.ErrBackendUnavailable, err),
		}
	}

	return NewWithRunner(&neoRunner{driver: driver, database: cfg.Database}, cfg), nil
}

// NewWithRunner wraps an existing query runner. The store takes ownership
// and closes it on Close.
func NewWithRunner(r runner, cfg Config) *Store {
	cfg.applyDefaults()
	return &Store{
		run:         r,
		labelPrefix: cfg.LabelPrefix,
		forceExact:  cfg.ForceExact,
		specs:       make(map[string]polyvec.CollectionSpec),
	}
}

// neoRunner executes Cypher through the official driver.
type neoRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (r *neoRunner) Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	res, err := neo4j.ExecuteQuery(ctx, r.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(r.database),
	)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, len(res.Records))
	for i, rec := range res.Records {
		rows[i] = rec.AsMap()
	}
	return rows, nil
}

func (r *neoRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// Capabilities declares the adapter's backend-defined behavior.
func (s *Store) Capabilities() polyvec.Capabilities {
	return polyvec.Capabilities{
		Metrics:     []polyvec.Metric{polyvec.Cosine, polyvec.Euclidean},
		Consistency: polyvec.ConsistencyStrong,
		DuplicateID: polyvec.DuplicateReject,
		AtomicBatch: false,
		NativeIndex: !s.forceExact,
	}
}

// Ping checks connectivity with a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.run.Run(ctx, "RETURN 1", nil)
	return s.wrap("ping", err)
}

// Close releases the driver.
func (s *Store) Close() error {
	return s.run.Close(context.Background())
}

// CreateCollection stores the spec as a meta node and provisions the native
// vector index. A dot-product metric is a construction-time configuration
// error unless exact search is forced: the Neo4j index cannot serve it.
func (s *Store) CreateCollection(ctx context.Context, spec polyvec.CollectionSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if spec.Metric == polyvec.DotProduct && !s.forceExact {
		return fmt.Errorf("%w: %q has no native index support on %s (set ForceExact to use exact search)",
			polyvec.ErrUnsupportedMetric, spec.Metric, backendName)
	}

	rows, err := s.run.Run(ctx,
		"MATCH (c:"+metaLabel+" {name: $name}) RETURN c.name",
		map[string]any{"name": spec.Name})
	if err != nil {
		return s.wrap("create_collection", err)
	}
	if len(rows) > 0 {
		return fmt.Errorf("%w: %q", polyvec.ErrCollectionExists, spec.Name)
	}

	_, err = s.run.Run(ctx,
		"CREATE (c:"+metaLabel+" {name: $name, dimension: $dimension, metric: $metric})",
		map[string]any{"name": spec.Name, "dimension": spec.Dimension, "metric": string(spec.Metric)})
	if err != nil {
		return s.wrap("create_collection", err)
	}

	// The uniqueness constraint both backs id lookups and closes the race
	// window between two concurrent Adds of the same id.
	label := s.label(spec.Name)
	_, err = s.run.Run(ctx,
		fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE",
			escapeIdent(s.indexName(spec.Name)+"_id"), label), nil)
	if err != nil {
		return s.wrap("create_collection", err)
	}

	if !s.forceExact {
		_, err = s.run.Run(ctx, fmt.Sprintf(
			"CREATE VECTOR INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.embedding) "+
				"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: '%s'}}",
			escapeIdent(s.indexName(spec.Name)), label, spec.Dimension, similarityFunction(spec.Metric)), nil)
		if err != nil {
			return s.wrap("create_collection", err)
		}
	}

	s.mu.Lock()
	s.specs[spec.Name] = spec
	s.mu.Unlock()
	return nil
}

// DropCollection deletes the documents, indexes and meta node.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	if _, err := s.spec(ctx, name); err != nil {
		return err
	}

	if _, err := s.run.Run(ctx,
		fmt.Sprintf("MATCH (n:%s) DETACH DELETE n", s.label(name)), nil); err != nil {
		return s.wrap("drop_collection", err)
	}
	if _, err := s.run.Run(ctx,
		fmt.Sprintf("DROP INDEX %s IF EXISTS", escapeIdent(s.indexName(name))), nil); err != nil {
		return s.wrap("drop_collection", err)
	}
	if _, err := s.run.Run(ctx,
		fmt.Sprintf("DROP CONSTRAINT %s IF EXISTS", escapeIdent(s.indexName(name)+"_id")), nil); err != nil {
		return s.wrap("drop_collection", err)
	}
	if _, err := s.run.Run(ctx,
		"MATCH (c:"+metaLabel+" {name: $name}) DELETE c",
		map[string]any{"name": name}); err != nil {
		return s.wrap("drop_collection", err)
	}

	s.mu.Lock()
	delete(s.specs, name)
	s.mu.Unlock()
	return nil
}

// Add inserts documents, rejecting duplicate ids. Validation covers the
// whole batch before anything is written; per-item backend failures are
// reported through a BatchError.
func (s *Store) Add(ctx context.Context, collection string, docs []polyvec.Document) ([]string, error) {
	spec, err := s.spec(ctx, collection)
	if err != nil {
		return nil, err
	}

	prepared := make([]polyvec.Document, len(docs))
	for i, doc := range docs {
		if err := doc.Validate(spec.Dimension); err != nil {
			return nil, err
		}
		prepared[i] = polyvec.EnsureID(doc)
	}

	// Create only when no node with the id exists: zero returned rows
	// means the id was taken.
	createCypher := fmt.Sprintf(
		"OPTIONAL MATCH (e:%s {id: $id}) WITH e WHERE e IS NULL "+
			"CREATE (n:%s) SET n = $props RETURN n.id AS id",
		s.label(collection), s.label(collection))

	ids := make([]string, len(prepared))
	results := make([]polyvec.ItemResult, len(prepared))
	failed := false

	for i, doc := range prepared {
		ids[i] = doc.ID
		rows, err := s.run.Run(ctx, createCypher, map[string]any{
			"id":    doc.ID,
			"props": docToProps(collection, doc),
		})
		switch {
		case isConstraintViolation(err):
			// A concurrent Add won the race past the existence check; the
			// uniqueness constraint rejected the second node.
			results[i] = polyvec.ItemResult{ID: doc.ID, Err: fmt.Errorf("%w: %q", polyvec.ErrDuplicateID, doc.ID)}
			failed = true
		case err != nil:
			results[i] = polyvec.ItemResult{ID: doc.ID, Err: s.wrap("add", err)}
			failed = true
		case len(rows) == 0:
			results[i] = polyvec.ItemResult{ID: doc.ID, Err: fmt.Errorf("%w: %q", polyvec.ErrDuplicateID, doc.ID)}
			failed = true
		default:
			results[i] = polyvec.ItemResult{ID: doc.ID}
		}
	}

	if failed {
		return ids, &polyvec.BatchError{Op: "add", Results: results}
	}
	return ids, nil
}

// Update reads, patches and rewrites a node's properties. Overlapping
// concurrent updates are last-writer-wins.
func (s *Store) Update(ctx context.Context, collection, id string, p polyvec.Patch) error {
	spec, err := s.spec(ctx, collection)
	if err != nil {
		return err
	}
	if err := p.Validate(spec.Dimension); err != nil {
		return err
	}

	docs, err := s.fetchByIDs(ctx, collection, []string{id})
	if err != nil {
		return err
	}
	doc, ok := docs[id]
	if !ok {
		return fmt.Errorf("%w: %q", polyvec.ErrNotFound, id)
	}

	updated := p.Apply(doc)
	_, err = s.run.Run(ctx,
		fmt.Sprintf("MATCH (n:%s {id: $id}) SET n = $props", s.label(collection)),
		map[string]any{"id": id, "props": docToProps(collection, updated)})
	return s.wrap("update", err)
}

// Delete removes nodes by id and returns how many existed.
func (s *Store) Delete(ctx context.Context, collection string, ids []string) (int, error) {
	if _, err := s.spec(ctx, collection); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	rows, err := s.run.Run(ctx,
		fmt.Sprintf("MATCH (n:%s) WHERE n.id IN $ids DETACH DELETE n RETURN count(n) AS deleted", s.label(collection)),
		map[string]any{"ids": ids})
	if err != nil {
		return 0, s.wrap("delete", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return asInt(rows[0]["deleted"]), nil
}

// Get returns documents in input-id order; absent ids yield nil entries.
func (s *Store) Get(ctx context.Context, collection string, ids []string) ([]*polyvec.Document, error) {
	if _, err := s.spec(ctx, collection); err != nil {
		return nil, err
	}

	found, err := s.fetchByIDs(ctx, collection, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*polyvec.Document, len(ids))
	for i, id := range ids {
		if doc, ok := found[id]; ok {
			d := doc
			out[i] = &d
		}
	}
	return out, nil
}

// Exists reports whether a document id is present.
func (s *Store) Exists(ctx context.Context, collection, id string) (bool, error) {
	if _, err := s.spec(ctx, collection); err != nil {
		return false, err
	}
	rows, err := s.run.Run(ctx,
		fmt.Sprintf("MATCH (n:%s {id: $id}) RETURN n.id", s.label(collection)),
		map[string]any{"id": id})
	if err != nil {
		return false, s.wrap("exists", err)
	}
	return len(rows) > 0, nil
}

// Count returns the number of nodes matching the filter.
func (s *Store) Count(ctx context.Context, collection string, f polyvec.Filter) (int, error) {
	if _, err := s.spec(ctx, collection); err != nil {
		return 0, err
	}
	if err := f.Validate(); err != nil {
		return 0, err
	}

	cf, err := translateFilter(f, "n")
	if err != nil {
		return 0, err
	}
	if cf.none {
		return 0, nil
	}

	cypher := fmt.Sprintf("MATCH (n:%s)", s.label(collection))
	if !cf.all {
		cypher += " WHERE " + cf.where
	}
	cypher += " RETURN count(n) AS total"

	rows, err := s.run.Run(ctx, cypher, cf.params)
	if err != nil {
		return 0, s.wrap("count", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return asInt(rows[0]["total"]), nil
}

// fetchByIDs returns the stored documents keyed by id.
func (s *Store) fetchByIDs(ctx context.Context, collection string, ids []string) (map[string]polyvec.Document, error) {
	rows, err := s.run.Run(ctx,
		fmt.Sprintf("MATCH (n:%s) WHERE n.id IN $ids RETURN properties(n) AS props", s.label(collection)),
		map[string]any{"ids": ids})
	if err != nil {
		return nil, s.wrap("get", err)
	}

	out := make(map[string]polyvec.Document, len(rows))
	for _, row := range rows {
		doc, err := propsToDoc(row["props"])
		if err != nil {
			return nil, fmt.Errorf("neostore: decode node: %w", err)
		}
		out[doc.ID] = doc
	}
	return out, nil
}

// spec returns the collection spec, reading through an in-memory cache.
func (s *Store) spec(ctx context.Context, name string) (polyvec.CollectionSpec, error) {
	s.mu.RLock()
	spec, ok := s.specs[name]
	s.mu.RUnlock()
	if ok {
		return spec, nil
	}

	rows, err := s.run.Run(ctx,
		"MATCH (c:"+metaLabel+" {name: $name}) RETURN c.dimension AS dimension, c.metric AS metric",
		map[string]any{"name": name})
	if err != nil {
		return polyvec.CollectionSpec{}, s.wrap("get_collection", err)
	}
	if len(rows) == 0 {
		return polyvec.CollectionSpec{}, fmt.Errorf("%w: %q", polyvec.ErrCollectionNotFound, name)
	}

	spec = polyvec.CollectionSpec{
		Name:      name,
		Dimension: asInt(rows[0]["dimension"]),
		Metric:    polyvec.Metric(asString(rows[0]["metric"])),
	}

	s.mu.Lock()
	s.specs[name] = spec
	s.mu.Unlock()
	return spec, nil
}

// label renders the backtick-quoted node label for a collection.
func (s *Store) label(collection string) string {
	return escapeIdent(s.labelPrefix + "_" + collection)
}

func (s *Store) indexName(collection string) string {
	return strings.ToLower(s.labelPrefix) + "_" + collection
}

// similarityFunction maps the contract metric onto the index option value.
func similarityFunction(m polyvec.Metric) string {
	if m == polyvec.Euclidean {
		return "euclidean"
	}
	return "cosine"
}

// escapeIdent backtick-quotes a Cypher identifier.
func escapeIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

// isConstraintViolation reports whether err is the server rejecting a write
// that breaks the id uniqueness constraint.
func isConstraintViolation(err error) bool {
	var ne *neo4j.Neo4jError
	return errors.As(err, &ne) && strings.Contains(ne.Code, "ConstraintValidationFailed")
}

// wrap maps a driver failure into the shared taxonomy.
func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return &polyvec.OpError{Backend: backendName, Op: op, Err: err}
	}
	if neo4j.IsConnectivityError(err) {
		return &polyvec.OpError{
			Backend: backendName, Op: op,
			Err: fmt.Errorf("%w: %v", polyvec.ErrBackendUnavailable, err),
		}
	}
	return &polyvec.OpError{Backend: backendName, Op: op, Err: err}
}
