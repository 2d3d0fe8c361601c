// Package redisstore implements the polyvec Store contract on Redis Stack /
// Valkey 8+ via rueidis. Documents live as RedisJSON values under
// <prefix><collection>:<id>; similarity search delegates to the native
// RediSearch vector index (HNSW) unless exact search is requested.
//
// Backend-declared behavior: Add upserts silently on duplicate ids
// (JSON.SET semantics), searches are eventually consistent with writes
// (the FT index is updated asynchronously), and batch mutations report
// per-item outcomes.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/polyvec"
)

const backendName = "redis"

// exactScanPageSize is the FT.SEARCH page size used by the exact path.
const exactScanPageSize = 1000

// Compile-time check: Store implements the contract.
var _ polyvec.Store = (*Store)(nil)

// Config holds connection and index parameters.
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int

	// KeyPrefix namespaces every key this store touches. Default "polyvec:".
	KeyPrefix string

	// HNSW build parameters. Defaults: M=16, EFConstruction=200.
	HNSWM           int
	HNSWEFConstruct int
	// EFRuntime is the query-time dynamic candidate list size (0 = backend
	// default).
	EFRuntime int

	// ForceExact bypasses the native index on every search. Used to verify
	// ANN results against the exact reference path.
	ForceExact bool
}

func (c *Config) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "polyvec:"
	}
	if c.HNSWM <= 0 {
		c.HNSWM = 16
	}
	if c.HNSWEFConstruct <= 0 {
		c.HNSWEFConstruct = 200
	}
}

// Store is the Redis document-database adapter.
type Store struct {
	client     rueidis.Client
	prefix     string
	hnswM      int
	hnswEF     int
	efRuntime  int
	forceExact bool

	mu    sync.RWMutex
	specs map[string]polyvec.CollectionSpec
}

// New connects to Redis and returns a Store.
func New(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("redisstore: addrs is required")
	}
	cfg.applyDefaults()

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
		AlwaysRESP2:  true, // FT.SEARCH result parsing expects RESP2 array format
	})
	if err != nil {
		return nil, fmt.Errorf("redisstore: create client: %w", err)
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing rueidis client. The store takes ownership
// and closes it on Close.
func NewWithClient(client rueidis.Client, cfg Config) *Store {
	cfg.applyDefaults()
	return &Store{
		client:     client,
		prefix:     cfg.KeyPrefix,
		hnswM:      cfg.HNSWM,
		hnswEF:     cfg.HNSWEFConstruct,
		efRuntime:  cfg.EFRuntime,
		forceExact: cfg.ForceExact,
		specs:      make(map[string]polyvec.CollectionSpec),
	}
}

// Capabilities declares the adapter's backend-defined behavior.
func (s *Store) Capabilities() polyvec.Capabilities {
	return polyvec.Capabilities{
		Metrics:     []polyvec.Metric{polyvec.Cosine, polyvec.Euclidean, polyvec.DotProduct},
		Consistency: polyvec.ConsistencyEventual,
		DuplicateID: polyvec.DuplicateUpsert,
		AtomicBatch: false,
		NativeIndex: true,
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	cmd := s.b().Ping().Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return s.wrap("ping", err)
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// WaitForReady polls Ping until the backend responds or the timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: timeout waiting for redis: %v", polyvec.ErrBackendUnavailable, ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// CreateCollection persists the spec and creates the FT index.
func (s *Store) CreateCollection(ctx context.Context, spec polyvec.CollectionSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	exists, err := s.specExists(ctx, spec.Name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %q", polyvec.ErrCollectionExists, spec.Name)
	}

	data, err := json.Marshal(specDTO{
		Name:      spec.Name,
		Dimension: spec.Dimension,
		Metric:    string(spec.Metric),
		Fields:    fieldsToDTO(spec.Fields),
	})
	if err != nil {
		return fmt.Errorf("redisstore: marshal spec: %w", err)
	}

	cmd := s.b().Arbitrary("JSON.SET").Keys(s.specKey(spec.Name)).Args("$", string(data)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return s.wrap("create_collection", err)
	}

	if err := s.createIndex(ctx, spec); err != nil {
		return err
	}

	s.mu.Lock()
	s.specs[spec.Name] = spec
	s.mu.Unlock()
	return nil
}

// DropCollection drops the FT index together with its documents (DD) and
// removes the stored spec.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	if _, err := s.spec(ctx, name); err != nil {
		return err
	}

	cmd := s.b().Arbitrary("FT.DROPINDEX").Args(s.indexName(name), "DD").Build()
	if err := s.do(ctx, cmd).Error(); err != nil && !isRedisErr(err, "unknown index name") {
		return s.wrap("drop_collection", err)
	}

	del := s.b().Del().Key(s.specKey(name)).Build()
	if err := s.do(ctx, del).Error(); err != nil {
		return s.wrap("drop_collection", err)
	}

	s.mu.Lock()
	delete(s.specs, name)
	s.mu.Unlock()
	return nil
}

// Add inserts documents, upserting silently on duplicate ids. Validation
// runs over the whole batch before anything is written; backend failures of
// individual items are reported through a BatchError.
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

	ids := make([]string, len(prepared))
	results := make([]polyvec.ItemResult, len(prepared))
	failed := false

	for i, doc := range prepared {
		ids[i] = doc.ID
		data, err := json.Marshal(docToJSON(doc))
		if err != nil {
			results[i] = polyvec.ItemResult{ID: doc.ID, Err: fmt.Errorf("marshal: %w", err)}
			failed = true
			continue
		}
		cmd := s.b().Arbitrary("JSON.SET").Keys(s.docKey(collection, doc.ID)).Args("$", string(data)).Build()
		if err := s.do(ctx, cmd).Error(); err != nil {
			results[i] = polyvec.ItemResult{ID: doc.ID, Err: s.wrap("add", err)}
			failed = true
			continue
		}
		results[i] = polyvec.ItemResult{ID: doc.ID}
	}

	if failed {
		return ids, &polyvec.BatchError{Op: "add", Results: results}
	}
	return ids, nil
}

// Update reads, patches and rewrites a document. Fails with ErrNotFound if
// the id is absent.
func (s *Store) Update(ctx context.Context, collection, id string, p polyvec.Patch) error {
	spec, err := s.spec(ctx, collection)
	if err != nil {
		return err
	}
	if err := p.Validate(spec.Dimension); err != nil {
		return err
	}

	doc, err := s.getDoc(ctx, collection, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: %q", polyvec.ErrNotFound, id)
	}

	updated := p.Apply(*doc)
	data, err := json.Marshal(docToJSON(updated))
	if err != nil {
		return fmt.Errorf("redisstore: marshal: %w", err)
	}
	cmd := s.b().Arbitrary("JSON.SET").Keys(s.docKey(collection, id)).Args("$", string(data)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return s.wrap("update", err)
	}
	return nil
}

// Delete removes documents by id and returns how many existed.
func (s *Store) Delete(ctx context.Context, collection string, ids []string) (int, error) {
	if _, err := s.spec(ctx, collection); err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		cmd := s.b().Del().Key(s.docKey(collection, id)).Build()
		n, err := s.do(ctx, cmd).AsInt64()
		if err != nil {
			return deleted, s.wrap("delete", err)
		}
		deleted += int(n)
	}
	return deleted, nil
}

// Get returns documents in input-id order; absent ids yield nil entries.
func (s *Store) Get(ctx context.Context, collection string, ids []string) ([]*polyvec.Document, error) {
	if _, err := s.spec(ctx, collection); err != nil {
		return nil, err
	}

	out := make([]*polyvec.Document, len(ids))
	for i, id := range ids {
		doc, err := s.getDoc(ctx, collection, id)
		if err != nil {
			return nil, err
		}
		out[i] = doc
	}
	return out, nil
}

// Exists reports whether a document id is present.
func (s *Store) Exists(ctx context.Context, collection, id string) (bool, error) {
	if _, err := s.spec(ctx, collection); err != nil {
		return false, err
	}
	cmd := s.b().Exists().Key(s.docKey(collection, id)).Build()
	n, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return false, s.wrap("exists", err)
	}
	return n > 0, nil
}

// Count returns the number of documents matching the filter via the FT
// index. Eventually consistent with writes like Search.
func (s *Store) Count(ctx context.Context, collection string, f polyvec.Filter) (int, error) {
	spec, err := s.spec(ctx, collection)
	if err != nil {
		return 0, err
	}
	if err := f.Validate(); err != nil {
		return 0, err
	}

	tr, err := translateFilter(f, spec)
	if err != nil {
		return 0, err
	}
	if tr.none {
		return 0, nil
	}

	query := tr.query
	if tr.all {
		query = "*"
	}
	cmd := s.b().Arbitrary("FT.SEARCH").Args(s.indexName(collection), query, "LIMIT", "0", "0", "DIALECT", "2").Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return 0, s.wrap("count", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return 0, fmt.Errorf("redisstore: parse count: %w", err)
	}
	return int(total), nil
}

// getDoc fetches and decodes one document, nil when absent.
func (s *Store) getDoc(ctx context.Context, collection, id string) (*polyvec.Document, error) {
	cmd := s.b().Arbitrary("JSON.GET").Keys(s.docKey(collection, id)).Args("$").Build()
	raw, err := s.do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}
		return nil, s.wrap("get", err)
	}
	if raw == "" {
		return nil, nil
	}
	doc, err := decodeDoc([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("redisstore: decode %s: %w", id, err)
	}
	return doc, nil
}

// spec returns the collection spec, reading through an in-memory cache.
func (s *Store) spec(ctx context.Context, name string) (polyvec.CollectionSpec, error) {
	s.mu.RLock()
	spec, ok := s.specs[name]
	s.mu.RUnlock()
	if ok {
		return spec, nil
	}

	cmd := s.b().Arbitrary("JSON.GET").Keys(s.specKey(name)).Args("$").Build()
	raw, err := s.do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return polyvec.CollectionSpec{}, fmt.Errorf("%w: %q", polyvec.ErrCollectionNotFound, name)
		}
		return polyvec.CollectionSpec{}, s.wrap("get_collection", err)
	}
	if raw == "" {
		return polyvec.CollectionSpec{}, fmt.Errorf("%w: %q", polyvec.ErrCollectionNotFound, name)
	}

	var dtos []specDTO
	if err := json.Unmarshal([]byte(raw), &dtos); err != nil || len(dtos) == 0 {
		return polyvec.CollectionSpec{}, fmt.Errorf("redisstore: decode spec %q: %w", name, err)
	}
	spec = dtos[0].toSpec()

	s.mu.Lock()
	s.specs[name] = spec
	s.mu.Unlock()
	return spec, nil
}

func (s *Store) specExists(ctx context.Context, name string) (bool, error) {
	cmd := s.b().Exists().Key(s.specKey(name)).Build()
	n, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return false, s.wrap("get_collection", err)
	}
	return n > 0, nil
}

func (s *Store) docKey(collection, id string) string {
	return s.prefix + collection + ":" + id
}

func (s *Store) docPrefix(collection string) string {
	return s.prefix + collection + ":"
}

func (s *Store) specKey(name string) string {
	return s.prefix + "collections:" + name
}

func (s *Store) indexName(collection string) string {
	return s.prefix + collection + ":idx"
}

func (s *Store) do(ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult {
	return s.client.Do(ctx, cmd)
}

func (s *Store) b() rueidis.Builder {
	return s.client.B()
}

// wrap maps a driver failure into the shared taxonomy. Server-side errors
// keep their message; transport failures surface as ErrBackendUnavailable
// so the caller knows a retry may help.
func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := rueidis.IsRedisErr(err); ok {
		return &polyvec.OpError{Backend: backendName, Op: op, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &polyvec.OpError{Backend: backendName, Op: op, Err: err}
	}
	return &polyvec.OpError{
		Backend: backendName,
		Op:      op,
		Err:     fmt.Errorf("%w: %v", polyvec.ErrBackendUnavailable, err),
	}
}

// isRedisErr checks if err is a Redis server error containing substr
// (case-insensitive).
func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return containsIgnoreCase(re.Error(), substr)
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
