// Package parquetstore implements the polyvec Store contract on local
// parquet segments. Each collection is a directory holding immutable segment
// files plus a manifest; mutations append segments or tombstones, and the
// live document set is kept in memory for serving reads.
//
// Backend-declared behavior: there is no native vector index, so every
// search runs the exact scan path. Writes are strongly consistent and Add
// rejects duplicate ids.
package parquetstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/kailas-cloud/polyvec"
)

const backendName = "parquet"

var _ polyvec.Store = (*Store)(nil)

// Config holds the storage location.
type Config struct {
	// Dir is the root directory; each collection becomes a subdirectory.
	Dir string
}

// Store is the embedded columnar adapter.
type Store struct {
	dir string

	mu   sync.RWMutex
	cols map[string]*collection
}

// collection is the in-memory view of one collection directory: the durable
// manifest plus the live document set reconstructed from the segments.
type collection struct {
	mu   sync.RWMutex
	dir  string
	man  *manifest
	spec polyvec.CollectionSpec
	docs map[string]polyvec.Document
}

// New opens the root directory and loads every collection found in it.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("parquetstore: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("parquetstore: create root dir: %w", err)
	}

	s := &Store{dir: cfg.Dir, cols: make(map[string]*collection)}

	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("parquetstore: read root dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		col, err := loadCollection(filepath.Join(cfg.Dir, e.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				// A directory without a manifest is not ours.
				continue
			}
			return nil, fmt.Errorf("parquetstore: load collection %q: %w", e.Name(), err)
		}
		s.cols[col.spec.Name] = col
	}
	return s, nil
}

// loadCollection replays the manifest: segments apply oldest first so a
// later segment wins for a repeated id, then tombstoned ids drop out.
func loadCollection(dir string) (*collection, error) {
	man, err := loadManifest(dir)
	if err != nil {
		return nil, err
	}

	docs := make(map[string]polyvec.Document)
	for _, seg := range man.Segments {
		segDocs, err := readSegment(filepath.Join(dir, seg.File))
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", seg.File, err)
		}
		for _, doc := range segDocs {
			docs[doc.ID] = doc
		}
	}
	for _, id := range man.Tombstones {
		delete(docs, id)
	}

	return &collection{dir: dir, man: man, spec: man.spec(), docs: docs}, nil
}

// Capabilities declares the adapter's backend-defined behavior. Metrics is
// empty because there is no native index; the exact path serves every metric.
func (s *Store) Capabilities() polyvec.Capabilities {
	return polyvec.Capabilities{
		Consistency: polyvec.ConsistencyStrong,
		DuplicateID: polyvec.DuplicateReject,
		AtomicBatch: false,
		NativeIndex: false,
	}
}

// Ping verifies the root directory is reachable.
func (s *Store) Ping(_ context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return &polyvec.OpError{
			Backend: backendName, Op: "ping",
			Err: fmt.Errorf("%w: %v", polyvec.ErrBackendUnavailable, err),
		}
	}
	return nil
}

// Close is a no-op: every mutation is persisted when it returns.
func (s *Store) Close() error { return nil }

// CreateCollection provisions a collection directory with an empty manifest.
func (s *Store) CreateCollection(_ context.Context, spec polyvec.CollectionSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cols[spec.Name]; ok {
		return fmt.Errorf("%w: %q", polyvec.ErrCollectionExists, spec.Name)
	}

	dir := filepath.Join(s.dir, spec.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return s.wrap("create_collection", err)
	}
	man := newManifest(spec)
	if err := man.save(dir); err != nil {
		return s.wrap("create_collection", err)
	}

	s.cols[spec.Name] = &collection{
		dir:  dir,
		man:  man,
		spec: spec,
		docs: make(map[string]polyvec.Document),
	}
	return nil
}

// DropCollection removes the collection directory and all segments in it.
func (s *Store) DropCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.cols[name]
	if !ok {
		return fmt.Errorf("%w: %q", polyvec.ErrCollectionNotFound, name)
	}
	if err := os.RemoveAll(col.dir); err != nil {
		return s.wrap("drop_collection", err)
	}
	delete(s.cols, name)
	return nil
}

// Add appends accepted documents as one new segment. Validation covers the
// whole batch before anything is written; duplicate ids (against the live
// set or within the batch) are rejected per item.
func (s *Store) Add(_ context.Context, collection string, docs []polyvec.Document) ([]string, error) {
	col, err := s.col(collection)
	if err != nil {
		return nil, err
	}

	prepared := make([]polyvec.Document, len(docs))
	for i, doc := range docs {
		if err := doc.Validate(col.spec.Dimension); err != nil {
			return nil, err
		}
		prepared[i] = polyvec.EnsureID(doc)
	}

	col.mu.Lock()
	defer col.mu.Unlock()

	ids := make([]string, len(prepared))
	results := make([]polyvec.ItemResult, len(prepared))
	accepted := make([]polyvec.Document, 0, len(prepared))
	seen := make(map[string]bool, len(prepared))
	failed := false

	for i, doc := range prepared {
		ids[i] = doc.ID
		if _, exists := col.docs[doc.ID]; exists || seen[doc.ID] {
			results[i] = polyvec.ItemResult{ID: doc.ID, Err: fmt.Errorf("%w: %q", polyvec.ErrDuplicateID, doc.ID)}
			failed = true
			continue
		}
		seen[doc.ID] = true
		results[i] = polyvec.ItemResult{ID: doc.ID}
		accepted = append(accepted, doc)
	}

	if len(accepted) > 0 {
		if err := col.appendSegment(accepted); err != nil {
			return nil, s.wrap("add", err)
		}
		for _, doc := range accepted {
			col.docs[doc.ID] = doc.Clone()
		}
	}

	if failed {
		return ids, &polyvec.BatchError{Op: "add", Results: results}
	}
	return ids, nil
}

// Update patches a live document and appends the new version as a segment.
func (s *Store) Update(_ context.Context, collection, id string, p polyvec.Patch) error {
	col, err := s.col(collection)
	if err != nil {
		return err
	}
	if err := p.Validate(col.spec.Dimension); err != nil {
		return err
	}

	col.mu.Lock()
	defer col.mu.Unlock()

	doc, ok := col.docs[id]
	if !ok {
		return fmt.Errorf("%w: %q", polyvec.ErrNotFound, id)
	}

	updated := p.Apply(doc)
	if err := col.appendSegment([]polyvec.Document{updated}); err != nil {
		return s.wrap("update", err)
	}
	col.docs[id] = updated
	return nil
}

// Delete tombstones ids and returns how many were live.
func (s *Store) Delete(_ context.Context, collection string, ids []string) (int, error) {
	col, err := s.col(collection)
	if err != nil {
		return 0, err
	}

	col.mu.Lock()
	defer col.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if _, ok := col.docs[id]; ok {
			deleted++
		}
	}
	if deleted == 0 {
		return 0, nil
	}

	tombstoned := make(map[string]bool, len(col.man.Tombstones))
	for _, id := range col.man.Tombstones {
		tombstoned[id] = true
	}
	for _, id := range ids {
		if _, ok := col.docs[id]; ok && !tombstoned[id] {
			col.man.Tombstones = append(col.man.Tombstones, id)
			tombstoned[id] = true
		}
	}
	if err := col.man.save(col.dir); err != nil {
		return 0, s.wrap("delete", err)
	}
	for _, id := range ids {
		delete(col.docs, id)
	}
	return deleted, nil
}

// Get returns documents in input-id order; absent ids yield nil entries.
func (s *Store) Get(_ context.Context, collection string, ids []string) ([]*polyvec.Document, error) {
	col, err := s.col(collection)
	if err != nil {
		return nil, err
	}

	col.mu.RLock()
	defer col.mu.RUnlock()

	out := make([]*polyvec.Document, len(ids))
	for i, id := range ids {
		if doc, ok := col.docs[id]; ok {
			c := doc.Clone()
			out[i] = &c
		}
	}
	return out, nil
}

// Exists reports whether a document id is live.
func (s *Store) Exists(_ context.Context, collection, id string) (bool, error) {
	col, err := s.col(collection)
	if err != nil {
		return false, err
	}
	col.mu.RLock()
	defer col.mu.RUnlock()
	_, ok := col.docs[id]
	return ok, nil
}

// Count returns the number of live documents matching the filter.
func (s *Store) Count(_ context.Context, collection string, f polyvec.Filter) (int, error) {
	col, err := s.col(collection)
	if err != nil {
		return 0, err
	}
	if err := f.Validate(); err != nil {
		return 0, err
	}

	col.mu.RLock()
	defer col.mu.RUnlock()

	n := 0
	for _, doc := range col.docs {
		ok, err := evalFilter(f, doc.Metadata)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Compact merges every live document into a single fresh segment and drops
// the old segments and tombstones. Run it after heavy churn; reads and
// searches are unaffected either way.
func (s *Store) Compact(_ context.Context, collection string) error {
	col, err := s.col(collection)
	if err != nil {
		return err
	}

	col.mu.Lock()
	defer col.mu.Unlock()

	live := make([]polyvec.Document, 0, len(col.docs))
	for _, doc := range col.docs {
		live = append(live, doc)
	}

	old := col.man.Segments
	col.man.Generation++
	col.man.Segments = nil
	col.man.Tombstones = nil

	if len(live) > 0 {
		file := segmentName(col.man.Generation)
		if err := writeSegment(filepath.Join(col.dir, file), live); err != nil {
			return s.wrap("compact", err)
		}
		col.man.Segments = []segmentInfo{{File: file, Rows: len(live)}}
	}
	if err := col.man.save(col.dir); err != nil {
		return s.wrap("compact", err)
	}

	for _, seg := range old {
		_ = os.Remove(filepath.Join(col.dir, seg.File))
	}
	return nil
}

// appendSegment writes docs as a new segment and commits the manifest.
// Caller holds the collection write lock.
func (c *collection) appendSegment(docs []polyvec.Document) error {
	c.man.Generation++
	file := segmentName(c.man.Generation)
	path := filepath.Join(c.dir, file)

	if err := writeSegment(path, docs); err != nil {
		c.man.Generation--
		return err
	}

	c.man.Segments = append(c.man.Segments, segmentInfo{File: file, Rows: len(docs)})
	c.dropTombstones(docs)

	if err := c.man.save(c.dir); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

// dropTombstones clears tombstones for ids being written back, so a
// re-added document survives the next replay.
func (c *collection) dropTombstones(docs []polyvec.Document) {
	if len(c.man.Tombstones) == 0 {
		return
	}
	writing := make(map[string]bool, len(docs))
	for _, doc := range docs {
		writing[doc.ID] = true
	}
	kept := c.man.Tombstones[:0]
	for _, id := range c.man.Tombstones {
		if !writing[id] {
			kept = append(kept, id)
		}
	}
	c.man.Tombstones = kept
}

func segmentName(generation int) string {
	return fmt.Sprintf("seg-%06d-%s.parquet", generation, uuid.NewString()[:8])
}

func (s *Store) col(name string) (*collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.cols[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", polyvec.ErrCollectionNotFound, name)
	}
	return col, nil
}

func (s *Store) wrap(op string, err error) error {
	return &polyvec.OpError{Backend: backendName, Op: op, Err: err}
}
