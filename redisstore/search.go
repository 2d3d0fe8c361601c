package redisstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/polyvec"
	"github.com/kailas-cloud/polyvec/internal/enn"
)

// Search runs a similarity query. The native HNSW index serves the
// approximate path; q.Exact (or the store-wide ForceExact flag) switches to
// the exact reference path that scans the filtered candidate set and scores
// it in-process.
func (s *Store) Search(ctx context.Context, collection string, q polyvec.SimilarityQuery) ([]polyvec.Match, error) {
	spec, err := s.spec(ctx, collection)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(spec); err != nil {
		return nil, err
	}

	tr, err := translateFilter(q.Filter, spec)
	if err != nil {
		return nil, err
	}
	if tr.none {
		return nil, nil
	}

	if s.forceExact || q.Exact {
		return s.searchExact(ctx, collection, spec, q, tr)
	}
	return s.searchKNN(ctx, collection, spec, q, tr)
}

// searchKNN delegates k and the translated pre-filter to the native index.
// Ordering and recall are whatever HNSW guarantees: best-effort,
// backend-defined.
func (s *Store) searchKNN(
	ctx context.Context, collection string, spec polyvec.CollectionSpec,
	q polyvec.SimilarityQuery, tr translation,
) ([]polyvec.Match, error) {
	knn := fmt.Sprintf("[KNN %d @%s $BLOB", q.K, vectorField)
	if s.efRuntime > 0 {
		knn += fmt.Sprintf(" EF_RUNTIME %d", s.efRuntime)
	}
	knn += "]"

	var queryStr string
	if tr.all {
		queryStr = "*=>" + knn
	} else {
		queryStr = "(" + tr.query + ")=>" + knn
	}

	args := []string{
		s.indexName(collection), queryStr,
		"RETURN", "2", vectorScoreField, "$",
		"SORTBY", vectorScoreField,
		"LIMIT", "0", strconv.Itoa(q.K),
		"PARAMS", "2", "BLOB", vectorToBytes(q.Vector),
		"DIALECT", "2",
	}

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return nil, s.wrap("search", err)
	}

	return s.parseKNNResult(raw, spec.Metric, q.K)
}

// searchExact pulls every document matching the filter and ranks it with
// the shared exact engine. This is the correctness-reference path.
func (s *Store) searchExact(
	ctx context.Context, collection string, spec polyvec.CollectionSpec,
	q polyvec.SimilarityQuery, tr translation,
) ([]polyvec.Match, error) {
	query := tr.query
	if tr.all {
		query = "*"
	}

	topk := enn.NewTopK(spec.Metric, q.K)
	docs := make(map[string]*polyvec.Document)

	offset := 0
	for {
		args := []string{
			s.indexName(collection), query,
			"RETURN", "1", "$",
			"LIMIT", strconv.Itoa(offset), strconv.Itoa(exactScanPageSize),
			"DIALECT", "2",
		}
		cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
		raw, err := s.do(ctx, cmd).ToArray()
		if err != nil {
			return nil, s.wrap("search", err)
		}

		entries, total, err := parseEntries(raw)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			doc, err := decodeDoc([]byte(e.fields["$"]))
			if err != nil {
				return nil, fmt.Errorf("redisstore: decode %s: %w", e.key, err)
			}
			docs[doc.ID] = doc
			topk.Push(doc.ID, enn.Score(spec.Metric, q.Vector, doc.Vector))
		}

		offset += exactScanPageSize
		if offset >= total || len(entries) == 0 {
			break
		}
	}

	candidates := topk.Results()
	matches := make([]polyvec.Match, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, polyvec.Match{Document: *docs[c.ID], Score: c.Score})
	}
	return matches, nil
}

// parseKNNResult converts FT.SEARCH rows into matches. The raw
// __embedding_score is a distance in RediSearch terms; it is converted back
// to the contract score for the collection metric, then re-ranked through
// the deterministic selector so ties break by id.
func (s *Store) parseKNNResult(raw []rueidis.RedisMessage, metric polyvec.Metric, k int) ([]polyvec.Match, error) {
	entries, _, err := parseEntries(raw)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	topk := enn.NewTopK(metric, k)
	docs := make(map[string]*polyvec.Document, len(entries))

	for _, e := range entries {
		doc, err := decodeDoc([]byte(e.fields["$"]))
		if err != nil {
			return nil, fmt.Errorf("redisstore: decode %s: %w", e.key, err)
		}
		raw, err := strconv.ParseFloat(e.fields[vectorScoreField], 64)
		if err != nil {
			return nil, fmt.Errorf("redisstore: parse score for %s: %w", e.key, err)
		}
		docs[doc.ID] = doc
		topk.Push(doc.ID, convertScore(metric, raw))
	}

	candidates := topk.Results()
	matches := make([]polyvec.Match, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, polyvec.Match{Document: *docs[c.ID], Score: c.Score})
	}
	return matches, nil
}

// convertScore maps the RediSearch vector distance onto the contract score:
// COSINE reports 1-cos, IP reports 1-dot, L2 reports the squared distance.
func convertScore(metric polyvec.Metric, raw float64) float64 {
	switch metric {
	case polyvec.Euclidean:
		return math.Sqrt(raw)
	default:
		return 1 - raw
	}
}

// searchEntry is one parsed FT.SEARCH row.
type searchEntry struct {
	key    string
	fields map[string]string
}

// parseEntries decodes the RESP2 FT.SEARCH reply:
// [total, key1, fields1, key2, fields2, ...].
func parseEntries(raw []rueidis.RedisMessage) ([]searchEntry, int, error) {
	if len(raw) == 0 {
		return nil, 0, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, 0, fmt.Errorf("redisstore: parse total: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	entries := make([]searchEntry, 0, len(raw)/2)
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		fieldMsgs, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		fields := make(map[string]string, len(fieldMsgs)/2)
		for j := 0; j+1 < len(fieldMsgs); j += 2 {
			name, err := fieldMsgs[j].ToString()
			if err != nil {
				continue
			}
			value, err := fieldMsgs[j+1].ToString()
			if err != nil {
				continue
			}
			fields[name] = value
		}
		entries = append(entries, searchEntry{key: key, fields: fields})
	}
	return entries, int(total), nil
}

// vectorToBytes encodes the query vector as the little-endian float32 blob
// FT.SEARCH expects.
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
