package neostore

import (
	"context"
	"fmt"
	"math"

	"github.com/kailas-cloud/polyvec"
	"github.com/kailas-cloud/polyvec/internal/enn"
)

// Search runs a similarity query. The native vector index serves the
// approximate path for cosine and euclidean collections; q.Exact, the
// store-wide ForceExact flag, or a dot-product metric switch to the exact
// path that scans the filtered candidate set and scores it in-process.
func (s *Store) Search(ctx context.Context, collection string, q polyvec.SimilarityQuery) ([]polyvec.Match, error) {
	spec, err := s.spec(ctx, collection)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(spec); err != nil {
		return nil, err
	}

	cf, err := translateFilter(q.Filter, "node")
	if err != nil {
		return nil, err
	}
	if cf.none {
		return nil, nil
	}

	if s.forceExact || q.Exact || spec.Metric == polyvec.DotProduct {
		return s.searchExact(ctx, collection, spec, q, cf)
	}
	return s.searchANN(ctx, collection, spec, q, cf)
}

// searchANN queries the native vector index. A metadata filter is applied
// after the index yields candidates, so the fetch size is widened; recall
// under a selective filter is best-effort, backend-defined.
func (s *Store) searchANN(
	ctx context.Context, collection string, spec polyvec.CollectionSpec,
	q polyvec.SimilarityQuery, cf cypherFilter,
) ([]polyvec.Match, error) {
	fetch := q.K
	if !cf.all {
		fetch = q.K * annOverfetch
	}

	cypher := "CALL db.index.vector.queryNodes($index, $fetch, $vector) YIELD node, score"
	if !cf.all {
		cypher += " WHERE " + cf.where
	}
	cypher += " RETURN properties(node) AS props, score"

	params := map[string]any{
		"index":  s.indexName(collection),
		"fetch":  fetch,
		"vector": toFloat64s(q.Vector),
	}
	for k, v := range cf.params {
		params[k] = v
	}

	rows, err := s.run.Run(ctx, cypher, params)
	if err != nil {
		return nil, s.wrap("search", err)
	}

	// Re-rank through the deterministic selector so ties break by id and
	// the overfetched candidate set trims back to k.
	topk := enn.NewTopK(spec.Metric, q.K)
	docs := make(map[string]*polyvec.Document, len(rows))
	for _, row := range rows {
		doc, err := propsToDoc(row["props"])
		if err != nil {
			return nil, fmt.Errorf("neostore: decode node: %w", err)
		}
		raw, ok := asFloat(row["score"])
		if !ok {
			return nil, fmt.Errorf("neostore: unexpected score type %T", row["score"])
		}
		d := doc
		docs[doc.ID] = &d
		topk.Push(doc.ID, convertScore(spec.Metric, raw))
	}

	return collect(topk, docs), nil
}

// searchExact streams every node matching the filter and ranks it with the
// shared exact engine. This is the correctness-reference path.
func (s *Store) searchExact(
	ctx context.Context, collection string, spec polyvec.CollectionSpec,
	q polyvec.SimilarityQuery, cf cypherFilter,
) ([]polyvec.Match, error) {
	cypher := fmt.Sprintf("MATCH (node:%s)", s.label(collection))
	if !cf.all {
		cypher += " WHERE " + cf.where
	}
	cypher += " RETURN properties(node) AS props"

	rows, err := s.run.Run(ctx, cypher, cf.params)
	if err != nil {
		return nil, s.wrap("search", err)
	}

	topk := enn.NewTopK(spec.Metric, q.K)
	docs := make(map[string]*polyvec.Document, len(rows))
	for _, row := range rows {
		doc, err := propsToDoc(row["props"])
		if err != nil {
			return nil, fmt.Errorf("neostore: decode node: %w", err)
		}
		d := doc
		docs[doc.ID] = &d
		topk.Push(doc.ID, enn.Score(spec.Metric, q.Vector, doc.Vector))
	}

	return collect(topk, docs), nil
}

// convertScore maps the [0,1] index score back onto the contract score:
// cosine reports (1+cos)/2, euclidean reports 1/(1+d^2).
func convertScore(metric polyvec.Metric, raw float64) float64 {
	if metric == polyvec.Euclidean {
		if raw <= 0 {
			return math.Inf(1)
		}
		return math.Sqrt(1/raw - 1)
	}
	return 2*raw - 1
}

func collect(topk *enn.TopK, docs map[string]*polyvec.Document) []polyvec.Match {
	candidates := topk.Results()
	matches := make([]polyvec.Match, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, polyvec.Match{Document: *docs[c.ID], Score: c.Score})
	}
	return matches
}
