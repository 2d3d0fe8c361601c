package parquetstore

import (
	"context"

	"github.com/kailas-cloud/polyvec"
	"github.com/kailas-cloud/polyvec/internal/enn"
)

// Search scans the live document set, applies the filter in process and
// ranks with the exact engine. There is no approximate path here, so q.Exact
// changes nothing.
func (s *Store) Search(_ context.Context, collection string, q polyvec.SimilarityQuery) ([]polyvec.Match, error) {
	col, err := s.col(collection)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(col.spec); err != nil {
		return nil, err
	}

	col.mu.RLock()
	defer col.mu.RUnlock()

	topk := enn.NewTopK(col.spec.Metric, q.K)
	for id, doc := range col.docs {
		ok, err := evalFilter(q.Filter, doc.Metadata)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		topk.Push(id, enn.Score(col.spec.Metric, q.Vector, doc.Vector))
	}

	candidates := topk.Results()
	matches := make([]polyvec.Match, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, polyvec.Match{Document: col.docs[c.ID].Clone(), Score: c.Score})
	}
	return matches, nil
}
