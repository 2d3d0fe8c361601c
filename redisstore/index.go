package redisstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kailas-cloud/polyvec"
)

// vectorField is the FT alias of the embedding column; the KNN score comes
// back as __<alias>_score.
const (
	vectorField      = "embedding"
	vectorScoreField = "__" + vectorField + "_score"
)

// metricName maps the contract metric onto the FT.CREATE DISTANCE_METRIC
// argument.
func metricName(m polyvec.Metric) string {
	switch m {
	case polyvec.Euclidean:
		return "L2"
	case polyvec.DotProduct:
		return "IP"
	default:
		return "COSINE"
	}
}

// createIndex issues FT.CREATE for a collection: id as TAG, declared
// metadata fields as TAG/NUMERIC (with INDEXMISSING so presence is
// queryable), and the embedding as an HNSW vector field.
func (s *Store) createIndex(ctx context.Context, spec polyvec.CollectionSpec) error {
	args := []string{
		s.indexName(spec.Name),
		"ON", "JSON",
		"PREFIX", "1", s.docPrefix(spec.Name),
		"SCHEMA",
		"$.id", "AS", "id", "TAG",
	}

	for _, f := range spec.Fields {
		args = append(args, "$.metadata."+f.Name, "AS", f.Name)
		switch f.Type {
		case polyvec.FieldNumeric:
			args = append(args, "NUMERIC", "INDEXMISSING")
		default:
			args = append(args, "TAG", "INDEXMISSING")
		}
	}

	vectorArgs := []string{
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(spec.Dimension),
		"DISTANCE_METRIC", metricName(spec.Metric),
		"M", strconv.Itoa(s.hnswM),
		"EF_CONSTRUCTION", strconv.Itoa(s.hnswEF),
	}
	args = append(args, "$.embedding", "AS", vectorField, "VECTOR", "HNSW", strconv.Itoa(len(vectorArgs)))
	args = append(args, vectorArgs...)

	cmd := s.b().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return fmt.Errorf("%w: %q", polyvec.ErrCollectionExists, spec.Name)
		}
		return s.wrap("create_index", err)
	}
	return nil
}
