// Package polyvec provides a pluggable vector-store abstraction: one Store
// contract for adding, updating, deleting and similarity-searching embedded
// documents, with independent adapters for heterogeneous backing stores.
//
// Three adapters ship with this module:
//   - redisstore: Redis Stack / Valkey with RedisJSON documents and a native
//     RediSearch vector index (approximate search).
//   - neostore: Neo4j with documents stored as labeled nodes, filters
//     translated to Cypher, and optional native vector indexes.
//   - parquetstore: a columnar engine over local parquet segments with an
//     exact brute-force scan (no native index). It doubles as the
//     correctness oracle for the approximate adapters.
//
// Callers write against Store once; any conforming adapter can be swapped in
// without touching call sites:
//
//	store, _ := redisstore.New(redisstore.Config{Addrs: []string{"localhost:6379"}})
//	_ = store.CreateCollection(ctx, polyvec.CollectionSpec{
//	    Name:      "docs",
//	    Dimension: 3,
//	    Metric:    polyvec.Cosine,
//	    Fields:    []polyvec.Field{{Name: "category", Type: polyvec.FieldTag}},
//	})
//	ids, _ := store.Add(ctx, "docs", docs)
//	matches, _ := store.Search(ctx, "docs", polyvec.SimilarityQuery{
//	    Vector: []float32{1, 0, 0},
//	    K:      2,
//	    Filter: polyvec.In("category", "x", "y"),
//	})
//
// Behavioral differences that cannot be papered over (duplicate-id policy,
// consistency, natively supported metrics) are declared per adapter through
// Capabilities rather than assumed uniform.
package polyvec
