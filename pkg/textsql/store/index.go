// Package store implements the retrieval & training store: a typed vector
// index plus the write/read operations the Decomposer and Orchestrator
// consume for retrieval-augmented generation and corpus growth.
package store

import "context"

// SearchResult is one hit from a VectorIndex.Search call.
type SearchResult struct {
	ID       string
	Score    float32 // higher is more similar
	Metadata map[string]any
}

// VectorIndex is the core's only assumption about its similarity backend:
// filtered top-k, stable score ordering, no cross-filter leakage. The core
// never assumes a particular index (exact vs. approximate, dense vs.
// hybrid); this interface is satisfiable by both the in-memory reference
// implementation and the Postgres-backed one.
type VectorIndex interface {
	Insert(ctx context.Context, id string, vector []float32, metadata map[string]any) error
	InsertBatch(ctx context.Context, ids []string, vectors [][]float32, metadatas []map[string]any) error
	Search(ctx context.Context, vector []float32, filter map[string]string, limit int) ([]SearchResult, error)
	DeleteByFilter(ctx context.Context, filter map[string]string) error
	GetStats(ctx context.Context) (map[string]any, error)
}
