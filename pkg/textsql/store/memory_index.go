package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is the default VectorIndex: a brute-force cosine-similarity
// scan over an in-memory slice. No vector-search library is available
// anywhere in the corpus this module was adapted from; a linear scan is
// adequate at the corpus sizes a single deployment's retrieval store
// targets, and keeps the reference implementation free of fabricated
// dependencies.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	vector   []float32
	metadata map[string]any
}

// NewMemoryIndex returns an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]memoryRecord)}
}

func (m *MemoryIndex) Insert(_ context.Context, id string, vector []float32, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = memoryRecord{vector: vector, metadata: metadata}
	return nil
}

func (m *MemoryIndex) InsertBatch(ctx context.Context, ids []string, vectors [][]float32, metadatas []map[string]any) error {
	if len(ids) != len(vectors) || len(ids) != len(metadatas) {
		return fmt.Errorf("insert_batch: ids/vectors/metadatas length mismatch")
	}
	for i := range ids {
		if err := m.Insert(ctx, ids[i], vectors[i], metadatas[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, vector []float32, filter map[string]string, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []SearchResult
	for id, rec := range m.records {
		if !matchesFilter(rec.metadata, filter) {
			continue
		}
		candidates = append(candidates, SearchResult{
			ID:       id,
			Score:    cosineSimilarity(vector, rec.vector),
			Metadata: rec.metadata,
		})
	}

	sortByScoreDescending(candidates)

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (m *MemoryIndex) DeleteByFilter(_ context.Context, filter map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.records {
		if matchesFilter(rec.metadata, filter) {
			delete(m.records, id)
		}
	}
	return nil
}

func (m *MemoryIndex) GetStats(_ context.Context) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]any{"total_records": len(m.records)}, nil
}

func sortByScoreDescending(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}

func matchesFilter(metadata map[string]any, filter map[string]string) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok {
			return false
		}
		gotStr, ok := got.(string)
		if !ok || gotStr != want {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

var _ VectorIndex = (*MemoryIndex)(nil)
