package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// hashEmbedder is a deterministic, dependency-free stand-in for llm.Embedder:
// it maps distinct words to fixed basis directions so that textually similar
// strings score higher under cosine similarity, without calling out to a
// real provider.
type hashEmbedder struct {
	dim int
}

func newHashEmbedder() *hashEmbedder { return &hashEmbedder{dim: 16} }

func (h *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		vec[hashToBucket(word, h.dim)] += 1
	}
	return vec, nil
}

func (h *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *hashEmbedder) Dimension() int { return h.dim }

func hashToBucket(word string, dim int) int {
	sum := 0
	for _, r := range word {
		sum += int(r)
	}
	return sum % dim
}

func newTestStore() *Store {
	cfg := DefaultConfig()
	cfg.SimilarityThreshold = 0 // tests care about ordering/filtering logic, not the absolute score
	return New(NewMemoryIndex(), newHashEmbedder(), cfg, zap.NewNop())
}

func TestTrainAndRetrieveQAPairs(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.TrainQAPairs(ctx, []QAPair{
		{Question: "how many active users are there", SQL: "SELECT count(*) FROM users WHERE active = true"},
		{Question: "what is the total revenue this month", SQL: "SELECT sum(amount) FROM orders"},
	}, "db1"))

	retrieved, err := s.RetrieveContext(ctx, "how many active users exist", "db1", Balanced)
	require.NoError(t, err)
	require.NotEmpty(t, retrieved.QAPairs)
	require.Contains(t, retrieved.QAPairs[0].Content, "active users")
}

func TestRetrieveContextScopesToDatabaseID(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.TrainQAPairs(ctx, []QAPair{
		{Question: "how many active users are there", SQL: "SELECT count(*) FROM users"},
	}, "db1"))

	retrieved, err := s.RetrieveContext(ctx, "how many active users are there", "db2", Balanced)
	require.NoError(t, err)
	require.Empty(t, retrieved.QAPairs)
}

func TestAutoTrainSkipsNonNovelQuestion(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.AutoTrainFromSuccessfulQuery(ctx, "how many active users are there", "SELECT count(*) FROM users", "db1"))
	statsBefore, err := s.index.GetStats(ctx)
	require.NoError(t, err)

	require.NoError(t, s.AutoTrainFromSuccessfulQuery(ctx, "how many active users are there", "SELECT count(*) FROM users", "db1"))
	statsAfter, err := s.index.GetStats(ctx)
	require.NoError(t, err)

	require.Equal(t, statsBefore["total_records"], statsAfter["total_records"])
}

func TestAutoTrainWritesNovelQuestion(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.AutoTrainFromSuccessfulQuery(ctx, "how many active users are there", "SELECT count(*) FROM users", "db1"))
	require.NoError(t, s.AutoTrainFromSuccessfulQuery(ctx, "what warehouses shipped orders last quarter", "SELECT DISTINCT warehouse_id FROM shipments", "db1"))

	stats, err := s.index.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats["total_records"])
}

func TestRetrievalStatsReportsCounts(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.TrainQAPairs(ctx, []QAPair{
		{Question: "how many active users are there", SQL: "SELECT count(*) FROM users"},
	}, "db1"))

	stats, err := s.RetrievalStats(ctx, "how many active users are there", "db1")
	require.NoError(t, err)
	counts := stats["retrieved_counts"].(map[string]int)
	require.Equal(t, 1, counts["qa_pairs"])
}
