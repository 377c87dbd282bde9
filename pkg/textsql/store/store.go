package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-engine/pkg/textsql/llm"
)

// DocumentationEntry is one write-side item for TrainDocumentation.
type DocumentationEntry struct {
	Title    string
	Content  string
	Category string
}

// QAPair is one write-side item for TrainQAPairs.
type QAPair struct {
	Question string
	SQL      string
}

// Config bounds the retrieval/training store's behaviour.
type Config struct {
	SimilarityThreshold float32
	MaxContextLength    int
	MaxExamplesPerType  int
	// NoveltyThreshold is the minimum cosine distance (1 - cosine similarity)
	// a candidate question must have from every existing QA pair for
	// AutoTrainFromSuccessfulQuery to write it, preventing corpus
	// degeneracy from near-duplicate successes.
	NoveltyThreshold float32
}

// DefaultConfig mirrors the component design's stated defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.7,
		MaxContextLength:    8000,
		MaxExamplesPerType:  3,
		NoveltyThreshold:    0.15,
	}
}

// Store is the retrieval & training store: a typed vector index fronted by
// write operations per data type and a single read operation that serves
// strategy-aware, quality- and diversity-filtered top-k context.
type Store struct {
	index    VectorIndex
	embedder llm.Embedder
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Store.
func New(index VectorIndex, embedder llm.Embedder, cfg Config, logger *zap.Logger) *Store {
	return &Store{index: index, embedder: embedder, cfg: cfg, logger: logger.Named("textsql.store")}
}

func (s *Store) writeOne(ctx context.Context, dataType DataType, databaseID, content string, extra map[string]any) error {
	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed training content: %w", err)
	}

	metadata := map[string]any{
		"data_type":   string(dataType),
		"database_id": databaseID,
		"content":     content,
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		metadata[k] = v
	}

	return s.index.Insert(ctx, uuid.NewString(), vector, metadata)
}

// TrainDDL ingests DDL strings.
func (s *Store) TrainDDL(ctx context.Context, statements []string, databaseID string) error {
	for _, stmt := range statements {
		if err := s.writeOne(ctx, DataTypeDDL, databaseID, stmt, nil); err != nil {
			return err
		}
	}
	return nil
}

// TrainDocumentation ingests titled documentation entries.
func (s *Store) TrainDocumentation(ctx context.Context, docs []DocumentationEntry, databaseID string) error {
	for _, doc := range docs {
		extra := map[string]any{"title": doc.Title, "category": doc.Category}
		if err := s.writeOne(ctx, DataTypeDocumentation, databaseID, doc.Content, extra); err != nil {
			return err
		}
	}
	return nil
}

// TrainSQLExamples ingests standalone SQL query examples.
func (s *Store) TrainSQLExamples(ctx context.Context, queries []string, databaseID string) error {
	for _, q := range queries {
		extra := map[string]any{"sql": q}
		if err := s.writeOne(ctx, DataTypeSQLExample, databaseID, q, extra); err != nil {
			return err
		}
	}
	return nil
}

// TrainQAPairs ingests the highest-signal training form: a question paired
// with the SQL that answers it.
func (s *Store) TrainQAPairs(ctx context.Context, pairs []QAPair, databaseID string) error {
	for _, pair := range pairs {
		extra := map[string]any{"question": pair.Question, "sql": pair.SQL}
		if err := s.writeOne(ctx, DataTypeQAPair, databaseID, pair.Question, extra); err != nil {
			return err
		}
	}
	return nil
}

// TrainDomainKnowledge ingests free-text domain knowledge.
func (s *Store) TrainDomainKnowledge(ctx context.Context, texts []string, databaseID string) error {
	for _, text := range texts {
		if err := s.writeOne(ctx, DataTypeDomainKnowledge, databaseID, text, nil); err != nil {
			return err
		}
	}
	return nil
}

// AutoTrainFromSuccessfulQuery is invoked by the orchestrator on a
// successful process_query call. It writes a QA_PAIR iff semantically
// distinct from existing ones for this database, per the configured
// novelty threshold, to avoid corpus bloat from repeated near-identical
// questions.
func (s *Store) AutoTrainFromSuccessfulQuery(ctx context.Context, question, sqlText, databaseID string) error {
	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return fmt.Errorf("embed question for novelty check: %w", err)
	}

	existing, err := s.index.Search(ctx, vector, map[string]string{
		"data_type":   string(DataTypeQAPair),
		"database_id": databaseID,
	}, 1)
	if err != nil {
		return fmt.Errorf("novelty search: %w", err)
	}

	if len(existing) > 0 {
		distance := 1 - existing[0].Score
		if distance < s.cfg.NoveltyThreshold {
			s.logger.Debug("skipping auto-train, question not novel enough",
				zap.Float32("distance", distance), zap.Float32("threshold", s.cfg.NoveltyThreshold))
			return nil
		}
	}

	return s.TrainQAPairs(ctx, []QAPair{{Question: question, SQL: sqlText}}, databaseID)
}

// RetrieveContext embeds question once and serves strategy-biased,
// quality- and diversity-filtered top-k context for each data type,
// scoped to databaseID.
func (s *Store) RetrieveContext(ctx context.Context, question, databaseID string, strategy Strategy) (*RetrievedContext, error) {
	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	budgets := typeBudgets(strategy, s.cfg.MaxExamplesPerType)
	result := &RetrievedContext{}

	for _, dt := range allDataTypes {
		items, err := s.retrieveOneType(ctx, vector, databaseID, dt, budgets[dt])
		if err != nil {
			return nil, err
		}
		switch dt {
		case DataTypeDDL:
			result.DDL = items
		case DataTypeDocumentation:
			result.Documentation = items
		case DataTypeSQLExample:
			result.SQLExamples = items
		case DataTypeQAPair:
			result.QAPairs = items
		case DataTypeDomainKnowledge:
			result.DomainKnowledge = items
		}
	}

	return result, nil
}

func (s *Store) retrieveOneType(ctx context.Context, vector []float32, databaseID string, dt DataType, budget int) ([]RetrievedItem, error) {
	if budget <= 0 {
		budget = 1
	}
	// Over-fetch for filtering headroom.
	hits, err := s.index.Search(ctx, vector, map[string]string{
		"data_type":   string(dt),
		"database_id": databaseID,
	}, budget*2)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", dt, err)
	}

	scored := make([]scoredContent, 0, len(hits))
	for _, hit := range hits {
		content, _ := hit.Metadata["content"].(string)
		scored = append(scored, scoredContent{result: hit, content: content, dataType: dt})
	}

	qualityCfg := DefaultQualityConfig()
	qualityCfg.SimilarityThreshold = s.cfg.SimilarityThreshold
	filtered := FilterByQuality(qualityCfg, scored)
	filtered = FilterByDiversity(filtered)

	if len(filtered) > budget {
		filtered = filtered[:budget]
	}

	items := make([]RetrievedItem, len(filtered))
	for i, f := range filtered {
		items[i] = RetrievedItem{Content: f.content, Score: f.result.Score}
	}
	return items, nil
}

// RetrievalStats reports per-type retrieved counts and a high-quality QA
// pair count for a hypothetical retrieve_context call, for operational
// visibility into RAG behaviour.
func (s *Store) RetrievalStats(ctx context.Context, question, databaseID string) (map[string]any, error) {
	retrieved, err := s.RetrieveContext(ctx, question, databaseID, Balanced)
	if err != nil {
		return nil, err
	}

	highQualityQA := 0
	for _, qa := range retrieved.QAPairs {
		if qa.Score >= highQualityThreshold {
			highQualityQA++
		}
	}

	return map[string]any{
		"retrieved_counts": map[string]int{
			"ddl":              len(retrieved.DDL),
			"documentation":    len(retrieved.Documentation),
			"sql_examples":     len(retrieved.SQLExamples),
			"qa_pairs":         len(retrieved.QAPairs),
			"domain_knowledge": len(retrieved.DomainKnowledge),
		},
		"total_retrieved": len(retrieved.DDL) + len(retrieved.Documentation) + len(retrieved.SQLExamples) +
			len(retrieved.QAPairs) + len(retrieved.DomainKnowledge),
		"high_quality_qa_pairs": highQualityQA,
	}, nil
}

// BuildPrompt delegates to the package-level composer, using this store's
// configured max context length.
func (s *Store) BuildPrompt(retrieved *RetrievedContext) string {
	return BuildPrompt(retrieved, s.cfg.MaxContextLength)
}
