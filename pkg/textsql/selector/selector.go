// Package selector implements schema understanding and dynamic pruning:
// the first stage of the query-resolution pipeline. It introspects (or
// loads from cache) a database's schema, decides whether the schema is
// too large to hand a synthesis model in full, and if so asks an LLM to
// prune irrelevant tables and columns before describing the remaining
// schema as text.
package selector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql/llm"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql/prompts"
)

// SchemaProvider resolves a database_id to a live schema discoverer. The
// orchestrator wires a concrete implementation backed by
// datasource.DatasourceAdapterFactory and its own datasource registry;
// this package stays decoupled from the project/datasource-ID-scoped
// factory signature and only asks for a schema discoverer by database_id.
type SchemaProvider interface {
	SchemaDiscoverer(ctx context.Context, databaseID string) (datasource.SchemaDiscoverer, error)
}

// Config bounds the pruning strategy.
type Config struct {
	AvgColumnThreshold   int
	TotalColumnThreshold int
	TokenLimit           int
	SampleValuesPerCol   int
	// FallbackSchemaDir, if non-empty, is consulted for a pre-exported
	// "<database_id>.json" schema description when live introspection
	// fails.
	FallbackSchemaDir string
}

// DefaultConfig mirrors the component design's stated thresholds.
func DefaultConfig() Config {
	return Config{
		AvgColumnThreshold:   6,
		TotalColumnThreshold: 30,
		TokenLimit:           25000,
		SampleValuesPerCol:   3,
	}
}

// Selector is the schema-selection agent.
type Selector struct {
	provider SchemaProvider
	cache    *schemaCache
	gen      llm.Generator
	prompts  *prompts.Registry
	cfg      Config
	logger   *zap.Logger

	stats selectorStats
}

type selectorStats struct {
	totalQueries  int
	prunedQueries int
}

// New constructs a Selector.
func New(provider SchemaProvider, gen llm.Generator, registry *prompts.Registry, cfg Config, logger *zap.Logger) *Selector {
	return &Selector{
		provider: provider,
		cache:    newSchemaCache(provider, NewFileFallback(cfg.FallbackSchemaDir)),
		gen:      gen,
		prompts:  registry,
		cfg:      cfg,
		logger:   logger.Named("textsql.selector"),
	}
}

// InvalidateSchema forces the next Process call for databaseID to
// re-introspect rather than serve the cached entry.
func (s *Selector) InvalidateSchema(databaseID string) {
	s.cache.invalidate(databaseID)
}

// Process resolves the schema for msg.DatabaseID, prunes it if the schema
// is large, and populates the message's schema fields before routing to
// the Decomposer.
func (s *Selector) Process(ctx context.Context, msg *textsql.Message) (*textsql.AgentResponse, error) {
	start := time.Now()
	s.stats.totalQueries++

	info, stats, err := s.cache.get(ctx, msg.DatabaseID)
	if err != nil {
		return nil, err
	}

	// descriptionJSON is cached independently of the rendered text form, as
	// the unpruned schema in fallback-file shape; nothing in this package
	// reads the cached value back.
	if _, err := s.cache.descriptionJSON(msg.DatabaseID, func() (string, error) {
		return encodeDescriptionJSON(info)
	}); err != nil {
		s.logger.Warn("failed to cache description JSON", zap.Error(err))
	}

	descStr, fkStr := renderDescription(info, nil, s.cfg.SampleValuesPerCol)

	if needsPruning(stats, descStr, s.cfg) {
		pruned, err := s.prune(ctx, msg.Question, msg.Evidence, info, descStr, fkStr)
		if err != nil {
			s.logger.Warn("schema pruning failed, falling back to full schema", zap.Error(err))
		} else {
			descStr, fkStr = renderDescription(info, pruned, s.cfg.SampleValuesPerCol)
			msg.ExtractedSchema = pruned
			msg.WasPruned = true
			s.stats.prunedQueries++
		}
	}

	msg.SchemaDescription = descStr
	msg.ForeignKeyDescription = fkStr
	routed := msg.RouteTo("Decomposer")

	return &textsql.AgentResponse{
		Success:       true,
		Message:       routed,
		ExecutionTime: time.Since(start),
		Metadata: map[string]any{
			"pruned":       routed.WasPruned,
			"table_count":  stats.TableCount,
			"column_count": stats.TotalColumnCount,
		},
	}, nil
}

// Stats reports pruning performance for operational visibility.
func (s *Selector) Stats() map[string]any {
	ratio := 0.0
	if s.stats.totalQueries > 0 {
		ratio = float64(s.stats.prunedQueries) / float64(s.stats.totalQueries)
	}
	return map[string]any{
		"total_queries":     s.stats.totalQueries,
		"pruned_queries":    s.stats.prunedQueries,
		"avg_pruning_ratio": ratio,
	}
}

func needsPruning(stats *textsql.DatabaseStats, schemaText string, cfg Config) bool {
	if stats.AverageColumnCount > float64(cfg.AvgColumnThreshold) || stats.TotalColumnCount > cfg.TotalColumnThreshold {
		return true
	}
	return estimateTokens(schemaText) >= cfg.TokenLimit
}

// estimateTokens approximates token count as word count * 1.3, the same
// fallback the original schema manager used when no tokenizer was
// available. No tokenizer library exists anywhere in the example corpus,
// so this approximation is the only reasonable option without fabricating
// a dependency.
func estimateTokens(text string) int {
	words := 0
	inWord := false
	for _, r := range text {
		isSpace := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if !isSpace && !inWord {
			words++
			inWord = true
		} else if isSpace {
			inWord = false
		}
	}
	return int(float64(words) * 1.3)
}
