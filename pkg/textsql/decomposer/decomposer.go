// Package decomposer implements the second pipeline stage: turning a
// question (plus schema and optional retrieved context) into a single
// synthesized SQL statement, decomposing complex questions into an ordered
// sub-question plan first when warranted.
package decomposer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	ekayallm "github.com/ekaya-inc/ekaya-engine/pkg/llm"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql/llm"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql/prompts"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql/store"
)

const (
	decompositionTimeout = 30 * time.Second
	synthesisTimeout     = 45 * time.Second
)

// ContextRetriever is the subset of store.Store the decomposer consumes;
// kept narrow so tests can supply a fake without a vector index.
type ContextRetriever interface {
	RetrieveContext(ctx context.Context, question, databaseID string, strategy store.Strategy) (*store.RetrievedContext, error)
	BuildPrompt(retrieved *store.RetrievedContext) string
}

// Config bounds the decomposer's behaviour.
type Config struct {
	MaxSubQuestions int
	DatasetProfile  DatasetProfile
}

// DefaultConfig mirrors the component design's stated defaults.
func DefaultConfig() Config {
	return Config{MaxSubQuestions: 5, DatasetProfile: ProfileGeneric}
}

// Decomposer is the query-decomposition agent.
type Decomposer struct {
	gen       llm.Generator
	retriever ContextRetriever
	prompts   *prompts.Registry
	cfg       Config
	logger    *zap.Logger

	stats decomposerStats
}

type decomposerStats struct {
	totalQueries       int
	simpleQueries      int
	complexQueries     int
	subQuestionTotal   int
	ragEnhancedQueries int
}

// New constructs a Decomposer. retriever may be nil to disable RAG context
// enhancement entirely.
func New(gen llm.Generator, retriever ContextRetriever, registry *prompts.Registry, cfg Config, logger *zap.Logger) *Decomposer {
	return &Decomposer{
		gen:       gen,
		retriever: retriever,
		prompts:   registry,
		cfg:       cfg,
		logger:    logger.Named("textsql.decomposer"),
	}
}

// Process decomposes msg.Question if warranted, retrieves context, and
// synthesizes msg.FinalSQL before routing to the Refiner.
func (d *Decomposer) Process(ctx context.Context, msg *textsql.Message) (*textsql.AgentResponse, error) {
	start := time.Now()
	d.stats.totalQueries++

	if msg.SchemaDescription == "" {
		return nil, fmt.Errorf("%w: missing schema description", textsql.ErrDecomposerFailed)
	}

	if msg.ErrorContextAvailable && len(msg.ErrorHistory) > 0 {
		return d.processRetry(ctx, msg, start)
	}
	return d.processNormal(ctx, msg, start)
}

func (d *Decomposer) processNormal(ctx context.Context, msg *textsql.Message, start time.Time) (*textsql.AgentResponse, error) {
	subQuestions, strategy := d.decompose(ctx, msg.Question, msg.SchemaDescription, msg.Evidence)

	retrieved := d.retrieveContext(ctx, msg)

	sql, err := d.synthesize(ctx, msg, subQuestions, retrieved)
	if err != nil {
		if errors.Is(err, textsql.ErrEmptySQL) {
			return d.routeEmptySQLToRefiner(msg, start)
		}
		return nil, err
	}

	msg.FinalSQL = sql
	msg.SubQuestions = subQuestions
	msg.DecompositionStrategy = strategy
	msg.QAPairs = buildQAPairs(subQuestions, sql, retrieved)
	routed := msg.RouteTo("Refiner")

	d.updateStats(subQuestions, retrieved)

	return &textsql.AgentResponse{
		Success:       true,
		Message:       routed,
		ExecutionTime: time.Since(start),
		Metadata: map[string]any{
			"sub_questions_count": len(subQuestions),
			"decomposition":       string(strategy),
			"rag_enhanced":        retrieved != nil,
		},
	}, nil
}

// routeEmptySQLToRefiner mirrors the retry contract's tie-break: an LLM
// call that returns no SQL is a refiner failure for routing purposes, not
// a terminal decomposer fault. Route the empty result on to the Refiner
// (which classifies it and feeds the normal retry loop) instead of
// aborting the request outright.
func (d *Decomposer) routeEmptySQLToRefiner(msg *textsql.Message, start time.Time) (*textsql.AgentResponse, error) {
	msg.FinalSQL = ""
	routed := msg.RouteTo("Refiner")
	return &textsql.AgentResponse{
		Success:       true,
		Message:       routed,
		ExecutionTime: time.Since(start),
		Metadata:      map[string]any{"empty_sql": true},
	}, nil
}

func (d *Decomposer) processRetry(ctx context.Context, msg *textsql.Message, start time.Time) (*textsql.AgentResponse, error) {
	retrieved := d.retrieveContext(ctx, msg)

	sql, err := d.synthesizeWithErrorContext(ctx, msg, retrieved)
	if err != nil {
		if errors.Is(err, textsql.ErrEmptySQL) {
			return d.routeEmptySQLToRefiner(msg, start)
		}
		return nil, err
	}

	msg.FinalSQL = sql
	msg.QAPairs = buildErrorAwareQAPairs(msg.ErrorHistory, sql)
	routed := msg.RouteTo("Refiner")

	return &textsql.AgentResponse{
		Success:       true,
		Message:       routed,
		ExecutionTime: time.Since(start),
		Metadata: map[string]any{
			"retry_with_error_context": true,
			"error_patterns":           summarizeErrorPatterns(msg.ErrorHistory),
		},
	}, nil
}

// decompose scores the question's complexity and, if warranted, asks the
// LLM for an ordered sub-question plan.
func (d *Decomposer) decompose(ctx context.Context, question, schema, evidence string) ([]string, textsql.DecompositionStrategy) {
	complexity := analyzeComplexity(question)
	if !shouldDecompose(complexity.Score, d.cfg.DatasetProfile) {
		return []string{question}, textsql.StrategySimple
	}

	subQuestions, err := d.decomposeViaLLM(ctx, question, schema, evidence)
	if err != nil {
		d.logger.Warn("decomposition failed, falling back to single question", zap.Error(err))
		return []string{question}, textsql.StrategySimple
	}
	if len(subQuestions) <= 1 {
		return subQuestions, textsql.StrategySimple
	}
	return subQuestions, textsql.StrategyCoT
}

func (d *Decomposer) decomposeViaLLM(ctx context.Context, question, schema, evidence string) ([]string, error) {
	systemPrompt, userPrompt, err := d.prompts.Format("decomposer", "query_decomposition", map[string]string{
		"question":     question,
		"schema":       schema,
		"foreign_keys": "",
		"evidence":     evidence,
	})
	if err != nil {
		return nil, fmt.Errorf("format decomposition prompt: %w", err)
	}

	result, err := d.gen.Generate(ctx, systemPrompt, userPrompt, 0.1, 1000, decompositionTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", textsql.ErrLLMUnavailable, err)
	}
	if !result.Success {
		return nil, fmt.Errorf("%w: %s", textsql.ErrLLMUnavailable, result.Error)
	}

	var parsed struct {
		SubQuestions []string `json:"sub_questions"`
		Reasoning    string   `json:"reasoning"`
	}
	if err := parseJSONResponse(result.Content, &parsed); err != nil || len(parsed.SubQuestions) == 0 {
		return []string{question}, fmt.Errorf("%w: %v", textsql.ErrMalformedDecomposition, err)
	}

	if len(parsed.SubQuestions) > d.cfg.MaxSubQuestions {
		parsed.SubQuestions = parsed.SubQuestions[:d.cfg.MaxSubQuestions]
	}
	return parsed.SubQuestions, nil
}

// retrieveContext selects a strategy from the dataset profile and pulls
// top-k retrieval-store records, returning nil (not an error) if no
// retriever is configured or the lookup fails, since RAG enhancement is
// always best-effort.
func (d *Decomposer) retrieveContext(ctx context.Context, msg *textsql.Message) *store.RetrievedContext {
	if d.retriever == nil {
		return nil
	}

	strategy := store.Balanced
	switch d.cfg.DatasetProfile {
	case ProfileBIRD:
		strategy = store.ContextFocused
	case ProfileSpider:
		strategy = store.SQLFocused
	}

	retrieved, err := d.retriever.RetrieveContext(ctx, msg.Question, msg.DatabaseID, strategy)
	if err != nil {
		d.logger.Warn("RAG context retrieval failed", zap.Error(err))
		return nil
	}
	return retrieved
}

func (d *Decomposer) synthesize(ctx context.Context, msg *textsql.Message, subQuestions []string, retrieved *store.RetrievedContext) (string, error) {
	contextText := ""
	if retrieved != nil {
		contextText = d.retriever.BuildPrompt(retrieved)
	}

	promptType := "simple_sql_generation"
	params := map[string]string{
		"question":     msg.Question,
		"schema":       msg.SchemaDescription,
		"foreign_keys": msg.ForeignKeyDescription,
		"evidence":     msg.Evidence,
		"context":      contextText,
	}
	if len(subQuestions) > 1 {
		promptType = "cot_sql_generation"
		params["sub_questions"] = renderSubQuestions(subQuestions)
	}

	systemPrompt, userPrompt, err := d.prompts.Format("decomposer", promptType, params)
	if err != nil {
		return "", fmt.Errorf("format synthesis prompt: %w", err)
	}

	result, err := d.gen.Generate(ctx, systemPrompt, userPrompt, 0.1, 2000, synthesisTimeout)
	if err != nil {
		return "", fmt.Errorf("%w: %s", textsql.ErrLLMUnavailable, err)
	}
	if !result.Success {
		return "", fmt.Errorf("%w: %s", textsql.ErrLLMUnavailable, result.Error)
	}

	sql, ok := textsql.ExtractSQL(result.Content)
	if !ok {
		return "", textsql.ErrEmptySQL
	}
	return sql, nil
}

func (d *Decomposer) synthesizeWithErrorContext(ctx context.Context, msg *textsql.Message, retrieved *store.RetrievedContext) (string, error) {
	contextText := ""
	if retrieved != nil {
		contextText = d.retriever.BuildPrompt(retrieved)
	}

	systemPrompt, userPrompt, err := d.prompts.Format("decomposer", "error_aware_sql_generation", map[string]string{
		"question":      msg.Question,
		"schema":        msg.SchemaDescription,
		"foreign_keys":  msg.ForeignKeyDescription,
		"evidence":      msg.Evidence,
		"context":       contextText,
		"error_history": renderErrorHistory(msg.ErrorHistory),
	})
	if err != nil {
		return "", fmt.Errorf("format error-aware prompt: %w", err)
	}

	result, err := d.gen.Generate(ctx, systemPrompt, userPrompt, 0.1, 2000, synthesisTimeout)
	if err != nil {
		return "", fmt.Errorf("%w: %s", textsql.ErrLLMUnavailable, err)
	}
	if !result.Success {
		return "", fmt.Errorf("%w: %s", textsql.ErrLLMUnavailable, result.Error)
	}

	sql, ok := textsql.ExtractSQL(result.Content)
	if !ok {
		return "", textsql.ErrEmptySQL
	}
	return sql, nil
}

// Stats reports decomposition performance for operational visibility.
func (d *Decomposer) Stats() map[string]any {
	avgSub := 0.0
	if d.stats.totalQueries > 0 {
		avgSub = float64(d.stats.subQuestionTotal) / float64(d.stats.totalQueries)
	}
	return map[string]any{
		"total_queries":        d.stats.totalQueries,
		"simple_queries":       d.stats.simpleQueries,
		"complex_queries":      d.stats.complexQueries,
		"avg_sub_questions":    avgSub,
		"rag_enhanced_queries": d.stats.ragEnhancedQueries,
	}
}

func (d *Decomposer) updateStats(subQuestions []string, retrieved *store.RetrievedContext) {
	d.stats.subQuestionTotal += len(subQuestions)
	if len(subQuestions) <= 1 {
		d.stats.simpleQueries++
	} else {
		d.stats.complexQueries++
	}
	if retrieved != nil {
		d.stats.ragEnhancedQueries++
	}
}

func renderSubQuestions(subQuestions []string) string {
	var b strings.Builder
	for i, q := range subQuestions {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(q)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderErrorHistory(history []textsql.ErrorRecord) string {
	var b strings.Builder
	for _, rec := range history {
		fmt.Fprintf(&b, "Attempt %d failed (%s):\nSQL: %s\nError: %s\n\n", rec.AttemptNumber, rec.ErrorType, rec.FailedSQL, rec.ErrorMessage)
	}
	return strings.TrimRight(b.String(), "\n")
}

func summarizeErrorPatterns(history []textsql.ErrorRecord) map[string]int {
	counts := make(map[string]int)
	for _, rec := range history {
		counts[string(rec.ErrorType)]++
	}
	return counts
}

func buildQAPairs(subQuestions []string, finalSQL string, retrieved *store.RetrievedContext) string {
	var b strings.Builder
	b.WriteString("# Current Query Decomposition\n")
	for i, q := range subQuestions {
		fmt.Fprintf(&b, "Sub-question %d: %s\n", i+1, q)
	}
	fmt.Fprintf(&b, "Final SQL: %s\n\n", finalSQL)

	if retrieved != nil && len(retrieved.QAPairs) > 0 {
		b.WriteString("# Related Historical Examples\n")
		limit := len(retrieved.QAPairs)
		if limit > 3 {
			limit = 3
		}
		for i, pair := range retrieved.QAPairs[:limit] {
			fmt.Fprintf(&b, "Example %d:\n%s\n\n", i+1, pair.Content)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func buildErrorAwareQAPairs(history []textsql.ErrorRecord, finalSQL string) string {
	var b strings.Builder
	b.WriteString("# Error-Aware Regeneration\n")
	for _, rec := range history {
		fmt.Fprintf(&b, "Prior attempt %d (%s): %s\n", rec.AttemptNumber, rec.ErrorType, rec.FailedSQL)
	}
	fmt.Fprintf(&b, "Corrected SQL: %s\n", finalSQL)
	return strings.TrimRight(b.String(), "\n")
}

// parseJSONResponse extracts the first JSON object in response and
// unmarshals it into v.
func parseJSONResponse(response string, v any) error {
	raw, err := ekayallm.ExtractJSON(response)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}
