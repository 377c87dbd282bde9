// Package refiner implements the third pipeline stage: safety-validating,
// executing, and iteratively repairing a candidate SQL statement.
package refiner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	sqlvalidate "github.com/ekaya-inc/ekaya-engine/pkg/sql"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql/llm"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql/prompts"
)

const refinementTimeout = 30 * time.Second

// Config bounds the refinement loop.
type Config struct {
	MaxRefinementAttempts int
	// EnableLLMPreValidation turns on the advisory refiner.sql_validation
	// pass before execution. Its verdict is logged, never blocking.
	EnableLLMPreValidation bool
}

// DefaultConfig mirrors the component design's stated defaults.
func DefaultConfig() Config {
	return Config{MaxRefinementAttempts: 3, EnableLLMPreValidation: true}
}

// Refiner is the execution-and-repair agent.
type Refiner struct {
	executor Executor
	gen      llm.Generator
	prompts  *prompts.Registry
	cfg      Config
	logger   *zap.Logger

	stats refinerStats
}

type refinerStats struct {
	validationCount     int
	executionCount      int
	refinementCount     int
	securityViolations  int
	successfulExecutions int
}

// New constructs a Refiner.
func New(executor Executor, gen llm.Generator, registry *prompts.Registry, cfg Config, logger *zap.Logger) *Refiner {
	return &Refiner{
		executor: executor,
		gen:      gen,
		prompts:  registry,
		cfg:      cfg,
		logger:   logger.Named("textsql.refiner"),
	}
}

// Process validates, executes, and (if repairable) refines msg.FinalSQL,
// populating msg.ExecutionResult before the pipeline terminates.
func (r *Refiner) Process(ctx context.Context, msg *textsql.Message) (*textsql.AgentResponse, error) {
	start := time.Now()

	if msg.FinalSQL == "" {
		// Per the retry contract, an LLM call that returns no SQL is a
		// refiner failure for routing purposes, not a terminal node fault:
		// it must consume retry budget and loop back to the decomposer with
		// error context like any other classified failure, not abort the
		// whole request outright.
		msg.ExecutionResult = &textsql.SQLExecutionResult{ErrorText: textsql.ErrNoSQL.Error()}
		return &textsql.AgentResponse{
			Success:       false,
			Message:       msg,
			Error:         fmt.Errorf("%w: %w", textsql.ErrRefinerFailed, textsql.ErrNoSQL),
			ExecutionTime: time.Since(start),
		}, nil
	}

	normalized := sqlvalidate.ValidateAndNormalize(msg.FinalSQL)
	if normalized.Error != nil {
		return nil, fmt.Errorf("%w: %w", textsql.ErrRefinerFailed, normalized.Error)
	}
	msg.FinalSQL = normalized.NormalizedSQL

	security := ValidateSQLSecurity(msg.FinalSQL)
	if !security.IsSafe {
		r.stats.securityViolations++
		detail := security.Error
		if detail == "" {
			detail = security.DetectedPattern
		}
		r.logger.Warn("security violation detected", zap.String("detail", detail), zap.String("risk_level", string(security.RiskLevel)))
		return &textsql.AgentResponse{
			Success: false,
			Message: msg,
			Error:   fmt.Errorf("%w: %s", textsql.ErrSecurityViolation, detail),
			Metadata: map[string]any{
				"risk_level":       string(security.RiskLevel),
				"detected_pattern": security.DetectedPattern,
			},
		}, nil
	}

	if r.cfg.EnableLLMPreValidation {
		r.stats.validationCount++
		if verdict := validateWithLLM(ctx, r.gen, r.prompts, msg.FinalSQL, msg.SchemaDescription, msg.Question); verdict != nil && !verdict.IsValid {
			for _, issue := range verdict.SyntaxErrors {
				r.logger.Warn("LLM validation: syntax issue", zap.String("issue", issue))
			}
			for _, issue := range verdict.LogicalIssues {
				r.logger.Warn("LLM validation: logical issue", zap.String("issue", issue))
			}
		}
	}

	execResult := r.executeSQL(ctx, msg.DatabaseID, msg.FinalSQL)
	msg.ExecutionResult = execResult

	if !execResult.IsSuccessful {
		r.attemptRefinement(ctx, msg)
	}

	msg.SendTo = "System"

	success := msg.ExecutionResult.IsSuccessful
	var respErr error
	if success {
		r.stats.successfulExecutions++
	} else {
		respErr = fmt.Errorf("%w: %s", textsql.ErrExecutionTimeout, msg.ExecutionResult.ErrorText)
		if msg.ExecutionResult.ExceptionClass != "TimeoutError" {
			respErr = fmt.Errorf("execution failed: %s", msg.ExecutionResult.ErrorText)
		}
	}

	return &textsql.AgentResponse{
		Success:       success,
		Message:       msg,
		Error:         respErr,
		ExecutionTime: time.Since(start),
		Metadata: map[string]any{
			"refined":            msg.WasFixed,
			"security_validated": true,
			"row_count":          len(msg.ExecutionResult.Rows),
		},
	}, nil
}

// attemptRefinement runs up to cfg.MaxRefinementAttempts repair/re-execute
// cycles, stopping as soon as one succeeds or the error is classified as
// unrepairable.
func (r *Refiner) attemptRefinement(ctx context.Context, msg *textsql.Message) {
	for attempt := 0; attempt < r.cfg.MaxRefinementAttempts; attempt++ {
		errType := textsql.ClassifyExecutionError(msg.ExecutionResult.ErrorText)
		if !textsql.IsRepairable(errType, msg.ExecutionResult.ErrorText) {
			return
		}

		refined, err := r.refineSQL(ctx, msg)
		if err != nil || refined == "" || refined == msg.FinalSQL {
			r.logger.Info("refinement attempt produced no usable correction", zap.Int("attempt", attempt+1), zap.Error(err))
			return
		}

		r.stats.refinementCount++
		msg.FinalSQL = refined
		msg.WasFixed = true
		msg.ExecutionResult = r.executeSQL(ctx, msg.DatabaseID, refined)

		if msg.ExecutionResult.IsSuccessful {
			return
		}
	}
}

func (r *Refiner) refineSQL(ctx context.Context, msg *textsql.Message) (string, error) {
	systemPrompt, userPrompt, err := r.prompts.Format("refiner", "sql_refinement", map[string]string{
		"sql":          msg.FinalSQL,
		"error":        msg.ExecutionResult.ErrorText,
		"schema":       msg.SchemaDescription,
		"foreign_keys": msg.ForeignKeyDescription,
		"question":     msg.Question,
	})
	if err != nil {
		return "", fmt.Errorf("format refinement prompt: %w", err)
	}

	result, err := r.gen.Generate(ctx, systemPrompt, userPrompt, 0.1, 1000, refinementTimeout)
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

// Stats reports validation/execution/refinement performance for
// operational visibility.
func (r *Refiner) Stats() map[string]any {
	successRate := 0.0
	refinementRate := 0.0
	securityRate := 0.0
	if r.stats.executionCount > 0 {
		successRate = float64(r.stats.successfulExecutions) / float64(r.stats.executionCount)
		refinementRate = float64(r.stats.refinementCount) / float64(r.stats.executionCount)
		securityRate = float64(r.stats.securityViolations) / float64(r.stats.executionCount)
	}
	return map[string]any{
		"validation_count":        r.stats.validationCount,
		"execution_count":         r.stats.executionCount,
		"refinement_count":        r.stats.refinementCount,
		"security_violations":     r.stats.securityViolations,
		"refinement_rate":         refinementRate,
		"security_violation_rate": securityRate,
		"success_rate":            successRate,
	}
}
