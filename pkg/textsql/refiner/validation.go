package refiner

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	ekayallm "github.com/ekaya-inc/ekaya-engine/pkg/llm"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql/llm"
)

const validationTimeout = 20 * time.Second

// llmValidation is the advisory (non-blocking) verdict refiner.sql_validation
// returns.
type llmValidation struct {
	IsValid          bool     `json:"is_valid"`
	SyntaxErrors     []string `json:"syntax_errors"`
	LogicalIssues    []string `json:"logical_issues"`
	SecurityConcerns []string `json:"security_concerns"`
	Suggestions      []string `json:"suggestions"`
}

// validateWithLLM asks the model to review sqlText before execution. The
// verdict never blocks execution; a parse failure degrades to a
// keyword-scanned best-effort verdict rather than dropping the check
// entirely, mirroring the original's _parse_validation_response fallback.
func validateWithLLM(ctx context.Context, gen llm.Generator, registry promptFormatter, sqlText, schema, question string) *llmValidation {
	systemPrompt, userPrompt, err := registry.Format("refiner", "sql_validation", map[string]string{
		"sql":      sqlText,
		"schema":   schema,
		"question": question,
	})
	if err != nil {
		return nil
	}

	result, err := gen.Generate(ctx, systemPrompt, userPrompt, 0.1, 800, validationTimeout)
	if err != nil || !result.Success || strings.TrimSpace(result.Content) == "" {
		return nil
	}

	raw, err := ekayallm.ExtractJSON(result.Content)
	if err != nil {
		return keywordScanValidation(result.Content)
	}

	var verdict llmValidation
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return keywordScanValidation(result.Content)
	}
	return &verdict
}

// keywordScanValidation is the non-JSON fallback: scan the response text
// for obvious validity/category markers, the same heuristic the original
// used when its JSON parse failed.
func keywordScanValidation(response string) *llmValidation {
	verdict := &llmValidation{IsValid: true}

	lower := strings.ToLower(response)
	if containsAny(lower, "invalid", "error", "incorrect", "wrong") {
		verdict.IsValid = false
	}

	for _, line := range strings.Split(response, "\n") {
		lineLower := strings.ToLower(strings.TrimSpace(line))
		trimmed := strings.TrimSpace(line)
		switch {
		case containsAny(lineLower, "syntax error", "syntax issue"):
			verdict.SyntaxErrors = append(verdict.SyntaxErrors, trimmed)
		case containsAny(lineLower, "logical", "logic"):
			verdict.LogicalIssues = append(verdict.LogicalIssues, trimmed)
		case containsAny(lineLower, "security", "injection"):
			verdict.SecurityConcerns = append(verdict.SecurityConcerns, trimmed)
		case containsAny(lineLower, "suggest", "recommend", "should"):
			verdict.Suggestions = append(verdict.Suggestions, trimmed)
		}
	}
	return verdict
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// promptFormatter is the subset of *prompts.Registry the refiner consumes.
type promptFormatter interface {
	Format(agent, promptType string, params map[string]string) (systemPrompt, userPrompt string, err error)
}
