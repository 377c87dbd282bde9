package refiner

import (
	"regexp"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
)

// RiskLevel classifies how dangerous a detected SQL pattern is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// SecurityValidationResult is the structured outcome of validating a
// candidate SQL statement before execution.
type SecurityValidationResult struct {
	IsSafe          bool
	RiskLevel       RiskLevel
	DetectedPattern string
	Error           string
	Recommendations []string
}

var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i);\s*(drop|delete|update|insert|create|alter|truncate)\s+`),
	regexp.MustCompile(`(?i)union\s+select`),
	regexp.MustCompile(`(?i)exec\s*\(`),
	regexp.MustCompile(`(?i)xp_cmdshell`),
	regexp.MustCompile(`(?i)sp_executesql`),
	regexp.MustCompile(`(?im)--\s*$`),
	regexp.MustCompile(`(?is)/\*.*\*/`),
	regexp.MustCompile(`(?i)'.*'.*or.*'.*'.*=.*'.*'`),
	regexp.MustCompile(`(?i)1\s*=\s*1`),
	regexp.MustCompile(`(?i)or\s+1\s*=\s*1`),
	regexp.MustCompile(`(?i)and\s+1\s*=\s*1`),
}

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)sleep\s*\(`),
	regexp.MustCompile(`(?i)benchmark\s*\(`),
	regexp.MustCompile(`(?i)load_file\s*\(`),
	regexp.MustCompile(`(?i)into\s+outfile`),
	regexp.MustCompile(`(?i)into\s+dumpfile`),
}

// ValidateSQLSecurity runs the curated dangerous/suspicious pattern checks,
// the leading-keyword allowlist, and a libinjection pass over the raw SQL
// text. The curated patterns run first since they carry a specific
// DetectedPattern the caller can log; libinjection is the catch-all behind
// them.
func ValidateSQLSecurity(sqlText string) SecurityValidationResult {
	trimmed := strings.ToLower(strings.TrimSpace(sqlText))

	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(trimmed) {
			return SecurityValidationResult{
				IsSafe:          false,
				RiskLevel:       RiskHigh,
				DetectedPattern: pattern.String(),
				Recommendations: []string{"Remove dangerous SQL operations", "Use parameterized queries"},
			}
		}
	}

	if !strings.HasPrefix(trimmed, "select") && !strings.HasPrefix(trimmed, "with") {
		return SecurityValidationResult{
			IsSafe:          false,
			RiskLevel:       RiskMedium,
			Error:           "only SELECT queries are allowed",
			Recommendations: []string{"Use SELECT statements only", "Avoid data modification operations"},
		}
	}

	for _, pattern := range suspiciousPatterns {
		if pattern.MatchString(trimmed) {
			return SecurityValidationResult{
				IsSafe:          false,
				RiskLevel:       RiskMedium,
				DetectedPattern: pattern.String(),
				Recommendations: []string{"Remove suspicious functions", "Use standard SQL operations only"},
			}
		}
	}

	if isSQLi, fingerprint := libinjection.IsSQLi(sqlText); isSQLi {
		return SecurityValidationResult{
			IsSafe:          false,
			RiskLevel:       RiskHigh,
			DetectedPattern: string(fingerprint),
			Recommendations: []string{"Statement matched a known SQL injection fingerprint"},
		}
	}

	return SecurityValidationResult{IsSafe: true, RiskLevel: RiskLow}
}
