package textsql

import "strings"

// ClassifyExecutionError assigns one of the closed taxonomy entries to a raw
// executor error string, via pattern matching (mirrors the style of the
// LLM-layer's own ClassifyError, adapted to SQL fault categories).
func ClassifyExecutionError(errText string) ErrorType {
	lower := strings.ToLower(errText)

	switch {
	case containsAny(lower, "syntax error", "invalid syntax", "parse error", "unexpected token"):
		return ErrorTypeSyntax
	case containsAny(lower, "no such table", "no such column", "unknown column", "undefined column",
		"does not exist", "doesn't exist", "ambiguous column", "foreign key"):
		return ErrorTypeSchema
	case containsAny(lower, "group by", "having clause", "misuse of aggregate", "aggregate function"):
		return ErrorTypeLogic
	case containsAny(lower, "timeout", "deadline exceeded", "connection refused", "connection reset",
		"permission denied", "access denied", "too many connections", "out of memory"):
		return ErrorTypeExecution
	default:
		return ErrorTypeUnknown
	}
}

// IsRepairable reports whether the refiner should attempt an LLM-driven fix
// for this classification. Pure execution_error cases caused by a timeout or
// a permission/access denial are not repairable by rewriting the SQL; other
// execution errors (connection, resource exhaustion) are treated as repairable.
func IsRepairable(errType ErrorType, errText string) bool {
	if errType != ErrorTypeExecution {
		return true
	}
	lower := strings.ToLower(errText)
	return !containsAny(lower, "timeout", "deadline exceeded", "permission denied", "access denied")
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
