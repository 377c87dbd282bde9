package textsql

import (
	"regexp"
	"strings"
)

var (
	fencedSQLBlock  = regexp.MustCompile("(?is)```(?:sql)?\\s*(.*?)```")
	sqlLabelPrefix  = regexp.MustCompile(`(?is)^(?:sql|query)\s*:\s*`)
	leadingKeyword  = regexp.MustCompile(`(?i)^\s*(select|with)\b`)
	trailingSemiRun = regexp.MustCompile(`;\s*$`)
)

// ExtractSQL pulls a single SQL statement out of a noisy LLM response:
// strips code-fence markers, a leading "SQL:"/"Query:" label, and
// normalizes the trailing semicolon. Returns ok=false if nothing starting
// with SELECT or WITH can be found.
func ExtractSQL(response string) (sqlText string, ok bool) {
	candidate := strings.TrimSpace(response)

	if m := fencedSQLBlock.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}

	candidate = sqlLabelPrefix.ReplaceAllString(candidate, "")
	candidate = strings.TrimSpace(candidate)

	if !leadingKeyword.MatchString(candidate) {
		// Last resort: search line by line for a SELECT/WITH-led line.
		for _, line := range strings.Split(candidate, "\n") {
			line = strings.TrimSpace(line)
			if leadingKeyword.MatchString(line) {
				candidate = line
				break
			}
		}
	}

	if !leadingKeyword.MatchString(candidate) {
		return "", false
	}

	candidate = trailingSemiRun.ReplaceAllString(candidate, "")
	return strings.TrimSpace(candidate), true
}
