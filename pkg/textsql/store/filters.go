package store

import (
	"regexp"
	"strings"
)

// QualityConfig bounds the quality filter applied to raw search hits
// before they are handed to the diversity filter.
type QualityConfig struct {
	SimilarityThreshold float32
	MinContentLength    int
	MaxContentLength    int
}

// DefaultQualityConfig mirrors the component design's stated defaults.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{SimilarityThreshold: 0.7, MinContentLength: 10, MaxContentLength: 2000}
}

// sqlErrorPatterns are the "obvious SQL syntax-error patterns" the quality
// filter screens SQL/QA content for. The precise set is left to
// implementers; this adopts patterns that catch visible database error text
// (syntax errors, unknown columns, missing tables) leaking into the
// training corpus.
var sqlErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)syntax\s+error`),
	regexp.MustCompile(`(?i)invalid\s+syntax`),
	regexp.MustCompile(`(?i)missing\s+from`),
	regexp.MustCompile(`(?i)unknown\s+column`),
	regexp.MustCompile(`(?i)table.*doesn't\s+exist`),
}

// scoredContent is the minimal shape the filters operate on.
type scoredContent struct {
	result   SearchResult
	content  string
	dataType DataType
}

// FilterByQuality drops hits below the similarity threshold, outside the
// content-length bounds, or whose content looks like leaked error noise
// for SQL-bearing types.
func FilterByQuality(cfg QualityConfig, items []scoredContent) []scoredContent {
	var kept []scoredContent
	for _, item := range items {
		if item.result.Score < cfg.SimilarityThreshold {
			continue
		}
		length := len(item.content)
		if length < cfg.MinContentLength || length > cfg.MaxContentLength {
			continue
		}
		if (item.dataType == DataTypeSQLExample || item.dataType == DataTypeQAPair) && hasSQLErrorPattern(item.content) {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

func hasSQLErrorPattern(content string) bool {
	for _, p := range sqlErrorPatterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}

// FilterByDiversity drops a candidate when its Jaccard token-set similarity
// with any already-kept item (of the same type) is >= 0.5. Candidates are
// consumed in the order given, which callers should have sorted by score
// descending, so the first of any near-duplicate cluster wins.
func FilterByDiversity(items []scoredContent) []scoredContent {
	var kept []scoredContent
	keptTokens := make([]map[string]struct{}, 0, len(items))

	for _, item := range items {
		tokens := tokenSet(item.content)
		similar := false
		for _, existing := range keptTokens {
			if jaccard(tokens, existing) >= 0.5 {
				similar = true
				break
			}
		}
		if similar {
			continue
		}
		kept = append(kept, item)
		keptTokens = append(keptTokens, tokens)
	}
	return kept
}

func tokenSet(content string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(content))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
