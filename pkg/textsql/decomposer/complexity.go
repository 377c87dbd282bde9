package decomposer

import "strings"

// indicator is one of the eight complexity signals scored over the
// lowercased question.
type indicator struct {
	name     string
	keywords []string
}

var indicators = []indicator{
	{"aggregation", []string{"count", "sum", "avg", "average", "max", "min", "total"}},
	{"grouping", []string{"group by", "each", "per", "by category", "by type"}},
	{"filtering", []string{"where", "filter", "only", "exclude", "include", "more than", "less than", "greater", "who"}},
	{"sorting", []string{"order", "sort", "highest", "lowest", "top", "bottom"}},
	{"joining", []string{"and", "with", "from", "in", "of"}},
	{"comparison", []string{"more than", "less than", "greater", "smaller", "above", "below", "between"}},
	{"temporal", []string{"year", "month", "day", "date", "time", "recent", "last", "first"}},
	{"multiple_entities", []string{"table", "user", "customer", "order", "product", "item", "person", "company", "employee"}},
}

// Complexity is the scored outcome of analysing a question.
type Complexity struct {
	Score      int
	Indicators map[string]bool
}

// analyzeComplexity scores the eight indicators over the lowercased
// question. The last indicator ("multiple entities") additionally requires
// more than one matching keyword, mirroring the regex-count check the
// original analyzer used rather than a plain substring hit.
func analyzeComplexity(question string) Complexity {
	q := strings.ToLower(question)
	result := Complexity{Indicators: make(map[string]bool, len(indicators))}

	for _, ind := range indicators {
		if ind.name == "multiple_entities" {
			matches := 0
			for _, kw := range ind.keywords {
				matches += strings.Count(q, kw)
			}
			result.Indicators[ind.name] = matches > 1
		} else {
			hit := false
			for _, kw := range ind.keywords {
				if strings.Contains(q, kw) {
					hit = true
					break
				}
			}
			result.Indicators[ind.name] = hit
		}
		if result.Indicators[ind.name] {
			result.Score++
		}
	}

	return result
}

// DatasetProfile biases the simple/3/complex boundary and the retrieval
// strategy used during context retrieval.
type DatasetProfile string

const (
	ProfileGeneric DatasetProfile = "generic"
	ProfileBIRD    DatasetProfile = "bird"
	ProfileSpider  DatasetProfile = "spider"
)

// shouldDecompose applies the score thresholds: <=2 is always simple, >=4
// always decomposes, and a score of exactly 3 only escalates to
// decomposition for the BIRD profile.
func shouldDecompose(score int, profile DatasetProfile) bool {
	if score >= 4 {
		return true
	}
	if score <= 2 {
		return false
	}
	return profile == ProfileBIRD
}
