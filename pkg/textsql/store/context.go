package store

import "strings"

// RetrievedItem is one piece of assembled context with its retrieval score.
type RetrievedItem struct {
	Content string
	Score   float32
}

// RetrievedContext is the typed bundle RetrieveContext returns: one ordered
// list per data type, already quality- and diversity-filtered and capped
// at the strategy's per-type budget (derived from max_examples_per_type).
type RetrievedContext struct {
	DDL             []RetrievedItem
	Documentation   []RetrievedItem
	SQLExamples     []RetrievedItem
	QAPairs         []RetrievedItem
	DomainKnowledge []RetrievedItem
}

const highQualityThreshold = 0.8

// BuildPrompt assembles the decomposer's context block in the fixed order:
// similar SQL examples (up to 2) -> high-quality QA pairs (score >= 0.8, up
// to 2) -> business documentation (up to 2). The result is truncated to
// maxContextLength characters, dropping the lowest-priority section
// (documentation, then QA pairs, then SQL examples) first.
func BuildPrompt(ctx *RetrievedContext, maxContextLength int) string {
	sqlSection := renderSection("Similar SQL examples", capItems(ctx.SQLExamples, 2))
	qaSection := renderSection("High-quality question/SQL pairs", capItems(filterHighQuality(ctx.QAPairs), 2))
	docSection := renderSection("Business documentation", capItems(ctx.Documentation, 2))

	sections := []string{sqlSection, qaSection, docSection}

	for totalLength(sections) > maxContextLength {
		truncated := false
		for i := len(sections) - 1; i >= 0; i-- {
			if sections[i] != "" {
				sections[i] = ""
				truncated = true
				break
			}
		}
		if !truncated {
			break
		}
	}

	var nonEmpty []string
	for _, s := range sections {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}

	full := strings.Join(nonEmpty, "\n\n")
	if len(full) > maxContextLength {
		full = full[:maxContextLength]
	}
	return full
}

func filterHighQuality(items []RetrievedItem) []RetrievedItem {
	var out []RetrievedItem
	for _, it := range items {
		if it.Score >= highQualityThreshold {
			out = append(out, it)
		}
	}
	return out
}

func capItems(items []RetrievedItem, n int) []RetrievedItem {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

func renderSection(title string, items []RetrievedItem) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## ")
	b.WriteString(title)
	b.WriteString("\n")
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func totalLength(sections []string) int {
	total := 0
	for _, s := range sections {
		total += len(s)
	}
	return total
}
