package prompts

import (
	"strconv"
	"strings"
)

// QueryDecomposition builds the decomposer.query_decomposition template:
// turns a complex question into an ordered list of sub-questions.
func QueryDecomposition(maxSubQuestions int) *Template {
	return &Template{
		Description: "break a complex question into an ordered list of sub-questions",
		Parameters:  []string{"question", "schema", "foreign_keys", "evidence"},
		SystemPrompt: "You are a SQL reasoning assistant. Decompose a complex " +
			"natural-language question into a short ordered sequence of simpler " +
			"sub-questions that together answer the original question. Respond " +
			"with JSON only.",
		Render: func(p map[string]string) (string, error) {
			var b strings.Builder

			b.WriteString("## Question\n")
			b.WriteString(p["question"])
			b.WriteString("\n\n")

			if p["evidence"] != "" {
				b.WriteString("## Evidence\n")
				b.WriteString(p["evidence"])
				b.WriteString("\n\n")
			}

			b.WriteString("## Schema\n")
			b.WriteString(p["schema"])
			b.WriteString("\n\n")

			b.WriteString("## Foreign Keys\n")
			b.WriteString(p["foreign_keys"])
			b.WriteString("\n\n")

			b.WriteString("## Task\n")
			b.WriteString("Produce at most N sub-questions, where N = ")
			b.WriteString(strconv.Itoa(maxSubQuestions))
			b.WriteString(". Each sub-question should be answerable with a single " +
				"SQL fragment, and the sequence should build toward the final " +
				"answer.\n\n")

			b.WriteString("## Output Format\n")
			b.WriteString("```json\n")
			b.WriteString(`{"sub_questions": ["...", "..."], "reasoning": "..."}`)
			b.WriteString("\n```\n")
			b.WriteString("Return ONLY the JSON, no additional text.\n")

			return b.String(), nil
		},
	}
}

// SimpleSQLGeneration builds the decomposer.simple_sql_generation template:
// a single-step question with optional retrieved context.
func SimpleSQLGeneration() *Template {
	return &Template{
		Description: "synthesize SQL for a single-step question",
		Parameters:  []string{"question", "schema", "foreign_keys", "evidence", "context"},
		SystemPrompt: "You are a SQL generation assistant. Given a question, a " +
			"database schema, and optional retrieved examples, write a single " +
			"SQL query that answers the question. Output only the SQL statement.",
		Render: func(p map[string]string) (string, error) {
			var b strings.Builder

			b.WriteString("## Question\n")
			b.WriteString(p["question"])
			b.WriteString("\n\n")

			if p["evidence"] != "" {
				b.WriteString("## Evidence\n")
				b.WriteString(p["evidence"])
				b.WriteString("\n\n")
			}

			b.WriteString("## Schema\n")
			b.WriteString(p["schema"])
			b.WriteString("\n\n")

			b.WriteString("## Foreign Keys\n")
			b.WriteString(p["foreign_keys"])
			b.WriteString("\n\n")

			if p["context"] != "" {
				b.WriteString("## Retrieved Context\n")
				b.WriteString(p["context"])
				b.WriteString("\n\n")
			}

			b.WriteString("## Task\n")
			b.WriteString("Write one SQL statement (SELECT or WITH) that answers " +
				"the question against the schema above. Return only the SQL, in a " +
				"```sql code block, with no explanation.\n")

			return b.String(), nil
		},
	}
}

// CoTSQLGeneration builds the decomposer.cot_sql_generation template: an
// ordered sub-question plan feeding a single final SQL synthesis.
func CoTSQLGeneration() *Template {
	return &Template{
		Description: "synthesize SQL referencing an explicit sub-question plan",
		Parameters:  []string{"question", "schema", "foreign_keys", "evidence", "context", "sub_questions"},
		SystemPrompt: "You are a SQL generation assistant using chain-of-thought " +
			"planning. You are given a question already broken into an ordered " +
			"plan of sub-questions. Reason through the plan step by step, then " +
			"produce a single final SQL query whose structure reflects that " +
			"derivation. Output only the SQL statement.",
		Render: func(p map[string]string) (string, error) {
			var b strings.Builder

			b.WriteString("## Question\n")
			b.WriteString(p["question"])
			b.WriteString("\n\n")

			b.WriteString("## Sub-question Plan\n")
			b.WriteString(p["sub_questions"])
			b.WriteString("\n\n")

			if p["evidence"] != "" {
				b.WriteString("## Evidence\n")
				b.WriteString(p["evidence"])
				b.WriteString("\n\n")
			}

			b.WriteString("## Schema\n")
			b.WriteString(p["schema"])
			b.WriteString("\n\n")

			b.WriteString("## Foreign Keys\n")
			b.WriteString(p["foreign_keys"])
			b.WriteString("\n\n")

			if p["context"] != "" {
				b.WriteString("## Retrieved Context\n")
				b.WriteString(p["context"])
				b.WriteString("\n\n")
			}

			b.WriteString("## Task\n")
			b.WriteString("Derive the final SQL by addressing each sub-question in " +
				"order, then merge the derivation into one SQL statement (SELECT " +
				"or WITH) that answers the original question. Return only the " +
				"SQL, in a ```sql code block, with no explanation.\n")

			return b.String(), nil
		},
	}
}

// ErrorAwareSQLGeneration builds a regeneration prompt carrying prior
// failing SQL and their classified errors, per the decomposer's
// error-aware regeneration step.
func ErrorAwareSQLGeneration() *Template {
	return &Template{
		Description: "regenerate SQL with prior failures as a do-not-repeat list",
		Parameters:  []string{"question", "schema", "foreign_keys", "evidence", "context", "error_history"},
		SystemPrompt: "You are a SQL generation assistant repairing a failed " +
			"attempt. You will be shown the prior failing SQL statements and " +
			"their classified errors. Produce a new SQL query that avoids every " +
			"listed mistake. Output only the SQL statement.",
		Render: func(p map[string]string) (string, error) {
			var b strings.Builder

			b.WriteString("## Question\n")
			b.WriteString(p["question"])
			b.WriteString("\n\n")

			if p["evidence"] != "" {
				b.WriteString("## Evidence\n")
				b.WriteString(p["evidence"])
				b.WriteString("\n\n")
			}

			b.WriteString("## Schema\n")
			b.WriteString(p["schema"])
			b.WriteString("\n\n")

			b.WriteString("## Foreign Keys\n")
			b.WriteString(p["foreign_keys"])
			b.WriteString("\n\n")

			if p["context"] != "" {
				b.WriteString("## Retrieved Context\n")
				b.WriteString(p["context"])
				b.WriteString("\n\n")
			}

			b.WriteString("## Prior Failed Attempts (do not repeat)\n")
			b.WriteString(p["error_history"])
			b.WriteString("\n\n")

			b.WriteString("## Task\n")
			b.WriteString("Write a corrected SQL statement (SELECT or WITH) that " +
				"avoids every mistake listed above. Return only the SQL, in a " +
				"```sql code block, with no explanation.\n")

			return b.String(), nil
		},
	}
}
