package prompts

import "strings"

// SchemaPruning builds the selector.schema_pruning template: given a
// rendered schema too large to pass through whole, ask the model which
// tables/columns the question plausibly needs.
func SchemaPruning() *Template {
	return &Template{
		Description: "decide which tables/columns to keep for a large schema",
		Parameters:  []string{"question", "evidence", "schema", "foreign_keys"},
		SystemPrompt: "You are a database schema analyst. Given a question and a " +
			"database schema, decide which tables and columns are relevant. Be " +
			"conservative: keep a table if there is any plausible chance it is " +
			"needed, including tables only needed to join two relevant tables " +
			"together. Respond with JSON only.",
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
			b.WriteString("For every table in the schema, decide one of:\n")
			b.WriteString("- \"all\": keep every column\n")
			b.WriteString("- \"drop\": the table is not needed\n")
			b.WriteString("- an ordered list of column names: keep only these\n\n")

			b.WriteString("## Output Format\n")
			b.WriteString("Return a single JSON object mapping table name to the " +
				"verdict. Example:\n")
			b.WriteString("```json\n")
			b.WriteString(`{"schools": "all", "staff": ["id", "school_id", "role"], "logs": "drop"}`)
			b.WriteString("\n```\n")
			b.WriteString("Return ONLY the JSON, no additional text.\n")

			return b.String(), nil
		},
	}
}
