package prompts

import "strings"

// SQLValidation builds the refiner.sql_validation template: an advisory
// pre-execution review the refiner may consult before running the query.
func SQLValidation() *Template {
	return &Template{
		Description: "advisory review of a candidate SQL statement",
		Parameters:  []string{"sql", "schema", "question"},
		SystemPrompt: "You are a SQL reviewer. Inspect the given SQL for syntax " +
			"mistakes, logical mistakes relative to the question, and security " +
			"concerns. Your verdict is advisory only and will not block " +
			"execution. Respond with JSON only.",
		Render: func(p map[string]string) (string, error) {
			var b strings.Builder

			b.WriteString("## Question\n")
			b.WriteString(p["question"])
			b.WriteString("\n\n")

			b.WriteString("## Schema\n")
			b.WriteString(p["schema"])
			b.WriteString("\n\n")

			b.WriteString("## Candidate SQL\n")
			b.WriteString("```sql\n")
			b.WriteString(p["sql"])
			b.WriteString("\n```\n\n")

			b.WriteString("## Output Format\n")
			b.WriteString("```json\n")
			b.WriteString(`{"is_valid": true, "syntax_errors": [], "logical_issues": [], "security_concerns": [], "suggestions": [], "corrected_sql": null}`)
			b.WriteString("\n```\n")
			b.WriteString("Return ONLY the JSON, no additional text.\n")

			return b.String(), nil
		},
	}
}

// SQLRefinement builds the refiner.sql_refinement template: repair a SQL
// statement that failed to execute.
func SQLRefinement() *Template {
	return &Template{
		Description: "repair a SQL statement that failed execution",
		Parameters:  []string{"sql", "error", "schema", "foreign_keys", "question"},
		SystemPrompt: "You are a SQL repair assistant. Given a SQL statement that " +
			"failed to execute, its error, and the original question, produce a " +
			"corrected SQL statement. Output only the SQL statement.",
		Render: func(p map[string]string) (string, error) {
			var b strings.Builder

			b.WriteString("## Question\n")
			b.WriteString(p["question"])
			b.WriteString("\n\n")

			b.WriteString("## Schema\n")
			b.WriteString(p["schema"])
			b.WriteString("\n\n")

			b.WriteString("## Foreign Keys\n")
			b.WriteString(p["foreign_keys"])
			b.WriteString("\n\n")

			b.WriteString("## Failing SQL\n")
			b.WriteString("```sql\n")
			b.WriteString(p["sql"])
			b.WriteString("\n```\n\n")

			b.WriteString("## Error\n")
			b.WriteString(p["error"])
			b.WriteString("\n\n")

			b.WriteString("## Task\n")
			b.WriteString("Write a corrected SQL statement (SELECT or WITH) that " +
				"fixes the error above while still answering the question. " +
				"Return only the SQL, in a ```sql code block, with no " +
				"explanation.\n")

			return b.String(), nil
		},
	}
}
