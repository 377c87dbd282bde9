package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-engine/pkg/llm"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql"
)

const pruningGenerateTimeout = 30 * time.Second

// prune asks the pruning model which tables/columns to keep, then
// reinstates primary keys and any foreign-keyed table dropped outright, so
// joins that the model failed to anticipate still have the keys to perform
// them.
func (s *Selector) prune(ctx context.Context, question, evidence string, info *textsql.DatabaseInfo, descStr, fkStr string) (map[string]textsql.SchemaSelection, error) {
	systemPrompt, userPrompt, err := s.prompts.Format("selector", "schema_pruning", map[string]string{
		"question":     question,
		"evidence":     evidence,
		"schema":       descStr,
		"foreign_keys": fkStr,
	})
	if err != nil {
		return nil, fmt.Errorf("format pruning prompt: %w", err)
	}

	result, err := s.gen.Generate(ctx, systemPrompt, userPrompt, 0.0, 2048, pruningGenerateTimeout)
	if err != nil {
		return nil, fmt.Errorf("pruning completion: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("pruning completion failed: %s", result.Error)
	}

	raw, err := llm.ExtractJSON(result.Content)
	if err != nil {
		return nil, fmt.Errorf("extract pruning JSON: %w", err)
	}

	var verdicts map[string]any
	if err := json.Unmarshal([]byte(raw), &verdicts); err != nil {
		return nil, fmt.Errorf("parse pruning JSON: %w", err)
	}

	selections := make(map[string]textsql.SchemaSelection, len(verdicts))
	for table := range info.DescriptionMap {
		verdict, ok := verdicts[table]
		if !ok {
			// Model was silent on this table: keep it, conservatively.
			selections[table] = textsql.SchemaSelection{Mode: "all"}
			continue
		}
		selections[table] = parseVerdict(verdict)
	}

	reinstatePrimaryKeys(selections, info)
	reinstateForeignKeyTargets(selections, info)

	return selections, nil
}

func parseVerdict(verdict any) textsql.SchemaSelection {
	switch v := verdict.(type) {
	case string:
		if strings.EqualFold(v, "drop") {
			return textsql.SchemaSelection{Mode: "drop"}
		}
		return textsql.SchemaSelection{Mode: "all"}
	case []any:
		cols := make([]string, 0, len(v))
		for _, c := range v {
			if s, ok := c.(string); ok {
				cols = append(cols, s)
			}
		}
		return textsql.SchemaSelection{Mode: "columns", Columns: cols}
	default:
		return textsql.SchemaSelection{Mode: "all"}
	}
}

// reinstatePrimaryKeys ensures a table kept with an explicit column list
// still carries its primary key columns, even if the model omitted them.
func reinstatePrimaryKeys(selections map[string]textsql.SchemaSelection, info *textsql.DatabaseInfo) {
	for table, sel := range selections {
		if sel.Mode != "columns" {
			continue
		}
		have := make(map[string]bool, len(sel.Columns))
		for _, c := range sel.Columns {
			have[c] = true
		}
		for _, pk := range info.PrimaryKeyMap[table] {
			if !have[pk] {
				sel.Columns = append(sel.Columns, pk)
				have[pk] = true
			}
		}
		selections[table] = sel
	}
}

// reinstateForeignKeyTargets un-drops any table that a kept table's foreign
// key points at, since dropping the join target makes the edge useless. The
// target is re-instated key-only (its primary key plus the referenced
// column), not in full, since the retained edge only needs the join keys.
func reinstateForeignKeyTargets(selections map[string]textsql.SchemaSelection, info *textsql.DatabaseInfo) {
	for table, sel := range selections {
		if sel.Mode == "drop" {
			continue
		}
		for _, fk := range info.ForeignKeyMap[table] {
			if target, ok := selections[fk.ForeignTable]; ok && target.Mode == "drop" {
				have := make(map[string]bool)
				var cols []string
				addCol := func(c string) {
					if c != "" && !have[c] {
						have[c] = true
						cols = append(cols, c)
					}
				}
				for _, pk := range info.PrimaryKeyMap[fk.ForeignTable] {
					addCol(pk)
				}
				addCol(fk.ForeignColumn)
				selections[fk.ForeignTable] = textsql.SchemaSelection{Mode: "columns", Columns: cols}
			}
		}
	}
}

// renderDescription builds the bracketed-column-list schema description and
// the one-line-per-edge foreign key description, honoring an optional
// pruning selection (nil keeps every table and column).
func renderDescription(info *textsql.DatabaseInfo, selections map[string]textsql.SchemaSelection, samplesPerCol int) (string, string) {
	tables := make([]string, 0, len(info.DescriptionMap))
	for table := range info.DescriptionMap {
		if selections != nil {
			sel, ok := selections[table]
			if !ok || sel.Mode == "drop" {
				continue
			}
		}
		tables = append(tables, table)
	}
	sort.Strings(tables)

	var desc strings.Builder
	for _, table := range tables {
		columns := info.DescriptionMap[table]
		var sel textsql.SchemaSelection
		if selections != nil {
			sel = selections[table]
		} else {
			sel = textsql.SchemaSelection{Mode: "all"}
		}

		sampleValues := sampleValueLookup(info.SampleValueMap[table])

		fmt.Fprintf(&desc, "# Table: %s\n[\n", table)
		var lines []string
		for _, col := range columns {
			if sel.Mode == "columns" && !containsString(sel.Columns, col.ColumnName) {
				continue
			}
			lines = append(lines, renderColumnLine(col, sampleValues[col.ColumnName], samplesPerCol))
		}
		desc.WriteString(strings.Join(lines, ",\n"))
		desc.WriteString("\n]\n\n")
	}

	var fk strings.Builder
	for _, table := range tables {
		for _, edge := range info.ForeignKeyMap[table] {
			if selections != nil {
				if target, ok := selections[edge.ForeignTable]; !ok || target.Mode == "drop" {
					continue
				}
			}
			fmt.Fprintf(&fk, "%s.%s = %s.%s\n", table, edge.LocalColumn, edge.ForeignTable, edge.ForeignColumn)
		}
	}

	return strings.TrimSpace(desc.String()), strings.TrimSpace(fk.String())
}

func renderColumnLine(col textsql.ColumnDescription, samples []string, samplesPerCol int) string {
	var b strings.Builder
	name := col.DisplayName
	if name == "" {
		name = col.ColumnName
	}
	fmt.Fprintf(&b, "  (%s, %s", col.ColumnName, name)
	if len(samples) > 0 {
		if len(samples) > samplesPerCol {
			samples = samples[:samplesPerCol]
		}
		fmt.Fprintf(&b, ". Value examples: %s", strings.Join(samples, ", "))
	}
	if col.Comment != "" {
		fmt.Fprintf(&b, ". %s", col.Comment)
	}
	b.WriteString(")")
	return b.String()
}

func sampleValueLookup(samples []textsql.ColumnSampleValues) map[string][]string {
	lookup := make(map[string][]string, len(samples))
	for _, s := range samples {
		lookup[s.ColumnName] = s.ExampleValues
	}
	return lookup
}

func containsString(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

// encodeDescriptionJSON renders the same table/column/fk/sample-value shape
// the pre-exported fallback file uses, for the description_json cache layer.
func encodeDescriptionJSON(info *textsql.DatabaseInfo) (string, error) {
	tables := make(map[string]jsonTable, len(info.DescriptionMap))
	for table, columns := range info.DescriptionMap {
		cols := make([]jsonColumn, 0, len(columns))
		for _, c := range columns {
			cols = append(cols, jsonColumn{Name: c.ColumnName, Description: c.Comment})
		}

		fks := make([]jsonForeignKey, 0, len(info.ForeignKeyMap[table]))
		for _, edge := range info.ForeignKeyMap[table] {
			fks = append(fks, jsonForeignKey{From: edge.LocalColumn, ToTable: edge.ForeignTable, ToColumn: edge.ForeignColumn})
		}

		samples := make(map[string]string)
		for _, sv := range info.SampleValueMap[table] {
			if len(sv.ExampleValues) > 0 {
				samples[sv.ColumnName] = strings.Join(sv.ExampleValues, ", ")
			}
		}

		tables[table] = jsonTable{
			Columns:      cols,
			PrimaryKeys:  info.PrimaryKeyMap[table],
			ForeignKeys:  fks,
			SampleValues: samples,
		}
	}

	raw, err := json.Marshal(jsonSchemaFile{Tables: tables})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// humanizeColumnName turns a snake_case column name into a readable display
// name, singularizing the trailing word with inflection so that "order_items"
// reads as "Order Item" rather than the raw plural form.
func humanizeColumnName(columnName string) string {
	words := strings.Split(columnName, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		if i == len(words)-1 {
			w = inflection.Singular(w)
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
