package selector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ekaya-inc/ekaya-engine/pkg/textsql"
)

// jsonColumn is one column entry of a pre-exported schema description file,
// matching the shape the original schema manager wrote when caching a
// scanned database to disk.
type jsonColumn struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type jsonForeignKey struct {
	From      string `json:"from"`
	ToTable   string `json:"to_table"`
	ToColumn  string `json:"to_column"`
}

type jsonTable struct {
	Columns      []jsonColumn          `json:"columns"`
	PrimaryKeys  []string              `json:"primary_keys"`
	ForeignKeys  []jsonForeignKey      `json:"foreign_keys"`
	SampleValues map[string]string     `json:"sample_values"`
}

type jsonSchemaFile struct {
	Tables map[string]jsonTable `json:"tables"`
}

// FileFallback loads a pre-exported JSON schema description for a
// database_id when live introspection is unavailable.
type FileFallback struct {
	dir string
}

// NewFileFallback returns a fallback that reads "<dir>/<database_id>.json".
// An empty dir disables the fallback.
func NewFileFallback(dir string) *FileFallback {
	return &FileFallback{dir: dir}
}

func (f *FileFallback) load(databaseID string) (*textsql.DatabaseInfo, *textsql.DatabaseStats, error) {
	if f == nil || f.dir == "" {
		return nil, nil, fmt.Errorf("no fallback schema directory configured")
	}

	path := filepath.Join(f.dir, databaseID+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read fallback schema %s: %w", path, err)
	}

	var parsed jsonSchemaFile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, nil, fmt.Errorf("parse fallback schema %s: %w", path, err)
	}

	info := &textsql.DatabaseInfo{
		DatabaseID:     databaseID,
		DescriptionMap: make(map[string][]textsql.ColumnDescription),
		SampleValueMap: make(map[string][]textsql.ColumnSampleValues),
		PrimaryKeyMap:  make(map[string][]string),
		ForeignKeyMap:  make(map[string][]textsql.ForeignKeyEdge),
	}

	totalColumns := 0
	maxColumns := 0

	for tableName, table := range parsed.Tables {
		descs := make([]textsql.ColumnDescription, 0, len(table.Columns))
		for _, col := range table.Columns {
			descs = append(descs, textsql.ColumnDescription{
				ColumnName:  col.Name,
				DisplayName: humanizeColumnName(col.Name),
				Comment:     col.Description,
			})
		}
		info.DescriptionMap[tableName] = descs
		info.PrimaryKeyMap[tableName] = table.PrimaryKeys

		samples := make([]textsql.ColumnSampleValues, 0, len(table.SampleValues))
		for col, val := range table.SampleValues {
			samples = append(samples, textsql.ColumnSampleValues{ColumnName: col, ExampleValues: []string{val}})
		}
		info.SampleValueMap[tableName] = samples

		edges := make([]textsql.ForeignKeyEdge, 0, len(table.ForeignKeys))
		for _, fk := range table.ForeignKeys {
			edges = append(edges, textsql.ForeignKeyEdge{LocalColumn: fk.From, ForeignTable: fk.ToTable, ForeignColumn: fk.ToColumn})
		}
		info.ForeignKeyMap[tableName] = edges

		totalColumns += len(table.Columns)
		if len(table.Columns) > maxColumns {
			maxColumns = len(table.Columns)
		}
	}

	stats := &textsql.DatabaseStats{
		TableCount:       len(parsed.Tables),
		MaxColumnCount:   maxColumns,
		TotalColumnCount: totalColumns,
	}
	if len(parsed.Tables) > 0 {
		stats.AverageColumnCount = float64(totalColumns) / float64(len(parsed.Tables))
	}

	return info, stats, nil
}
