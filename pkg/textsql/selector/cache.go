package selector

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql"
)

// schemaCache is the three-layer cache keyed by database_id: DatabaseInfo,
// its rendered description JSON (the same table/column/fk/sample shape a
// pre-exported fallback file uses), and its DatabaseStats. A singleflight
// group ensures concurrent first-requests for the same database_id share
// one introspection instead of stampeding the underlying connection. Once
// populated, an entry is never evicted implicitly; only explicit
// invalidation removes it.
type schemaCache struct {
	provider SchemaProvider
	fallback *FileFallback

	mu             sync.RWMutex
	infos          map[string]*textsql.DatabaseInfo
	stats          map[string]*textsql.DatabaseStats
	descriptionRaw map[string]string

	group singleflight.Group
}

func newSchemaCache(provider SchemaProvider, fallback *FileFallback) *schemaCache {
	return &schemaCache{
		provider:       provider,
		fallback:       fallback,
		infos:          make(map[string]*textsql.DatabaseInfo),
		stats:          make(map[string]*textsql.DatabaseStats),
		descriptionRaw: make(map[string]string),
	}
}

// invalidate removes a database_id's cached entry, forcing the next get to
// re-introspect.
func (c *schemaCache) invalidate(databaseID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.infos, databaseID)
	delete(c.stats, databaseID)
	delete(c.descriptionRaw, databaseID)
}

// descriptionJSON returns the cached rendered-schema JSON for databaseID,
// computing and caching it via render if absent.
func (c *schemaCache) descriptionJSON(databaseID string, render func() (string, error)) (string, error) {
	c.mu.RLock()
	cached, ok := c.descriptionRaw[databaseID]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	rendered, err := render()
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.descriptionRaw[databaseID] = rendered
	c.mu.Unlock()

	return rendered, nil
}

func (c *schemaCache) get(ctx context.Context, databaseID string) (*textsql.DatabaseInfo, *textsql.DatabaseStats, error) {
	c.mu.RLock()
	info, okInfo := c.infos[databaseID]
	stats, okStats := c.stats[databaseID]
	c.mu.RUnlock()
	if okInfo && okStats {
		return info, stats, nil
	}

	v, err, _ := c.group.Do(databaseID, func() (any, error) {
		// Re-check under the singleflight key in case another caller
		// populated the cache while we were waiting to enter Do.
		c.mu.RLock()
		info, okInfo := c.infos[databaseID]
		stats, okStats := c.stats[databaseID]
		c.mu.RUnlock()
		if okInfo && okStats {
			return cachedPair{info, stats}, nil
		}

		info, stats, err := c.introspect(ctx, databaseID)
		if err != nil {
			introspectionErr := fmt.Errorf("%w: %w", textsql.ErrIntrospectionFailed, err)

			fallbackInfo, fallbackStats, fallbackErr := c.fallback.load(databaseID)
			if fallbackErr != nil {
				return nil, fmt.Errorf("%w: %w (fallback also failed: %w)", textsql.ErrDatabaseNotFound, introspectionErr, fallbackErr)
			}
			info, stats = fallbackInfo, fallbackStats
		}

		c.mu.Lock()
		c.infos[databaseID] = info
		c.stats[databaseID] = stats
		c.mu.Unlock()

		return cachedPair{info, stats}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	pair := v.(cachedPair)
	return pair.info, pair.stats, nil
}

type cachedPair struct {
	info  *textsql.DatabaseInfo
	stats *textsql.DatabaseStats
}

func (c *schemaCache) introspect(ctx context.Context, databaseID string) (*textsql.DatabaseInfo, *textsql.DatabaseStats, error) {
	discoverer, err := c.provider.SchemaDiscoverer(ctx, databaseID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve schema discoverer for %s: %w", databaseID, err)
	}
	defer discoverer.Close()

	tables, err := discoverer.DiscoverTables(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("discover tables: %w", err)
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

	for _, table := range tables {
		columns, err := discoverer.DiscoverColumns(ctx, table.SchemaName, table.TableName)
		if err != nil {
			return nil, nil, fmt.Errorf("discover columns for %s: %w", table.TableName, err)
		}

		descs := make([]textsql.ColumnDescription, 0, len(columns))
		var pks []string
		for _, col := range columns {
			descs = append(descs, textsql.ColumnDescription{
				ColumnName:  col.ColumnName,
				DisplayName: humanizeColumnName(col.ColumnName),
				Comment:     "",
			})
			if col.IsPrimaryKey {
				pks = append(pks, col.ColumnName)
			}
		}

		samples, err := c.sampleValues(ctx, discoverer, table.SchemaName, table.TableName, columns)
		if err != nil {
			// Sample collection is best-effort: an empty-values table
			// must not abort the whole introspection.
			samples = nil
		}

		info.DescriptionMap[table.TableName] = descs
		info.SampleValueMap[table.TableName] = samples
		info.PrimaryKeyMap[table.TableName] = pks

		totalColumns += len(columns)
		if len(columns) > maxColumns {
			maxColumns = len(columns)
		}
	}

	if discoverer.SupportsForeignKeys() {
		fks, err := discoverer.DiscoverForeignKeys(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("discover foreign keys: %w", err)
		}
		for _, fk := range fks {
			info.ForeignKeyMap[fk.SourceTable] = append(info.ForeignKeyMap[fk.SourceTable], textsql.ForeignKeyEdge{
				LocalColumn:  fk.SourceColumn,
				ForeignTable: fk.TargetTable,
				ForeignColumn: fk.TargetColumn,
			})
		}
	}

	stats := &textsql.DatabaseStats{
		TableCount:       len(tables),
		MaxColumnCount:   maxColumns,
		TotalColumnCount: totalColumns,
	}
	if len(tables) > 0 {
		stats.AverageColumnCount = float64(totalColumns) / float64(len(tables))
	}

	return info, stats, nil
}

func (c *schemaCache) sampleValues(ctx context.Context, discoverer datasource.SchemaDiscoverer, schemaName, tableName string, columns []datasource.ColumnMetadata) ([]textsql.ColumnSampleValues, error) {
	samples := make([]textsql.ColumnSampleValues, 0, len(columns))
	for _, col := range columns {
		values, err := discoverer.GetDistinctValues(ctx, schemaName, tableName, col.ColumnName, 3)
		if err != nil {
			continue
		}
		samples = append(samples, textsql.ColumnSampleValues{ColumnName: col.ColumnName, ExampleValues: values})
	}
	return samples, nil
}
