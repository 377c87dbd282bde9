package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresIndex is a pgx-backed VectorIndex: rows of (id, vector,
// metadata) in a single table, with the KNN scan performed in Go after a
// metadata-filtered fetch. This avoids depending on a pgvector-style
// extension that appears nowhere in the example corpus, while still
// exercising pgx as the persistence substrate.
type PostgresIndex struct {
	pool      *pgxpool.Pool
	tableName string
}

// NewPostgresIndex wraps an existing pool. tableName must already exist
// (see migrations/ for the schema this expects: id text primary key,
// vector real[] not null, metadata jsonb not null).
func NewPostgresIndex(pool *pgxpool.Pool, tableName string) *PostgresIndex {
	return &PostgresIndex{pool: pool, tableName: tableName}
}

func (p *PostgresIndex) Insert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, vector, metadata) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET vector = EXCLUDED.vector, metadata = EXCLUDED.metadata`, p.tableName),
		id, vector, metaJSON)
	return err
}

func (p *PostgresIndex) InsertBatch(ctx context.Context, ids []string, vectors [][]float32, metadatas []map[string]any) error {
	if len(ids) != len(vectors) || len(ids) != len(metadatas) {
		return fmt.Errorf("insert_batch: ids/vectors/metadatas length mismatch")
	}
	batch := &pgxBatch{}
	for i := range ids {
		metaJSON, err := json.Marshal(metadatas[i])
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		batch.queue(fmt.Sprintf(`INSERT INTO %s (id, vector, metadata) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET vector = EXCLUDED.vector, metadata = EXCLUDED.metadata`, p.tableName),
			ids[i], vectors[i], metaJSON)
	}
	return batch.send(ctx, p.pool)
}

func (p *PostgresIndex) Search(ctx context.Context, vector []float32, filter map[string]string, limit int) ([]SearchResult, error) {
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}

	rows, err := p.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, vector, metadata FROM %s WHERE metadata @> $1::jsonb`, p.tableName),
		filterJSON)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var candidates []SearchResult
	for rows.Next() {
		var id string
		var rowVector []float32
		var metaJSON []byte
		if err := rows.Scan(&id, &rowVector, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		var metadata map[string]any
		if err := json.Unmarshal(metaJSON, &metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		candidates = append(candidates, SearchResult{
			ID:       id,
			Score:    cosineSimilarity(vector, rowVector),
			Metadata: metadata,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortByScoreDescending(candidates)
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (p *PostgresIndex) DeleteByFilter(ctx context.Context, filter map[string]string) error {
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return fmt.Errorf("marshal filter: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE metadata @> $1::jsonb`, p.tableName),
		filterJSON)
	return err
}

func (p *PostgresIndex) GetStats(ctx context.Context) (map[string]any, error) {
	var total int
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, p.tableName)).Scan(&total)
	if err != nil {
		return nil, err
	}
	return map[string]any{"total_records": total}, nil
}

var _ VectorIndex = (*PostgresIndex)(nil)
