package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxBatch is a thin wrapper around pgx.Batch for the fixed-shape inserts
// InsertBatch issues.
type pgxBatch struct {
	batch pgx.Batch
}

func (b *pgxBatch) queue(sql string, args ...any) {
	b.batch.Queue(sql, args...)
}

func (b *pgxBatch) send(ctx context.Context, pool *pgxpool.Pool) error {
	results := pool.SendBatch(ctx, &b.batch)
	defer results.Close()

	for i := 0; i < b.batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
