package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/ekaya-engine/pkg/textsql"
)

// PostgresConversationStore is a pgx-backed ConversationStore: an
// append-only table keyed by thread_id, ordered by a monotonic sequence
// column so History() replays entries in append order across restarts.
// See migrations/ for the schema this expects.
type PostgresConversationStore struct {
	pool *pgxpool.Pool
}

// NewPostgresConversationStore wraps an existing pool. The conversation_history
// table must already exist.
func NewPostgresConversationStore(pool *pgxpool.Pool) *PostgresConversationStore {
	return &PostgresConversationStore{pool: pool}
}

func (s *PostgresConversationStore) Append(ctx context.Context, threadID string, entry textsql.ConversationEntry) error {
	if threadID == "" {
		return nil
	}
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal conversation entry metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversation_history (thread_id, entry_type, content, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
		threadID, string(entry.Type), entry.Content, metaJSON, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("append conversation entry: %w", err)
	}
	return nil
}

func (s *PostgresConversationStore) History(ctx context.Context, threadID string) ([]textsql.ConversationEntry, error) {
	if threadID == "" {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT entry_type, content, metadata, created_at FROM conversation_history
			WHERE thread_id = $1 ORDER BY id ASC`,
		threadID)
	if err != nil {
		return nil, fmt.Errorf("query conversation history: %w", err)
	}
	defer rows.Close()

	var history []textsql.ConversationEntry
	for rows.Next() {
		var entryType string
		var entry textsql.ConversationEntry
		var metaJSON []byte
		if err := rows.Scan(&entryType, &entry.Content, &metaJSON, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan conversation entry: %w", err)
		}
		entry.Type = textsql.ConversationEntryType(entryType)
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal conversation entry metadata: %w", err)
			}
		}
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
}

var _ ConversationStore = (*PostgresConversationStore)(nil)
