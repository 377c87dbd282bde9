package orchestrator

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ekaya-inc/ekaya-engine/pkg/textsql"
)

// ConversationStore persists the append-only, thread_id-keyed conversation
// history the orchestrator consults for cross-call context. The in-memory
// default satisfies every request; a pgx-backed implementation is a drop-in
// substitute per spec §6's "pluggable... via an interface" requirement.
type ConversationStore interface {
	Append(ctx context.Context, threadID string, entry textsql.ConversationEntry) error
	History(ctx context.Context, threadID string) ([]textsql.ConversationEntry, error)
}

// MemoryConversationStore is the in-memory default ConversationStore.
type MemoryConversationStore struct {
	mu      sync.Mutex
	threads map[string][]textsql.ConversationEntry
}

// NewMemoryConversationStore constructs an empty store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{threads: make(map[string][]textsql.ConversationEntry)}
}

// Append adds entry to threadID's history. A no-op (but non-erroring) call
// when threadID is empty, since not every caller tracks a thread.
func (s *MemoryConversationStore) Append(_ context.Context, threadID string, entry textsql.ConversationEntry) error {
	if threadID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[threadID] = append(s.threads[threadID], entry)
	return nil
}

// History returns threadID's entries in append order. Returns nil, not an
// error, for an unknown or empty threadID.
func (s *MemoryConversationStore) History(_ context.Context, threadID string) ([]textsql.ConversationEntry, error) {
	if threadID == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.threads[threadID]
	out := make([]textsql.ConversationEntry, len(history))
	copy(out, history)
	return out, nil
}

// errorRecordsFromHistory extracts the ErrorRecord payloads a prior
// refiner-failure retry appended, so a fresh process_query call against the
// same thread_id can still see them as error context.
func errorRecordsFromHistory(history []textsql.ConversationEntry) []textsql.ErrorRecord {
	var records []textsql.ErrorRecord
	for _, entry := range history {
		if entry.Type != textsql.ConversationErrorContext {
			continue
		}
		switch rec := entry.Metadata["error_record"].(type) {
		case textsql.ErrorRecord:
			records = append(records, rec)
		case map[string]any:
			// Stores that persist metadata as JSON hand the record back as a
			// decoded map rather than the original struct.
			raw, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			var decoded textsql.ErrorRecord
			if err := json.Unmarshal(raw, &decoded); err == nil {
				records = append(records, decoded)
			}
		}
	}
	return records
}
