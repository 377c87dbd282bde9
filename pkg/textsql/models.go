// Package textsql implements the query-resolution core: schema selection,
// question decomposition, SQL synthesis, safety-checked execution, and
// retrieval-augmented learning from prior interactions.
package textsql

import (
	"time"

	"github.com/google/uuid"
)

// ErrorType is the closed taxonomy used to classify executor failures for
// retry reasoning.
type ErrorType string

const (
	ErrorTypeSyntax    ErrorType = "syntax_error"
	ErrorTypeSchema    ErrorType = "schema_error"
	ErrorTypeLogic     ErrorType = "logic_error"
	ErrorTypeExecution ErrorType = "execution_error"
	ErrorTypeUnknown   ErrorType = "unknown_error"
)

// DecompositionStrategy records whether the decomposer treated a question
// as a single step or an explicit chain-of-thought plan.
type DecompositionStrategy string

const (
	StrategySimple DecompositionStrategy = "simple"
	StrategyCoT    DecompositionStrategy = "cot"
)

// ErrorRecord is one entry in a Message's error_history.
type ErrorRecord struct {
	AttemptNumber int
	FailedSQL     string
	ErrorMessage  string
	ErrorType     ErrorType
	Timestamp     time.Time
}

// Message is the sole inter-agent carrier. Agents mutate it in place as it
// flows Selector -> Decomposer -> Refiner.
type Message struct {
	MessageID  string
	Timestamp  time.Time
	Sender     string
	Priority   int // 1 (low) .. 4 (urgent)
	RetryCount int
	MaxRetries int
	Context    map[string]any
	Metadata   map[string]any

	DatabaseID string
	Question   string
	Evidence   string
	SendTo     string

	// Selector outputs.
	ExtractedSchema       map[string]SchemaSelection
	SchemaDescription     string
	ForeignKeyDescription string
	WasPruned              bool

	// Decomposer outputs.
	FinalSQL               string
	QAPairs                string
	SubQuestions           []string
	DecompositionStrategy  DecompositionStrategy

	// Refiner outputs.
	ExecutionResult *SQLExecutionResult
	WasFixed        bool

	// Error carrier.
	ErrorHistory          []ErrorRecord
	ErrorContextAvailable bool
}

// SchemaSelection is the Selector's per-table verdict: "all", "drop", or an
// explicit ordered list of column names to keep.
type SchemaSelection struct {
	Mode    string // "all" | "drop" | "columns"
	Columns []string
}

// NewMessage constructs a Message with default bookkeeping fields set.
func NewMessage(databaseID, question, evidence string) *Message {
	return &Message{
		MessageID:  uuid.NewString(),
		Timestamp:  time.Now(),
		Sender:     "System",
		Priority:   1,
		MaxRetries: 3,
		Context:    map[string]any{},
		Metadata:   map[string]any{},
		DatabaseID: databaseID,
		Question:   question,
		Evidence:   evidence,
		SendTo:     "Selector",
	}
}

// RouteTo returns a copy of the message addressed to the next agent.
func (m *Message) RouteTo(agent string) *Message {
	clone := *m
	clone.SendTo = agent
	clone.Sender = agent
	return &clone
}

// IsHighPriority reports whether this message should jump any external
// scheduling queue (priority >= 3). The core itself has no queue (see
// concurrency model) but callers embedding this type in a queue may use it.
func (m *Message) IsHighPriority() bool {
	return m.Priority >= 3
}

// IncrementRetry bumps RetryCount and reports whether the retry budget is
// still open.
func (m *Message) IncrementRetry() bool {
	m.RetryCount++
	return m.RetryCount <= m.MaxRetries
}

// ColumnDescription is one entry of DatabaseInfo.DescriptionMap: the column
// name, a humanized display name, and any stored comment.
type ColumnDescription struct {
	ColumnName  string
	DisplayName string
	Comment     string
}

// ColumnSampleValues pairs a column with up to three example values drawn
// from live data.
type ColumnSampleValues struct {
	ColumnName     string
	ExampleValues  []string
}

// ForeignKeyEdge is one (local_column -> foreign_table.foreign_column) edge.
type ForeignKeyEdge struct {
	LocalColumn   string
	ForeignTable  string
	ForeignColumn string
}

// DatabaseInfo is the introspected shape of one database, cached by the
// Selector and never implicitly evicted.
type DatabaseInfo struct {
	DatabaseID    string
	DescriptionMap map[string][]ColumnDescription
	SampleValueMap map[string][]ColumnSampleValues
	PrimaryKeyMap  map[string][]string
	ForeignKeyMap  map[string][]ForeignKeyEdge
}

// DatabaseStats is a scalar summary derived from a DatabaseInfo.
type DatabaseStats struct {
	TableCount        int
	MaxColumnCount    int
	TotalColumnCount  int
	AverageColumnCount float64
}

// SQLExecutionResult is the outcome of running one SQL statement.
type SQLExecutionResult struct {
	SQL                   string
	Rows                  []map[string]any
	ErrorText             string
	ExceptionClass        string
	ExecutionTimeSeconds  float64
	IsSuccessful          bool
}

// TrainingDataType is the closed set of retrieval-corpus record kinds.
type TrainingDataType string

const (
	DataTypeDDL           TrainingDataType = "DDL"
	DataTypeDocumentation TrainingDataType = "DOCUMENTATION"
	DataTypeSQLExample    TrainingDataType = "SQL_EXAMPLE"
	DataTypeQAPair        TrainingDataType = "QA_PAIR"
	DataTypeDomainKnowledge TrainingDataType = "DOMAIN_KNOWLEDGE"
)

// TrainingRecord is one unit of the retrieval corpus.
type TrainingRecord struct {
	ID         string
	DataType   TrainingDataType
	DatabaseID string
	Content    string
	Embedding  []float32
	Metadata   map[string]any
	CreatedAt  time.Time

	// QA_PAIR-specific.
	Question string
	SQL      string
}

// ConversationEntryType tags a conversation-history entry.
type ConversationEntryType string

const (
	ConversationSystem       ConversationEntryType = "system"
	ConversationAgent        ConversationEntryType = "agent"
	ConversationErrorContext ConversationEntryType = "error_context"
)

// ConversationEntry is one append-only line of a thread's history.
type ConversationEntry struct {
	Type      ConversationEntryType
	Content   string
	Metadata  map[string]any
	Timestamp time.Time
}

// AgentResponse is the structured, non-throwing result an agent method
// returns to the orchestrator.
type AgentResponse struct {
	Success       bool
	Message       *Message
	Error         error
	ExecutionTime time.Duration
	Metadata      map[string]any
}
