package orchestrator

// PerAgentTime is the wall-clock time, in seconds, each agent spent across
// every invocation within one process_query call (a retry re-runs
// Decomposer and Refiner, accumulating into the same bucket).
type PerAgentTime struct {
	Selector   float64 `json:"selector"`
	Decomposer float64 `json:"decomposer"`
	Refiner    float64 `json:"refiner"`
}

// Result is the orchestrator's external-interface payload, shaped per
// spec §6's success/failure variants. Only the fields relevant to the
// outcome are populated; JSON tags match the external contract.
type Result struct {
	Success        bool                   `json:"success"`
	SQL            string                 `json:"sql,omitempty"`
	Rows           []map[string]any       `json:"rows,omitempty"`
	Error          string                 `json:"error,omitempty"`
	LastSQL        string                 `json:"last_sql,omitempty"`
	ProcessingTime float64                `json:"processing_time"`
	RetryCount     int                    `json:"retry_count"`
	PerAgentTime   PerAgentTime           `json:"per_agent_time"`
	ErrorHistory   []ErrorRecordPayload   `json:"error_history,omitempty"`
}

// ErrorRecordPayload mirrors textsql.ErrorRecord for the external result
// shape, keeping the orchestrator's wire format independent of the
// internal Message carrier's exact field names.
type ErrorRecordPayload struct {
	AttemptNumber int    `json:"attempt_number"`
	FailedSQL     string `json:"failed_sql"`
	ErrorMessage  string `json:"error_message"`
	ErrorType     string `json:"error_type"`
}
