// Package orchestrator drives a Message through the Selector, Decomposer,
// and Refiner agents, implementing the bounded retry-with-context state
// machine that ties the three pipeline stages into one process_query call.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-engine/pkg/textsql"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql/store"
)

// Agent is the contract every one of the three pipeline stages satisfies.
type Agent interface {
	Process(ctx context.Context, msg *textsql.Message) (*textsql.AgentResponse, error)
}

// TrainingStore is the subset of store.Store the orchestrator consumes for
// best-effort post-success learning.
type TrainingStore interface {
	AutoTrainFromSuccessfulQuery(ctx context.Context, question, sqlText, databaseID string) error
	RetrieveContext(ctx context.Context, question, databaseID string, strategy store.Strategy) (*store.RetrievedContext, error)
}

// Config bounds the orchestrator's retry behaviour.
type Config struct {
	MaxRetries int
}

// DefaultConfig mirrors the spec's stated default retry budget.
func DefaultConfig() Config {
	return Config{MaxRetries: 3}
}

// Orchestrator is the workflow state machine.
type Orchestrator struct {
	selector   Agent
	decomposer Agent
	refiner    Agent
	training   TrainingStore
	history    ConversationStore
	cfg        Config
	logger     *zap.Logger

	mu    sync.Mutex
	stats orchestratorStats
}

type orchestratorStats struct {
	total         int
	successful    int
	failed        int
	totalLatency  time.Duration
	totalRetries  int
}

// New constructs an Orchestrator. training and history may be nil; a nil
// history falls back to a fresh in-process MemoryConversationStore, and a
// nil training store simply skips post-success learning.
func New(selector, decomposer, refiner Agent, training TrainingStore, history ConversationStore, cfg Config, logger *zap.Logger) *Orchestrator {
	if history == nil {
		history = NewMemoryConversationStore()
	}
	return &Orchestrator{
		selector:   selector,
		decomposer: decomposer,
		refiner:    refiner,
		training:   training,
		history:    history,
		cfg:        cfg,
		logger:     logger.Named("textsql.orchestrator"),
	}
}

// ProcessQuery drives one question through Selector -> Decomposer ->
// Refiner, retrying Decomposer+Refiner on a repairable refiner failure up
// to cfg.MaxRetries times, and returns the shaped external result.
func (o *Orchestrator) ProcessQuery(ctx context.Context, databaseID, question, evidence, userID, threadID string) *Result {
	start := time.Now()
	o.recordStart()

	msg := textsql.NewMessage(databaseID, question, evidence)
	msg.Context["user_id"] = userID
	msg.Context["thread_id"] = threadID

	var perAgent PerAgentTime

	if question == "" {
		return o.finalizeFailure(msg, start, 0, perAgent, textsql.ErrInvalidMessage.Error())
	}

	prior, err := o.history.History(ctx, threadID)
	if err != nil {
		o.logger.Warn("failed to load conversation history", zap.Error(err))
	}
	if records := errorRecordsFromHistory(prior); len(records) > 0 {
		msg.ErrorHistory = records
		msg.ErrorContextAvailable = true
	}

	o.appendSystemEntry(ctx, threadID, "process_query started", map[string]any{
		"database_id": databaseID,
		"question":    question,
	})

	selResp, err := o.selector.Process(ctx, msg)
	if err != nil || !selResp.Success {
		return o.finalizeFailure(msg, start, 0, perAgent, errOrDefault(err, "selector failed"))
	}
	msg = selResp.Message
	perAgent.Selector += selResp.ExecutionTime.Seconds()

	retryCount := 0
	for {
		decResp, err := o.decomposer.Process(ctx, msg)
		if err != nil || !decResp.Success {
			return o.finalizeFailure(msg, start, retryCount, perAgent, errOrDefault(err, "decomposer failed"))
		}
		msg = decResp.Message
		perAgent.Decomposer += decResp.ExecutionTime.Seconds()

		refResp, refErr := o.refiner.Process(ctx, msg)
		if refErr != nil {
			// A node-level fault is terminal even with retry budget left.
			return o.finalizeFailure(msg, start, retryCount, perAgent, refErr.Error())
		}
		msg = refResp.Message
		perAgent.Refiner += refResp.ExecutionTime.Seconds()

		if refResp.Success {
			return o.finalizeSuccess(ctx, msg, start, retryCount, perAgent)
		}

		// A security violation never executed; it is a terminal node fault,
		// not a repairable SQL fault, and skips the decomposer retry loop
		// entirely regardless of remaining retry budget.
		if errors.Is(refResp.Error, textsql.ErrSecurityViolation) {
			return o.finalizeFailure(msg, start, retryCount, perAgent, errOrDefault(refResp.Error, "security violation"))
		}

		errType := textsql.ClassifyExecutionError(errText(msg.ExecutionResult))
		record := textsql.ErrorRecord{
			AttemptNumber: retryCount + 1,
			FailedSQL:     msg.FinalSQL,
			ErrorMessage:  errText(msg.ExecutionResult),
			ErrorType:     errType,
			Timestamp:     time.Now(),
		}
		msg.ErrorHistory = append(msg.ErrorHistory, record)
		msg.ErrorContextAvailable = true
		o.appendErrorEntry(ctx, threadID, record)

		detail := record.ErrorMessage
		if refResp.Error != nil {
			detail = refResp.Error.Error()
		}

		retryCount++
		o.recordRetry()

		// Both the retry budget and the shared repairability classification
		// gate whether another decomposer/refiner pass is worth spending:
		// an unrepairable fault (e.g. a permission error) terminates even
		// with retry budget left, matching the refiner's own internal
		// refinement-loop gating. The budget counts failures already
		// incurred (retryCount, just incremented), not failures still to
		// come, so MaxRetries=3 tolerates exactly 3 refiner failures.
		if retryCount >= o.cfg.MaxRetries || !textsql.IsRepairable(errType, record.ErrorMessage) {
			return o.finalizeFailure(msg, start, retryCount, perAgent, detail)
		}
	}
}

func errText(result *textsql.SQLExecutionResult) string {
	if result == nil {
		return ""
	}
	return result.ErrorText
}

func errOrDefault(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}

func (o *Orchestrator) finalizeSuccess(ctx context.Context, msg *textsql.Message, start time.Time, retryCount int, perAgent PerAgentTime) *Result {
	o.recordOutcome(true, time.Since(start))

	if o.training != nil {
		go func() {
			trainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := o.training.AutoTrainFromSuccessfulQuery(trainCtx, msg.Question, msg.FinalSQL, msg.DatabaseID); err != nil {
				o.logger.Warn("auto-train from successful query failed", zap.Error(err))
			}
		}()
	}

	var rows []map[string]any
	if msg.ExecutionResult != nil {
		rows = msg.ExecutionResult.Rows
	}

	return &Result{
		Success:        true,
		SQL:            msg.FinalSQL,
		Rows:           rows,
		ProcessingTime: time.Since(start).Seconds(),
		RetryCount:     retryCount,
		PerAgentTime:   perAgent,
	}
}

func (o *Orchestrator) finalizeFailure(msg *textsql.Message, start time.Time, retryCount int, perAgent PerAgentTime, errMsg string) *Result {
	o.recordOutcome(false, time.Since(start))

	return &Result{
		Success:        false,
		Error:          errMsg,
		LastSQL:        msg.FinalSQL,
		ProcessingTime: time.Since(start).Seconds(),
		RetryCount:     retryCount,
		PerAgentTime:   perAgent,
		ErrorHistory:   toErrorRecordPayloads(msg.ErrorHistory),
	}
}

func toErrorRecordPayloads(records []textsql.ErrorRecord) []ErrorRecordPayload {
	out := make([]ErrorRecordPayload, len(records))
	for i, r := range records {
		out[i] = ErrorRecordPayload{
			AttemptNumber: r.AttemptNumber,
			FailedSQL:     r.FailedSQL,
			ErrorMessage:  r.ErrorMessage,
			ErrorType:     string(r.ErrorType),
		}
	}
	return out
}

func (o *Orchestrator) appendSystemEntry(ctx context.Context, threadID, content string, metadata map[string]any) {
	if err := o.history.Append(ctx, threadID, textsql.ConversationEntry{
		Type:      textsql.ConversationSystem,
		Content:   content,
		Metadata:  metadata,
		Timestamp: time.Now(),
	}); err != nil {
		o.logger.Warn("failed to append conversation entry", zap.Error(err))
	}
}

func (o *Orchestrator) appendErrorEntry(ctx context.Context, threadID string, record textsql.ErrorRecord) {
	if err := o.history.Append(ctx, threadID, textsql.ConversationEntry{
		Type:      textsql.ConversationErrorContext,
		Content:   record.ErrorMessage,
		Metadata:  map[string]any{"error_record": record},
		Timestamp: time.Now(),
	}); err != nil {
		o.logger.Warn("failed to append conversation entry", zap.Error(err))
	}
}

func (o *Orchestrator) recordStart() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.total++
}

func (o *Orchestrator) recordRetry() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.totalRetries++
}

func (o *Orchestrator) recordOutcome(success bool, latency time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if success {
		o.stats.successful++
	} else {
		o.stats.failed++
	}
	o.stats.totalLatency += latency
}

// GetStats reports aggregate orchestrator performance.
func (o *Orchestrator) GetStats() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()

	avgLatency := 0.0
	retryRate := 0.0
	if o.stats.total > 0 {
		avgLatency = o.stats.totalLatency.Seconds() / float64(o.stats.total)
		retryRate = float64(o.stats.totalRetries) / float64(o.stats.total)
	}

	return map[string]any{
		"total":       o.stats.total,
		"successful":  o.stats.successful,
		"failed":      o.stats.failed,
		"avg_latency": avgLatency,
		"retry_rate":  retryRate,
	}
}

// HealthCheck reports whether the orchestrator's agent dependencies are
// wired. It does not exercise the LLM/executor/vector-store connections
// themselves; each of those surfaces its own failure at call time.
func (o *Orchestrator) HealthCheck() map[string]any {
	checks := map[string]string{
		"selector":   statusOf(o.selector),
		"decomposer": statusOf(o.decomposer),
		"refiner":    statusOf(o.refiner),
	}

	status := "ok"
	for _, v := range checks {
		if v != "ok" {
			status = "degraded"
			break
		}
	}

	return map[string]any{
		"status": status,
		"checks": checks,
	}
}

func statusOf(a Agent) string {
	if a == nil {
		return "missing"
	}
	return "ok"
}
