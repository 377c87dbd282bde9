package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-engine/pkg/textsql"
)

type scriptedAgent struct {
	steps []func(msg *textsql.Message) (*textsql.AgentResponse, error)
	calls int
}

func (a *scriptedAgent) Process(_ context.Context, msg *textsql.Message) (*textsql.AgentResponse, error) {
	i := a.calls
	if i >= len(a.steps) {
		i = len(a.steps) - 1
	}
	a.calls++
	return a.steps[i](msg)
}

func okSelector(schema string) *scriptedAgent {
	return &scriptedAgent{steps: []func(*textsql.Message) (*textsql.AgentResponse, error){
		func(msg *textsql.Message) (*textsql.AgentResponse, error) {
			msg.SchemaDescription = schema
			return &textsql.AgentResponse{Success: true, Message: msg, ExecutionTime: time.Millisecond}, nil
		},
	}}
}

func okDecomposer(sql string) *scriptedAgent {
	return &scriptedAgent{steps: []func(*textsql.Message) (*textsql.AgentResponse, error){
		func(msg *textsql.Message) (*textsql.AgentResponse, error) {
			msg.FinalSQL = sql
			return &textsql.AgentResponse{Success: true, Message: msg, ExecutionTime: time.Millisecond}, nil
		},
	}}
}

func newTestLogger() *zap.Logger {
	return zap.NewNop()
}

func TestProcessQuerySucceedsOnFirstPass(t *testing.T) {
	selector := okSelector("schools(id, city)")
	decomposer := okDecomposer("SELECT * FROM schools WHERE city = 'Los Angeles'")
	refiner := &scriptedAgent{steps: []func(*textsql.Message) (*textsql.AgentResponse, error){
		func(msg *textsql.Message) (*textsql.AgentResponse, error) {
			msg.ExecutionResult = &textsql.SQLExecutionResult{SQL: msg.FinalSQL, IsSuccessful: true, Rows: []map[string]any{{"id": 1}}}
			return &textsql.AgentResponse{Success: true, Message: msg, ExecutionTime: time.Millisecond}, nil
		},
	}}

	o := New(selector, decomposer, refiner, nil, nil, DefaultConfig(), newTestLogger())
	result := o.ProcessQuery(context.Background(), "shop", "List all schools in Los Angeles", "", "user-1", "")

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.RetryCount != 0 {
		t.Errorf("expected retry_count 0, got %d", result.RetryCount)
	}
	if result.SQL != "SELECT * FROM schools WHERE city = 'Los Angeles'" {
		t.Errorf("unexpected sql: %q", result.SQL)
	}
	if len(result.Rows) != 1 {
		t.Errorf("expected 1 row, got %d", len(result.Rows))
	}
}

func TestProcessQueryRejectsEmptyQuestion(t *testing.T) {
	selector := okSelector("users(id)")
	decomposer := okDecomposer("SELECT * FROM users")
	refiner := &scriptedAgent{steps: []func(*textsql.Message) (*textsql.AgentResponse, error){
		func(msg *textsql.Message) (*textsql.AgentResponse, error) {
			return &textsql.AgentResponse{Success: true, Message: msg}, nil
		},
	}}

	o := New(selector, decomposer, refiner, nil, nil, DefaultConfig(), newTestLogger())
	result := o.ProcessQuery(context.Background(), "shop", "", "", "user-1", "")

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Error != textsql.ErrInvalidMessage.Error() {
		t.Errorf("expected error %q, got %q", textsql.ErrInvalidMessage.Error(), result.Error)
	}
	if selector.calls != 0 {
		t.Errorf("expected selector not to be called, got %d calls", selector.calls)
	}
}

func TestProcessQueryRetriesAfterSchemaErrorThenSucceeds(t *testing.T) {
	selector := okSelector("users(id, name)")
	decomposer := &scriptedAgent{steps: []func(*textsql.Message) (*textsql.AgentResponse, error){
		func(msg *textsql.Message) (*textsql.AgentResponse, error) {
			msg.FinalSQL = "SELECT * FROM user"
			return &textsql.AgentResponse{Success: true, Message: msg, ExecutionTime: time.Millisecond}, nil
		},
		func(msg *textsql.Message) (*textsql.AgentResponse, error) {
			msg.FinalSQL = "SELECT * FROM users"
			return &textsql.AgentResponse{Success: true, Message: msg, ExecutionTime: time.Millisecond}, nil
		},
	}}
	refiner := &scriptedAgent{steps: []func(*textsql.Message) (*textsql.AgentResponse, error){
		func(msg *textsql.Message) (*textsql.AgentResponse, error) {
			msg.ExecutionResult = &textsql.SQLExecutionResult{SQL: msg.FinalSQL, ErrorText: `relation "user" does not exist`}
			return &textsql.AgentResponse{Success: false, Message: msg, ExecutionTime: time.Millisecond}, nil
		},
		func(msg *textsql.Message) (*textsql.AgentResponse, error) {
			msg.ExecutionResult = &textsql.SQLExecutionResult{SQL: msg.FinalSQL, IsSuccessful: true}
			msg.WasFixed = true
			return &textsql.AgentResponse{Success: true, Message: msg, ExecutionTime: time.Millisecond}, nil
		},
	}}

	o := New(selector, decomposer, refiner, nil, nil, DefaultConfig(), newTestLogger())
	result := o.ProcessQuery(context.Background(), "shop", "Show all users", "", "user-1", "")

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.RetryCount != 1 {
		t.Errorf("expected retry_count 1, got %d", result.RetryCount)
	}
	if result.SQL != "SELECT * FROM users" {
		t.Errorf("unexpected sql: %q", result.SQL)
	}
}

func TestProcessQueryExhaustsRetriesOnRepeatedSyntaxError(t *testing.T) {
	selector := okSelector("orders(id)")
	decomposer := okDecomposer("SELECT * FROM ordrs")
	failStep := func(msg *textsql.Message) (*textsql.AgentResponse, error) {
		msg.ExecutionResult = &textsql.SQLExecutionResult{SQL: msg.FinalSQL, ErrorText: "syntax error near \"ordrs\""}
		return &textsql.AgentResponse{Success: false, Message: msg, Error: errors.New("syntax error near \"ordrs\""), ExecutionTime: time.Millisecond}, nil
	}
	refiner := &scriptedAgent{steps: []func(*textsql.Message) (*textsql.AgentResponse, error){failStep, failStep, failStep}}

	o := New(selector, decomposer, refiner, nil, nil, DefaultConfig(), newTestLogger())
	result := o.ProcessQuery(context.Background(), "shop", "Count orders", "", "user-1", "")

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.RetryCount != 3 {
		t.Errorf("expected retry_count 3, got %d", result.RetryCount)
	}
	if len(result.ErrorHistory) != 3 {
		t.Errorf("expected 3 error history entries, got %d", len(result.ErrorHistory))
	}
	for i, entry := range result.ErrorHistory {
		if entry.AttemptNumber != i+1 {
			t.Errorf("entry %d: expected attempt_number %d, got %d", i, i+1, entry.AttemptNumber)
		}
	}
}

func TestProcessQueryRetriesAfterEmptySQLThenSucceeds(t *testing.T) {
	// An LLM call that returns no SQL must consume retry budget and loop
	// back to the decomposer with error context, the same as any other
	// classified refiner failure, not abort the request outright.
	selector := okSelector("users(id, name)")
	decomposer := &scriptedAgent{steps: []func(*textsql.Message) (*textsql.AgentResponse, error){
		func(msg *textsql.Message) (*textsql.AgentResponse, error) {
			msg.FinalSQL = ""
			return &textsql.AgentResponse{Success: true, Message: msg, ExecutionTime: time.Millisecond, Metadata: map[string]any{"empty_sql": true}}, nil
		},
		func(msg *textsql.Message) (*textsql.AgentResponse, error) {
			msg.FinalSQL = "SELECT * FROM users"
			return &textsql.AgentResponse{Success: true, Message: msg, ExecutionTime: time.Millisecond}, nil
		},
	}}
	refiner := &scriptedAgent{steps: []func(*textsql.Message) (*textsql.AgentResponse, error){
		func(msg *textsql.Message) (*textsql.AgentResponse, error) {
			msg.ExecutionResult = &textsql.SQLExecutionResult{ErrorText: textsql.ErrNoSQL.Error()}
			return &textsql.AgentResponse{
				Success: false, Message: msg,
				Error:         fmt.Errorf("%w: %w", textsql.ErrRefinerFailed, textsql.ErrNoSQL),
				ExecutionTime: time.Millisecond,
			}, nil
		},
		func(msg *textsql.Message) (*textsql.AgentResponse, error) {
			msg.ExecutionResult = &textsql.SQLExecutionResult{SQL: msg.FinalSQL, IsSuccessful: true}
			return &textsql.AgentResponse{Success: true, Message: msg, ExecutionTime: time.Millisecond}, nil
		},
	}}

	o := New(selector, decomposer, refiner, nil, nil, DefaultConfig(), newTestLogger())
	result := o.ProcessQuery(context.Background(), "shop", "Show all users", "", "user-1", "")

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.RetryCount != 1 {
		t.Errorf("expected retry_count 1, got %d", result.RetryCount)
	}
	if decomposer.calls != 2 {
		t.Errorf("expected decomposer to be retried once, got %d calls", decomposer.calls)
	}
}

func TestProcessQuerySecurityViolationTerminatesImmediately(t *testing.T) {
	selector := okSelector("users(id)")
	decomposer := okDecomposer("SELECT * FROM users; DROP TABLE users;")
	refiner := &scriptedAgent{steps: []func(*textsql.Message) (*textsql.AgentResponse, error){
		func(msg *textsql.Message) (*textsql.AgentResponse, error) {
			return &textsql.AgentResponse{
				Success: false, Message: msg,
				Error: fmt.Errorf("%w: dangerous pattern detected", textsql.ErrSecurityViolation),
			}, nil
		},
	}}

	o := New(selector, decomposer, refiner, nil, nil, DefaultConfig(), newTestLogger())
	result := o.ProcessQuery(context.Background(), "shop", "drop everything", "", "user-1", "")

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.RetryCount != 0 {
		t.Errorf("expected retry_count 0, got %d", result.RetryCount)
	}
	if decomposer.calls != 1 {
		t.Errorf("expected exactly 1 decomposer call, got %d", decomposer.calls)
	}
}

func TestProcessQueryNodeLevelFaultIsTerminal(t *testing.T) {
	selector := okSelector("users(id)")
	decomposer := okDecomposer("SELECT * FROM users")
	refiner := &scriptedAgent{steps: []func(*textsql.Message) (*textsql.AgentResponse, error){
		func(msg *textsql.Message) (*textsql.AgentResponse, error) {
			return nil, errors.New("refiner: llm provider unreachable")
		},
	}}

	o := New(selector, decomposer, refiner, nil, nil, DefaultConfig(), newTestLogger())
	result := o.ProcessQuery(context.Background(), "shop", "list users", "", "user-1", "")

	if result.Success {
		t.Fatal("expected failure")
	}
	if decomposer.calls != 1 {
		t.Errorf("expected exactly 1 decomposer call, got %d", decomposer.calls)
	}
}

func TestProcessQuerySharesContextOnlyWithinSameThread(t *testing.T) {
	var seenByDecomposer []bool
	selector := okSelector("users(id)")
	decomposer := &scriptedAgent{steps: []func(*textsql.Message) (*textsql.AgentResponse, error){
		func(msg *textsql.Message) (*textsql.AgentResponse, error) {
			seenByDecomposer = append(seenByDecomposer, msg.ErrorContextAvailable)
			msg.FinalSQL = "SELECT COUNT(*) FROM users"
			return &textsql.AgentResponse{Success: true, Message: msg, ExecutionTime: time.Millisecond}, nil
		},
	}}
	refiner := &scriptedAgent{steps: []func(*textsql.Message) (*textsql.AgentResponse, error){
		func(msg *textsql.Message) (*textsql.AgentResponse, error) {
			msg.ExecutionResult = &textsql.SQLExecutionResult{SQL: msg.FinalSQL, IsSuccessful: true}
			return &textsql.AgentResponse{Success: true, Message: msg, ExecutionTime: time.Millisecond}, nil
		},
	}}

	history := NewMemoryConversationStore()
	o := New(selector, decomposer, refiner, nil, history, DefaultConfig(), newTestLogger())

	result1 := o.ProcessQuery(context.Background(), "shop", "Show all users", "", "user-1", "thread-a")
	if !result1.Success {
		t.Fatalf("first call expected success, got error %q", result1.Error)
	}

	decomposer.calls = 0
	decomposer.steps[0] = func(msg *textsql.Message) (*textsql.AgentResponse, error) {
		seenByDecomposer = append(seenByDecomposer, msg.ErrorContextAvailable)
		msg.FinalSQL = "SELECT COUNT(*) FROM users"
		return &textsql.AgentResponse{Success: true, Message: msg, ExecutionTime: time.Millisecond}, nil
	}

	result2 := o.ProcessQuery(context.Background(), "shop", "Count them", "", "user-1", "thread-b")
	if !result2.Success {
		t.Fatalf("second call on distinct thread expected success, got error %q", result2.Error)
	}

	entries, err := history.History(context.Background(), "thread-a")
	if err != nil {
		t.Fatalf("unexpected error reading thread-a history: %v", err)
	}
	if len(entries) == 0 {
		t.Error("expected thread-a to have recorded history entries")
	}

	otherThread, err := history.History(context.Background(), "thread-b")
	if err != nil {
		t.Fatalf("unexpected error reading thread-b history: %v", err)
	}
	for _, e := range otherThread {
		if e.Type == textsql.ConversationErrorContext {
			t.Error("thread-b should not see thread-a's error context")
		}
	}
}

func TestHealthCheckReportsOkWhenAllAgentsWired(t *testing.T) {
	o := New(okSelector("x"), okDecomposer("SELECT 1"), &scriptedAgent{steps: []func(*textsql.Message) (*textsql.AgentResponse, error){
		func(msg *textsql.Message) (*textsql.AgentResponse, error) {
			return &textsql.AgentResponse{Success: true, Message: msg}, nil
		},
	}}, nil, nil, DefaultConfig(), newTestLogger())

	health := o.HealthCheck()
	if health["status"] != "ok" {
		t.Errorf("expected status ok, got %v", health["status"])
	}
}

func TestGetStatsTracksOutcomesAndRetries(t *testing.T) {
	selector := okSelector("users(id)")
	decomposer := okDecomposer("SELECT * FROM users")
	refiner := &scriptedAgent{steps: []func(*textsql.Message) (*textsql.AgentResponse, error){
		func(msg *textsql.Message) (*textsql.AgentResponse, error) {
			msg.ExecutionResult = &textsql.SQLExecutionResult{SQL: msg.FinalSQL, IsSuccessful: true}
			return &textsql.AgentResponse{Success: true, Message: msg, ExecutionTime: time.Millisecond}, nil
		},
	}}

	o := New(selector, decomposer, refiner, nil, nil, DefaultConfig(), newTestLogger())
	o.ProcessQuery(context.Background(), "shop", "list users", "", "user-1", "")

	stats := o.GetStats()
	if stats["total"] != 1 || stats["successful"] != 1 || stats["failed"] != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
