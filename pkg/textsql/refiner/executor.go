package refiner

import (
	"context"
	"time"

	"github.com/ekaya-inc/ekaya-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql"
)

const executionTimeout = 120 * time.Second

// Executor resolves a database_id to a live query executor. The
// orchestrator bridges this to its own datasource registry, mirroring
// selector.SchemaProvider's decoupling from the UUID-scoped factory.
type Executor interface {
	QueryExecutor(ctx context.Context, databaseID string) (datasource.QueryExecutor, error)
}

// executeSQL runs sqlText against databaseID, bounded by a hard 120s
// timeout, and normalizes the result into a textsql.SQLExecutionResult.
func (r *Refiner) executeSQL(ctx context.Context, databaseID, sqlText string) *textsql.SQLExecutionResult {
	r.stats.executionCount++
	start := time.Now()
	result := &textsql.SQLExecutionResult{SQL: sqlText}

	execCtx, cancel := context.WithTimeout(ctx, executionTimeout)
	defer cancel()

	executor, err := r.executor.QueryExecutor(execCtx, databaseID)
	if err != nil {
		result.ErrorText = err.Error()
		result.ExceptionClass = "ExecutorUnavailable"
		result.ExecutionTimeSeconds = time.Since(start).Seconds()
		return result
	}

	queryResult, err := executor.Query(execCtx, sqlText, 0)
	result.ExecutionTimeSeconds = time.Since(start).Seconds()
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			result.ErrorText = "execution timed out after 120s"
			result.ExceptionClass = "TimeoutError"
		} else {
			result.ErrorText = err.Error()
			result.ExceptionClass = "ExecutionError"
		}
		return result
	}

	result.IsSuccessful = true
	result.Rows = queryResult.Rows
	return result
}
