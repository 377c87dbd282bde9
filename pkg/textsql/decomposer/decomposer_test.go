package decomposer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-engine/pkg/textsql"
	textsqlllm "github.com/ekaya-inc/ekaya-engine/pkg/textsql/llm"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql/prompts"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql/store"
)

// sequencedGenerator returns one canned response per call, in order, so a
// single fake can stand in for the decomposition call followed by the
// synthesis call.
type sequencedGenerator struct {
	responses []string
	calls     int
}

func (g *sequencedGenerator) Generate(context.Context, string, string, float64, int, time.Duration) (*textsqlllm.GenerateResult, error) {
	i := g.calls
	g.calls++
	if i >= len(g.responses) {
		return &textsqlllm.GenerateResult{Success: true, Content: "SELECT 1"}, nil
	}
	return &textsqlllm.GenerateResult{Success: true, Content: g.responses[i]}, nil
}

type fakeRetriever struct {
	context *store.RetrievedContext
	err     error
}

func (r *fakeRetriever) RetrieveContext(context.Context, string, string, store.Strategy) (*store.RetrievedContext, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.context, nil
}

func (r *fakeRetriever) BuildPrompt(*store.RetrievedContext) string {
	if r.context == nil {
		return ""
	}
	return "retrieved context"
}

func newMessageWithSchema(question string) *textsql.Message {
	msg := textsql.NewMessage("db1", question, "")
	msg.SchemaDescription = "# Table: orders\n[\n  (id, Id),\n]"
	msg.ForeignKeyDescription = ""
	return msg
}

func TestProcessSimpleQuestionSkipsDecomposition(t *testing.T) {
	gen := &sequencedGenerator{responses: []string{"```sql\nSELECT COUNT(*) FROM orders\n```"}}
	d := New(gen, nil, prompts.Default(5), DefaultConfig(), zap.NewNop())

	msg := newMessageWithSchema("list all orders")
	resp, err := d.Process(context.Background(), msg)

	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, textsql.StrategySimple, resp.Message.DecompositionStrategy)
	require.Len(t, resp.Message.SubQuestions, 1)
	require.Equal(t, "SELECT COUNT(*) FROM orders", resp.Message.FinalSQL)
	require.Equal(t, "Refiner", resp.Message.SendTo)
	require.Equal(t, 1, gen.calls)
}

func TestProcessComplexQuestionDecomposesThenSynthesizes(t *testing.T) {
	decompositionResponse := `{"sub_questions": ["find total revenue per category", "sort categories by revenue descending"], "reasoning": "two steps"}`
	synthesisResponse := "```sql\nSELECT category, SUM(amount) FROM orders GROUP BY category ORDER BY SUM(amount) DESC\n```"
	gen := &sequencedGenerator{responses: []string{decompositionResponse, synthesisResponse}}
	d := New(gen, nil, prompts.Default(5), DefaultConfig(), zap.NewNop())

	msg := newMessageWithSchema("what is the total revenue grouped by category, ordered by the highest amount, for orders placed last year")
	resp, err := d.Process(context.Background(), msg)

	require.NoError(t, err)
	require.Equal(t, textsql.StrategyCoT, resp.Message.DecompositionStrategy)
	require.Len(t, resp.Message.SubQuestions, 2)
	require.Contains(t, resp.Message.FinalSQL, "GROUP BY")
	require.Equal(t, 2, gen.calls)
}

func TestProcessFallsBackToSingleQuestionOnMalformedDecomposition(t *testing.T) {
	gen := &sequencedGenerator{responses: []string{"not json at all", "```sql\nSELECT 1\n```"}}
	d := New(gen, nil, prompts.Default(5), DefaultConfig(), zap.NewNop())

	msg := newMessageWithSchema("what is the total revenue grouped by category, ordered by the highest amount, for orders placed last year")
	resp, err := d.Process(context.Background(), msg)

	require.NoError(t, err)
	require.Equal(t, textsql.StrategySimple, resp.Message.DecompositionStrategy)
	require.Len(t, resp.Message.SubQuestions, 1)
}

func TestProcessUsesRetrievedContextInPrompt(t *testing.T) {
	gen := &sequencedGenerator{responses: []string{"```sql\nSELECT 1\n```"}}
	retriever := &fakeRetriever{context: &store.RetrievedContext{
		QAPairs: []store.RetrievedItem{{Content: "Q: x\nSQL: SELECT 1", Score: 0.9}},
	}}
	d := New(gen, retriever, prompts.Default(5), DefaultConfig(), zap.NewNop())

	msg := newMessageWithSchema("list all orders")
	resp, err := d.Process(context.Background(), msg)

	require.NoError(t, err)
	require.Contains(t, resp.Message.QAPairs, "Related Historical Examples")
	require.True(t, resp.Metadata["rag_enhanced"].(bool))
}

func TestProcessRetriesWithErrorContext(t *testing.T) {
	gen := &sequencedGenerator{responses: []string{"```sql\nSELECT id FROM orders\n```"}}
	d := New(gen, nil, prompts.Default(5), DefaultConfig(), zap.NewNop())

	msg := newMessageWithSchema("list all orders")
	msg.ErrorContextAvailable = true
	msg.ErrorHistory = []textsql.ErrorRecord{
		{AttemptNumber: 1, FailedSQL: "SELECT * FROM order", ErrorMessage: "relation \"order\" does not exist", ErrorType: textsql.ErrorTypeSchema},
	}

	resp, err := d.Process(context.Background(), msg)

	require.NoError(t, err)
	require.Equal(t, "SELECT id FROM orders", resp.Message.FinalSQL)
	require.True(t, resp.Metadata["retry_with_error_context"].(bool))
	require.Contains(t, resp.Message.QAPairs, "Error-Aware Regeneration")
}

func TestProcessRoutesEmptySQLToRefinerInsteadOfFailing(t *testing.T) {
	gen := &sequencedGenerator{responses: []string{"I don't know how to answer that."}}
	d := New(gen, nil, prompts.Default(5), DefaultConfig(), zap.NewNop())

	msg := newMessageWithSchema("list all orders")
	resp, err := d.Process(context.Background(), msg)

	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "", resp.Message.FinalSQL)
	require.Equal(t, "Refiner", resp.Message.SendTo)
	require.True(t, resp.Metadata["empty_sql"].(bool))
}

func TestProcessRetryRoutesEmptySQLToRefinerInsteadOfFailing(t *testing.T) {
	gen := &sequencedGenerator{responses: []string{"still no SQL here."}}
	d := New(gen, nil, prompts.Default(5), DefaultConfig(), zap.NewNop())

	msg := newMessageWithSchema("list all orders")
	msg.ErrorContextAvailable = true
	msg.ErrorHistory = []textsql.ErrorRecord{
		{AttemptNumber: 1, FailedSQL: "SELECT * FROM order", ErrorMessage: "relation \"order\" does not exist", ErrorType: textsql.ErrorTypeSchema},
	}

	resp, err := d.Process(context.Background(), msg)

	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "", resp.Message.FinalSQL)
	require.Equal(t, "Refiner", resp.Message.SendTo)
	require.True(t, resp.Metadata["empty_sql"].(bool))
}

func TestProcessFailsWithoutSchemaDescription(t *testing.T) {
	gen := &sequencedGenerator{}
	d := New(gen, nil, prompts.Default(5), DefaultConfig(), zap.NewNop())

	msg := textsql.NewMessage("db1", "anything", "")
	_, err := d.Process(context.Background(), msg)

	require.ErrorIs(t, err, textsql.ErrDecomposerFailed)
}

func TestStatsTracksSimpleAndComplexQueries(t *testing.T) {
	gen := &sequencedGenerator{responses: []string{"```sql\nSELECT 1\n```"}}
	d := New(gen, nil, prompts.Default(5), DefaultConfig(), zap.NewNop())

	_, err := d.Process(context.Background(), newMessageWithSchema("list all orders"))
	require.NoError(t, err)

	stats := d.Stats()
	require.Equal(t, 1, stats["total_queries"])
	require.Equal(t, 1, stats["simple_queries"])
}
