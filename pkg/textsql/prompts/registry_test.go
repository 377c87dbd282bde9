package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryCoversEveryAgentPromptType(t *testing.T) {
	r := Default(5)

	for _, key := range []Key{
		{"selector", "schema_pruning"},
		{"decomposer", "query_decomposition"},
		{"decomposer", "simple_sql_generation"},
		{"decomposer", "cot_sql_generation"},
		{"decomposer", "error_aware_sql_generation"},
		{"refiner", "sql_validation"},
		{"refiner", "sql_refinement"},
	} {
		_, ok := r.Get(key.Agent, key.PromptType)
		assert.True(t, ok, "expected %s to be registered", key)
	}
}

func TestFormatFailsOnMissingParameter(t *testing.T) {
	r := Default(5)

	_, _, err := r.Format("selector", "schema_pruning", map[string]string{
		"question": "how many rows",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required parameters")
}

func TestFormatSucceedsWithAllParameters(t *testing.T) {
	r := Default(5)

	system, user, err := r.Format("selector", "schema_pruning", map[string]string{
		"question":     "how many rows",
		"evidence":     "",
		"schema":       "table users(id, name)",
		"foreign_keys": "",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, system)
	assert.Contains(t, user, "how many rows")
}

func TestRegisterRejectsDuplicateKey(t *testing.T) {
	r := New()
	tmpl := &Template{Render: func(map[string]string) (string, error) { return "", nil }}

	require.NoError(t, r.Register("selector", "schema_pruning", tmpl))
	err := r.Register("selector", "schema_pruning", tmpl)
	require.Error(t, err)
}
