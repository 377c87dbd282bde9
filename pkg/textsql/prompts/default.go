package prompts

// Default builds the registry used by a production Selector/Decomposer/
// Refiner wiring: every prompt type named in the component design,
// registered once at construction time.
func Default(maxSubQuestions int) *Registry {
	r := New()

	mustRegister(r, "selector", "schema_pruning", SchemaPruning())

	mustRegister(r, "decomposer", "query_decomposition", QueryDecomposition(maxSubQuestions))
	mustRegister(r, "decomposer", "simple_sql_generation", SimpleSQLGeneration())
	mustRegister(r, "decomposer", "cot_sql_generation", CoTSQLGeneration())
	mustRegister(r, "decomposer", "error_aware_sql_generation", ErrorAwareSQLGeneration())

	mustRegister(r, "refiner", "sql_validation", SQLValidation())
	mustRegister(r, "refiner", "sql_refinement", SQLRefinement())

	return r
}

func mustRegister(r *Registry, agent, promptType string, tmpl *Template) {
	if err := r.Register(agent, promptType, tmpl); err != nil {
		panic(err)
	}
}
