package store

// Strategy biases the per-data-type top-k budget used by RetrieveContext.
type Strategy string

const (
	Balanced       Strategy = "BALANCED"
	QAFocused      Strategy = "QA_FOCUSED"
	SQLFocused     Strategy = "SQL_FOCUSED"
	ContextFocused Strategy = "CONTEXT_FOCUSED"
)

// DataType is the closed set of retrieval-corpus record kinds, mirrored
// here (rather than imported from the textsql package) to keep this
// package free of a dependency on the agent layer above it.
type DataType string

const (
	DataTypeDDL             DataType = "DDL"
	DataTypeDocumentation   DataType = "DOCUMENTATION"
	DataTypeSQLExample      DataType = "SQL_EXAMPLE"
	DataTypeQAPair          DataType = "QA_PAIR"
	DataTypeDomainKnowledge DataType = "DOMAIN_KNOWLEDGE"
)

var allDataTypes = []DataType{
	DataTypeDDL, DataTypeDocumentation, DataTypeSQLExample, DataTypeQAPair, DataTypeDomainKnowledge,
}

// typeBudgets returns the per-type top-k limit for a strategy, given the
// base max-examples-per-type configuration value.
func typeBudgets(strategy Strategy, base int) map[DataType]int {
	budgets := make(map[DataType]int, len(allDataTypes))
	for _, dt := range allDataTypes {
		budgets[dt] = base
	}

	half := base / 2
	double := base * 2

	switch strategy {
	case QAFocused:
		budgets[DataTypeQAPair] = double
		for _, dt := range allDataTypes {
			if dt != DataTypeQAPair {
				budgets[dt] = half
			}
		}
	case SQLFocused:
		budgets[DataTypeSQLExample] = double
		for _, dt := range allDataTypes {
			if dt != DataTypeSQLExample {
				budgets[dt] = half
			}
		}
	case ContextFocused:
		budgets[DataTypeDocumentation] = double
		budgets[DataTypeDomainKnowledge] = double
		budgets[DataTypeSQLExample] = half
		budgets[DataTypeQAPair] = half
	case Balanced:
		// all equal to base, already set above.
	}

	return budgets
}
