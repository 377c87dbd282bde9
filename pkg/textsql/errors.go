package textsql

import "errors"

// Terminal configuration/setup errors, reported to the caller verbatim.
var (
	ErrDatabaseNotFound = errors.New("database not found")
	ErrInvalidMessage   = errors.New("invalid message")
	ErrLLMUnavailable   = errors.New("llm unavailable")
)

// Agent faults: terminal for the current attempt.
var (
	ErrSelectorFailed   = errors.New("selector failed")
	ErrDecomposerFailed = errors.New("decomposer failed")
	ErrRefinerFailed    = errors.New("refiner failed")
)

// Refiner-specific terminal/repairable conditions.
var (
	ErrSecurityViolation = errors.New("security violation")
	ErrExecutionTimeout  = errors.New("execution timeout")
	ErrNoSQL             = errors.New("no sql query provided")
)

// Decomposer-specific conditions.
var (
	ErrEmptySQL               = errors.New("llm returned no extractable sql")
	ErrMalformedDecomposition = errors.New("malformed decomposition, fell back to single question")
)

// Selector-specific conditions.
var (
	ErrIntrospectionFailed = errors.New("schema introspection failed")
)
