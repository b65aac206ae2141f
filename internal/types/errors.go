package types

import "errors"

// Sentinel errors for variable compilation, validation and dependency tracking.
// Callers wrap these with context via fmt.Errorf("%w: ...") and test with errors.Is.
var (
	// ErrNilDefinition indicates a variable configuration without a definition.
	ErrNilDefinition = errors.New("variable definition is required")

	// ErrStructural indicates a malformed component or definition shape
	// (empty lists, out-of-range dates, duplicate group IDs).
	ErrStructural = errors.New("structural validation failed")

	// ErrReference indicates an unknown field, entity type or instance id.
	ErrReference = errors.New("unknown reference")

	// ErrSelfReference indicates a variable referencing itself directly.
	ErrSelfReference = errors.New("a variable cannot reference itself or a variable that references itself")

	// ErrCyclicDefinition indicates a transitive dependency cycle or a
	// dependency chain deeper than the configured guard.
	ErrCyclicDefinition = errors.New("cyclic variable definition")

	// ErrNotSupported indicates a component/aggregation combination the
	// compiler cannot express. This is a programming error, not user input.
	ErrNotSupported = errors.New("operation not supported")

	// ErrDeleteConflict indicates a delete of a variable that is still referenced.
	ErrDeleteConflict = errors.New("variable is still referenced")

	// ErrDuplicateName indicates a display name or identifier already in use.
	ErrDuplicateName = errors.New("name already in use")

	// ErrInvalidIdentifier indicates a name outside the expression identifier grammar.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrExpressionParse indicates a compiled expression that could not be scanned.
	ErrExpressionParse = errors.New("expression could not be parsed")

	// ErrVariableNotFound indicates no persisted variable with the given id.
	ErrVariableNotFound = errors.New("variable not found")
)
