package types

import "errors"

// Sentinel errors for annotator operations.
var (
	// ErrUnknownOperator indicates a legacy operator code or name with no mapping.
	ErrUnknownOperator = errors.New("unknown operator")

	// ErrUnknownValueType indicates a row value type the engine cannot represent.
	ErrUnknownValueType = errors.New("unknown value type")

	// ErrCoercionFailed indicates a stored value could not be converted to its value type.
	ErrCoercionFailed = errors.New("type coercion failed")

	// ErrDanglingParent indicates a row references a parent that was not built yet.
	ErrDanglingParent = errors.New("parent expression not found")

	// ErrDanglingRule indicates a root row references a rule outside the batch.
	ErrDanglingRule = errors.New("rule not found in batch")

	// ErrDuplicateRoot indicates a second root row for the same rule.
	ErrDuplicateRoot = errors.New("rule already has a root expression")

	// ErrDuplicateNode indicates two container rows with the same id.
	ErrDuplicateNode = errors.New("duplicate expression id")

	// ErrOrphanOr indicates an or-with-previous row that has no parent to splice into.
	ErrOrphanOr = errors.New("or-with-previous row has no parent")

	// ErrUnattached indicates a row with neither parent nor rule.
	ErrUnattached = errors.New("expression has neither parent nor rule")

	// ErrEmptyLogical indicates a logical node that ended construction without children.
	ErrEmptyLogical = errors.New("logical expression has no children")

	// ErrNoRoot indicates a rule evaluated or saved without a root expression.
	ErrNoRoot = errors.New("rule has no root expression")

	// ErrTreeTooDeep indicates an expression tree deeper than MaxTreeDepth.
	ErrTreeTooDeep = errors.New("expression tree exceeds maximum depth")

	// ErrIncomparable indicates operands that have no common ordering.
	ErrIncomparable = errors.New("values are not comparable")

	// ErrInvalidPattern indicates a PatternMatch value that does not compile.
	ErrInvalidPattern = errors.New("invalid match pattern")

	// ErrEvaluationPanic indicates a rule panicked while being evaluated.
	ErrEvaluationPanic = errors.New("rule evaluation panicked")

	// ErrUnknownType indicates a model or object type missing from the registry.
	ErrUnknownType = errors.New("unknown model or object type")

	// ErrRuleNotFound indicates a lookup by rule id found nothing.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrInvalidFact indicates a fact document that cannot be decoded.
	ErrInvalidFact = errors.New("invalid fact")
)
