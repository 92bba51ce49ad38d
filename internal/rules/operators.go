// internal/rules/operators.go
package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/solatis/annotator/internal/types"
)

/*
 * Operator registry.
 *
 * Operators are stateless and grouped by the node shape they drive:
 *   - comparison: Equal, NotEqual, LessThan, LessThanOrEqual, GreaterThan,
 *     GreaterThanOrEqual, PatternMatch (leaf predicates)
 *   - logical: And, Or (combine child outcomes)
 *   - quantifier: Exists (per-child search over a collection)
 *
 * Comparison operators apply to (attribute value, node value) in that order.
 * Text equality is case-insensitive; everything else reduces to a three-way
 * comparison so GreaterThanOrEqual is cmp > -1 and LessThanOrEqual is cmp < 1.
 *
 * Stored rules reference operators by legacy numeric code. The mapping is
 * fixed; an unmapped code is a construction error, never a runtime one.
 */

// Operator identifies one registered operator.
type Operator int

const (
	OpUnspecified Operator = iota
	OpEqual
	OpNotEqual
	OpLessThan
	OpLessThanOrEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpPatternMatch
	OpAnd
	OpOr
	OpExists
)

// OperatorKind groups operators by the node variant they belong to.
type OperatorKind int

const (
	KindUnspecified OperatorKind = iota
	KindComparison
	KindLogical
	KindQuantifier
)

type operatorInfo struct {
	name string
	kind OperatorKind
	code int // legacy code; -1 when the operator is never stored
}

var operators = map[Operator]operatorInfo{
	OpEqual:              {"Equal", KindComparison, 0},
	OpNotEqual:           {"NotEqual", KindComparison, 1},
	OpLessThan:           {"LessThan", KindComparison, 2},
	OpLessThanOrEqual:    {"LessThanOrEqual", KindComparison, 3},
	OpGreaterThan:        {"GreaterThan", KindComparison, 4},
	OpGreaterThanOrEqual: {"GreaterThanOrEqual", KindComparison, 5},
	OpPatternMatch:       {"RegExMatch", KindComparison, 6},
	OpAnd:                {"And", KindLogical, -1},
	OpOr:                 {"Or", KindLogical, -1},
	OpExists:             {"Exists", KindQuantifier, 6},
}

var (
	operatorsByName = map[string]Operator{}
	binaryByCode    = map[int]Operator{}
	setByCode       = map[int]Operator{}
)

func init() {
	for op, info := range operators {
		operatorsByName[strings.ToLower(info.name)] = op
		switch info.kind {
		case KindComparison:
			binaryByCode[info.code] = op
		case KindQuantifier:
			setByCode[info.code] = op
		}
	}
	// PatternMatch is also accepted under its descriptive name.
	operatorsByName["patternmatch"] = OpPatternMatch
}

// String returns the operator's display name, as used in rule text.
func (op Operator) String() string {
	if info, ok := operators[op]; ok {
		return info.name
	}
	return fmt.Sprintf("Operator(%d)", int(op))
}

// Kind reports which node variant the operator belongs to.
func (op Operator) Kind() OperatorKind {
	return operators[op].kind
}

// Code returns the legacy storage code. ok is false for logical operators,
// which are stored structurally rather than by code.
func (op Operator) Code() (code int, ok bool) {
	info, found := operators[op]
	if !found || info.code < 0 {
		return 0, false
	}
	return info.code, true
}

// ParseOperator resolves a display name (case-insensitive).
func ParseOperator(name string) (Operator, error) {
	op, ok := operatorsByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return OpUnspecified, fmt.Errorf("%w: %q", types.ErrUnknownOperator, name)
	}
	return op, nil
}

// BinaryOperatorFromCode maps a legacy comparison code to its operator.
func BinaryOperatorFromCode(code int) (Operator, error) {
	op, ok := binaryByCode[code]
	if !ok {
		return OpUnspecified, fmt.Errorf("%w: comparison code %d", types.ErrUnknownOperator, code)
	}
	return op, nil
}

// SetOperatorFromCode maps a legacy set code to its operator.
func SetOperatorFromCode(code int) (Operator, error) {
	op, ok := setByCode[code]
	if !ok {
		return OpUnspecified, fmt.Errorf("%w: set code %d", types.ErrUnknownOperator, code)
	}
	return op, nil
}

// Compare applies a comparison operator to an attribute value and the
// node's value. Returns ErrIncomparable for operand pairs with no ordering
// and ErrInvalidPattern for PatternMatch values that do not compile.
func Compare(op Operator, value, target any) (bool, error) {
	switch op {
	case OpEqual:
		if vs, ts, ok := bothText(value, target); ok {
			return strings.EqualFold(vs, ts), nil
		}
		cmp, err := compareValues(value, target)
		return cmp == 0, err
	case OpNotEqual:
		if vs, ts, ok := bothText(value, target); ok {
			return !strings.EqualFold(vs, ts), nil
		}
		cmp, err := compareValues(value, target)
		return cmp != 0, err
	case OpGreaterThan:
		cmp, err := compareValues(value, target)
		return cmp > 0, err
	case OpGreaterThanOrEqual:
		cmp, err := compareValues(value, target)
		return cmp > -1, err
	case OpLessThan:
		cmp, err := compareValues(value, target)
		return cmp < 0, err
	case OpLessThanOrEqual:
		cmp, err := compareValues(value, target)
		return cmp < 1, err
	case OpPatternMatch:
		return matchPattern(value, target)
	default:
		return false, fmt.Errorf("%w: %s is not a comparison", types.ErrUnknownOperator, op)
	}
}

func bothText(a, b any) (string, string, bool) {
	as, ok1 := a.(string)
	bs, ok2 := b.(string)
	return as, bs, ok1 && ok2
}

// compareValues performs a three-way comparison (-1/0/1) of a against b.
// Numbers compare across Go numeric kinds; integers stay exact when both
// sides are integral. A nil target orders below every non-nil value.
func compareValues(a, b any) (int, error) {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, nil
		case b == nil:
			return 1, nil
		default:
			return -1, nil
		}
	}

	if ia, ok := toInt64(a); ok {
		if ib, ok := toInt64(b); ok {
			return threeWay(ia, ib), nil
		}
	}
	if fa, ok := toFloat64(a); ok {
		if fb, ok := toFloat64(b); ok {
			return threeWay(fa, fb), nil
		}
	}

	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), nil
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, nil
			case !av:
				return -1, nil
			default:
				return 1, nil
			}
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv), nil
		}
	case uuid.UUID:
		if bv, ok := b.(uuid.UUID); ok {
			return strings.Compare(string(av[:]), string(bv[:])), nil
		}
	}

	return 0, fmt.Errorf("%w: %T and %T", types.ErrIncomparable, a, b)
}

func threeWay[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// toInt64 converts integral values of any Go integer kind.
// Unsigned values above MaxInt64 are left to the float path.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), n <= 1<<63-1
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= 1<<63-1
	default:
		return 0, false
	}
}

// toFloat64 converts any numeric value to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

var patternCache sync.Map // pattern string -> *regexp.Regexp

// matchPattern matches the node value, as a regular expression, against the
// textual form of the attribute value.
func matchPattern(value, pattern any) (bool, error) {
	p, ok := pattern.(string)
	if !ok {
		return false, fmt.Errorf("%w: pattern is %T, want string", types.ErrInvalidPattern, pattern)
	}
	re, err := compilePattern(p)
	if err != nil {
		return false, err
	}
	return re.MatchString(textOf(value)), nil
}

func compilePattern(p string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(p); ok {
		return cached.(*regexp.Regexp), nil
	}
	if len(p) > types.MaxPatternLength {
		return nil, fmt.Errorf("%w: pattern longer than %d bytes", types.ErrInvalidPattern, types.MaxPatternLength)
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidPattern, err)
	}
	patternCache.Store(p, re)
	return re, nil
}

// textOf renders a scalar the way it would appear in rule text.
func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
