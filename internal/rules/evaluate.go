// internal/rules/evaluate.go
package rules

import (
	"errors"
	"fmt"

	"github.com/solatis/annotator/internal/types"
)

/*
 * Expression evaluation.
 *
 * Evaluate dispatches on the node variant:
 *   - Comparison: resolve the attribute, apply the operator, Leaf on match.
 *     An attribute the fact does not expose (or a nil value) is no match.
 *   - Logical: evaluate every child, in order, with no short-circuit. Facts
 *     may observe attribute lookups, so all children always run. And needs
 *     every child present, Or at least one. A matched group is named after
 *     the node's object type and starts with an Identity leaf for the fact.
 *   - Quantifier: for each child, scan the collection in order until the
 *     first element that satisfies it. Every child must find some element,
 *     not necessarily the same one.
 *
 * Or groups carry only the children that matched; non-matching children
 * leave no placeholder.
 *
 * Errors (incomparable operands, bad patterns) are returned to the caller
 * after every child of the failing Logical node has been attempted.
 */

// Evaluate evaluates node against fact. A nil Result with a nil error means
// the node does not match.
func Evaluate(node Node, fact types.Fact) (Result, error) {
	if fact == nil {
		return nil, fmt.Errorf("%w: nil fact", types.ErrInvalidFact)
	}
	return evaluate(node, fact, 0)
}

func evaluate(node Node, fact types.Fact, depth int) (Result, error) {
	if depth > types.MaxTreeDepth {
		return nil, types.ErrTreeTooDeep
	}

	switch n := node.(type) {
	case *Comparison:
		return evaluateComparison(n, fact)
	case *Logical:
		return evaluateLogical(n, fact, depth)
	case *Quantifier:
		return evaluateQuantifier(n, fact, depth)
	default:
		return nil, fmt.Errorf("rules: unknown node type %T", node)
	}
}

func evaluateComparison(n *Comparison, fact types.Fact) (Result, error) {
	value, ok := fact.Attribute(n.attribute)
	if !ok || value == nil {
		return nil, nil
	}

	matched, err := Compare(n.op, value, n.value)
	if err != nil {
		return nil, fmt.Errorf("expression %d (%s %s): %w", n.id, n.attribute, n.op, err)
	}
	if !matched {
		return nil, nil
	}
	return &Leaf{Name: n.attribute, Value: value}, nil
}

func evaluateLogical(n *Logical, fact types.Fact, depth int) (Result, error) {
	present := make([]Result, 0, len(n.children))
	missing := 0
	var errs []error

	for _, child := range n.children {
		r, err := evaluate(child, fact, depth+1)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if r == nil {
			missing++
			continue
		}
		present = append(present, r)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	switch n.op {
	case OpAnd:
		if missing > 0 || len(present) == 0 {
			return nil, nil
		}
	case OpOr:
		if len(present) == 0 {
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("%w: %s on logical expression %d", types.ErrUnknownOperator, n.op, n.id)
	}

	children := make([]Result, 0, len(present)+1)
	children = append(children, &Leaf{Name: types.IdentityAttribute, Value: fact.Identity()})
	children = append(children, present...)
	return &Group{Name: n.typ.DisplayName(), Children: children}, nil
}

func evaluateQuantifier(n *Quantifier, fact types.Fact, depth int) (Result, error) {
	if n.op != OpExists {
		return nil, fmt.Errorf("%w: %s on quantifier %d", types.ErrUnknownOperator, n.op, n.id)
	}

	elements, ok := fact.Collection(n.attribute)
	if !ok {
		return nil, nil
	}

	children := make([]Result, 0, len(n.children))
	allFound := true
	for _, child := range n.children {
		var found Result
		for _, element := range elements {
			if element == nil {
				continue
			}
			r, err := evaluate(child, element, depth+1)
			if err != nil {
				return nil, err
			}
			if r != nil {
				found = r
				break
			}
		}
		if found == nil {
			// Remaining children still run, matching Logical evaluation.
			allFound = false
			continue
		}
		children = append(children, found)
	}

	if !allFound {
		return nil, nil
	}
	return &Group{Name: n.attribute, Children: children}, nil
}
