// internal/rules/expression.go
package rules

import (
	"fmt"

	"github.com/solatis/annotator/internal/types"
)

/*
 * Expression tree.
 *
 * Node is a closed set of variants: *Comparison (leaf), *Logical and
 * *Quantifier (containers). The unexported marker method keeps the set
 * closed so Evaluate can switch exhaustively.
 *
 * Parent links are plain ids, not pointers: a parent owns its child slice
 * and a Rule resolves ids through its node index (Rule.Lookup/Rule.Parent).
 * Ids are unique within a build batch; synthetic Or nodes created by the
 * builder get negative ids.
 *
 * Trees are mutated only while being built (Builder, NewRule). Once a Rule
 * is published its nodes are read-only and safe for concurrent evaluation.
 */

// Node is one node of a rule's predicate tree.
type Node interface {
	// ID is unique within the build batch that produced the node.
	ID() int64
	// ParentID is the id of the containing node, 0 for the root.
	ParentID() int64
	// Type is the object type the node addresses, nil if untyped.
	Type() *types.ObjectType
	// Attribute is the attribute or collection name; empty on Logical.
	Attribute() string
	// Operator is the operator bound to the node.
	Operator() Operator
	// String renders the node in first-order logic form.
	String() string

	node()
}

// Container is implemented by the variants that may hold children.
type Container interface {
	Node
	Children() []Node

	appendChild(child Node)
	removeLastChild() Node
}

type base struct {
	id       int64
	parentID int64
	typ      *types.ObjectType
}

func (b *base) ID() int64               { return b.id }
func (b *base) ParentID() int64         { return b.parentID }
func (b *base) Type() *types.ObjectType { return b.typ }

// Comparison is a leaf predicate comparing one attribute against a value.
type Comparison struct {
	base
	attribute string
	op        Operator
	value     any
	valueType ValueType
}

// NewComparison creates a comparison leaf. Integer and float values are
// normalized to int64 and float64; the value type is inferred from value.
func NewComparison(attribute string, op Operator, value any) (*Comparison, error) {
	if op.Kind() != KindComparison {
		return nil, fmt.Errorf("%w: %s is not a comparison", types.ErrUnknownOperator, op)
	}
	value = normalizeValue(value)
	vt, err := valueTypeOf(value)
	if err != nil {
		return nil, err
	}
	if op == OpPatternMatch {
		p, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: pattern is %T, want string", types.ErrInvalidPattern, value)
		}
		if _, err := compilePattern(p); err != nil {
			return nil, err
		}
	}
	return &Comparison{attribute: attribute, op: op, value: value, valueType: vt}, nil
}

// WithType sets the node's object type. Only valid before the node is
// published in a Rule.
func (c *Comparison) WithType(t *types.ObjectType) *Comparison {
	c.typ = t
	return c
}

func (c *Comparison) Attribute() string    { return c.attribute }
func (c *Comparison) Operator() Operator   { return c.op }
func (c *Comparison) Value() any           { return c.value }
func (c *Comparison) ValueType() ValueType { return c.valueType }
func (c *Comparison) String() string       { return formatNode(c, nil) }
func (*Comparison) node()                  {}

// Logical combines the outcomes of its children with And or Or.
type Logical struct {
	base
	op       Operator
	children []Node
}

// NewLogical creates a logical node over children.
func NewLogical(op Operator, children ...Node) (*Logical, error) {
	if op.Kind() != KindLogical {
		return nil, fmt.Errorf("%w: %s is not a logical operator", types.ErrUnknownOperator, op)
	}
	l := &Logical{op: op}
	for _, child := range children {
		l.appendChild(child)
	}
	return l, nil
}

// WithType sets the node's object type. Only valid before the node is
// published in a Rule.
func (l *Logical) WithType(t *types.ObjectType) *Logical {
	l.typ = t
	return l
}

func (l *Logical) Attribute() string  { return "" }
func (l *Logical) Operator() Operator { return l.op }
func (l *Logical) Children() []Node   { return l.children }
func (l *Logical) String() string     { return formatNode(l, nil) }
func (*Logical) node()                {}

func (l *Logical) appendChild(child Node) {
	setParent(child, l.id)
	l.children = append(l.children, child)
}

func (l *Logical) removeLastChild() Node {
	return removeLast(&l.children)
}

// Quantifier searches a collection attribute; each child is an independent
// existential predicate over the collection's elements.
type Quantifier struct {
	base
	attribute string
	op        Operator
	children  []Node
}

// NewQuantifier creates a quantifier over the named collection.
func NewQuantifier(attribute string, op Operator, children ...Node) (*Quantifier, error) {
	if op.Kind() != KindQuantifier {
		return nil, fmt.Errorf("%w: %s is not a quantifier", types.ErrUnknownOperator, op)
	}
	q := &Quantifier{attribute: attribute, op: op}
	for _, child := range children {
		q.appendChild(child)
	}
	return q, nil
}

// WithType sets the node's object type. Only valid before the node is
// published in a Rule.
func (q *Quantifier) WithType(t *types.ObjectType) *Quantifier {
	q.typ = t
	return q
}

func (q *Quantifier) Attribute() string  { return q.attribute }
func (q *Quantifier) Operator() Operator { return q.op }
func (q *Quantifier) Children() []Node   { return q.children }
func (q *Quantifier) String() string     { return formatNode(q, nil) }
func (*Quantifier) node()                {}

func (q *Quantifier) appendChild(child Node) {
	setParent(child, q.id)
	q.children = append(q.children, child)
}

func (q *Quantifier) removeLastChild() Node {
	return removeLast(&q.children)
}

func removeLast(children *[]Node) Node {
	n := len(*children)
	if n == 0 {
		return nil
	}
	last := (*children)[n-1]
	(*children)[n-1] = nil
	*children = (*children)[:n-1]
	setParent(last, 0)
	return last
}

func lastChild(c Container) Node {
	children := c.Children()
	if len(children) == 0 {
		return nil
	}
	return children[len(children)-1]
}

func baseOf(n Node) *base {
	switch v := n.(type) {
	case *Comparison:
		return &v.base
	case *Logical:
		return &v.base
	case *Quantifier:
		return &v.base
	default:
		panic(fmt.Sprintf("rules: unknown node type %T", n))
	}
}

func setParent(n Node, parentID int64) {
	baseOf(n).parentID = parentID
}

// walk visits n and its descendants depth-first, pre-order.
// Returning a non-nil error from fn stops the walk.
func walk(n Node, depth int, fn func(n Node, depth int) error) error {
	if err := fn(n, depth); err != nil {
		return err
	}
	if c, ok := n.(Container); ok {
		for _, child := range c.Children() {
			if err := walk(child, depth+1, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
