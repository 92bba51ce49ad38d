// internal/rules/result.go
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

/*
 * Result tree.
 *
 * A successful evaluation yields a tree mirroring the shape of the matched
 * sub-expression: *Leaf for a matched comparison, *Group for a matched
 * logical node or quantifier. No match is a nil Result, never an empty
 * Group, so callers distinguish "no match" from "matched with no evidence"
 * by a nil check alone.
 *
 * Results are built fresh per evaluation and not mutated after Evaluate
 * returns; the caller owns them.
 */

// Result is one node of an annotation tree.
type Result interface {
	// String renders the result as `name: value` or `name: { c1, c2}`.
	String() string

	result()
}

// Leaf is the evidence for one matched comparison.
type Leaf struct {
	Name  string
	Value any
}

// Group is the evidence for a matched logical node or quantifier.
type Group struct {
	Name     string
	Children []Result
}

func (*Leaf) result()  {}
func (*Group) result() {}

func (l *Leaf) String() string {
	if s, ok := l.Value.(string); ok {
		return fmt.Sprintf("%s: \"%s\"", l.Name, s)
	}
	return fmt.Sprintf("%s: %v", l.Name, l.Value)
}

func (g *Group) String() string {
	var sb strings.Builder
	sb.WriteString(g.Name)
	sb.WriteString(": { ")
	for i, child := range g.Children {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(child.String())
	}
	sb.WriteByte('}')
	return sb.String()
}

// ResultName returns the name of a leaf or group, empty for nil.
func ResultName(r Result) string {
	switch v := r.(type) {
	case *Leaf:
		return v.Name
	case *Group:
		return v.Name
	default:
		return ""
	}
}

// Leaves returns every leaf under r in depth-first order.
func Leaves(r Result) []*Leaf {
	var out []*Leaf
	var collect func(Result)
	collect = func(r Result) {
		switch v := r.(type) {
		case *Leaf:
			out = append(out, v)
		case *Group:
			for _, child := range v.Children {
				collect(child)
			}
		}
	}
	collect(r)
	return out
}

// ResultToMap converts a result into plain maps, slices and scalars that
// encoding/json and structpb both accept. Leaves become {"name", "value"},
// groups become {"name", "children"}. A nil result yields nil.
func ResultToMap(r Result) map[string]any {
	switch v := r.(type) {
	case *Leaf:
		return map[string]any{"name": v.Name, "value": plainValue(v.Value)}
	case *Group:
		children := make([]any, 0, len(v.Children))
		for _, child := range v.Children {
			children = append(children, ResultToMap(child))
		}
		return map[string]any{"name": v.Name, "children": children}
	default:
		return nil
	}
}

// plainValue maps scalars without a JSON/structpb form onto one.
func plainValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64, int64:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case uuid.UUID:
		return t.String()
	case fmt.Stringer:
		return t.String()
	}
	if i, ok := toInt64(v); ok {
		return i
	}
	if f, ok := toFloat64(v); ok {
		return f
	}
	return fmt.Sprint(v)
}
