package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/solatis/annotator/internal/types"
)

// formatNode renders n in first-order logic form. parent is the node that
// contains n, or nil when n is rendered on its own.
func formatNode(n Node, parent Node) string {
	var sb strings.Builder
	writeNode(&sb, n, parent)
	return sb.String()
}

func writeNode(sb *strings.Builder, n Node, parent Node) {
	switch v := n.(type) {
	case *Comparison:
		sb.WriteString(v.attribute)
		sb.WriteByte(' ')
		sb.WriteString(v.op.String())
		sb.WriteByte(' ')
		writeScalar(sb, v.value)

	case *Logical:
		sb.WriteByte('(')
		for i, child := range v.children {
			if i > 0 {
				sb.WriteByte(' ')
				sb.WriteString(v.op.String())
				sb.WriteByte(' ')
			}
			writeNode(sb, child, v)
		}
		sb.WriteByte(')')

	case *Quantifier:
		scope := n
		if parent != nil {
			scope = parent
		}
		sb.WriteString("in ")
		sb.WriteString(scope.Type().DisplayName())
		sb.WriteByte('.')
		sb.WriteString(v.attribute)
		sb.WriteByte(' ')
		sb.WriteString(v.op.String())
		sb.WriteString(" (")
		for i, child := range v.children {
			if i > 0 {
				sb.WriteString(" And ")
			}
			writeNode(sb, child, v)
		}
		sb.WriteByte(')')
	}
}

func writeScalar(sb *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		sb.WriteString("(null)")
	case string:
		sb.WriteByte('"')
		sb.WriteString(t)
		sb.WriteByte('"')
	case time.Time:
		sb.WriteString(t.Format(time.RFC3339))
	default:
		fmt.Fprint(sb, v)
	}
}

// describeFact renders a fact for diagnostics: "<type> #<identity>".
func describeFact(f types.Fact) string {
	if f == nil {
		return "(nil)"
	}
	name := f.Type().DisplayName()
	if name == "" {
		name = "fact"
	}
	return fmt.Sprintf("%s #%d", name, f.Identity())
}
