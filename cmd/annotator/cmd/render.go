package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/solatis/annotator/internal/rules"
)

// renderTable writes rows as a markdown table.
func renderTable(w io.Writer, headers []string, rows [][]string) error {
	alignment := make([]tw.Align, len(headers))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}

	table := tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(headers)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n_%d rows_\n", len(rows))
	return err
}

// writeTree draws a rule's expression tree with box-drawing connectors.
func writeTree(w io.Writer, root rules.Node) {
	fmt.Fprintln(w, nodeLabel(root))
	writeChildren(w, root, "")
}

func writeChildren(w io.Writer, n rules.Node, prefix string) {
	c, ok := n.(rules.Container)
	if !ok {
		return
	}
	children := c.Children()
	for i, child := range children {
		branch, indent := "├── ", "│   "
		if i == len(children)-1 {
			branch, indent = "└── ", "    "
		}
		fmt.Fprintf(w, "%s%s%s\n", prefix, branch, nodeLabel(child))
		writeChildren(w, child, prefix+indent)
	}
}

func nodeLabel(n rules.Node) string {
	var label string
	switch v := n.(type) {
	case *rules.Logical:
		label = color.BlueString(strings.ToUpper(v.Operator().String()))
	case *rules.Quantifier:
		label = color.CyanString("%s %s", strings.ToUpper(v.Operator().String()), v.Attribute())
	case *rules.Comparison:
		label = v.String()
	}
	if t := n.Type(); t != nil {
		label += " " + color.YellowString("[%s]", t.Name)
	}
	if n.ID() < 0 {
		return label
	}
	return fmt.Sprintf("%s %s", label, color.New(color.Faint).Sprintf("#%d", n.ID()))
}

// writeResult draws a match's evidence tree.
func writeResult(w io.Writer, r rules.Result, prefix string) {
	g, ok := r.(*rules.Group)
	if !ok {
		return
	}
	for i, child := range g.Children {
		branch, indent := "├── ", "│   "
		if i == len(g.Children)-1 {
			branch, indent = "└── ", "    "
		}
		label := child.String()
		if cg, ok := child.(*rules.Group); ok {
			label = color.CyanString("%s", cg.Name)
		}
		fmt.Fprintf(w, "%s%s%s\n", prefix, branch, label)
		writeResult(w, child, prefix+indent)
	}
}
