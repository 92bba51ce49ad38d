package rules

import (
	"fmt"

	"github.com/solatis/annotator/internal/types"
)

// Flatten turns a rule's tree back into ordered rows that Builder accepts.
//
// And nodes become "((Instance))" rows. Or nodes are not stored: their
// children are written in place under the Or's parent, every child after
// the first flagged OrWithPrevious. An Or that is its parent's first child
// and holds a single child keeps the flag on that child, so it rebuilds as
// the same one-child Or. A root Or has no parent to splice into and cannot
// be stored. Every row carries the rule's legacy id as OwnerID.
//
// When firstID > 0, rows are renumbered sequentially from firstID in
// emission order and parent references follow; otherwise node ids are kept.
func Flatten(r *Rule, firstID int64) ([]types.ExpressionRow, error) {
	if r.root == nil {
		return nil, types.ErrNoRoot
	}
	if l, ok := r.root.(*Logical); ok && l.op == OpOr {
		return nil, fmt.Errorf("rule %d: %w: root Or cannot be stored", r.LegacyID, types.ErrOrphanOr)
	}

	f := &flattener{ids: make(map[int64]int64), next: firstID}
	if err := f.emit(r.root, 0, r.LegacyID, false); err != nil {
		return nil, fmt.Errorf("rule %d: %w", r.LegacyID, err)
	}
	return f.rows, nil
}

type flattener struct {
	rows      []types.ExpressionRow
	ids       map[int64]int64
	next      int64
	positions map[int64]int
}

func (f *flattener) rowID(n Node) int64 {
	if f.next <= 0 {
		return n.ID()
	}
	id := f.next
	f.next++
	f.ids[n.ID()] = id
	return id
}

func (f *flattener) parentRowID(parentID int64) int64 {
	if f.next <= 0 || parentID == 0 {
		return parentID
	}
	return f.ids[parentID]
}

func (f *flattener) position(parentID int64) int {
	if f.positions == nil {
		f.positions = make(map[int64]int)
	}
	p := f.positions[parentID]
	f.positions[parentID] = p + 1
	return p
}

// emit writes n under the stored parent parentID (0 for the root, which is
// linked to its rule instead).
func (f *flattener) emit(n Node, parentID, legacyID int64, orWithPrevious bool) error {
	if l, ok := n.(*Logical); ok && l.op == OpOr {
		lone := len(l.children) == 1 && f.positions[parentID] == 0
		for i, child := range l.children {
			if err := f.emit(child, parentID, legacyID, orWithPrevious || lone || i > 0); err != nil {
				return err
			}
		}
		return nil
	}

	row := types.ExpressionRow{
		ID:             f.rowID(n),
		ParentID:       f.parentRowID(parentID),
		OwnerID:        legacyID,
		OrWithPrevious: orWithPrevious,
		Position:       f.position(parentID),
	}
	if parentID == 0 {
		row.RuleID = legacyID
	}
	if t := n.Type(); t != nil {
		modelID, objectID := t.ModelTypeID, t.ID
		row.ModelTypeID = &modelID
		row.ObjectTypeID = &objectID
	}

	var children []Node
	switch v := n.(type) {
	case *Logical:
		row.Attribute = types.InstanceAttribute
		row.ValueType = ValueTypeObject.String()
		children = v.children

	case *Quantifier:
		code, ok := v.op.Code()
		if !ok {
			return fmt.Errorf("%w: %s has no storage code", types.ErrUnknownOperator, v.op)
		}
		row.Attribute = v.attribute
		row.OperatorCode = code
		row.ValueType = ValueTypeCollection.String()
		children = v.children

	case *Comparison:
		code, ok := v.op.Code()
		if !ok {
			return fmt.Errorf("%w: %s has no storage code", types.ErrUnknownOperator, v.op)
		}
		text, inferred, err := FormatValue(v.value)
		if err != nil {
			return err
		}
		vt := v.valueType
		if vt == ValueTypeUnspecified {
			vt = inferred
		}
		row.Attribute = v.attribute
		row.OperatorCode = code
		row.ValueType = vt.String()
		row.Value = text
	}

	f.rows = append(f.rows, row)

	for _, child := range children {
		if err := f.emit(child, n.ID(), legacyID, false); err != nil {
			return err
		}
	}
	return nil
}
