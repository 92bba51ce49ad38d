// internal/types/rules.go
package types

import (
	"time"

	"github.com/google/uuid"
)

/*
 * Flat, storage-facing rule rows.
 *
 * Rules are persisted normalized: one RuleRow per rule, one ExpressionRow per
 * expression node, one CommentRow per comment. internal/rules rebuilds
 * expression trees from these rows (Builder) and flattens trees back into
 * them (Flatten). The db layer scans query results straight into these
 * structs through the db tags.
 *
 * Row ordering matters: parents precede children, siblings keep their
 * declared order, and OrWithPrevious is relative to the preceding sibling.
 */

// RuleRow carries a rule's provenance without its expression tree.
type RuleRow struct {
	LegacyID         int64     `db:"legacy_id"`
	ID               uuid.UUID `db:"rule_id"` // uuid.Nil = derive from LegacyID
	SolutionSourceID uuid.UUID `db:"solution_source_id"`
	Author           string    `db:"author"`
	CreatedAt        time.Time `db:"created_at"`
	Inactive         bool      `db:"inactive"`
}

// ExpressionRow is one expression node in flat form.
type ExpressionRow struct {
	ID             int64      `db:"expression_id"`
	ParentID       int64      `db:"parent_id"`      // 0 = none
	RuleID         int64      `db:"rule_legacy_id"` // 0 = none; set on root rows
	OwnerID        int64      `db:"owner_legacy_id"` // rule owning the row; 0 = derive from parent
	Position       int        `db:"position"`       // sibling order under ParentID
	OrWithPrevious bool       `db:"or_with_previous"`
	Attribute      string     `db:"attribute"`
	OperatorCode   int        `db:"operator_code"`
	ValueType      string     `db:"value_type"`
	Value          *string    `db:"value"` // nil = no value
	ModelTypeID    *uuid.UUID `db:"model_type_id"`
	ObjectTypeID   *uuid.UUID `db:"object_type_id"`
}

// TypeRef returns the row's type reference, zero if either half is unset.
func (r ExpressionRow) TypeRef() TypeRef {
	if r.ModelTypeID == nil || r.ObjectTypeID == nil {
		return TypeRef{}
	}
	return TypeRef{ModelTypeID: *r.ModelTypeID, ObjectTypeID: *r.ObjectTypeID}
}

// CommentRow is one free-text comment attached to a rule.
type CommentRow struct {
	ID        int64     `db:"comment_id"`
	RuleID    int64     `db:"rule_legacy_id"`
	Text      string    `db:"body"`
	UserID    string    `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
}
