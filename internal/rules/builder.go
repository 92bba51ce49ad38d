// internal/rules/builder.go
package rules

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/solatis/annotator/internal/types"
)

/*
 * Tree reconstruction from flat rows.
 *
 * Stored rules hold one row per expression node, linked to its parent by id
 * (or to its rule, for the root). OR-ness is not stored as a node: a row
 * flagged OrWithPrevious is OR'ed with the sibling that precedes it.
 *
 * Per row, strictly in the order supplied:
 *   1. Classify: "((Instance))" rows are Logical(And); object/collection
 *      value types are Quantifiers; everything else is a Comparison.
 *   2. Index containers by id so later rows can attach to them.
 *   3. OR-splice, scoped per parent id. The first flagged row of a run
 *      creates an Or node with the next synthetic id (-1, -2, ...), moves
 *      the parent's last child into it, then adds the row's node. A flagged
 *      first child opens an Or holding only itself. Later flagged rows
 *      join the same Or. An unflagged row closes the run.
 *   4. Attach the node (or the new Or) to its parent, or install it as the
 *      root of its rule.
 *
 * A run of siblings [A, B, C|or, D|or] therefore becomes [A, Or{B, C, D}].
 *
 * Failures are per rule: a bad row fails its owning rule, later rows of
 * that rule are skipped, and the remaining rules still build. A row's owner
 * is its OwnerID, else its root RuleID, else the owner of its parent. A
 * failing row whose owner cannot be told fails every rule of the batch, so
 * no rule is published with a subtree missing. Build reports every failure
 * in one *BuildError.
 */

// TypeResolver resolves a row's type reference to a registry entry.
type TypeResolver interface {
	Lookup(ref types.TypeRef) (*types.ObjectType, error)
}

// RuleError records why one rule failed to build.
type RuleError struct {
	LegacyID int64
	Err      error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %d: %v", e.LegacyID, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// BuildError aggregates the failures of one build batch. Use errors.As to
// find individual *RuleError values.
type BuildError struct {
	errs *multierror.Error
}

func (e *BuildError) Error() string {
	return e.errs.Error()
}

func (e *BuildError) Unwrap() error {
	return e.errs.Unwrap()
}

// Errors returns every recorded failure in report order.
func (e *BuildError) Errors() []error {
	return e.errs.WrappedErrors()
}

// Failed returns the legacy ids of the rules that failed, in report order.
func (e *BuildError) Failed() []int64 {
	var ids []int64
	for _, err := range e.errs.Errors {
		var re *RuleError
		if errors.As(err, &re) {
			ids = append(ids, re.LegacyID)
		}
	}
	return ids
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithTypeResolver resolves row type references. Without a resolver, rows
// that carry type references build untyped nodes.
func WithTypeResolver(r TypeResolver) BuilderOption {
	return func(b *Builder) { b.resolver = r }
}

// WithSink sets the handler for build events; built rules inherit it for
// their evaluation events.
func WithSink(h Handler) BuilderOption {
	return func(b *Builder) { b.sink = h }
}

// Builder rebuilds rules from one batch of rows. Not safe for concurrent
// use; independent batches use independent builders.
type Builder struct {
	resolver TypeResolver
	sink     Handler

	rules      map[int64]*Rule
	order      []int64
	containers map[int64]Container
	owners     map[int64]int64    // expression id -> owning rule's legacy id
	openOr     map[int64]*Logical // parent id -> Or node of the open run
	failed     map[int64]error
	batchErrs  []error

	nextSynthetic int64
}

// NewBuilder creates a builder for one batch.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		rules:         make(map[int64]*Rule),
		containers:    make(map[int64]Container),
		owners:        make(map[int64]int64),
		openOr:        make(map[int64]*Logical),
		failed:        make(map[int64]error),
		nextSynthetic: -1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddRule registers a rule whose root will arrive in the row stream.
// Registering the same legacy id twice keeps the first registration.
func (b *Builder) AddRule(row types.RuleRow) *Rule {
	if r, ok := b.rules[row.LegacyID]; ok {
		return r
	}
	r := newStoredRule(row, b.sink)
	b.rules[row.LegacyID] = r
	b.order = append(b.order, row.LegacyID)
	return r
}

// AddComment attaches a stored comment to a registered rule.
func (b *Builder) AddComment(row types.CommentRow) error {
	r, ok := b.rules[row.RuleID]
	if !ok {
		return fmt.Errorf("comment %d: %w: %d", row.ID, types.ErrDanglingRule, row.RuleID)
	}
	r.appendComment(Comment{ID: row.ID, Text: row.Text, UserID: row.UserID, CreatedAt: row.CreatedAt})
	return nil
}

// AddRow processes the next row of the batch. The returned error is also
// recorded for Build; rows of an already failed rule are skipped silently.
func (b *Builder) AddRow(row types.ExpressionRow) error {
	owner, known := b.ownerOf(row)
	if known {
		if _, bad := b.failed[owner]; bad {
			b.owners[row.ID] = owner
			return nil
		}
	}

	err := b.addRow(row, owner, known)
	if err != nil {
		err = fmt.Errorf("expression %d: %w", row.ID, err)
		if known {
			b.owners[row.ID] = owner
			b.fail(owner, err)
		} else {
			b.failAll(err)
		}
		return err
	}

	b.owners[row.ID] = owner
	return nil
}

func (b *Builder) addRow(row types.ExpressionRow, owner int64, known bool) error {
	node, err := b.buildNode(row)
	if err != nil {
		return err
	}

	if c, ok := node.(Container); ok {
		if _, dup := b.containers[row.ID]; dup {
			return fmt.Errorf("%w: %d", types.ErrDuplicateNode, row.ID)
		}
		b.containers[row.ID] = c
	}

	if row.ParentID != 0 {
		if _, ok := b.containers[row.ParentID]; !ok {
			return fmt.Errorf("%w: %d", types.ErrDanglingParent, row.ParentID)
		}
		if po := b.owners[row.ParentID]; known && po != owner {
			return fmt.Errorf("%w: %d belongs to rule %d", types.ErrDanglingParent, row.ParentID, po)
		}
	}

	if row.OrWithPrevious {
		return b.spliceOr(row, node, owner)
	}
	delete(b.openOr, row.ParentID)

	switch {
	case row.ParentID != 0:
		b.containers[row.ParentID].appendChild(node)
		return nil

	case row.RuleID != 0:
		r, ok := b.rules[row.RuleID]
		if !ok {
			return fmt.Errorf("%w: %d", types.ErrDanglingRule, row.RuleID)
		}
		if r.root != nil {
			return fmt.Errorf("%w: rule %d", types.ErrDuplicateRoot, row.RuleID)
		}
		setParent(node, 0)
		r.root = node
		return nil

	default:
		return types.ErrUnattached
	}
}

// spliceOr merges an or-with-previous row into its parent's open Or node,
// opening one around the parent's last child if no run is open. A parent
// without children gets an Or holding just the row's node.
func (b *Builder) spliceOr(row types.ExpressionRow, node Node, owner int64) error {
	if row.ParentID == 0 {
		return types.ErrOrphanOr
	}
	parent := b.containers[row.ParentID]

	if or, open := b.openOr[row.ParentID]; open {
		or.appendChild(node)
		return nil
	}

	or := &Logical{base: base{id: b.nextSynthetic, typ: parent.Type()}, op: OpOr}
	b.nextSynthetic--
	if prior := lastChild(parent); prior != nil {
		parent.removeLastChild()
		or.appendChild(prior)
	}
	or.appendChild(node)
	parent.appendChild(or)

	b.owners[or.id] = owner
	b.openOr[row.ParentID] = or
	return nil
}

// buildNode classifies a row and creates its node.
func (b *Builder) buildNode(row types.ExpressionRow) (Node, error) {
	typ, err := b.resolveType(row)
	if err != nil {
		return nil, err
	}
	nb := base{id: row.ID, parentID: row.ParentID, typ: typ}

	if row.Attribute == types.InstanceAttribute {
		return &Logical{base: nb, op: OpAnd}, nil
	}

	vt, err := ParseValueType(row.ValueType)
	if err != nil {
		return nil, err
	}

	if vt.IsNested() {
		op, err := SetOperatorFromCode(row.OperatorCode)
		if err != nil {
			return nil, err
		}
		return &Quantifier{base: nb, attribute: row.Attribute, op: op}, nil
	}

	op, err := BinaryOperatorFromCode(row.OperatorCode)
	if err != nil {
		return nil, err
	}
	value, err := Coerce(row.Value, vt)
	if err != nil {
		return nil, err
	}
	if op == OpPatternMatch {
		if _, err := matchPattern("", value); err != nil {
			return nil, err
		}
	}
	return &Comparison{base: nb, attribute: row.Attribute, op: op, value: value, valueType: vt}, nil
}

func (b *Builder) resolveType(row types.ExpressionRow) (*types.ObjectType, error) {
	ref := row.TypeRef()
	if ref.IsZero() || b.resolver == nil {
		return nil, nil
	}
	return b.resolver.Lookup(ref)
}

func (b *Builder) ownerOf(row types.ExpressionRow) (int64, bool) {
	if row.OwnerID != 0 {
		return row.OwnerID, true
	}
	if row.RuleID != 0 {
		return row.RuleID, true
	}
	if row.ParentID != 0 {
		owner, ok := b.owners[row.ParentID]
		return owner, ok
	}
	return 0, false
}

// failAll fails every registered rule; with none registered the error is
// kept for the batch.
func (b *Builder) failAll(err error) {
	if len(b.order) == 0 {
		b.batchErrs = append(b.batchErrs, err)
		return
	}
	for _, id := range b.order {
		b.fail(id, err)
	}
}

func (b *Builder) fail(legacyID int64, err error) {
	if _, already := b.failed[legacyID]; already {
		return
	}
	b.failed[legacyID] = err
	b.sink.emit(Event{
		Name: EventBuildFailed,
		Data: map[string]any{"rule": legacyID, "error": err.Error()},
	})
}

// Build validates every registered rule and returns the ones that built, in
// registration order. The error is a *BuildError when any rule or row
// failed; the returned rules are usable either way.
func (b *Builder) Build() ([]*Rule, error) {
	var result *multierror.Error
	result = multierror.Append(result, b.batchErrs...)

	built := make([]*Rule, 0, len(b.order))
	for _, id := range b.order {
		r := b.rules[id]
		if err, bad := b.failed[id]; bad {
			result = multierror.Append(result, &RuleError{LegacyID: id, Err: err})
			continue
		}
		if err := r.seal(); err != nil {
			b.fail(id, err)
			result = multierror.Append(result, &RuleError{LegacyID: id, Err: err})
			continue
		}
		b.sink.emit(Event{
			Name: EventBuildRule,
			Data: map[string]any{"rule": id, "nodes": len(r.nodes)},
		})
		built = append(built, r)
	}

	// Rows that failed a rule outside the batch still need reporting.
	var unregistered []int64
	for id := range b.failed {
		if _, registered := b.rules[id]; !registered {
			unregistered = append(unregistered, id)
		}
	}
	slices.Sort(unregistered)
	for _, id := range unregistered {
		result = multierror.Append(result, &RuleError{LegacyID: id, Err: b.failed[id]})
	}

	if result.ErrorOrNil() == nil {
		return built, nil
	}
	result.ErrorFormat = formatBuildErrors
	return built, &BuildError{errs: result}
}

func formatBuildErrors(errs []error) string {
	lines := make([]string, 0, len(errs))
	for _, err := range errs {
		lines = append(lines, "\t* "+err.Error())
	}
	return fmt.Sprintf("%d rule build error(s):\n%s", len(errs), strings.Join(lines, "\n"))
}

// BuildRules rebuilds a batch in one call: registers rules, replays rows in
// order, attaches comments, and builds.
func BuildRules(ruleRows []types.RuleRow, rows []types.ExpressionRow, comments []types.CommentRow, opts ...BuilderOption) ([]*Rule, error) {
	b := NewBuilder(opts...)
	for _, row := range ruleRows {
		b.AddRule(row)
	}
	for _, row := range rows {
		_ = b.AddRow(row) // recorded for Build
	}
	for _, c := range comments {
		if err := b.AddComment(c); err != nil {
			b.batchErrs = append(b.batchErrs, err)
		}
	}
	return b.Build()
}
