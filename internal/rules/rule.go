// internal/rules/rule.go
package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/solatis/annotator/internal/types"
)

/*
 * Rule aggregate.
 *
 * A Rule owns one expression tree and carries provenance (legacy key,
 * solution source, author, creation time), free-text comments and an
 * inactive flag. Evaluate is the only operation on the tree once the rule
 * is published; comments and the inactive flag may still change and are
 * guarded by a mutex so they can be touched during concurrent evaluation.
 *
 * Rules are created by the Builder from stored rows, or programmatically
 * with NewRule. Either way the node index is built once, so parent and
 * owner resolution are map lookups rather than pointer walks.
 */

// Comment is a free-text note attached to a rule.
type Comment struct {
	ID        int64
	Text      string
	UserID    string
	CreatedAt time.Time
}

// Rule is a persisted predicate tree with provenance metadata.
type Rule struct {
	ID               types.RuleID
	LegacyID         int64
	SolutionSourceID uuid.UUID
	Author           string
	CreatedAt        time.Time

	root  Node
	nodes map[int64]Node
	sink  Handler

	mu       sync.RWMutex
	comments []Comment
	inactive bool
}

// RuleOption configures a rule created with NewRule.
type RuleOption func(*Rule)

// WithLegacyID sets the legacy key and derives the rule identity from it.
func WithLegacyID(legacyID int64) RuleOption {
	return func(r *Rule) {
		r.LegacyID = legacyID
		r.ID = types.RuleIDFromLegacy(legacyID)
	}
}

// WithAuthor sets the rule author.
func WithAuthor(author string) RuleOption {
	return func(r *Rule) { r.Author = author }
}

// WithCreatedAt sets the creation time.
func WithCreatedAt(t time.Time) RuleOption {
	return func(r *Rule) { r.CreatedAt = t }
}

// WithSolutionSource sets the solution source the rule originates from.
func WithSolutionSource(id uuid.UUID) RuleOption {
	return func(r *Rule) { r.SolutionSourceID = id }
}

// WithRuleSink sets the handler receiving this rule's evaluation events.
func WithRuleSink(h Handler) RuleOption {
	return func(r *Rule) { r.sink = h }
}

// WithComment appends a comment at creation time.
func WithComment(text, userID string) RuleOption {
	return func(r *Rule) {
		r.comments = append(r.comments, Comment{Text: text, UserID: userID, CreatedAt: time.Now().UTC()})
	}
}

// NewRule publishes root as a new rule. Nodes without ids get positive ids
// above the largest id already present; parent ids are fixed up to match
// the tree. The rule gets a UUIDv7 identity unless WithLegacyID is given.
func NewRule(root Node, opts ...RuleOption) (*Rule, error) {
	if root == nil {
		return nil, types.ErrNoRoot
	}

	r := &Rule{ID: types.NewRuleID(), CreatedAt: time.Now().UTC()}
	for _, opt := range opts {
		opt(r)
	}

	var maxID int64
	_ = walk(root, 0, func(n Node, _ int) error {
		if n.ID() > maxID {
			maxID = n.ID()
		}
		return nil
	})
	_ = walk(root, 0, func(n Node, _ int) error {
		if n.ID() == 0 {
			maxID++
			baseOf(n).id = maxID
		}
		return nil
	})
	setParent(root, 0)
	_ = walk(root, 0, func(n Node, _ int) error {
		if c, ok := n.(Container); ok {
			for _, child := range c.Children() {
				setParent(child, n.ID())
			}
		}
		return nil
	})

	r.root = root
	if err := r.seal(); err != nil {
		return nil, err
	}
	return r, nil
}

// newStoredRule creates an unpublished rule from a stored row.
func newStoredRule(row types.RuleRow, sink Handler) *Rule {
	id := types.RuleID(row.ID)
	if id.IsNil() {
		id = types.RuleIDFromLegacy(row.LegacyID)
	}
	return &Rule{
		ID:               id,
		LegacyID:         row.LegacyID,
		SolutionSourceID: row.SolutionSourceID,
		Author:           row.Author,
		CreatedAt:        row.CreatedAt,
		inactive:         row.Inactive,
		sink:             sink,
	}
}

// seal validates the tree and builds the node index.
func (r *Rule) seal() error {
	if r.root == nil {
		return types.ErrNoRoot
	}
	nodes := make(map[int64]Node)
	err := walk(r.root, 0, func(n Node, depth int) error {
		if depth > types.MaxTreeDepth {
			return types.ErrTreeTooDeep
		}
		if _, dup := nodes[n.ID()]; dup {
			return fmt.Errorf("%w: %d", types.ErrDuplicateNode, n.ID())
		}
		nodes[n.ID()] = n
		if l, ok := n.(*Logical); ok && len(l.children) == 0 {
			return fmt.Errorf("%w: expression %d", types.ErrEmptyLogical, l.id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.nodes = nodes
	return nil
}

// Row returns the rule's provenance in storage form.
func (r *Rule) Row() types.RuleRow {
	return types.RuleRow{
		LegacyID:         r.LegacyID,
		ID:               uuid.UUID(r.ID),
		SolutionSourceID: r.SolutionSourceID,
		Author:           r.Author,
		CreatedAt:        r.CreatedAt,
		Inactive:         r.Inactive(),
	}
}

// Root returns the root expression.
func (r *Rule) Root() Node {
	return r.root
}

// Lookup returns the node with the given id.
func (r *Rule) Lookup(id int64) (Node, bool) {
	n, ok := r.nodes[id]
	return n, ok
}

// Parent returns the node containing n, or nil for the root.
func (r *Rule) Parent(n Node) Node {
	if n == nil || n.ParentID() == 0 {
		return nil
	}
	if p, ok := r.nodes[n.ParentID()]; ok {
		return p
	}
	return nil
}

// Contains reports whether the node with the given id belongs to r.
func (r *Rule) Contains(id int64) bool {
	_, ok := r.nodes[id]
	return ok
}

// Len returns the number of nodes in the tree.
func (r *Rule) Len() int {
	return len(r.nodes)
}

// Walk visits every node depth-first with its depth (root = 0).
func (r *Rule) Walk(fn func(n Node, depth int) error) error {
	if r.root == nil {
		return nil
	}
	return walk(r.root, 0, fn)
}

// Evaluate evaluates the rule against fact and returns the root's result
// unchanged. Evaluation events go to the rule's sink.
func (r *Rule) Evaluate(fact types.Fact) (Result, error) {
	return r.evaluateWith(fact, r.sink)
}

func (r *Rule) evaluateWith(fact types.Fact, sink Handler) (Result, error) {
	if r.root == nil {
		return nil, types.ErrNoRoot
	}

	start := time.Now()
	if sink != nil {
		sink.emit(Event{
			Name:  EventEvaluateBegin,
			Start: start,
			Data:  map[string]any{"rule": r.LegacyID, "fact": describeFact(fact)},
		})
	}

	result, err := Evaluate(r.root, fact)

	if sink != nil {
		e := Event{
			Name:    EventEvaluateResult,
			Start:   start,
			Latency: time.Since(start),
			Data:    map[string]any{"rule": r.LegacyID, "matched": result != nil},
		}
		if err != nil {
			e.Name = EventEvaluateError
			e.Data["error"] = err.Error()
		} else if result != nil {
			e.Data["result"] = result.String()
		}
		sink.emit(e)
	}
	return result, err
}

// Comments returns a copy of the rule's comments in insertion order.
func (r *Rule) Comments() []Comment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Comment, len(r.comments))
	copy(out, r.comments)
	return out
}

// AddComment appends a comment and returns it.
func (r *Rule) AddComment(text, userID string) Comment {
	c := Comment{Text: text, UserID: userID, CreatedAt: time.Now().UTC()}
	r.appendComment(c)
	return c
}

func (r *Rule) appendComment(c Comment) {
	r.mu.Lock()
	r.comments = append(r.comments, c)
	r.mu.Unlock()
}

// Inactive reports whether the rule is switched off.
func (r *Rule) Inactive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inactive
}

// SetInactive switches the rule off or on.
func (r *Rule) SetInactive(inactive bool) {
	r.mu.Lock()
	r.inactive = inactive
	r.mu.Unlock()
}

// Equal reports whether both rules have the same identity.
func (r *Rule) Equal(other *Rule) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.ID == other.ID
}

// String renders the rule's expression in first-order logic form.
func (r *Rule) String() string {
	if r.root == nil {
		return "(null)"
	}
	return formatNode(r.root, nil)
}
