package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/solatis/annotator/internal/registry"
	"github.com/solatis/annotator/internal/rules"
	"github.com/solatis/annotator/internal/types"
)

// inChunk bounds IN (...) lists; older SQLite builds cap bound variables at 999.
const inChunk = 500

// SearchParams selects stored rules. Zero-valued fields do not filter.
type SearchParams struct {
	// ModelTypeID and ObjectTypeID match rules having any expression of
	// that type.
	ModelTypeID  uuid.UUID
	ObjectTypeID uuid.UUID

	// StartDate and EndDate bound the creation time, inclusive.
	StartDate time.Time
	EndDate   time.Time

	// DomainName and SamAccountName identify the author; see UserName.
	DomainName     string
	SamAccountName string

	LegacyID         int64
	SolutionSourceID uuid.UUID

	// Inactive selects inactive rules instead of active ones; nil means
	// active only. AnyState ignores the flag entirely.
	Inactive *bool
	AnyState bool
}

// UserName composes the author name as stored: DOMAIN\sam, or just sam
// without a domain.
func (p SearchParams) UserName() string {
	if p.SamAccountName == "" {
		return ""
	}
	if p.DomainName == "" {
		return p.SamAccountName
	}
	return p.DomainName + `\` + p.SamAccountName
}

// where renders the filter clause and its arguments.
func (p SearchParams) where() (string, []any) {
	var conds []string
	var args []any

	if !p.AnyState {
		inactive := false
		if p.Inactive != nil {
			inactive = *p.Inactive
		}
		conds = append(conds, "r.inactive = ?")
		args = append(args, inactive)
	}

	if p.ModelTypeID != uuid.Nil || p.ObjectTypeID != uuid.Nil {
		exists := "EXISTS (SELECT 1 FROM rule_expressions x WHERE x.rule_legacy_id = r.legacy_id"
		if p.ModelTypeID != uuid.Nil {
			exists += " AND x.model_type_id = ?"
			args = append(args, p.ModelTypeID)
		}
		if p.ObjectTypeID != uuid.Nil {
			exists += " AND x.object_type_id = ?"
			args = append(args, p.ObjectTypeID)
		}
		conds = append(conds, exists+")")
	}
	if !p.StartDate.IsZero() {
		conds = append(conds, "r.created_at >= ?")
		args = append(args, p.StartDate.UTC())
	}
	if !p.EndDate.IsZero() {
		conds = append(conds, "r.created_at <= ?")
		args = append(args, p.EndDate.UTC())
	}
	if name := p.UserName(); name != "" {
		conds = append(conds, "r.author = ?")
		args = append(args, name)
	}
	if p.LegacyID != 0 {
		conds = append(conds, "r.legacy_id = ?")
		args = append(args, p.LegacyID)
	}
	if p.SolutionSourceID != uuid.Nil {
		conds = append(conds, "r.solution_source_id = ?")
		args = append(args, p.SolutionSourceID)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Store persists rules and the type registry.
type Store struct {
	db *sqlx.DB
	q  *Queries
}

// NewStore creates a store over an open, migrated database.
func NewStore(db *sqlx.DB, q *Queries) *Store {
	return &Store{db: db, q: q}
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// SearchRules returns the matching rule rows, ordered by legacy id, and
// their expression rows. Expression rows come grouped by rule in tree
// pre-order, so parents precede children.
func (s *Store) SearchRules(ctx context.Context, p SearchParams) ([]types.RuleRow, []types.ExpressionRow, error) {
	base, err := s.q.Raw("search-rules")
	if err != nil {
		return nil, nil, err
	}
	where, args := p.where()
	query := s.db.Rebind(base + where + " ORDER BY r.legacy_id")

	var ruleRows []types.RuleRow
	if err := s.db.SelectContext(ctx, &ruleRows, query, args...); err != nil {
		return nil, nil, fmt.Errorf("search rules: %w", err)
	}

	var exprRows []types.ExpressionRow
	err = s.selectChunked(ctx, "select-expressions", legacyIDs(ruleRows), func(ids []int64) error {
		var chunk []types.ExpressionRow
		if err := s.q.SelectIn(ctx, s.db, "select-expressions", &chunk, ids); err != nil {
			return err
		}
		exprRows = append(exprRows, chunk...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return ruleRows, exprRows, nil
}

// LoadRules searches, rebuilds and attaches comments. Rules that fail to
// build are reported in a *rules.BuildError; the rules that did build are
// returned alongside it.
func (s *Store) LoadRules(ctx context.Context, p SearchParams, opts ...rules.BuilderOption) ([]*rules.Rule, error) {
	ruleRows, exprRows, err := s.SearchRules(ctx, p)
	if err != nil {
		return nil, err
	}

	comments, err := s.comments(ctx, legacyIDs(ruleRows))
	if err != nil {
		return nil, err
	}

	return rules.BuildRules(ruleRows, exprRows, comments, opts...)
}

// GetRule loads one rule regardless of its inactive flag.
func (s *Store) GetRule(ctx context.Context, legacyID int64, opts ...rules.BuilderOption) (*rules.Rule, error) {
	built, err := s.LoadRules(ctx, SearchParams{LegacyID: legacyID, AnyState: true}, opts...)
	if err != nil {
		return nil, err
	}
	if len(built) == 0 {
		return nil, fmt.Errorf("%w: %d", types.ErrRuleNotFound, legacyID)
	}
	return built[0], nil
}

func (s *Store) comments(ctx context.Context, ids []int64) ([]types.CommentRow, error) {
	var out []types.CommentRow
	err := s.selectChunked(ctx, "select-comments", ids, func(chunk []int64) error {
		var rows []types.CommentRow
		if err := s.q.SelectIn(ctx, s.db, "select-comments", &rows, chunk); err != nil {
			return err
		}
		out = append(out, rows...)
		return nil
	})
	return out, err
}

func (s *Store) selectChunked(ctx context.Context, name string, ids []int64, fn func([]int64) error) error {
	for start := 0; start < len(ids); start += inChunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+inChunk, len(ids))
		if err := fn(ids[start:end]); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func legacyIDs(rows []types.RuleRow) []int64 {
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.LegacyID
	}
	return ids
}

// SaveRule writes a rule with its expression rows in one transaction and
// returns its legacy id. A rule without a legacy id is assigned the next
// free one. Saving an existing rule replaces its provenance fields and its
// expressions; its comments are only written on first save, later ones go
// through AddComment.
func (s *Store) SaveRule(ctx context.Context, r *rules.Rule) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	legacyID := r.LegacyID
	exists := false
	if legacyID == 0 {
		if err := s.q.Get(ctx, tx, "next-legacy-id", &legacyID); err != nil {
			return 0, fmt.Errorf("allocate legacy id: %w", err)
		}
	} else {
		var existing types.RuleRow
		err := s.q.Get(ctx, tx, "get-rule", &existing, legacyID)
		switch {
		case err == nil:
			exists = true
		case !errors.Is(err, sql.ErrNoRows):
			return 0, fmt.Errorf("get rule %d: %w", legacyID, err)
		}
	}

	row := r.Row()
	if row.ID == uuid.Nil {
		row.ID = uuid.UUID(types.RuleIDFromLegacy(legacyID))
	}

	if exists {
		if _, err := s.q.Exec(ctx, tx, "update-rule", row.SolutionSourceID, row.Author, row.Inactive, legacyID); err != nil {
			return 0, fmt.Errorf("update rule %d: %w", legacyID, err)
		}
		if _, err := s.q.Exec(ctx, tx, "delete-expressions", legacyID); err != nil {
			return 0, fmt.Errorf("delete expressions of rule %d: %w", legacyID, err)
		}
	} else {
		createdAt := row.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err := s.q.Exec(ctx, tx, "insert-rule",
			legacyID, row.ID, row.SolutionSourceID, row.Author, createdAt.UTC(), row.Inactive)
		if err != nil {
			return 0, fmt.Errorf("insert rule %d: %w", legacyID, err)
		}
	}

	var nextExpr int64
	if err := s.q.Get(ctx, tx, "next-expression-id", &nextExpr); err != nil {
		return 0, fmt.Errorf("allocate expression ids: %w", err)
	}
	exprRows, err := rules.Flatten(r, nextExpr)
	if err != nil {
		return 0, err
	}
	for _, e := range exprRows {
		var parent any
		if e.ParentID != 0 {
			parent = e.ParentID
		}
		_, err := s.q.Exec(ctx, tx, "insert-expression",
			e.ID, legacyID, parent, e.Position, e.OrWithPrevious,
			e.Attribute, e.OperatorCode, e.ValueType, e.Value, e.ModelTypeID, e.ObjectTypeID)
		if err != nil {
			return 0, fmt.Errorf("insert expression %d of rule %d: %w", e.ID, legacyID, err)
		}
	}

	if !exists {
		for _, c := range r.Comments() {
			if _, err := s.insertComment(ctx, tx, legacyID, c.Text, c.UserID, c.CreatedAt); err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rule %d: %w", legacyID, err)
	}
	return legacyID, nil
}

// AddComment appends a comment to a stored rule.
func (s *Store) AddComment(ctx context.Context, legacyID int64, text, userID string) (types.CommentRow, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return types.CommentRow{}, fmt.Errorf("begin comment: %w", err)
	}
	defer tx.Rollback()

	var existing types.RuleRow
	if err := s.q.Get(ctx, tx, "get-rule", &existing, legacyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.CommentRow{}, fmt.Errorf("%w: %d", types.ErrRuleNotFound, legacyID)
		}
		return types.CommentRow{}, fmt.Errorf("get rule %d: %w", legacyID, err)
	}

	c, err := s.insertComment(ctx, tx, legacyID, text, userID, time.Now())
	if err != nil {
		return types.CommentRow{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.CommentRow{}, fmt.Errorf("commit comment: %w", err)
	}
	return c, nil
}

func (s *Store) insertComment(ctx context.Context, tx *sqlx.Tx, legacyID int64, text, userID string, at time.Time) (types.CommentRow, error) {
	c := types.CommentRow{RuleID: legacyID, Text: text, UserID: userID, CreatedAt: at.UTC()}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if err := s.q.Get(ctx, tx, "next-comment-id", &c.ID); err != nil {
		return c, fmt.Errorf("allocate comment id: %w", err)
	}
	if _, err := s.q.Exec(ctx, tx, "insert-comment", c.ID, c.RuleID, c.Text, c.UserID, c.CreatedAt); err != nil {
		return c, fmt.Errorf("insert comment on rule %d: %w", legacyID, err)
	}
	return c, nil
}

// SetInactive switches a stored rule off or on.
func (s *Store) SetInactive(ctx context.Context, legacyID int64, inactive bool) error {
	res, err := s.q.Exec(ctx, s.db, "set-rule-inactive", inactive, legacyID)
	if err != nil {
		return fmt.Errorf("set inactive on rule %d: %w", legacyID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", types.ErrRuleNotFound, legacyID)
	}
	return nil
}

type modelTypeRow struct {
	ID   uuid.UUID `db:"model_type_id"`
	Name string    `db:"name"`
}

type objectTypeRow struct {
	ID          uuid.UUID `db:"object_type_id"`
	ModelTypeID uuid.UUID `db:"model_type_id"`
	Name        string    `db:"name"`
}

func (r objectTypeRow) objectType() *types.ObjectType {
	return &types.ObjectType{ID: r.ID, ModelTypeID: r.ModelTypeID, Name: r.Name}
}

// ModelTypes loads every model type with its object types, by name.
func (s *Store) ModelTypes(ctx context.Context) ([]*types.ModelType, error) {
	var models []modelTypeRow
	if err := s.q.Select(ctx, s.db, "list-model-types", &models); err != nil {
		return nil, fmt.Errorf("list model types: %w", err)
	}
	var objects []objectTypeRow
	if err := s.q.Select(ctx, s.db, "list-object-types", &objects); err != nil {
		return nil, fmt.Errorf("list object types: %w", err)
	}

	out := make([]*types.ModelType, 0, len(models))
	byID := make(map[uuid.UUID]*types.ModelType, len(models))
	for _, m := range models {
		mt := &types.ModelType{ID: m.ID, Name: m.Name}
		byID[m.ID] = mt
		out = append(out, mt)
	}
	for _, o := range objects {
		if mt, ok := byID[o.ModelTypeID]; ok {
			mt.ObjectTypes = append(mt.ObjectTypes, o.objectType())
		}
	}
	return out, nil
}

// LoadRegistry builds a registry from the stored type tables.
func (s *Store) LoadRegistry(ctx context.Context) (*registry.Registry, error) {
	models, err := s.ModelTypes(ctx)
	if err != nil {
		return nil, err
	}
	return registry.New(models...)
}

// LookupModelType finds model types by name, case-insensitively. exact
// requires the whole name to match; otherwise name may be any substring.
func (s *Store) LookupModelType(ctx context.Context, name string, exact bool) ([]*types.ModelType, error) {
	query := "lookup-model-type-partial"
	if exact {
		query = "lookup-model-type-exact"
	}

	var models []modelTypeRow
	if err := s.q.Select(ctx, s.db, query, &models, name); err != nil {
		return nil, fmt.Errorf("lookup model type %q: %w", name, err)
	}

	out := make([]*types.ModelType, 0, len(models))
	for _, m := range models {
		var objects []objectTypeRow
		if err := s.q.Select(ctx, s.db, "object-types-for-model", &objects, m.ID); err != nil {
			return nil, fmt.Errorf("object types of %s: %w", m.Name, err)
		}
		mt := &types.ModelType{ID: m.ID, Name: m.Name}
		for _, o := range objects {
			mt.ObjectTypes = append(mt.ObjectTypes, o.objectType())
		}
		out = append(out, mt)
	}
	return out, nil
}

// LookupObjectType finds an object type of a model by name, case-insensitively.
func (s *Store) LookupObjectType(ctx context.Context, modelID uuid.UUID, name string) (*types.ObjectType, error) {
	var row objectTypeRow
	if err := s.q.Get(ctx, s.db, "lookup-object-type", &row, modelID, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: object type %q in model %s", types.ErrUnknownType, name, modelID)
		}
		return nil, fmt.Errorf("lookup object type %q: %w", name, err)
	}
	return row.objectType(), nil
}
