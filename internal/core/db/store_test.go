package db

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/solatis/annotator/internal/facts/dump"
	"github.com/solatis/annotator/internal/registry"
	"github.com/solatis/annotator/internal/rules"
	"github.com/solatis/annotator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	conn, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = MigrateUp(ctx, conn)
	require.NoError(t, err)

	q, err := LoadQueries()
	require.NoError(t, err)
	return NewStore(conn, q)
}

func loadRegistry(t *testing.T, s *Store) *registry.Registry {
	t.Helper()
	reg, err := s.LoadRegistry(context.Background())
	require.NoError(t, err)
	return reg
}

// threadRule builds: thread handles an exception, runs in process 4 or a
// high thread id, and has a Crash* frame on its stack.
func threadRule(t *testing.T, reg *registry.Registry, opts ...rules.RuleOption) *rules.Rule {
	t.Helper()
	threadType, err := reg.Resolve("DumpFile/ThreadInfo")
	require.NoError(t, err)
	frameType, err := reg.Resolve("DumpFile/FunctionCallInfo")
	require.NoError(t, err)

	cmp := func(attr string, op rules.Operator, v any) *rules.Comparison {
		c, err := rules.NewComparison(attr, op, v)
		require.NoError(t, err)
		return c
	}

	or, err := rules.NewLogical(rules.OpOr,
		cmp("ProcessId", rules.OpEqual, 4),
		cmp("UniqueThreadId", rules.OpGreaterThan, 100),
	)
	require.NoError(t, err)

	frame, err := rules.NewLogical(rules.OpAnd, cmp("FunctionName", rules.OpPatternMatch, "^Crash"))
	require.NoError(t, err)
	stack, err := rules.NewQuantifier(dump.CollectionCallStack, rules.OpExists, frame.WithType(frameType))
	require.NoError(t, err)

	root, err := rules.NewLogical(rules.OpAnd,
		cmp("IsHandlingException", rules.OpEqual, true),
		or,
		stack,
	)
	require.NoError(t, err)

	r, err := rules.NewRule(root.WithType(threadType), opts...)
	require.NoError(t, err)
	return r
}

const crashDump = `{
  "identity": 77,
  "serverName": "web01",
  "threads": [
    {"id": 1, "processId": 9, "uniqueThreadId": 3, "isHandlingException": false, "callStack": []},
    {"id": 2, "processId": 4, "uniqueThreadId": 12, "isHandlingException": true, "callStack": [
      {"id": 10, "frame": 0, "moduleName": "app.dll", "functionName": "CrashHandler", "functionOffset": 64}
    ]}
  ]
}`

func TestMigrateUp_Idempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer conn.Close()

	ran, err := MigrateUp(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_initial_schema.sql", "002_dump_model.sql"}, ran)

	ran, err = MigrateUp(ctx, conn)
	require.NoError(t, err)
	assert.Empty(t, ran)

	statuses, err := MigrateStatus(ctx, conn)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, s := range statuses {
		assert.True(t, s.Applied, "migration %s applied", s.ID)
		assert.NotNil(t, s.AppliedAt, "migration %s applied_at", s.ID)
	}
}

func TestMigrateUp_DetectsTamperedChecksum(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer conn.Close()

	_, err = MigrateUp(ctx, conn)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, "UPDATE migrations SET checksum = 'bad' WHERE migration_id = '002_dump_model.sql'")
	require.NoError(t, err)

	_, err = MigrateUp(ctx, conn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestSplitStatements(t *testing.T) {
	sql := "-- header\nCREATE TABLE a (x INT);\n  -- note\nINSERT INTO a VALUES (1);\n\n"
	got := splitStatements(sql)
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "INSERT INTO a VALUES (1)"}, got)
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		url        string
		wantDriver string
		wantSource string
		wantErr    bool
	}{
		{"sqlite://rules.db", DriverSQLite, "rules.db", false},
		{"sqlite:///var/lib/rules.db", DriverSQLite, "/var/lib/rules.db", false},
		{"sqlite://rules.db?_busy_timeout=5000", DriverSQLite, "rules.db?_busy_timeout=5000", false},
		{"postgres://u:p@db:5432/annotator", DriverPostgres, "postgres://u:p@db:5432/annotator", false},
		{"postgresql://db/annotator", DriverPostgres, "postgresql://db/annotator", false},
		{"mysql://db/annotator", "", "", true},
		{"sqlite://", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			driver, source, err := parseURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, driver)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestStore_ModelTypesSeeded(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	models, err := s.ModelTypes(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, dump.ModelTypeID, models[0].ID)
	assert.Equal(t, dump.ModelName, models[0].Name)
	assert.Len(t, models[0].ObjectTypes, len(dump.Model().ObjectTypes))

	for _, ot := range dump.Model().ObjectTypes {
		got, ok := models[0].ObjectType(ot.ID)
		require.True(t, ok, "object type %s", ot.Name)
		assert.Equal(t, ot.Name, got.Name)
	}
}

func TestStore_LookupModelType(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tests := []struct {
		name  string
		exact bool
		want  int
	}{
		{"DumpFile", true, 1},
		{"dumpfile", true, 1},
		{"dump", true, 0},
		{"dump", false, 1},
		{"UMPF", false, 1},
		{"trace", false, 0},
	}
	for _, tt := range tests {
		found, err := s.LookupModelType(ctx, tt.name, tt.exact)
		require.NoError(t, err)
		assert.Len(t, found, tt.want, "LookupModelType(%q, %v)", tt.name, tt.exact)
		if len(found) > 0 {
			assert.Len(t, found[0].ObjectTypes, 4)
		}
	}
}

func TestStore_LookupObjectType(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ot, err := s.LookupObjectType(ctx, dump.ModelTypeID, "threadinfo")
	require.NoError(t, err)
	assert.Equal(t, dump.ThreadTypeID, ot.ID)
	assert.Equal(t, "ThreadInfo", ot.Name)

	_, err = s.LookupObjectType(ctx, dump.ModelTypeID, "Heap")
	assert.ErrorIs(t, err, types.ErrUnknownType)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	reg := loadRegistry(t, s)

	source := uuid.New()
	original := threadRule(t, reg,
		rules.WithAuthor(`CORP\alice`),
		rules.WithSolutionSource(source),
		rules.WithComment("seen on web01", "alice"),
	)

	legacyID, err := s.SaveRule(ctx, original)
	require.NoError(t, err)
	assert.Equal(t, int64(1), legacyID)

	loaded, err := s.LoadRules(ctx, SearchParams{}, rules.WithTypeResolver(reg))
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, original.ID, got.ID, "UUIDv7 identity survives storage")
	assert.Equal(t, legacyID, got.LegacyID)
	assert.Equal(t, `CORP\alice`, got.Author)
	assert.Equal(t, source, got.SolutionSourceID)
	assert.WithinDuration(t, original.CreatedAt, got.CreatedAt, time.Second)
	assert.Equal(t, original.String(), got.String())
	assert.Equal(t, original.Len(), got.Len())

	comments := got.Comments()
	require.Len(t, comments, 1)
	assert.Equal(t, "seen on web01", comments[0].Text)
	assert.Equal(t, "alice", comments[0].UserID)
	assert.NotZero(t, comments[0].ID)

	file, err := dump.Decode(strings.NewReader(crashDump))
	require.NoError(t, err)

	miss, err := got.Evaluate(file.Threads[0])
	require.NoError(t, err)
	assert.Nil(t, miss)

	hit, err := got.Evaluate(file.Threads[1])
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "ThreadInfo", rules.ResultName(hit))
}

func TestStore_SaveRuleReplacesExpressions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	reg := loadRegistry(t, s)

	first := threadRule(t, reg, rules.WithLegacyID(40), rules.WithComment("first", "bob"))
	_, err := s.SaveRule(ctx, first)
	require.NoError(t, err)

	c, err := rules.NewComparison("ProcessId", rules.OpEqual, 8)
	require.NoError(t, err)
	root, err := rules.NewLogical(rules.OpAnd, c)
	require.NoError(t, err)
	second, err := rules.NewRule(root, rules.WithLegacyID(40), rules.WithAuthor("bob"), rules.WithComment("ignored", "bob"))
	require.NoError(t, err)

	legacyID, err := s.SaveRule(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, int64(40), legacyID)

	got, err := s.GetRule(ctx, 40, rules.WithTypeResolver(reg))
	require.NoError(t, err)
	assert.Equal(t, second.String(), got.String())
	assert.Equal(t, "bob", got.Author)
	assert.Equal(t, 2, got.Len())
	require.Len(t, got.Comments(), 1, "re-save keeps stored comments only")
	assert.Equal(t, "first", got.Comments()[0].Text)

	var rows int
	require.NoError(t, s.DB().GetContext(ctx, &rows, "SELECT COUNT(*) FROM rule_expressions WHERE rule_legacy_id = 40"))
	assert.Equal(t, 2, rows)
}

func TestStore_SaveRuleRejectsRootOr(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, err := rules.NewComparison("ProcessId", rules.OpEqual, 1)
	require.NoError(t, err)
	b, err := rules.NewComparison("ProcessId", rules.OpEqual, 2)
	require.NoError(t, err)
	root, err := rules.NewLogical(rules.OpOr, a, b)
	require.NoError(t, err)
	r, err := rules.NewRule(root)
	require.NoError(t, err)

	_, err = s.SaveRule(ctx, r)
	assert.ErrorIs(t, err, types.ErrOrphanOr)

	rulesRows, _, err := s.SearchRules(ctx, SearchParams{AnyState: true})
	require.NoError(t, err)
	assert.Empty(t, rulesRows, "failed save leaves nothing behind")
}

func TestStore_SearchFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	reg := loadRegistry(t, s)

	source := uuid.New()
	past := time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC)

	typed := threadRule(t, reg, rules.WithLegacyID(1), rules.WithAuthor(`CORP\alice`), rules.WithCreatedAt(past))
	_, err := s.SaveRule(ctx, typed)
	require.NoError(t, err)

	c, err := rules.NewComparison("ServerName", rules.OpEqual, "web01")
	require.NoError(t, err)
	root, err := rules.NewLogical(rules.OpAnd, c)
	require.NoError(t, err)
	untyped, err := rules.NewRule(root, rules.WithLegacyID(2), rules.WithAuthor("bob"), rules.WithSolutionSource(source))
	require.NoError(t, err)
	_, err = s.SaveRule(ctx, untyped)
	require.NoError(t, err)

	yes := true
	tests := []struct {
		name   string
		params SearchParams
		want   []int64
	}{
		{"all active", SearchParams{}, []int64{1, 2}},
		{"by model type", SearchParams{ModelTypeID: dump.ModelTypeID}, []int64{1}},
		{"by object type", SearchParams{ObjectTypeID: dump.FrameTypeID}, []int64{1}},
		{"by unused type", SearchParams{ObjectTypeID: dump.InfoTypeID}, nil},
		{"by author", SearchParams{DomainName: "CORP", SamAccountName: "alice"}, []int64{1}},
		{"by author without domain", SearchParams{SamAccountName: "bob"}, []int64{2}},
		{"by legacy id", SearchParams{LegacyID: 2}, []int64{2}},
		{"by solution source", SearchParams{SolutionSourceID: source}, []int64{2}},
		{"created before", SearchParams{EndDate: past.Add(time.Hour)}, []int64{1}},
		{"created after", SearchParams{StartDate: past.Add(time.Hour)}, []int64{2}},
		{"inactive only", SearchParams{Inactive: &yes}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ruleRows, _, err := s.SearchRules(ctx, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, legacyIDsOrNil(ruleRows))
		})
	}
}

func legacyIDsOrNil(rows []types.RuleRow) []int64 {
	if len(rows) == 0 {
		return nil
	}
	return legacyIDs(rows)
}

func TestStore_SetInactive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	reg := loadRegistry(t, s)

	_, err := s.SaveRule(ctx, threadRule(t, reg, rules.WithLegacyID(5)))
	require.NoError(t, err)

	require.NoError(t, s.SetInactive(ctx, 5, true))

	active, err := s.LoadRules(ctx, SearchParams{}, rules.WithTypeResolver(reg))
	require.NoError(t, err)
	assert.Empty(t, active)

	yes := true
	inactive, err := s.LoadRules(ctx, SearchParams{Inactive: &yes}, rules.WithTypeResolver(reg))
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	assert.True(t, inactive[0].Inactive())

	err = s.SetInactive(ctx, 999, true)
	assert.ErrorIs(t, err, types.ErrRuleNotFound)
}

func TestStore_AddComment(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	reg := loadRegistry(t, s)

	_, err := s.SaveRule(ctx, threadRule(t, reg, rules.WithLegacyID(7), rules.WithComment("one", "alice")))
	require.NoError(t, err)

	c, err := s.AddComment(ctx, 7, "two", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.ID)

	got, err := s.GetRule(ctx, 7, rules.WithTypeResolver(reg))
	require.NoError(t, err)
	comments := got.Comments()
	require.Len(t, comments, 2)
	assert.Equal(t, "one", comments[0].Text)
	assert.Equal(t, "two", comments[1].Text)

	_, err = s.AddComment(ctx, 8, "nobody home", "bob")
	assert.ErrorIs(t, err, types.ErrRuleNotFound)
}

func TestStore_LoadRulesReportsBrokenRules(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	reg := loadRegistry(t, s)

	_, err := s.SaveRule(ctx, threadRule(t, reg, rules.WithLegacyID(1)))
	require.NoError(t, err)
	_, err = s.SaveRule(ctx, threadRule(t, reg, rules.WithLegacyID(2)))
	require.NoError(t, err)

	// Corrupt rule 2: point its first comparison at an unknown operator code.
	_, err = s.DB().ExecContext(ctx, `
		UPDATE rule_expressions SET operator_code = 99
		WHERE expression_id = (
			SELECT MIN(expression_id) FROM rule_expressions
			WHERE rule_legacy_id = 2 AND parent_id IS NOT NULL
		)`)
	require.NoError(t, err)

	loaded, err := s.LoadRules(ctx, SearchParams{}, rules.WithTypeResolver(reg))
	require.Error(t, err)

	var buildErr *rules.BuildError
	require.True(t, errors.As(err, &buildErr))
	assert.Equal(t, []int64{2}, buildErr.Failed())
	assert.ErrorIs(t, err, types.ErrUnknownOperator)

	require.Len(t, loaded, 1)
	assert.Equal(t, int64(1), loaded[0].LegacyID)

	_, err = s.GetRule(ctx, 3)
	assert.ErrorIs(t, err, types.ErrRuleNotFound)
}

func TestStore_LoadRulesFailsRuleWithForeignParent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	reg := loadRegistry(t, s)

	_, err := s.SaveRule(ctx, threadRule(t, reg, rules.WithLegacyID(1)))
	require.NoError(t, err)
	_, err = s.SaveRule(ctx, threadRule(t, reg, rules.WithLegacyID(2)))
	require.NoError(t, err)

	// Re-parent rule 2's last row under rule 1's root.
	_, err = s.DB().ExecContext(ctx, `
		UPDATE rule_expressions
		SET parent_id = (SELECT MIN(expression_id) FROM rule_expressions WHERE rule_legacy_id = 1)
		WHERE expression_id = (SELECT MAX(expression_id) FROM rule_expressions WHERE rule_legacy_id = 2)`)
	require.NoError(t, err)

	loaded, err := s.LoadRules(ctx, SearchParams{}, rules.WithTypeResolver(reg))
	require.Error(t, err)

	var buildErr *rules.BuildError
	require.True(t, errors.As(err, &buildErr))
	assert.Equal(t, []int64{2}, buildErr.Failed())
	assert.ErrorIs(t, err, types.ErrDanglingParent)

	require.Len(t, loaded, 1)
	assert.Equal(t, int64(1), loaded[0].LegacyID)

	original := threadRule(t, reg, rules.WithLegacyID(1))
	assert.Equal(t, original.String(), loaded[0].String())
}
