package rules

import (
	"errors"
	"slices"
	"testing"

	"github.com/solatis/annotator/internal/types"
)

func instanceRow(id, parentID, ruleID int64, typ *types.ObjectType) types.ExpressionRow {
	row := types.ExpressionRow{
		ID:        id,
		ParentID:  parentID,
		RuleID:    ruleID,
		Attribute: types.InstanceAttribute,
		ValueType: "System.Object",
	}
	if typ != nil {
		modelID, objectID := typ.ModelTypeID, typ.ID
		row.ModelTypeID, row.ObjectTypeID = &modelID, &objectID
	}
	return row
}

func compRow(id, parentID int64, attr string, code int, value string, or bool) types.ExpressionRow {
	return types.ExpressionRow{
		ID:             id,
		ParentID:       parentID,
		OrWithPrevious: or,
		Attribute:      attr,
		OperatorCode:   code,
		ValueType:      "System.String",
		Value:          strPtr(value),
	}
}

func TestBuild_OrSpliceRun(t *testing.T) {
	rows := []types.ExpressionRow{
		instanceRow(1, 0, 100, threadType),
		compRow(2, 1, "A", 0, "a", false),
		compRow(3, 1, "B", 0, "b", false),
		compRow(4, 1, "C", 0, "c", true),
		compRow(5, 1, "D", 0, "d", true),
	}

	built, err := BuildRules([]types.RuleRow{{LegacyID: 100}}, rows, nil, WithTypeResolver(testResolver()))
	if err != nil {
		t.Fatalf("BuildRules() error = %v, want nil", err)
	}
	if len(built) != 1 {
		t.Fatalf("len(built) = %d, want 1", len(built))
	}
	r := built[0]

	if got, want := r.String(), `(A Equal "a" And (B Equal "b" Or C Equal "c" Or D Equal "d"))`; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	root := r.Root().(*Logical)
	or, ok := root.Children()[1].(*Logical)
	if !ok || or.Operator() != OpOr {
		t.Fatalf("second child = %v, want Or node", root.Children()[1])
	}
	if or.ID() != -1 {
		t.Errorf("Or.ID() = %d, want -1", or.ID())
	}
	if or.ParentID() != 1 {
		t.Errorf("Or.ParentID() = %d, want 1", or.ParentID())
	}
	if or.Type() != threadType {
		t.Errorf("Or.Type() = %v, want parent type", or.Type())
	}
	for _, child := range or.Children() {
		if p := r.Parent(child); p != Node(or) {
			t.Errorf("Parent(%d) = %v, want Or node", child.ID(), p)
		}
	}
	if r.Len() != 6 {
		t.Errorf("Len() = %d, want 6", r.Len())
	}
	if r.ID != types.RuleIDFromLegacy(100) {
		t.Errorf("ID = %v, want derived from legacy id", r.ID)
	}
}

func TestBuild_OrRunsScopedPerParent(t *testing.T) {
	rows := []types.ExpressionRow{
		instanceRow(10, 0, 1, nil),
		instanceRow(11, 10, 0, nil),
		instanceRow(12, 10, 0, nil),
		compRow(13, 11, "a", 0, "1", false),
		compRow(14, 12, "b", 0, "2", false),
		compRow(15, 11, "c", 0, "3", true),
		compRow(16, 12, "d", 0, "4", true),
		compRow(17, 11, "e", 0, "5", false),
		compRow(18, 11, "f", 0, "6", true),
	}

	built, err := BuildRules([]types.RuleRow{{LegacyID: 1}}, rows, nil)
	if err != nil {
		t.Fatalf("BuildRules() error = %v, want nil", err)
	}

	want := `(((a Equal "1" Or c Equal "3") And (e Equal "5" Or f Equal "6")) And ((b Equal "2" Or d Equal "4")))`
	if got := built[0].String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	var synthetic []int64
	_ = built[0].Walk(func(n Node, _ int) error {
		if n.ID() < 0 {
			synthetic = append(synthetic, n.ID())
		}
		return nil
	})
	if len(synthetic) != 3 {
		t.Errorf("synthetic Or nodes = %v, want 3", synthetic)
	}
}

func TestBuild_OrphanOr(t *testing.T) {
	tests := []struct {
		name string
		rows []types.ExpressionRow
	}{
		{
			name: "flagged root",
			rows: []types.ExpressionRow{{ID: 1, RuleID: 1, OrWithPrevious: true, Attribute: types.InstanceAttribute}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			built, err := BuildRules([]types.RuleRow{{LegacyID: 1}}, tt.rows, nil)
			if !errors.Is(err, types.ErrOrphanOr) {
				t.Fatalf("BuildRules() error = %v, want ErrOrphanOr", err)
			}
			if len(built) != 0 {
				t.Errorf("len(built) = %d, want 0", len(built))
			}
		})
	}
}

func TestBuild_FlaggedFirstChild(t *testing.T) {
	tests := []struct {
		name string
		rows []types.ExpressionRow
		want string
	}{
		{
			name: "alone",
			rows: []types.ExpressionRow{
				instanceRow(1, 0, 1, nil),
				compRow(2, 1, "a", 0, "x", true),
				compRow(3, 1, "b", 0, "y", false),
			},
			want: `((a Equal "x") And b Equal "y")`,
		},
		{
			name: "joined by the next flagged row",
			rows: []types.ExpressionRow{
				instanceRow(1, 0, 1, nil),
				compRow(2, 1, "a", 0, "x", true),
				compRow(3, 1, "b", 0, "y", true),
			},
			want: `((a Equal "x" Or b Equal "y"))`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			built, err := BuildRules([]types.RuleRow{{LegacyID: 1}}, tt.rows, nil)
			if err != nil {
				t.Fatalf("BuildRules() error = %v, want nil", err)
			}
			if got := built[0].String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}

			flat, err := Flatten(built[0], 0)
			if err != nil {
				t.Fatalf("Flatten() error = %v", err)
			}
			rebuilt, err := BuildRules([]types.RuleRow{{LegacyID: 1}}, flat, nil)
			if err != nil {
				t.Fatalf("BuildRules(flattened) error = %v", err)
			}
			if got := rebuilt[0].String(); got != tt.want {
				t.Errorf("rebuilt String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func owned(row types.ExpressionRow, owner int64) types.ExpressionRow {
	row.OwnerID = owner
	return row
}

func TestBuild_RowScenarios(t *testing.T) {
	splice := []types.ExpressionRow{
		instanceRow(1, 0, 1, nil),
		compRow(2, 1, "A", 0, "a", false),
		compRow(3, 1, "B", 0, "b", false),
		compRow(4, 1, "C", 0, "c", true),
		compRow(5, 1, "D", 0, "d", true),
	}

	tests := []struct {
		name       string
		ruleIDs    []int64
		rows       []types.ExpressionRow
		fact       map[string]any
		wantFailed []int64
		wantErr    error
		wantMatch  bool
		wantLeaves []string // sorted leaf names of the match
	}{
		{
			name:       "or present with B absent and C present",
			rows:       splice,
			fact:       map[string]any{"A": "a", "C": "c"},
			wantMatch:  true,
			wantLeaves: []string{"A", "C", "Identity", "Identity"},
		},
		{
			name: "or absent when no member matches",
			rows: splice,
			fact: map[string]any{"A": "a"},
		},
		{
			name:       "leaves are the attributes plus one identity per logical",
			rows:       splice,
			fact:       map[string]any{"A": "a", "B": "b", "C": "c", "D": "d"},
			wantMatch:  true,
			wantLeaves: []string{"A", "B", "C", "D", "Identity", "Identity"},
		},
		{
			name: "dangling parent fails its rule",
			rows: []types.ExpressionRow{
				instanceRow(1, 0, 1, nil),
				compRow(2, 1, "a", 0, "x", false),
				compRow(3, 99, "b", 0, "y", false),
			},
			wantFailed: []int64{1},
			wantErr:    types.ErrDanglingParent,
		},
		{
			name: "child before parent fails its rule",
			rows: []types.ExpressionRow{
				instanceRow(1, 0, 1, nil),
				compRow(3, 2, "b", 0, "y", false),
				instanceRow(2, 1, 0, nil),
				compRow(4, 2, "a", 0, "x", false),
			},
			wantFailed: []int64{1},
			wantErr:    types.ErrDanglingParent,
		},
		{
			name:    "ownerless dangling row fails the whole batch",
			ruleIDs: []int64{1, 2},
			rows: []types.ExpressionRow{
				instanceRow(1, 0, 1, nil),
				compRow(2, 1, "a", 0, "x", false),
				instanceRow(10, 0, 2, nil),
				compRow(11, 99, "b", 0, "y", false),
			},
			wantFailed: []int64{1, 2},
			wantErr:    types.ErrDanglingParent,
		},
		{
			name:    "owned dangling row fails only its owner",
			ruleIDs: []int64{1, 2},
			rows: []types.ExpressionRow{
				owned(instanceRow(1, 0, 1, nil), 1),
				owned(compRow(2, 1, "a", 0, "x", false), 1),
				owned(instanceRow(10, 0, 2, nil), 2),
				owned(compRow(11, 99, "b", 0, "y", false), 2),
			},
			fact:       map[string]any{"a": "x"},
			wantFailed: []int64{2},
			wantErr:    types.ErrDanglingParent,
			wantMatch:  true,
			wantLeaves: []string{"Identity", "a"},
		},
		{
			name:    "parent owned by another rule",
			ruleIDs: []int64{1, 2},
			rows: []types.ExpressionRow{
				owned(instanceRow(1, 0, 1, nil), 1),
				owned(compRow(2, 1, "a", 0, "x", false), 1),
				owned(instanceRow(10, 0, 2, nil), 2),
				owned(compRow(11, 1, "b", 0, "y", false), 2),
				owned(compRow(12, 10, "c", 0, "z", false), 2),
			},
			fact:       map[string]any{"a": "x"},
			wantFailed: []int64{2},
			wantErr:    types.ErrDanglingParent,
			wantMatch:  true,
			wantLeaves: []string{"Identity", "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := tt.ruleIDs
			if ids == nil {
				ids = []int64{1}
			}
			ruleRows := make([]types.RuleRow, len(ids))
			for i, id := range ids {
				ruleRows[i] = types.RuleRow{LegacyID: id}
			}

			built, err := BuildRules(ruleRows, tt.rows, nil)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("BuildRules() error = %v, want nil", err)
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("BuildRules() error = %v, want %v", err, tt.wantErr)
				}
				var be *BuildError
				if !errors.As(err, &be) {
					t.Fatalf("BuildRules() error = %T, want *BuildError", err)
				}
				if got := be.Failed(); !slices.Equal(got, tt.wantFailed) {
					t.Errorf("Failed() = %v, want %v", got, tt.wantFailed)
				}
			}
			if want := len(ids) - len(tt.wantFailed); len(built) != want {
				t.Fatalf("len(built) = %d, want %d", len(built), want)
			}
			for _, r := range built {
				if slices.Contains(tt.wantFailed, r.LegacyID) {
					t.Errorf("failed rule %d was built", r.LegacyID)
				}
			}
			if tt.fact == nil {
				return
			}

			result, err := built[0].Evaluate(newFact(1, nil, tt.fact))
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if (result != nil) != tt.wantMatch {
				t.Fatalf("Evaluate() = %v, want match %v", result, tt.wantMatch)
			}
			if !tt.wantMatch {
				return
			}

			var names []string
			for _, leaf := range Leaves(result) {
				names = append(names, leaf.Name)
			}
			slices.Sort(names)
			if !slices.Equal(names, tt.wantLeaves) {
				t.Errorf("leaf names = %v, want %v", names, tt.wantLeaves)
			}
		})
	}
}

func TestBuild_FailuresAreIsolatedPerRule(t *testing.T) {
	var events Collector
	rows := []types.ExpressionRow{
		instanceRow(1, 0, 1, nil),
		instanceRow(2, 0, 2, nil),
		compRow(3, 1, "a", 0, "x", false),
		compRow(4, 2, "b", 42, "y", false), // unknown operator code
		compRow(5, 2, "c", 0, "z", false),  // skipped, rule 2 already failed
		compRow(6, 1, "d", 1, "w", true),
	}

	built, err := BuildRules([]types.RuleRow{{LegacyID: 1}, {LegacyID: 2}}, rows, nil, WithSink(events.Handler()))
	if err == nil {
		t.Fatalf("BuildRules() error = nil, want build error")
	}
	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("BuildRules() error = %T, want *BuildError", err)
	}
	if failed := be.Failed(); len(failed) != 1 || failed[0] != 2 {
		t.Errorf("Failed() = %v, want [2]", failed)
	}
	if !errors.Is(err, types.ErrUnknownOperator) {
		t.Errorf("errors.Is(err, ErrUnknownOperator) = false, want true")
	}

	if len(built) != 1 || built[0].LegacyID != 1 {
		t.Fatalf("built = %v, want only rule 1", built)
	}
	if got, want := built[0].String(), `((a Equal "x" Or d NotEqual "w"))`; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if n := events.Count(EventBuildFailed); n != 1 {
		t.Errorf("build failure events = %d, want 1", n)
	}
	if n := events.Count(EventBuildRule); n != 1 {
		t.Errorf("build events = %d, want 1", n)
	}
}

func TestBuild_StructuralErrors(t *testing.T) {
	tests := []struct {
		name    string
		rows    []types.ExpressionRow
		wantErr error
	}{
		{
			name:    "duplicate root",
			rows:    []types.ExpressionRow{instanceRow(1, 0, 1, nil), compRow(2, 1, "a", 0, "x", false), instanceRow(3, 0, 1, nil)},
			wantErr: types.ErrDuplicateRoot,
		},
		{
			name:    "root for unregistered rule",
			rows:    []types.ExpressionRow{instanceRow(1, 0, 7, nil)},
			wantErr: types.ErrDanglingRule,
		},
		{
			name:    "unattached row",
			rows:    []types.ExpressionRow{compRow(1, 0, "a", 0, "x", false)},
			wantErr: types.ErrUnattached,
		},
		{
			name:    "dangling parent",
			rows:    []types.ExpressionRow{instanceRow(1, 0, 1, nil), compRow(2, 1, "a", 0, "x", false), compRow(3, 99, "b", 0, "y", false)},
			wantErr: types.ErrDanglingParent,
		},
		{
			name:    "empty logical",
			rows:    []types.ExpressionRow{instanceRow(1, 0, 1, nil)},
			wantErr: types.ErrEmptyLogical,
		},
		{
			name:    "missing root",
			rows:    nil,
			wantErr: types.ErrNoRoot,
		},
		{
			name:    "bad value",
			rows:    []types.ExpressionRow{instanceRow(1, 0, 1, nil), {ID: 2, ParentID: 1, ValueType: "System.Int32", Value: strPtr("x"), Attribute: "n"}},
			wantErr: types.ErrCoercionFailed,
		},
		{
			name:    "bad pattern",
			rows:    []types.ExpressionRow{instanceRow(1, 0, 1, nil), compRow(2, 1, "a", 6, "(", false)},
			wantErr: types.ErrInvalidPattern,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildRules([]types.RuleRow{{LegacyID: 1}}, tt.rows, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("BuildRules() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuild_UnknownTypeReference(t *testing.T) {
	rows := []types.ExpressionRow{instanceRow(1, 0, 1, &types.ObjectType{ID: threadType.ModelTypeID, ModelTypeID: threadType.ID})}
	_, err := BuildRules([]types.RuleRow{{LegacyID: 1}}, rows, nil, WithTypeResolver(testResolver()))
	if !errors.Is(err, types.ErrUnknownType) {
		t.Errorf("BuildRules() error = %v, want ErrUnknownType", err)
	}
}

func TestBuild_QuantifierAndComments(t *testing.T) {
	rows := []types.ExpressionRow{
		instanceRow(1, 0, 5, threadType),
		{ID: 2, ParentID: 1, Attribute: "CallStack", OperatorCode: 6, ValueType: "System.Collections.IEnumerable"},
		compRow(3, 2, "ModuleName", 0, "ntdll", false),
	}
	comments := []types.CommentRow{{ID: 1, RuleID: 5, Text: "seen on build 1234", UserID: `CORP\jdoe`}}

	built, err := BuildRules([]types.RuleRow{{LegacyID: 5, Author: `CORP\jdoe`}}, rows, comments, WithTypeResolver(testResolver()))
	if err != nil {
		t.Fatalf("BuildRules() error = %v, want nil", err)
	}
	r := built[0]
	if got, want := r.String(), `(in ThreadInfo.CallStack Exists (ModuleName Equal "ntdll"))`; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if c := r.Comments(); len(c) != 1 || c[0].Text != "seen on build 1234" {
		t.Errorf("Comments() = %v, want one stored comment", c)
	}

	if _, err := BuildRules(nil, nil, []types.CommentRow{{ID: 9, RuleID: 77}}); !errors.Is(err, types.ErrDanglingRule) {
		t.Errorf("BuildRules(dangling comment) error = %v, want ErrDanglingRule", err)
	}
}
