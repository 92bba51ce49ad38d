package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"
	"time"

	"github.com/google/uuid"
	"github.com/solatis/annotator/internal/registry"
	"github.com/solatis/annotator/internal/rules"
	"github.com/solatis/annotator/internal/types"
	"github.com/spf13/cobra"
)

var rulesImportCmd = &cobra.Command{
	Use:   "import <rules.json>",
	Short: "Import rules from their flat row form",
	Long: `Import reads rules, expression rows and comments from a JSON file,
rebuilds every rule to validate it, and saves the rules that built.

Expression rows are listed parents first. A row with "or_with_previous"
set is OR'ed with the sibling row before it. "owner_legacy_id" names the
rule a row belongs to; without it a row whose parent cannot be found fails
every rule in the file. Types are given by name as
"Model/Object".`,
	Args: cobra.ExactArgs(1),
	RunE: runRulesImport,
}

func init() {
	rulesImportCmd.Flags().Bool("skip-invalid", false, "save the rules that built even if others failed")
}

type importFile struct {
	Rules       []importRule       `json:"rules"`
	Expressions []importExpression `json:"expressions"`
	Comments    []importComment    `json:"comments"`
}

type importRule struct {
	LegacyID         int64     `json:"legacy_id"`
	SolutionSourceID uuid.UUID `json:"solution_source_id"`
	Author           string    `json:"author"`
	CreatedAt        time.Time `json:"created_at"`
	Inactive         bool      `json:"inactive"`
}

type importExpression struct {
	ID             int64   `json:"expression_id"`
	ParentID       int64   `json:"parent_id"`
	RuleID         int64   `json:"rule_legacy_id"`
	OwnerID        int64   `json:"owner_legacy_id"`
	OrWithPrevious bool    `json:"or_with_previous"`
	Attribute      string  `json:"attribute"`
	OperatorCode   int     `json:"operator_code"`
	ValueType      string  `json:"value_type"`
	Value          *string `json:"value"`
	Type           string  `json:"type"`
}

type importComment struct {
	RuleID int64  `json:"rule_legacy_id"`
	Text   string `json:"body"`
	UserID string `json:"user_id"`
}

// decodeImport reads an import file into storage rows, resolving type
// names against reg.
func decodeImport(r io.Reader, reg *registry.Registry) ([]types.RuleRow, []types.ExpressionRow, []types.CommentRow, error) {
	var f importFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, nil, nil, fmt.Errorf("decode import file: %w", err)
	}

	now := time.Now().UTC()
	ruleRows := make([]types.RuleRow, 0, len(f.Rules))
	for _, r := range f.Rules {
		row := types.RuleRow{
			LegacyID:         r.LegacyID,
			SolutionSourceID: r.SolutionSourceID,
			Author:           r.Author,
			CreatedAt:        r.CreatedAt,
			Inactive:         r.Inactive,
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		ruleRows = append(ruleRows, row)
	}

	exprRows := make([]types.ExpressionRow, 0, len(f.Expressions))
	for i, e := range f.Expressions {
		row := types.ExpressionRow{
			ID:             e.ID,
			ParentID:       e.ParentID,
			RuleID:         e.RuleID,
			OwnerID:        e.OwnerID,
			Position:       i,
			OrWithPrevious: e.OrWithPrevious,
			Attribute:      e.Attribute,
			OperatorCode:   e.OperatorCode,
			ValueType:      e.ValueType,
			Value:          e.Value,
		}
		if e.Type != "" {
			ot, err := reg.Resolve(e.Type)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("expression %d: %w", e.ID, err)
			}
			modelID, objectID := ot.ModelTypeID, ot.ID
			row.ModelTypeID, row.ObjectTypeID = &modelID, &objectID
		}
		exprRows = append(exprRows, row)
	}

	comments := make([]types.CommentRow, 0, len(f.Comments))
	for _, c := range f.Comments {
		comments = append(comments, types.CommentRow{RuleID: c.RuleID, Text: c.Text, UserID: c.UserID, CreatedAt: now})
	}
	return ruleRows, exprRows, comments, nil
}

func runRulesImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.DB().Close()

	reg, err := store.LoadRegistry(ctx)
	if err != nil {
		return err
	}

	file, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer file.Close()

	ruleRows, exprRows, comments, err := decodeImport(file, reg)
	if err != nil {
		return err
	}

	built, buildErr := rules.BuildRules(ruleRows, exprRows, comments, rules.WithTypeResolver(reg))
	if buildErr != nil {
		skip, _ := cmd.Flags().GetBool("skip-invalid")
		if !skip {
			return buildErr
		}
		reportBuildError(buildErr)
	}

	out := cmd.OutOrStdout()
	for _, r := range built {
		id, err := store.SaveRule(ctx, r)
		if err != nil {
			return fmt.Errorf("save rule %d: %w", r.LegacyID, err)
		}
		fmt.Fprintf(out, "saved rule %d\n", id)
	}
	logger.Info("rules imported", "saved", len(built), "rows", len(exprRows))
	return nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
