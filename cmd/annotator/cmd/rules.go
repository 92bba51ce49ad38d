package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/solatis/annotator/internal/core/db"
	"github.com/solatis/annotator/internal/core/logging"
	"github.com/solatis/annotator/internal/registry"
	"github.com/solatis/annotator/internal/rules"
	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and manage stored rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Search stored rules",
	Args:  cobra.NoArgs,
	RunE:  runRulesList,
}

var rulesShowCmd = &cobra.Command{
	Use:   "show <legacy-id>",
	Short: "Show one rule with its expression tree and comments",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesShow,
}

var rulesCommentCmd = &cobra.Command{
	Use:   "comment <legacy-id> <text>",
	Short: "Attach a comment to a rule",
	Args:  cobra.ExactArgs(2),
	RunE:  runRulesComment,
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <legacy-id>",
	Short: "Mark a rule inactive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setInactive(cmd, args[0], true)
	},
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <legacy-id>",
	Short: "Mark a rule active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setInactive(cmd, args[0], false)
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd, rulesShowCmd, rulesCommentCmd, rulesDisableCmd, rulesEnableCmd, rulesImportCmd)

	f := rulesListCmd.Flags()
	f.String("type", "", "only rules addressing this type (Model or Model/Object)")
	f.String("from", "", "created on or after (YYYY-MM-DD or RFC 3339)")
	f.String("to", "", "created on or before (YYYY-MM-DD or RFC 3339)")
	f.String("domain", "", "author domain")
	f.String("user", "", "author account name")
	f.Int64("legacy-id", 0, "legacy rule id")
	f.String("solution-source", "", "solution source id")
	f.Bool("inactive", false, "list inactive rules instead of active ones")
	f.Bool("all", false, "list rules regardless of state")

	rulesCommentCmd.Flags().String("user", "", "comment author (defaults to $USER)")
}

func runRulesList(cmd *cobra.Command, _ []string) error {
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
	params, err := searchParams(cmd, reg)
	if err != nil {
		return err
	}

	built, err := store.LoadRules(ctx, params, rules.WithTypeResolver(reg))
	reportBuildError(err)
	if err != nil && !isBuildError(err) {
		return err
	}

	rows := make([][]string, 0, len(built))
	for _, r := range built {
		state := color.GreenString("active")
		if r.Inactive() {
			state = color.RedString("inactive")
		}
		rows = append(rows, []string{
			strconv.FormatInt(r.LegacyID, 10),
			r.Author,
			r.CreatedAt.Local().Format(time.DateOnly),
			state,
			rootTypeName(r),
			strconv.Itoa(r.Len()),
		})
	}
	return renderTable(cmd.OutOrStdout(), []string{"ID", "Author", "Created", "State", "Type", "Nodes"}, rows)
}

// searchParams maps list flags onto store search parameters.
func searchParams(cmd *cobra.Command, reg *registry.Registry) (db.SearchParams, error) {
	f := cmd.Flags()
	var p db.SearchParams

	if name, _ := f.GetString("type"); name != "" {
		if strings.ContainsAny(name, "/.") {
			ot, err := reg.Resolve(name)
			if err != nil {
				return p, err
			}
			p.ModelTypeID, p.ObjectTypeID = ot.ModelTypeID, ot.ID
		} else {
			models := reg.FindModel(name, true)
			if len(models) == 0 {
				return p, fmt.Errorf("unknown model type %q", name)
			}
			p.ModelTypeID = models[0].ID
		}
	}

	var err error
	if s, _ := f.GetString("from"); s != "" {
		if p.StartDate, err = parseDate(s, false); err != nil {
			return p, fmt.Errorf("--from: %w", err)
		}
	}
	if s, _ := f.GetString("to"); s != "" {
		if p.EndDate, err = parseDate(s, true); err != nil {
			return p, fmt.Errorf("--to: %w", err)
		}
	}

	p.DomainName, _ = f.GetString("domain")
	p.SamAccountName, _ = f.GetString("user")
	p.LegacyID, _ = f.GetInt64("legacy-id")

	if s, _ := f.GetString("solution-source"); s != "" {
		if p.SolutionSourceID, err = uuid.Parse(s); err != nil {
			return p, fmt.Errorf("--solution-source: %w", err)
		}
	}

	if f.Changed("inactive") {
		inactive, _ := f.GetBool("inactive")
		p.Inactive = &inactive
	}
	p.AnyState, _ = f.GetBool("all")
	return p, nil
}

// parseDate accepts a date or an RFC 3339 timestamp. A bare date used as an
// upper bound covers the whole day.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func runRulesShow(cmd *cobra.Command, args []string) error {
	legacyID, err := parseLegacyID(args[0])
	if err != nil {
		return err
	}

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
	r, err := store.GetRule(ctx, legacyID, rules.WithTypeResolver(reg))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	state := color.GreenString("active")
	if r.Inactive() {
		state = color.RedString("inactive")
	}
	fmt.Fprintf(out, "Rule %s (%s)\n", color.New(color.Bold).Sprint(r.LegacyID), state)
	fmt.Fprintf(out, "  id:       %s\n", r.ID)
	fmt.Fprintf(out, "  author:   %s\n", r.Author)
	fmt.Fprintf(out, "  created:  %s\n", r.CreatedAt.Local().Format(time.DateTime))
	if r.SolutionSourceID != uuid.Nil {
		fmt.Fprintf(out, "  source:   %s\n", r.SolutionSourceID)
	}
	fmt.Fprintln(out)
	writeTree(out, r.Root())
	fmt.Fprintln(out)
	fmt.Fprintln(out, r.String())

	comments := r.Comments()
	if len(comments) > 0 {
		fmt.Fprintln(out)
		for _, c := range comments {
			fmt.Fprintf(out, "%s %s: %s\n",
				color.New(color.Faint).Sprint(c.CreatedAt.Local().Format(time.DateTime)),
				color.CyanString("%s", c.UserID),
				c.Text)
		}
	}
	return nil
}

func runRulesComment(cmd *cobra.Command, args []string) error {
	legacyID, err := parseLegacyID(args[0])
	if err != nil {
		return err
	}
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		user = currentUser()
	}

	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.DB().Close()

	c, err := store.AddComment(ctx, legacyID, args[1], user)
	if err != nil {
		return err
	}
	logger.Info("comment added", "rule", legacyID, "comment", c.ID, "user", user)
	return nil
}

func setInactive(cmd *cobra.Command, arg string, inactive bool) error {
	legacyID, err := parseLegacyID(arg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.DB().Close()

	if err := store.SetInactive(ctx, legacyID, inactive); err != nil {
		return err
	}
	logger.Info("rule state changed", "rule", legacyID, "inactive", inactive)
	return nil
}

func parseLegacyID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid rule id %q", s)
	}
	return id, nil
}

func rootTypeName(r *rules.Rule) string {
	if r.Root() == nil {
		return ""
	}
	return r.Root().Type().DisplayName()
}

func isBuildError(err error) bool {
	var be *rules.BuildError
	return errors.As(err, &be)
}

// reportBuildError logs rules that failed to build; they are skipped, not
// fatal.
func reportBuildError(err error) {
	var be *rules.BuildError
	if !errors.As(err, &be) {
		return
	}
	for _, e := range be.Errors() {
		logger.Warn("rule skipped", "error", e)
	}
}

// loadEngine builds an engine over the stored rules using the configured
// worker bound and inactive policy.
func loadEngine(ctx context.Context, store *db.Store, reg *registry.Registry) (*rules.Engine, error) {
	params := db.SearchParams{AnyState: cfg.Engine.IncludeInactive}
	built, err := store.LoadRules(ctx, params, rules.WithTypeResolver(reg))
	reportBuildError(err)
	if err != nil && !isBuildError(err) {
		return nil, err
	}
	logger.Info("rules loaded", "count", len(built))

	return rules.NewEngine(built,
		rules.WithMaxWorkers(cfg.Engine.MaxWorkers),
		rules.WithEngineSink(logging.EventHandler(logger)),
		rules.WithIncludeInactive(cfg.Engine.IncludeInactive),
	), nil
}
