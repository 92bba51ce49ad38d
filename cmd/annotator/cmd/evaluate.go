package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/solatis/annotator/internal/facts/document"
	"github.com/solatis/annotator/internal/facts/dump"
	"github.com/solatis/annotator/internal/registry"
	"github.com/solatis/annotator/internal/rules"
	"github.com/solatis/annotator/internal/types"
	"github.com/spf13/cobra"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <file>...",
	Short: "Evaluate stored rules against dump files",
	Long: `Evaluate loads every stored rule once, then evaluates each file
against all of them and prints the rules that matched with their evidence.

Files are crash dumps in JSON form unless --document is given, in which
case each file is a plain JSON document.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	f := evaluateCmd.Flags()
	f.Bool("document", false, "treat files as plain JSON documents")
	f.String("type", "", "document object type (Model/Object)")
	f.String("identity-field", "", "document field holding the fact identity")
	f.Bool("evidence", false, "print the evidence tree of each match")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
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

	start := time.Now()
	engine, err := loadEngine(ctx, store, reg)
	if err != nil {
		return err
	}
	logger.Info("rules retrieved and instantiated", "elapsed", time.Since(start))

	load, err := factLoader(cmd, reg)
	if err != nil {
		return err
	}
	evidence, _ := cmd.Flags().GetBool("evidence")

	out := cmd.OutOrStdout()
	for _, path := range args {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		fact, err := load(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		logger.Info("fact loaded", "file", path, "elapsed", time.Since(start))

		start = time.Now()
		outcomes := evaluateFact(ctx, engine, fact)
		logger.Info("rule analysis completed", "file", path, "rules", len(outcomes), "elapsed", time.Since(start))

		if err := printOutcomes(out, path, outcomes, evidence); err != nil {
			return err
		}
	}
	return nil
}

// factLoader returns the decoder selected by the evaluate flags.
func factLoader(cmd *cobra.Command, reg *registry.Registry) (func(path string) (types.Fact, error), error) {
	f := cmd.Flags()
	asDocument, _ := f.GetBool("document")
	if !asDocument {
		return func(path string) (types.Fact, error) {
			return dump.LoadFile(path)
		}, nil
	}

	var opts []document.Option
	if name, _ := f.GetString("type"); name != "" {
		ot, err := reg.Resolve(name)
		if err != nil {
			return nil, err
		}
		opts = append(opts, document.WithType(ot))
	}
	if field, _ := f.GetString("identity-field"); field != "" {
		opts = append(opts, document.WithIdentityField(field))
	}

	return func(path string) (types.Fact, error) {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return document.Decode(file, opts...)
	}, nil
}

// evaluateFact runs the engine under the configured evaluation timeout.
func evaluateFact(ctx context.Context, engine *rules.Engine, fact types.Fact) []rules.Outcome {
	if cfg.Engine.EvalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Engine.EvalTimeout)
		defer cancel()
	}
	return engine.Evaluate(ctx, fact)
}

func printOutcomes(w io.Writer, path string, outcomes []rules.Outcome, evidence bool) error {
	matched := rules.Matches(outcomes)
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			logger.Warn("rule evaluation failed", "file", path, "rule", o.Rule.LegacyID, "error", o.Err)
		}
	}

	fmt.Fprintf(w, "%s: %s of %d rules matched", path, color.GreenString("%d", len(matched)), len(outcomes))
	if failed > 0 {
		fmt.Fprintf(w, ", %s failed", color.RedString("%d", failed))
	}
	fmt.Fprintln(w)

	if len(matched) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(matched))
	for _, o := range matched {
		rows = append(rows, []string{
			strconv.FormatInt(o.Rule.LegacyID, 10),
			o.Elapsed.Round(time.Microsecond).String(),
			rules.ResultName(o.Result),
		})
	}
	if err := renderTable(w, []string{"Rule", "Elapsed", "Matched"}, rows); err != nil {
		return err
	}

	if evidence {
		for _, o := range matched {
			fmt.Fprintf(w, "\nrule %s: %s\n",
				color.New(color.Bold).Sprint(o.Rule.LegacyID),
				color.CyanString("%s", rules.ResultName(o.Result)))
			writeResult(w, o.Result, "")
		}
	}
	return nil
}
