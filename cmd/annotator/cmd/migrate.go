package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/solatis/annotator/internal/core/db"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the rule store schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrateUp,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrateStatus,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.DB().Close()

	applied, err := db.MigrateUp(ctx, store.DB())
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(applied) == 0 {
		fmt.Fprintln(out, "Schema is up to date.")
		return nil
	}
	for _, id := range applied {
		fmt.Fprintf(out, "%s %s\n", color.GreenString("applied"), id)
		logger.Info("migration applied", "migration", id)
	}
	return nil
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.DB().Close()

	statuses, err := db.MigrateStatus(ctx, store.DB())
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}

	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		state := color.YellowString("pending")
		appliedAt, took := "", ""
		if s.Applied {
			state = color.GreenString("applied")
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Local().Format(time.DateTime)
			}
			took = strconv.FormatInt(s.ExecutionMs, 10) + "ms"
		}
		rows = append(rows, []string{s.ID, state, appliedAt, took})
	}
	return renderTable(cmd.OutOrStdout(), []string{"Migration", "State", "Applied At", "Took"}, rows)
}
