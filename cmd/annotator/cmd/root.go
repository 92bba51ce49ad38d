package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/solatis/annotator/internal/core/config"
	"github.com/solatis/annotator/internal/core/db"
	"github.com/solatis/annotator/internal/core/logging"
	"github.com/spf13/cobra"
)

const Version = "0.1.0"

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string
)

// Set by setup before any subcommand runs.
var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:               "annotator",
	Short:             "Annotator rule engine",
	Long:              `Annotator evaluates stored rules against crash dumps and JSON documents and reports which rules matched, with the evidence for each match.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text, dev)")
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// setup loads configuration, applies explicitly set flags on top and builds
// the logger.
func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db-url") {
		loaded.Database.URL = dbURL
	}
	if flags.Changed("log-level") {
		loaded.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		loaded.Log.Format = logFormat
	}
	if err := config.Validate(loaded); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := logging.ParseLevel(loaded.Log.Level)
	format, _ := logging.ParseFormat(loaded.Log.Format)
	logger = logging.New(
		logging.WithWriter(cmd.ErrOrStderr()),
		logging.WithLevel(level),
		logging.WithFormat(format),
	)
	cfg = loaded
	return nil
}

// openStore connects to the configured database. The caller closes the
// returned store's DB.
func openStore(ctx context.Context) (*db.Store, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database URL required (--db-url or ANNOTATOR_DATABASE_URL)")
	}
	database, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	queries, err := db.LoadQueries()
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return db.NewStore(database, queries), nil
}
