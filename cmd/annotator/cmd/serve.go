package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/solatis/annotator/internal/core/api"
	"github.com/solatis/annotator/internal/core/db"
	"github.com/solatis/annotator/internal/core/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC annotator service",
	Long: `Serve loads the stored rules and answers Annotate and ListRules calls
over gRPC, with the standard health service alongside.

SIGHUP reloads the rules; SIGINT and SIGTERM shut down gracefully.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	serveCmd.Flags().Int("port", 50051, "gRPC server port")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.DB().Close()

	pending, err := pendingMigrations(ctx, store)
	if err != nil {
		return err
	}
	if pending > 0 {
		return fmt.Errorf("%d migration(s) not applied - run 'annotator migrate up' first", pending)
	}

	reg, err := store.LoadRegistry(ctx)
	if err != nil {
		return err
	}
	engine, err := loadEngine(ctx, store, reg)
	if err != nil {
		return err
	}

	service, err := api.NewService(engine, reg, cfg.Engine.EvalTimeout, logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	grpcServer, err := server.NewGRPCServer(cfg, service, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("starting annotator", "version", Version, "addr", cfg.Server.Addr())
	errChan := make(chan error, 1)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)

	for {
		select {
		case err := <-errChan:
			return err
		case <-reload:
			engine, err := loadEngine(ctx, store, reg)
			if err != nil {
				logger.Error("rule reload failed, keeping current rules", "error", err)
				continue
			}
			service.SetEngine(engine)
			logger.Info("rules reloaded")
		case <-ctx.Done():
			logger.Info("shutting down gracefully")
			return grpcServer.Shutdown(context.Background())
		}
	}
}

func pendingMigrations(ctx context.Context, store *db.Store) (int, error) {
	statuses, err := db.MigrateStatus(ctx, store.DB())
	if err != nil {
		return 0, fmt.Errorf("failed to check migrations: %w", err)
	}
	pending := 0
	for _, s := range statuses {
		if !s.Applied {
			pending++
		}
	}
	return pending, nil
}
