package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"msphub/api/internal/app"
	"msphub/api/internal/config"
	"msphub/api/internal/search"
	"msphub/api/internal/store"
)

var (
	skipMigrations bool
	migrateDown    bool
	repairOrg      string
	repairAll      bool

	rootCmd = &cobra.Command{
		Use:           "msphub",
		Short:         "IT documentation portal API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context())
		},
	}

	sidebarCmd = &cobra.Command{
		Use:   "sidebar",
		Short: "Sidebar maintenance",
	}

	sidebarRepairCmd = &cobra.Command{
		Use:   "repair",
		Short: "Reconcile the default sidebar for one or every organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (repairOrg == "") == !repairAll {
				return errors.New("pass exactly one of --org or --all")
			}
			return repairSidebars(cmd.Context())
		},
	}

	searchCmd = &cobra.Command{
		Use:   "search",
		Short: "Search index maintenance",
	}

	searchReindexCmd = &cobra.Command{
		Use:   "reindex",
		Short: "Push every document row into Meilisearch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return reindex(cmd.Context())
		},
	}
)

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply migrations on start")
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back the latest migration")
	sidebarRepairCmd.Flags().StringVar(&repairOrg, "org", "", "organization id to repair")
	sidebarRepairCmd.Flags().BoolVar(&repairAll, "all", false, "repair every organization")

	sidebarCmd.AddCommand(sidebarRepairCmd)
	searchCmd.AddCommand(searchReindexCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, sidebarCmd, searchCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	cfg := config.Load()
	env, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()
	logger := env.logger

	if !skipMigrations {
		if _, err := store.ApplyMigrations(ctx, env.db, cfg.MigrationsDir, logger); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}

	deps, err := env.services(ctx)
	if err != nil {
		return err
	}
	if env.meili != nil && env.meili.Healthy() {
		index := env.search()
		go func() {
			if err := deps.Documents.ReindexAll(ctx, index.ReindexAll); err != nil {
				logger.Warn("startup reindex failed", zap.Error(err))
			}
		}()
	}

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("msphub API listening",
			zap.String("addr", cfg.Addr),
			zap.String("storage", deps.Documents.StorageName()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}

func migrate(ctx context.Context) error {
	cfg := config.Load()
	env, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	if migrateDown {
		return store.RollbackMigrations(ctx, env.db, cfg.MigrationsDir, env.logger)
	}
	applied, err := store.ApplyMigrations(ctx, env.db, cfg.MigrationsDir, env.logger)
	if err != nil {
		return err
	}
	env.logger.Info("migrations complete", zap.Int("applied", len(applied)))
	return nil
}

func repairSidebars(ctx context.Context) error {
	cfg := config.Load()
	env, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	sb := env.sidebar()
	if repairOrg != "" {
		if err := sb.InitializeDefaultSidebar(ctx, repairOrg); err != nil {
			return fmt.Errorf("repair %s: %w", repairOrg, err)
		}
		env.logger.Info("sidebar repaired", zap.String("organization_id", repairOrg))
		return nil
	}
	n, err := sb.RepairAll(ctx)
	env.logger.Info("sidebar repair finished", zap.Int("repaired", n))
	return err
}

func reindex(ctx context.Context) error {
	cfg := config.Load()
	if cfg.MeiliURL == "" {
		return errors.New("MEILI_URL is not set")
	}
	env, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	index := env.search()
	if !env.meili.Healthy() {
		return errors.New("meilisearch is not healthy")
	}
	docs := env.documents(nil, index)
	var total int
	err = docs.ReindexAll(ctx, func(records []search.DocumentRecord) {
		index.ReindexAll(records)
		total += len(records)
	})
	if err != nil {
		return err
	}
	env.logger.Info("search reindex finished", zap.Int("documents", total))
	return nil
}
