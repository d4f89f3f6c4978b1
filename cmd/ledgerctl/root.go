package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dennisdiepolder/echo/backend/internal/config"
	"github.com/dennisdiepolder/echo/backend/internal/logging"
	"github.com/dennisdiepolder/echo/backend/internal/metrics"
	"github.com/dennisdiepolder/echo/backend/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app carries the persistent flags shared by every subcommand
type app struct {
	driver     string
	sqlitePath string
	logLevel   string
	jsonOut    bool
}

// env is what a subcommand gets once config and store are open
type env struct {
	cfg     *config.Config
	store   storage.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the call outcome ledger",
		Long:          "ledgerctl reconciles legacy abandoned-call counters, prints the leaderboard and trends, and seeds demo data.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.driver, "store", "", "store driver override (memory|sqlite|dynamodb|mongo)")
	flags.StringVar(&a.sqlitePath, "sqlite-path", "", "SQLite database path override")
	flags.StringVar(&a.logLevel, "log-level", "warn", "log level for stderr output")
	flags.BoolVar(&a.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newReconcileCmd(a),
		newLeaderboardCmd(a),
		newTrendCmd(a),
		newSeedCmd(a),
		newTruncateCmd(a),
	)
	return root
}

// withStore loads config, applies flag overrides, opens the store and runs fn
func (a *app) withStore(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if a.driver != "" {
		cfg.Store.Driver = storage.Driver(a.driver)
	}
	if a.sqlitePath != "" {
		cfg.Store.SQLitePath = a.sqlitePath
	}

	logger := logging.InitTo(logging.Config{Level: a.logLevel, Format: "console"}, cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := storage.NewStore(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	defer store.Close()

	return fn(ctx, &env{
		cfg:     cfg,
		store:   store,
		metrics: metrics.NewWithRegistry(),
		logger:  logger,
	})
}

func (a *app) printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
