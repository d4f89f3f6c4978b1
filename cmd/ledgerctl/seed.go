package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dennisdiepolder/echo/backend/internal/seed"
	"github.com/spf13/cobra"
)

func newSeedCmd(a *app) *cobra.Command {
	cfg := seed.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate synthetic users and call history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, e *env) error {
				summary, err := seed.NewGenerator(e.store, cfg, e.metrics, e.logger).Run(ctx, time.Now())
				if err != nil {
					return err
				}
				if a.jsonOut {
					return a.printJSON(cmd, summary)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users: %d answered, %d abandoned, %d legacy-only\n",
					summary.Users, summary.Answered, summary.Abandoned, summary.LegacyOnly)
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.Users, "users", cfg.Users, "number of users")
	flags.IntVar(&cfg.Days, "days", cfg.Days, "days of history ending today")
	flags.IntVar(&cfg.CallsPerDay, "calls-per-day", cfg.CallsPerDay, "calls generated per day")
	flags.Float64Var(&cfg.AbandonRate, "abandon-rate", cfg.AbandonRate, "share of calls abandoned (0..1)")
	flags.IntVar(&cfg.LegacyDrift, "legacy-drift", cfg.LegacyDrift, "users whose legacy counter is bumped without a log row")
	flags.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	return cmd
}
