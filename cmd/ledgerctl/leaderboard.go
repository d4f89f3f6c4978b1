package main

import (
	"context"

	"github.com/dennisdiepolder/echo/backend/internal/aggregator"
	"github.com/spf13/cobra"
)

func newLeaderboardCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the service-level leaderboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, e *env) error {
				agg := aggregator.NewAggregator(e.store, e.store, e.cfg.Analytics.LeaderboardLimit, e.metrics, e.logger)
				entries, err := agg.Leaderboard(ctx, limit)
				if err != nil {
					return err
				}
				if a.jsonOut {
					return a.printJSON(cmd, entries)
				}
				return renderLeaderboard(cmd.OutOrStdout(), entries)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "number of entries (0 uses LEADERBOARD_LIMIT)")
	return cmd
}
