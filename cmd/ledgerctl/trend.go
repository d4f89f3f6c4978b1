package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dennisdiepolder/echo/backend/internal/trend"
	"github.com/spf13/cobra"
)

func newTrendCmd(a *app) *cobra.Command {
	var (
		days   int
		width  int
		height int
	)

	cmd := &cobra.Command{
		Use:   "trend <userId>",
		Short: "Chart a user's daily incoming and answered calls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, e *env) error {
				b := trend.NewBuilder(e.store, e.store, e.cfg.Analytics.TrendLocation, e.cfg.Analytics.TrendWindowDays, e.metrics, e.logger)
				buckets, err := b.Trend(ctx, args[0], days, time.Now())
				if err != nil {
					return err
				}
				if a.jsonOut {
					return a.printJSON(cmd, buckets)
				}

				out := cmd.OutOrStdout()
				caption := fmt.Sprintf("%s: incoming and answered per day (%s)", args[0], b.Location())
				fmt.Fprintln(out, renderTrend(buckets, width, height, caption))
				fmt.Fprintln(out)
				return renderTrendTable(out, buckets)
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "window size in days (0 uses TREND_WINDOW_DAYS)")
	cmd.Flags().IntVar(&width, "width", 60, "chart width")
	cmd.Flags().IntVar(&height, "height", 10, "chart height")
	return cmd
}
