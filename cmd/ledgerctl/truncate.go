package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newTruncateCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "truncate",
		Short: "Delete every user and call from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to truncate without --yes")
			}
			return a.withStore(cmd, func(ctx context.Context, e *env) error {
				if err := e.store.TruncateAll(ctx); err != nil {
					return fmt.Errorf("failed to truncate: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "truncated %s store\n", e.cfg.Store.Driver)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
