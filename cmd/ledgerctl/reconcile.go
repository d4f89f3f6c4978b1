package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dennisdiepolder/echo/backend/internal/events"
	"github.com/dennisdiepolder/echo/backend/internal/ledger"
	"github.com/dennisdiepolder/echo/backend/internal/types"
	"github.com/spf13/cobra"
)

func newReconcileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Backfill abandoned-call rows where the legacy counter is ahead of the log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, e *env) error {
				publisher := events.New(&e.cfg.Kafka, e.metrics, e.logger)
				defer publisher.Close()

				l := ledger.New(e.store, e.logger, ledger.WithPublisher(publisher), ledger.WithMetrics(e.metrics))
				result, err := l.Reconcile(ctx)
				return a.reportReconcile(cmd, result, err)
			})
		},
	}
}

// reportReconcile prints the result and turns failures into a non-zero exit.
// An interrupted run still reports what it committed.
func (a *app) reportReconcile(cmd *cobra.Command, result types.ReconcileResult, err error) error {
	var serr *ledger.StorageError
	if errors.As(err, &serr) {
		return err
	}

	if a.jsonOut {
		if perr := a.printJSON(cmd, result); perr != nil {
			return perr
		}
	} else {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "users scanned:    %d\n", result.UsersScanned)
		fmt.Fprintf(out, "users backfilled: %d\n", result.UsersBackfilled)
		fmt.Fprintf(out, "records created:  %d\n", result.RecordsCreated)
		for _, f := range result.Failures {
			fmt.Fprintf(out, "failed %s: %s\n", f.UserID, f.Error)
		}
	}

	if err != nil {
		return fmt.Errorf("reconciliation interrupted after %d users: %w", result.UsersScanned, err)
	}
	if len(result.Failures) > 0 {
		return fmt.Errorf("reconciliation failed for %d users", len(result.Failures))
	}
	return nil
}
