package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fittrack/backend/internal/models"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or clear queued changes",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueClearCommand(rootOpts))
	return cmd
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	var parkedOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued changes in transmission order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			var recs []*models.MutationRecord
			if parkedOnly {
				recs, err = a.engine.Parked(ctx)
			} else {
				recs, err = a.engine.Pending(ctx)
			}
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list queue", err)
			}
			if recs == nil {
				recs = []*models.MutationRecord{}
			}

			maxRetries := a.engine.MaxRetries()
			return rootOpts.output(cmd).Success(recs, func(out io.Writer) {
				if len(recs) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return
				}
				for _, r := range recs {
					line := fmt.Sprintf("%d\t%s\t%s\tretries=%d", r.ID, r.Key(), r.Operation, r.RetryCount)
					if r.Parked(maxRetries) {
						line += "\tparked"
					}
					if r.LastError != "" {
						line += "\t" + r.LastError
					}
					fmt.Fprintln(out, line)
				}
			})
		},
	}

	cmd.Flags().BoolVar(&parkedOnly, "parked", false, "only list changes that exhausted their retries")
	return cmd
}

func newQueueClearCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued change",
		Long: `Drop every queued change, e.g. after signing out. Local workouts are kept
but their changes will not reach the remote store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, "refusing to clear the queue without --yes")
			}

			ctx := commandContext(cmd)
			a, err := openApp(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			dropped := a.engine.PendingCount()
			if err := a.engine.Reset(ctx); err != nil {
				return WrapExitError(ExitFailure, "failed to clear queue", err)
			}
			return rootOpts.output(cmd).Success(map[string]interface{}{"dropped": dropped}, func(out io.Writer) {
				fmt.Fprintf(out, "Dropped %d queued changes\n", dropped)
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm clearing the queue")
	return cmd
}
