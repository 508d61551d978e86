package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fittrack/backend/internal/logging"
	"github.com/fittrack/backend/internal/models"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and report the result",
		Long: `Probe the remote store and, if it is reachable and a user is signed in,
transmit every queued change that has retries left.

Exits 1 when the pass did not succeed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			online := a.probeOnce(ctx)
			logging.Debug("Connectivity probed", map[string]interface{}{"online": online})

			result, err := a.scheduler.SyncNow(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "sync failed", err)
			}
			if err := rootOpts.output(cmd).Success(result, func(out io.Writer) {
				fmt.Fprintln(out, result.Message)
			}); err != nil {
				return err
			}
			if !result.Success {
				return NewExitError(ExitFailure, result.Message)
			}
			return nil
		},
	}
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove deleted workouts the remote store has confirmed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.scheduler.RunCleanup(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "cleanup failed", err)
			}
			return rootOpts.output(cmd).Success(map[string]interface{}{"removed": n}, func(out io.Writer) {
				fmt.Fprintf(out, "Removed %d deleted workouts\n", n)
			})
		},
	}
}

// StatusReport is the output of the status command.
type StatusReport struct {
	State         string                   `json:"state"`
	Online        bool                     `json:"online"`
	SignedIn      bool                     `json:"signed_in"`
	RemoteEnabled bool                     `json:"remote_enabled"`
	MaxRetries    int                      `json:"max_retries"`
	Pending       int                      `json:"pending"`
	Parked        []*models.MutationRecord `json:"parked"`
	Unsynced      int                      `json:"unsynced_workouts"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth, parked changes and connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.status(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read status", err)
			}
			return rootOpts.output(cmd).Success(report, func(out io.Writer) {
				fmt.Fprintf(out, "State:     %s\n", report.State)
				fmt.Fprintf(out, "Remote:    %s\n", onOff(report.RemoteEnabled, "configured", "not configured"))
				fmt.Fprintf(out, "Network:   %s\n", onOff(report.Online, "online", "offline"))
				fmt.Fprintf(out, "Signed in: %s\n", onOff(report.SignedIn, "yes", "no"))
				fmt.Fprintf(out, "Pending:   %d\n", report.Pending)
				fmt.Fprintf(out, "Parked:    %d (after %d failed attempts)\n", len(report.Parked), report.MaxRetries)
				fmt.Fprintf(out, "Unsynced workouts: %d\n", report.Unsynced)
			})
		},
	}
}

func (a *app) status(ctx context.Context) (*StatusReport, error) {
	parked, err := a.engine.Parked(ctx)
	if err != nil {
		return nil, err
	}
	if parked == nil {
		parked = []*models.MutationRecord{}
	}
	unsynced, err := a.workouts.PendingSync(ctx)
	if err != nil {
		return nil, err
	}
	_, signedIn := a.session.CurrentUserID(ctx)

	return &StatusReport{
		State:         a.engine.State().String(),
		Online:        a.probeOnce(ctx),
		SignedIn:      signedIn,
		RemoteEnabled: a.cfg.RemoteEnabled(),
		MaxRetries:    a.engine.MaxRetries(),
		Pending:       a.engine.PendingCount(),
		Parked:        parked,
		Unsynced:      len(unsynced),
	}, nil
}

func onOff(v bool, on, off string) string {
	if v {
		return on
	}
	return off
}
