package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fittrack/backend/internal/logging"
	"github.com/fittrack/backend/internal/status"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	NoStatus bool
	Listen   string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine in the foreground",
		Long: `Run the sync engine until interrupted.

The engine syncs whenever connectivity is regained and on the configured
interval, purges confirmed deletions, and streams its state and pending
count to WebSocket clients on the status address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoStatus, "no-status", false, "do not serve the status API")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "status API address (overrides status.listen_address)")
	return cmd
}

func runDaemon(cmd *cobra.Command, opts *RunOptions) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)

	if a.prober != nil {
		g.Go(func() error { return a.prober.Run(gctx) })
	}
	g.Go(func() error { return a.engine.Run(gctx) })
	g.Go(func() error {
		a.scheduler.Start(gctx)
		<-gctx.Done()
		a.scheduler.Stop()
		return nil
	})

	if a.cfg.Status.Enabled && !opts.NoStatus {
		addr := a.cfg.Status.ListenAddress
		if opts.Listen != "" {
			addr = opts.Listen
		}
		hub := status.NewHub()
		srv := status.NewServer(addr, hub, a.scheduler, a.engine)
		g.Go(func() error { return hub.Run(gctx) })
		g.Go(func() error { return hub.Follow(gctx, a.engine) })
		g.Go(func() error { return srv.ListenAndServe(gctx) })
	}

	logging.Info("FitTrack sync running", map[string]interface{}{
		"data_dir": a.cfg.DataDir,
		"remote":   a.cfg.RemoteEnabled(),
		"interval": a.cfg.SyncInterval().String(),
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return WrapExitError(ExitFailure, "sync service stopped", err)
	}
	logging.Info("FitTrack sync stopped")
	return nil
}
