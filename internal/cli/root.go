// Package cli implements the fittrack command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/fittrack/backend/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fittrack",
		Short: "FitTrack offline-first workout sync",
		Long: `Record workouts locally and sync them to the remote store.

Changes are written to the local database first and queued. The queue is
drained whenever the device is online and a user is signed in.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "fittrack.yaml", "path to YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewWorkoutCommand(opts))
	cmd.AddCommand(NewCleanupCommand(opts))

	return cmd
}

// output returns the formatter for cmd.
func (o *RootOptions) output(cmd *cobra.Command) *Output {
	return &Output{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// logLevel returns the configured level, forced to debug by --verbose.
func (o *RootOptions) logLevel(configured string) logging.LogLevel {
	if o.Verbose {
		return logging.LevelDebug
	}
	level, err := logging.ParseLevel(configured)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}
