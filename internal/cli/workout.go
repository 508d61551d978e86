package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/fittrack/backend/internal/errors"
	"github.com/fittrack/backend/internal/models"
	"github.com/fittrack/backend/internal/workout"
)

// NewWorkoutCommand creates the workout command group.
func NewWorkoutCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workout",
		Short: "Record, delete and list workouts",
	}
	cmd.AddCommand(newWorkoutRecordCommand(rootOpts))
	cmd.AddCommand(newWorkoutDeleteCommand(rootOpts))
	cmd.AddCommand(newWorkoutHistoryCommand(rootOpts))
	return cmd
}

// WorkoutRecordOptions holds flags for workout record.
type WorkoutRecordOptions struct {
	*RootOptions
	ExerciseID int
	MuscleID   int
	RegionID   int
	Reps       int
	WeightKg   float64
	At         string
}

func newWorkoutRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkoutRecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a workout and queue it for sync",
		Example: `  fittrack workout record --exercise 12 --muscle 3 --reps 10 --weight 62.5
  fittrack workout record --exercise 12 --muscle 3 --at 2024-03-01T08:30:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := workout.NewWorkout{
				ExerciseID: opts.ExerciseID,
				MuscleID:   opts.MuscleID,
			}
			flags := cmd.Flags()
			if flags.Changed("region") {
				in.RegionID = &opts.RegionID
			}
			if flags.Changed("reps") {
				in.Reps = &opts.Reps
			}
			if flags.Changed("weight") {
				in.WeightKg = &opts.WeightKg
			}
			if opts.At != "" {
				at, err := time.Parse(time.RFC3339, opts.At)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --at", err)
				}
				in.Timestamp = at
			}

			ctx := commandContext(cmd)
			a, err := openApp(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			in.UserID = a.ownerID(ctx)
			w, err := a.workouts.Record(ctx, in)
			if err != nil {
				return commandError(err, "failed to record workout")
			}
			return rootOpts.output(cmd).Success(w, func(out io.Writer) {
				fmt.Fprintf(out, "Recorded workout %d (%s), %d pending\n", w.ID, w.SyncID, a.engine.PendingCount())
			})
		},
	}

	cmd.Flags().IntVar(&opts.ExerciseID, "exercise", 0, "exercise id (required)")
	cmd.Flags().IntVar(&opts.MuscleID, "muscle", 0, "muscle id (required)")
	cmd.Flags().IntVar(&opts.RegionID, "region", 0, "body region id")
	cmd.Flags().IntVar(&opts.Reps, "reps", 0, "repetitions")
	cmd.Flags().Float64Var(&opts.WeightKg, "weight", 0, "weight in kg")
	cmd.Flags().StringVar(&opts.At, "at", "", "workout time (RFC 3339), defaults to now")
	_ = cmd.MarkFlagRequired("exercise")
	_ = cmd.MarkFlagRequired("muscle")

	return cmd
}

func newWorkoutDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a workout and queue the deletion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid workout id %q", args[0]))
			}

			ctx := commandContext(cmd)
			a, err := openApp(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.workouts.Delete(ctx, id); err != nil {
				return commandError(err, "failed to delete workout")
			}
			return rootOpts.output(cmd).Success(map[string]interface{}{"id": id, "deleted": true}, func(out io.Writer) {
				fmt.Fprintf(out, "Deleted workout %d\n", id)
			})
		},
	}
}

// WorkoutHistoryOptions holds flags for workout history.
type WorkoutHistoryOptions struct {
	*RootOptions
	Limit    int
	MuscleID int
	From     string
	To       string
}

func newWorkoutHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkoutHistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded workouts, newest first",
		Example: `  fittrack workout history --muscle 3
  fittrack workout history --from 2024-03-01 --to 2024-03-07`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.filter()
			if err != nil {
				return err
			}

			ctx := commandContext(cmd)
			a, err := openApp(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			list, err := a.workouts.Query(ctx, filter)
			if err != nil {
				return commandError(err, "failed to list workouts")
			}
			if list == nil {
				list = []*models.Workout{}
			}
			return rootOpts.output(cmd).Success(list, func(out io.Writer) {
				if len(list) == 0 {
					fmt.Fprintln(out, "No workouts recorded")
					return
				}
				for _, w := range list {
					fmt.Fprintf(out, "%d\t%s\texercise=%d muscle=%d%s\t%s\n",
						w.ID, workout.FormatTime(w.Timestamp), w.ExerciseID, w.MuscleID, describeSet(w), w.SyncStatus)
				}
			})
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum workouts to list (0 for all)")
	cmd.Flags().IntVar(&opts.MuscleID, "muscle", 0, "only workouts for this muscle id")
	cmd.Flags().StringVar(&opts.From, "from", "", "earliest workout time (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.To, "to", "", "latest workout time (RFC 3339 or YYYY-MM-DD, whole day included)")
	return cmd
}

func (o *WorkoutHistoryOptions) filter() (models.HistoryFilter, error) {
	f := models.HistoryFilter{MuscleID: o.MuscleID, Limit: o.Limit}
	if o.From != "" {
		from, err := parseHistoryTime(o.From, false)
		if err != nil {
			return f, WrapExitError(ExitCommandError, "invalid --from", err)
		}
		f.From = from.UnixMilli()
	}
	if o.To != "" {
		to, err := parseHistoryTime(o.To, true)
		if err != nil {
			return f, WrapExitError(ExitCommandError, "invalid --to", err)
		}
		f.To = to.UnixMilli()
	}
	return f, nil
}

// parseHistoryTime accepts RFC 3339 or a UTC calendar date. A date used as
// an upper bound covers the whole day.
func parseHistoryTime(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	day, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Millisecond), nil
	}
	return day, nil
}

func describeSet(w *models.Workout) string {
	s := ""
	if w.Reps != nil {
		s += fmt.Sprintf(" reps=%d", *w.Reps)
	}
	if w.WeightKg != nil {
		s += fmt.Sprintf(" weight=%gkg", *w.WeightKg)
	}
	return s
}

// commandError maps validation and lookup failures to command errors.
func commandError(err error, message string) error {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrValidation, apperrors.ErrInvalid, apperrors.ErrNotFound:
		return WrapExitError(ExitCommandError, message, err)
	}
	return WrapExitError(ExitFailure, message, err)
}
