package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fittrack/backend/internal/config"
	"github.com/fittrack/backend/internal/db"
	apperrors "github.com/fittrack/backend/internal/errors"
	"github.com/fittrack/backend/internal/logging"
	"github.com/fittrack/backend/internal/models"
	syncpkg "github.com/fittrack/backend/internal/sync"
	"github.com/fittrack/backend/internal/sync/connectivity"
	"github.com/fittrack/backend/internal/sync/identity"
	"github.com/fittrack/backend/internal/sync/queue"
	"github.com/fittrack/backend/internal/sync/remote"
	"github.com/fittrack/backend/internal/sync/scheduler"
	"github.com/fittrack/backend/internal/workout"
)

// app is the wired sync core shared by all commands.
type app struct {
	cfg       *config.Config
	db        *db.DB
	store     *db.WorkoutStore
	queue     *queue.SQLiteStore
	session   *identity.Session
	network   *connectivity.Switch
	prober    *connectivity.Prober // nil without a remote
	engine    *syncpkg.Engine
	workouts  *workout.Repository
	scheduler *scheduler.Scheduler
}

// unconfiguredRemote stands in when no remote URL is set. The engine never
// reaches it because the network switch stays offline.
type unconfiguredRemote struct{}

func (unconfiguredRemote) Insert(context.Context, string, remote.Row) error {
	return apperrors.New(apperrors.ErrConfig, "no remote store configured")
}

func (unconfiguredRemote) Update(context.Context, string, string, remote.Row) error {
	return apperrors.New(apperrors.ErrConfig, "no remote store configured")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openApp loads configuration, sets up logging and wires the sync core.
func openApp(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*app, error) {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logging.SetDefault(logging.New(cmd.ErrOrStderr(), opts.logLevel(cfg.Logging.Level)))

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	a := &app{
		cfg:     cfg,
		db:      database,
		store:   db.NewWorkoutStore(database.DB),
		queue:   queue.NewSQLiteStore(database.DB),
		session: identity.NewSession(),
	}
	if cfg.Auth.UserID != "" {
		a.session.SignIn(cfg.Auth.UserID, cfg.Auth.AccessToken)
	}

	var rs remote.Store = unconfiguredRemote{}
	var signal connectivity.Signal
	if cfg.RemoteEnabled() {
		client, err := remote.NewClient(remote.Config{
			BaseURL:     cfg.Remote.URL,
			APIKey:      cfg.Remote.APIKey,
			Timeout:     cfg.RemoteTimeout(),
			AccessToken: a.session.AccessToken,
		})
		if err != nil {
			a.close()
			return nil, WrapExitError(ExitCommandError, "invalid remote configuration", err)
		}
		rs = client
		a.prober = connectivity.NewProber(cfg.ProbeURL(), cfg.ProbeInterval(), cfg.ProbeTimeout())
		signal = a.prober
	} else {
		a.network = connectivity.NewSwitch(false)
		signal = a.network
		logging.Warn("No remote configured, changes stay queued locally")
	}

	registry := syncpkg.NewRegistry()
	a.engine, err = syncpkg.New(syncpkg.Config{
		MaxRetries:            cfg.Sync.MaxRetries,
		ParkPermanentFailures: cfg.Sync.ParkPermanentFailures,
	}, syncpkg.Deps{
		Queue:        a.queue,
		Remote:       rs,
		Connectivity: signal,
		Identity:     a.session,
		Registry:     registry,
		BaseContext:  ctx,
	})
	if err != nil {
		a.close()
		return nil, WrapExitError(ExitCommandError, "failed to create sync engine", err)
	}

	a.workouts = workout.NewRepository(a.store, a.engine, nil)
	if err := registry.Register(models.EntityTypeWorkout, a.workouts.Handler()); err != nil {
		a.close()
		return nil, WrapExitError(ExitCommandError, "failed to register workout handler", err)
	}

	a.scheduler = scheduler.NewScheduler(a.engine, a.workouts.ClearSyncedDeletes, &scheduler.SchedulerConfig{
		SyncInterval:    cfg.SyncInterval(),
		CleanupInterval: cfg.CleanupInterval(),
		SyncTimeout:     cfg.SyncTimeout(),
		RetryAttempts:   cfg.Sync.RetryAttempts,
		RetryBackoff:    cfg.RetryBackoff(),
	})

	logging.Debug("Sync core ready", map[string]interface{}{
		"data_dir":       cfg.DataDir,
		"remote_enabled": cfg.RemoteEnabled(),
		"signed_in":      cfg.Auth.UserID != "",
		"max_retries":    a.engine.MaxRetries(),
	})
	return a, nil
}

// probeOnce refreshes connectivity for one-shot commands.
func (a *app) probeOnce(ctx context.Context) bool {
	if a.prober == nil {
		return false
	}
	return a.prober.Probe(ctx)
}

func (a *app) close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if err := a.db.Close(); err != nil {
		logging.Error("Failed to close database", err)
	}
}

// ownerID is the user recorded on new workouts.
func (a *app) ownerID(ctx context.Context) string {
	if id, ok := a.session.CurrentUserID(ctx); ok {
		return id
	}
	return ""
}
