// Package scheduler runs the sync engine and local cleanup on a timer.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/fittrack/backend/internal/errors"
	"github.com/fittrack/backend/internal/logging"
	syncpkg "github.com/fittrack/backend/internal/sync"
)

// CleanupFunc removes local rows whose deletion has been confirmed remotely
// and returns how many were removed.
type CleanupFunc func(ctx context.Context) (int64, error)

// Scheduler manages background sync operations.
type Scheduler struct {
	engine          syncpkg.Syncer
	cleanup         CleanupFunc
	syncInterval    time.Duration
	cleanupInterval time.Duration
	syncTimeout     time.Duration
	retryAttempts   int
	retryBackoff    time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.RWMutex
	isRunning       bool
	lastSyncTime    time.Time
	lastResult      *syncpkg.SyncResult
	syncInProgress  bool
	cleanupRunning  bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval    time.Duration // How often to sync (default: 15 minutes)
	CleanupInterval time.Duration // How often to purge synced deletes (default: 1 hour)
	SyncTimeout     time.Duration // Upper bound for one pass (default: 5 minutes)
	RetryAttempts   int           // Re-runs of an unsuccessful periodic pass (default: 3, 0 disables)
	RetryBackoff    time.Duration // Delay before the first re-run, doubled each time (default: 30 seconds)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval:    15 * time.Minute,
		CleanupInterval: time.Hour,
		SyncTimeout:     5 * time.Minute,
		RetryAttempts:   3,
		RetryBackoff:    30 * time.Second,
	}
}

// NewScheduler creates a new Scheduler. cleanup may be nil.
func NewScheduler(engine syncpkg.Syncer, cleanup CleanupFunc, config *SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if config == nil {
		config = def
	}
	s := &Scheduler{
		engine:          engine,
		cleanup:         cleanup,
		syncInterval:    config.SyncInterval,
		cleanupInterval: config.CleanupInterval,
		syncTimeout:     config.SyncTimeout,
		retryAttempts:   config.RetryAttempts,
		retryBackoff:    config.RetryBackoff,
		stopCh:          make(chan struct{}),
	}
	if s.syncInterval <= 0 {
		s.syncInterval = def.SyncInterval
	}
	if s.cleanupInterval <= 0 {
		s.cleanupInterval = def.CleanupInterval
	}
	if s.syncTimeout <= 0 {
		s.syncTimeout = def.SyncTimeout
	}
	if s.retryAttempts < 0 {
		s.retryAttempts = 0
	}
	if s.retryBackoff <= 0 {
		s.retryBackoff = def.RetryBackoff
	}
	return s
}

// Start starts the background loops. It is a no-op if already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.periodicSyncLoop(ctx)

	if s.cleanup != nil {
		s.wg.Add(1)
		go s.cleanupLoop(ctx)
	}

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"sync_interval":    s.syncInterval.String(),
		"cleanup_interval": s.cleanupInterval.String(),
	})
}

// Stop stops the scheduler and waits for running work. It cannot be restarted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped")
}

func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runPeriodic(ctx)
		}
	}
}

// runPeriodic runs a scheduled pass and re-runs it while it is unsuccessful,
// up to retryAttempts times. The delay doubles after each attempt and never
// exceeds the sync interval.
func (s *Scheduler) runPeriodic(ctx context.Context) {
	backoff := s.retryBackoff
	for attempt := 0; ; attempt++ {
		result, ran := s.runSync(ctx, "periodic")
		if !ran || result.Success || attempt >= s.retryAttempts {
			return
		}

		logging.Debug("Scheduling sync retry", map[string]interface{}{
			"attempt": attempt + 1,
			"backoff": backoff.String(),
			"message": result.Message,
		})
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		backoff *= 2
		if backoff > s.syncInterval {
			backoff = s.syncInterval
		}
	}
}

func (s *Scheduler) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunCleanup(ctx)
		}
	}
}

// runSync executes one pass unless one started by this scheduler is running.
// It reports false when skipped.
func (s *Scheduler) runSync(ctx context.Context, trigger string) (syncpkg.SyncResult, bool) {
	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		logging.Debug("Sync already in progress, skipping", map[string]interface{}{"trigger": trigger})
		return syncpkg.SyncResult{Message: syncpkg.MsgInProgress}, false
	}
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	result := s.engine.SyncAll(syncCtx)

	s.mu.Lock()
	s.lastResult = &result
	if result.Success {
		s.lastSyncTime = time.Now()
	}
	s.mu.Unlock()

	fields := map[string]interface{}{
		"trigger": trigger,
		"synced":  result.SyncedCount,
		"errors":  result.ErrorCount,
		"message": result.Message,
	}
	if result.ErrorCount > 0 {
		logging.Warn("Sync completed with errors", fields)
	} else if !result.Success {
		logging.Debug("Sync skipped", fields)
	} else {
		logging.Info("Sync completed", fields)
	}
	return result, true
}

// TriggerSync starts a pass in the background.
// Returns true if sync was started, false if sync is already in progress.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	s.mu.RLock()
	busy := s.syncInProgress
	s.mu.RUnlock()

	if busy {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSync(ctx, "manual")
	}()
	return true
}

// SyncNow runs a pass and waits for it.
func (s *Scheduler) SyncNow(ctx context.Context) (syncpkg.SyncResult, error) {
	result, ran := s.runSync(ctx, "manual")
	if !ran {
		return result, errors.New(errors.ErrSyncInProgress, result.Message)
	}
	return result, nil
}

// RunCleanup purges confirmed soft-deletes once.
func (s *Scheduler) RunCleanup(ctx context.Context) (int64, error) {
	if s.cleanup == nil {
		return 0, nil
	}

	s.mu.Lock()
	if s.cleanupRunning {
		s.mu.Unlock()
		return 0, nil
	}
	s.cleanupRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cleanupRunning = false
		s.mu.Unlock()
	}()

	n, err := s.cleanup(ctx)
	if err != nil {
		logging.Error("Local cleanup failed", err)
		return 0, err
	}
	if n > 0 {
		logging.Info("Removed synced deletions", map[string]interface{}{"count": n})
	}
	return n, nil
}

// SchedulerStatus is a snapshot of scheduler and engine state.
type SchedulerStatus struct {
	IsRunning      bool                `json:"is_running"`
	LastSyncTime   *time.Time          `json:"last_sync_time,omitempty"`
	LastResult     *syncpkg.SyncResult `json:"last_result,omitempty"`
	SyncInProgress bool                `json:"sync_in_progress"`
	State          syncpkg.State       `json:"state"`
	PendingItems   int                 `json:"pending_items"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		SyncInProgress: s.syncInProgress,
		State:          s.engine.State(),
		PendingItems:   s.engine.PendingCount(),
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if s.lastResult != nil {
		r := *s.lastResult
		status.LastResult = &r
	}
	// Passes the engine starts on its own are not seen by runSync.
	if lr, ok := s.engine.(interface {
		LastResult() (syncpkg.SyncResult, bool)
	}); ok {
		if r, ok := lr.LastResult(); ok {
			status.LastResult = &r
		}
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
