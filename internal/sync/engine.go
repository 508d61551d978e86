// Package sync drains the local mutation queue to the remote store.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/fittrack/backend/internal/errors"
	"github.com/fittrack/backend/internal/logging"
	"github.com/fittrack/backend/internal/models"
	"github.com/fittrack/backend/internal/sync/conflict"
	"github.com/fittrack/backend/internal/sync/connectivity"
	"github.com/fittrack/backend/internal/sync/identity"
	"github.com/fittrack/backend/internal/sync/queue"
	"github.com/fittrack/backend/internal/sync/remote"
)

// DefaultMaxRetries is the number of failed transmissions after which a
// record is parked.
const DefaultMaxRetries = 3

// Config tunes the engine.
type Config struct {
	MaxRetries int
	// ParkPermanentFailures parks a record on its first failure when the
	// failure cannot succeed on retry (4xx rejection, unknown entity type,
	// undecodable payload).
	ParkPermanentFailures bool
}

// Deps are the collaborators of the engine.
type Deps struct {
	Queue        queue.Store
	Remote       remote.Store
	Connectivity connectivity.Signal
	Identity     identity.Provider
	Registry     *Registry
	// Clock defaults to time.Now.
	Clock func() time.Time
	// BaseContext bounds passes started by Enqueue. Defaults to Background.
	BaseContext context.Context
}

// Engine queues local mutations and transmits them when online.
type Engine struct {
	cfg      Config
	queue    queue.Store
	remote   remote.Store
	conn     connectivity.Signal
	identity identity.Provider
	registry *Registry
	policy   *conflict.Policy

	// mu makes read-merge-write and post-transmit bookkeeping atomic.
	mu sync.Mutex
	// running is the single-pass guard.
	running atomic.Bool

	state     *Value[State]
	pending   *Value[int]
	pendingMu sync.Mutex
	last      atomic.Pointer[SyncResult]

	ctx    context.Context
	cancel context.CancelFunc
	lifeMu sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New creates an Engine and loads the current pending count.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Queue == nil || deps.Remote == nil || deps.Connectivity == nil ||
		deps.Identity == nil || deps.Registry == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "sync engine requires queue, remote, connectivity, identity and registry")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	base := deps.BaseContext
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)

	e := &Engine{
		cfg:      cfg,
		queue:    deps.Queue,
		remote:   deps.Remote,
		conn:     deps.Connectivity,
		identity: deps.Identity,
		registry: deps.Registry,
		policy:   conflict.NewPolicy(deps.Clock),
		state:    NewValue(Idle),
		pending:  NewValue(0),
		ctx:      ctx,
		cancel:   cancel,
	}
	e.refreshPending(ctx)
	return e, nil
}

// MaxRetries returns the configured retry budget.
func (e *Engine) MaxRetries() int {
	return e.cfg.MaxRetries
}

// State returns the current engine state.
func (e *Engine) State() State {
	return e.state.Get()
}

// SubscribeState streams engine state changes.
func (e *Engine) SubscribeState() (<-chan State, func()) {
	return e.state.Subscribe()
}

// PendingCount returns the number of queued records, parked ones included.
func (e *Engine) PendingCount() int {
	return e.pending.Get()
}

// SubscribePending streams pending count changes.
func (e *Engine) SubscribePending() (<-chan int, func()) {
	return e.pending.Subscribe()
}

// Pending lists every queued record, oldest first.
func (e *Engine) Pending(ctx context.Context) ([]*models.MutationRecord, error) {
	return e.queue.List(ctx)
}

// Parked lists records that exhausted their retry budget.
func (e *Engine) Parked(ctx context.Context) ([]*models.MutationRecord, error) {
	all, err := e.queue.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*models.MutationRecord
	for _, rec := range all {
		if rec.Parked(e.cfg.MaxRetries) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Enqueue merges a mutation into the queue and, if online, starts a
// background sync pass.
func (e *Engine) Enqueue(ctx context.Context, entityType, entityID string, op models.Operation, payload string) error {
	if entityType == "" || entityID == "" {
		return apperrors.New(apperrors.ErrInvalid, "entity type and id are required")
	}
	if !op.Valid() {
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("invalid operation %q", op))
	}
	key := models.EntityKey{EntityType: entityType, EntityID: entityID}

	e.mu.Lock()
	existing, err := e.queue.Find(ctx, entityType, entityID)
	if err != nil {
		e.mu.Unlock()
		return apperrors.Wrap(apperrors.ErrQueue, "failed to read queued mutation", err)
	}
	merged := e.policy.Apply(existing, key, op, payload)
	_, err = e.queue.Upsert(ctx, merged)
	e.mu.Unlock()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueue, "failed to queue mutation", err)
	}

	e.refreshPending(ctx)

	if e.conn.Online() {
		e.trigger()
	}
	return nil
}

// trigger runs a pass in the background on the engine's lifecycle context.
func (e *Engine) trigger() {
	e.lifeMu.RLock()
	defer e.lifeMu.RUnlock()
	if e.closed {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		res := e.SyncAll(e.ctx)
		logging.Debug("Background sync finished", map[string]interface{}{
			"success": res.Success,
			"message": res.Message,
		})
	}()
}

// LastResult returns the result of the most recent pass that got past the
// in-progress guard, from any trigger.
func (e *Engine) LastResult() (SyncResult, bool) {
	if r := e.last.Load(); r != nil {
		return *r, true
	}
	return SyncResult{}, false
}

// SyncAll transmits every retryable record once, oldest first. It never
// returns an error: preconditions and failures are reported in the result.
func (e *Engine) SyncAll(ctx context.Context) (res SyncResult) {
	if !e.running.CompareAndSwap(false, true) {
		logging.Debug("Sync already in progress")
		return SyncResult{Message: MsgInProgress}
	}
	defer e.running.Store(false)
	defer func() { e.last.Store(&res) }()

	if !e.conn.Online() {
		logging.Debug("No network connection, sync deferred")
		return SyncResult{Message: MsgOffline}
	}
	userID, ok := e.identity.CurrentUserID(ctx)
	if !ok {
		logging.Debug("User not authenticated, sync deferred")
		return SyncResult{Message: MsgUnauthenticated}
	}

	e.state.Set(Syncing)

	recs, err := e.queue.ListRetryable(ctx, e.cfg.MaxRetries)
	if err != nil {
		logging.ErrorWithCode("Sync failed", string(apperrors.ErrQueue), err)
		e.state.Set(ErrorState(err.Error()))
		return SyncResult{Message: err.Error()}
	}

	logging.Info("Syncing pending mutations", map[string]interface{}{
		"count":   len(recs),
		"user_id": userID,
	})

	// Bookkeeping must land even if the pass is cancelled mid-transmit.
	settleCtx := context.WithoutCancel(ctx)

	var synced, failed int
	for _, rec := range recs {
		if ctx.Err() != nil {
			return e.cancelled(settleCtx, synced, failed)
		}

		err := e.transmit(ctx, rec, userID)
		if err != nil && ctx.Err() != nil {
			// Shutdown is neither success nor failure for this record.
			return e.cancelled(settleCtx, synced, failed)
		}

		if err != nil {
			failed++
			e.settleFailure(settleCtx, rec, err)
			continue
		}
		synced++
		e.settleSuccess(settleCtx, rec)
	}

	e.state.Set(Idle)
	e.refreshPending(settleCtx)

	res = SyncResult{
		Success:     failed == 0,
		SyncedCount: synced,
		ErrorCount:  failed,
		Message:     fmt.Sprintf("Synced %d items, %d errors", synced, failed),
	}
	logging.Info("Sync pass complete", map[string]interface{}{
		"synced": synced,
		"errors": failed,
	})
	return res
}

func (e *Engine) cancelled(ctx context.Context, synced, failed int) SyncResult {
	logging.Warn("Sync pass cancelled", map[string]interface{}{
		"synced": synced,
		"errors": failed,
	})
	e.state.Set(Idle)
	e.refreshPending(ctx)
	return SyncResult{SyncedCount: synced, ErrorCount: failed, Message: MsgCancelled}
}

// transmit sends one record to its remote table.
func (e *Engine) transmit(ctx context.Context, rec *models.MutationRecord, userID string) error {
	h, ok := e.registry.Lookup(rec.EntityType)
	if !ok {
		return apperrors.New(apperrors.ErrSyncUnknownEntity, fmt.Sprintf("unknown entity type %q", rec.EntityType))
	}

	logging.Debug("Transmitting mutation", map[string]interface{}{
		"entity":    rec.Key().String(),
		"operation": rec.Operation,
		"table":     h.Table,
	})

	if rec.Operation == models.OperationDelete {
		row := remote.Row{h.SoftDeleteField: true}
		if err := e.remote.Update(ctx, h.Table, rec.EntityID, row); err != nil {
			return apperrors.Wrap(apperrors.ErrSyncTransmit, "soft delete failed", err)
		}
		return nil
	}

	row, err := h.Encode(rec)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncEncode, "failed to encode payload", err)
	}
	row[h.OwnerField] = userID

	switch rec.Operation {
	case models.OperationCreate:
		err = e.remote.Insert(ctx, h.Table, row)
	case models.OperationUpdate:
		err = e.remote.Update(ctx, h.Table, rec.EntityID, row)
	default:
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("invalid operation %q", rec.Operation))
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncTransmit, fmt.Sprintf("%s failed", rec.Operation), err)
	}
	return nil
}

// settleSuccess removes a transmitted record unless a newer change for the
// same entity was merged while it was in flight.
func (e *Engine) settleSuccess(ctx context.Context, rec *models.MutationRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.queue.Find(ctx, rec.EntityType, rec.EntityID)
	if err != nil {
		logging.Error("Failed to settle synced mutation", err, map[string]interface{}{"entity": rec.Key().String()})
		return
	}

	switch {
	case current == nil:
		// cleared while in flight
		return
	case current.SameChange(rec):
		if err := e.queue.Remove(ctx, current); err != nil {
			logging.Error("Failed to remove synced mutation", err, map[string]interface{}{"entity": rec.Key().String()})
			return
		}
	default:
		// The remote now has the row, so a create merged in flight must go out as an update.
		if current.Operation == models.OperationCreate {
			current.Operation = models.OperationUpdate
			if _, err := e.queue.Upsert(ctx, current); err != nil {
				logging.Error("Failed to requeue superseded create", err, map[string]interface{}{"entity": rec.Key().String()})
			}
		}
		return
	}

	if h, ok := e.registry.Lookup(rec.EntityType); ok && h.OnSynced != nil {
		if err := h.OnSynced(ctx, rec); err != nil {
			logging.Error("Synced hook failed", err, map[string]interface{}{"entity": rec.Key().String()})
		}
	}
}

// settleFailure charges one retry to the entity's queued record. A record
// superseded while in flight is not charged: the failed change is gone and
// the newer one has not been attempted yet.
func (e *Engine) settleFailure(ctx context.Context, rec *models.MutationRecord, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fields := map[string]interface{}{
		"entity":      rec.Key().String(),
		"operation":   rec.Operation,
		"retry_count": rec.RetryCount + 1,
	}
	logging.ErrorWithCode("Failed to sync mutation", string(apperrors.CodeOf(cause)), cause, fields)

	current, err := e.queue.Find(ctx, rec.EntityType, rec.EntityID)
	if err != nil {
		logging.Error("Failed to settle failed mutation", err, fields)
		return
	}
	if current == nil {
		return
	}
	if !current.SameChange(rec) {
		logging.Debug("Failed mutation superseded in flight", fields)
		return
	}

	current.RetryCount++
	current.LastError = cause.Error()
	if e.cfg.ParkPermanentFailures && permanent(cause) && current.RetryCount < e.cfg.MaxRetries {
		current.RetryCount = e.cfg.MaxRetries
	}
	if _, err := e.queue.Upsert(ctx, current); err != nil {
		logging.Error("Failed to record mutation failure", err, fields)
		return
	}

	if !current.Parked(e.cfg.MaxRetries) {
		return
	}
	logging.Warn("Mutation parked after exhausting retries", map[string]interface{}{
		"entity":     current.Key().String(),
		"operation":  current.Operation,
		"last_error": current.LastError,
	})
	if h, ok := e.registry.Lookup(current.EntityType); ok && h.OnParked != nil {
		if err := h.OnParked(ctx, current); err != nil {
			logging.Error("Parked hook failed", err, fields)
		}
	}
}

// permanent reports whether retrying cannot help.
func permanent(err error) bool {
	var statusErr *remote.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Permanent()
	}
	return apperrors.Is(err, apperrors.ErrSyncUnknownEntity) || apperrors.Is(err, apperrors.ErrSyncEncode)
}

// Run triggers a pass whenever connectivity is (re)gained, starting with one
// immediately if online. It also keeps the pending count in step with
// changes made directly on the queue. It returns when ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	online, stopConn := e.conn.Subscribe()
	defer stopConn()
	counts, stopCounts := e.queue.Subscribe()
	defer stopCounts()

	if e.conn.Online() {
		e.SyncAll(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-online:
			if !ok {
				return nil
			}
			// Re-read rather than trust the notification: most recent state wins.
			if e.conn.Online() {
				logging.Info("Network connected, triggering sync")
				e.SyncAll(ctx)
			}
		case <-counts:
			e.refreshPending(ctx)
		}
	}
}

// Reset drops every queued record, e.g. on sign-out.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	err := e.queue.Clear(ctx)
	e.mu.Unlock()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueue, "failed to clear queue", err)
	}
	e.refreshPending(ctx)
	logging.Info("Sync queue cleared")
	return nil
}

// Close cancels background passes and waits for them to finish.
func (e *Engine) Close() {
	e.lifeMu.Lock()
	if e.closed {
		e.lifeMu.Unlock()
		return
	}
	e.closed = true
	e.cancel()
	e.lifeMu.Unlock()

	e.wg.Wait()
}

func (e *Engine) refreshPending(ctx context.Context) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	n, err := e.queue.Count(ctx)
	if err != nil {
		logging.Error("Failed to count pending mutations", err)
		return
	}
	e.pending.Set(n)
}
