// Package workout records workouts locally and queues them for sync.
package workout

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/fittrack/backend/internal/errors"
	"github.com/fittrack/backend/internal/logging"
	"github.com/fittrack/backend/internal/models"
	syncpkg "github.com/fittrack/backend/internal/sync"
	"github.com/fittrack/backend/internal/sync/remote"
	"github.com/fittrack/backend/internal/uuid"
)

// Table is the remote table for workouts.
const Table = "workouts"

// Store is the local workout store.
type Store interface {
	Insert(ctx context.Context, w *models.Workout) (int64, error)
	Update(ctx context.Context, w *models.Workout) error
	SoftDelete(ctx context.Context, id int64, at int64) error
	GetByID(ctx context.Context, id int64) (*models.Workout, error)
	GetBySyncID(ctx context.Context, syncID string) (*models.Workout, error)
	ListPendingSync(ctx context.Context) ([]*models.Workout, error)
	MarkSynced(ctx context.Context, id int64) error
	SetSyncStatus(ctx context.Context, id int64, status models.SyncStatus) error
	ClearSyncedDeletes(ctx context.Context) (int64, error)
	History(ctx context.Context, f models.HistoryFilter) ([]*models.Workout, error)
}

// Enqueuer accepts mutations for sync.
type Enqueuer interface {
	Enqueue(ctx context.Context, entityType, entityID string, op models.Operation, payload string) error
}

// NewWorkout describes a workout to record.
type NewWorkout struct {
	UserID     string
	ExerciseID int
	MuscleID   int
	RegionID   *int
	Timestamp  time.Time
	Reps       *int
	WeightKg   *float64
}

// Repository writes workouts locally and queues each change.
type Repository struct {
	store Store
	sync  Enqueuer
	now   func() time.Time
}

// NewRepository creates a Repository. A nil clock uses time.Now.
func NewRepository(store Store, sync Enqueuer, now func() time.Time) *Repository {
	if now == nil {
		now = time.Now
	}
	return &Repository{store: store, sync: sync, now: now}
}

func validate(exerciseID, muscleID int, reps *int, weight *float64) error {
	if exerciseID <= 0 {
		return apperrors.New(apperrors.ErrValidation, "exercise id must be positive")
	}
	if muscleID <= 0 {
		return apperrors.New(apperrors.ErrValidation, "muscle id must be positive")
	}
	if reps != nil && *reps < 0 {
		return apperrors.New(apperrors.ErrValidation, "reps must not be negative")
	}
	if weight != nil && *weight < 0 {
		return apperrors.New(apperrors.ErrValidation, "weight must not be negative")
	}
	return nil
}

// Record stores a new workout and queues its creation.
func (r *Repository) Record(ctx context.Context, in NewWorkout) (*models.Workout, error) {
	if err := validate(in.ExerciseID, in.MuscleID, in.Reps, in.WeightKg); err != nil {
		return nil, err
	}

	now := r.now()
	ts := in.Timestamp
	if ts.IsZero() {
		ts = now
	}
	w := &models.Workout{
		UserID:     in.UserID,
		ExerciseID: in.ExerciseID,
		MuscleID:   in.MuscleID,
		RegionID:   in.RegionID,
		Timestamp:  ts.UnixMilli(),
		Reps:       in.Reps,
		WeightKg:   in.WeightKg,
		SyncID:     uuid.NewSyncID(),
	}
	w.Touch(now)

	if _, err := r.store.Insert(ctx, w); err != nil {
		return nil, err
	}
	if err := r.enqueue(ctx, w, models.OperationCreate); err != nil {
		return w, err
	}

	logging.Debug("Workout recorded", map[string]interface{}{
		"id":      w.ID,
		"sync_id": w.SyncID,
	})
	return w, nil
}

// Update saves changed fields of w and queues the update. A workout that
// has been deleted, even one w was read before the delete, is not found.
func (r *Repository) Update(ctx context.Context, w *models.Workout) error {
	if err := validate(w.ExerciseID, w.MuscleID, w.Reps, w.WeightKg); err != nil {
		return err
	}
	if w.IsDeleted {
		return apperrors.New(apperrors.ErrNotFound, "workout not found")
	}
	w.Touch(r.now())
	if err := r.store.Update(ctx, w); err != nil {
		return err
	}
	return r.enqueue(ctx, w, models.OperationUpdate)
}

// Delete soft-deletes a workout and queues the deletion. The row is removed
// by ClearSyncedDeletes once the remote store confirms it.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	w, err := r.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	at := r.now().UnixMilli()
	if err := r.store.SoftDelete(ctx, id, at); err != nil {
		return err
	}
	w.IsDeleted = true
	w.UpdatedAt = at
	w.SyncStatus = models.SyncStatusPending

	return r.enqueue(ctx, w, models.OperationDelete)
}

// Get returns a live workout.
func (r *Repository) Get(ctx context.Context, id int64) (*models.Workout, error) {
	return r.store.GetByID(ctx, id)
}

// History returns live workouts, newest first.
func (r *Repository) History(ctx context.Context, limit int) ([]*models.Workout, error) {
	return r.store.History(ctx, models.HistoryFilter{Limit: limit})
}

// HistoryByMuscle returns live workouts for one muscle, newest first.
func (r *Repository) HistoryByMuscle(ctx context.Context, muscleID, limit int) ([]*models.Workout, error) {
	return r.Query(ctx, models.HistoryFilter{MuscleID: muscleID, Limit: limit})
}

// HistoryByDateRange returns live workouts timestamped within [from, to],
// newest first.
func (r *Repository) HistoryByDateRange(ctx context.Context, from, to time.Time, limit int) ([]*models.Workout, error) {
	if from.IsZero() || to.IsZero() {
		return nil, apperrors.New(apperrors.ErrValidation, "date range needs both ends")
	}
	return r.Query(ctx, models.HistoryFilter{From: from.UnixMilli(), To: to.UnixMilli(), Limit: limit})
}

// Query returns live workouts matching f, newest first.
func (r *Repository) Query(ctx context.Context, f models.HistoryFilter) ([]*models.Workout, error) {
	if f.MuscleID < 0 {
		return nil, apperrors.New(apperrors.ErrValidation, "muscle id must be positive")
	}
	if f.From < 0 || f.To < 0 {
		return nil, apperrors.New(apperrors.ErrValidation, "date range must not precede the epoch")
	}
	if f.From > 0 && f.To > 0 && f.From > f.To {
		return nil, apperrors.New(apperrors.ErrValidation, "date range ends before it starts")
	}
	return r.store.History(ctx, f)
}

// PendingSync returns workouts with unsynced changes.
func (r *Repository) PendingSync(ctx context.Context) ([]*models.Workout, error) {
	return r.store.ListPendingSync(ctx)
}

// ClearSyncedDeletes removes deleted workouts the remote store has confirmed.
func (r *Repository) ClearSyncedDeletes(ctx context.Context) (int64, error) {
	return r.store.ClearSyncedDeletes(ctx)
}

func (r *Repository) enqueue(ctx context.Context, w *models.Workout, op models.Operation) error {
	payload, err := FromWorkout(w).Encode()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncEncode, "failed to encode workout", err)
	}
	if err := r.sync.Enqueue(ctx, models.EntityTypeWorkout, w.SyncID, op, payload); err != nil {
		logging.Error("Failed to queue workout change", err, map[string]interface{}{
			"sync_id":   w.SyncID,
			"operation": op,
		})
		return err
	}
	return nil
}

// Handler returns the sync handler for workouts.
func (r *Repository) Handler() syncpkg.Handler {
	return syncpkg.Handler{
		Table:           Table,
		OwnerField:      "user_id",
		SoftDeleteField: "is_deleted",
		Encode:          encode,
		OnSynced:        r.onSynced,
		OnParked:        r.onParked,
	}
}

func encode(rec *models.MutationRecord) (remote.Row, error) {
	p, err := DecodePayload(rec.Payload)
	if err != nil {
		return nil, err
	}
	if p.ID != rec.EntityID {
		return nil, fmt.Errorf("payload id %q does not match entity %q", p.ID, rec.EntityID)
	}
	return p.Row(), nil
}

// onSynced marks the workout synced unless it changed after the payload was taken.
func (r *Repository) onSynced(ctx context.Context, rec *models.MutationRecord) error {
	p, err := DecodePayload(rec.Payload)
	if err != nil {
		return err
	}
	w, err := r.store.GetBySyncID(ctx, rec.EntityID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}
	if FormatTime(w.UpdatedAt) != p.UpdatedAt {
		return nil
	}
	return r.store.MarkSynced(ctx, w.ID)
}

func (r *Repository) onParked(ctx context.Context, rec *models.MutationRecord) error {
	w, err := r.store.GetBySyncID(ctx, rec.EntityID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}
	return r.store.SetSyncStatus(ctx, w.ID, models.SyncStatusError)
}
