package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/fittrack/backend/internal/errors"
	"github.com/fittrack/backend/internal/models"
)

func newTestStore(t *testing.T) *WorkoutStore {
	t.Helper()
	database, err := OpenFile(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	store := NewWorkoutStore(database.DB)
	t.Cleanup(func() {
		store.Close()
		database.Close()
	})
	return store
}

func intPtr(v int) *int { return &v }

func sampleWorkout(syncID string, ts int64) *models.Workout {
	weight := 50.0
	return &models.Workout{
		ExerciseID: 3,
		MuscleID:   7,
		Timestamp:  ts,
		Reps:       intPtr(10),
		WeightKg:   &weight,
		SyncID:     syncID,
		SyncStatus: models.SyncStatusPending,
		UpdatedAt:  ts,
	}
}

func TestWorkoutStore_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := sampleWorkout("11111111-1111-4111-8111-111111111111", 1000)
	w.RegionID = intPtr(2)
	id, err := store.Insert(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, id, w.ID)

	got, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, w.SyncID, got.SyncID)
	assert.Equal(t, 10, *got.Reps)
	assert.Equal(t, 50.0, *got.WeightKg)
	assert.Equal(t, 2, *got.RegionID)
	assert.Equal(t, "", got.UserID)
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)

	bySync, err := store.GetBySyncID(ctx, w.SyncID)
	require.NoError(t, err)
	assert.Equal(t, id, bySync.ID)
}

func TestWorkoutStore_NullableColumns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := &models.Workout{ExerciseID: 1, MuscleID: 1, Timestamp: 5, SyncID: "s-null",
		SyncStatus: models.SyncStatusPending, UpdatedAt: 5}
	id, err := store.Insert(ctx, w)
	require.NoError(t, err)

	got, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got.Reps)
	assert.Nil(t, got.WeightKg)
	assert.Nil(t, got.RegionID)
}

func TestWorkoutStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetByID(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = store.GetBySyncID(context.Background(), "nope")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestWorkoutStore_Update(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := sampleWorkout("s-upd", 1000)
	_, err := store.Insert(ctx, w)
	require.NoError(t, err)

	w.Reps = intPtr(12)
	w.UserID = "user-1"
	w.Touch(time.UnixMilli(2000))
	require.NoError(t, store.Update(ctx, w))

	got, err := store.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, *got.Reps)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, int64(2000), got.UpdatedAt)

	missing := sampleWorkout("s-missing", 1)
	missing.ID = 4242
	err = store.Update(ctx, missing)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestWorkoutStore_UpdateDeleted(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := sampleWorkout("s-gone", 1000)
	_, err := store.Insert(ctx, w)
	require.NoError(t, err)
	stale := *w

	require.NoError(t, store.SoftDelete(ctx, w.ID, 2000))

	stale.Reps = intPtr(99)
	stale.Touch(time.UnixMilli(3000))
	err = store.Update(ctx, &stale)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	got, err := store.GetBySyncID(ctx, "s-gone")
	require.NoError(t, err)
	assert.True(t, got.IsDeleted, "row stays deleted")
	assert.Equal(t, 10, *got.Reps)
	assert.Equal(t, int64(2000), got.UpdatedAt)
}

func TestWorkoutStore_UpdateCannotDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := sampleWorkout("s-flag", 1000)
	_, err := store.Insert(ctx, w)
	require.NoError(t, err)

	w.IsDeleted = true
	require.NoError(t, store.Update(ctx, w))

	got, err := store.GetByID(ctx, w.ID)
	require.NoError(t, err, "only SoftDelete removes a workout")
	assert.False(t, got.IsDeleted)
}

func TestWorkoutStore_SoftDeleteLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := sampleWorkout("s-del", 1000)
	_, err := store.Insert(ctx, w)
	require.NoError(t, err)
	require.NoError(t, store.MarkSynced(ctx, w.ID))

	require.NoError(t, store.SoftDelete(ctx, w.ID, 3000))

	_, err = store.GetByID(ctx, w.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound), "soft-deleted rows are hidden")

	deleted, err := store.GetBySyncID(ctx, "s-del")
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Equal(t, models.SyncStatusPending, deleted.SyncStatus)
	assert.Equal(t, int64(3000), deleted.UpdatedAt)

	// Not yet confirmed remotely, so cleanup keeps it.
	n, err := store.ClearSyncedDeletes(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, store.MarkSynced(ctx, w.ID))
	n, err = store.ClearSyncedDeletes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.GetBySyncID(ctx, "s-del")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestWorkoutStore_ListPendingAndHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := sampleWorkout("s-a", 100)
	b := sampleWorkout("s-b", 300)
	c := sampleWorkout("s-c", 200)
	for _, w := range []*models.Workout{a, b, c} {
		_, err := store.Insert(ctx, w)
		require.NoError(t, err)
	}
	require.NoError(t, store.MarkSynced(ctx, b.ID))
	require.NoError(t, store.SoftDelete(ctx, c.ID, 400))

	pending, err := store.ListPendingSync(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "s-a", pending[0].SyncID)
	assert.Equal(t, "s-c", pending[1].SyncID)

	history, err := store.History(ctx, models.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "s-b", history[0].SyncID)
	assert.Equal(t, "s-a", history[1].SyncID)

	limited, err := store.History(ctx, models.HistoryFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestWorkoutStore_HistoryFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	chest := sampleWorkout("s-chest-old", 100)
	chest.MuscleID = 1
	back := sampleWorkout("s-back", 200)
	back.MuscleID = 2
	recent := sampleWorkout("s-chest-new", 300)
	recent.MuscleID = 1
	gone := sampleWorkout("s-chest-gone", 250)
	gone.MuscleID = 1
	for _, w := range []*models.Workout{chest, back, recent, gone} {
		_, err := store.Insert(ctx, w)
		require.NoError(t, err)
	}
	require.NoError(t, store.SoftDelete(ctx, gone.ID, 400))

	syncIDs := func(list []*models.Workout) []string {
		out := make([]string, 0, len(list))
		for _, w := range list {
			out = append(out, w.SyncID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter models.HistoryFilter
		want   []string
	}{
		{"muscle", models.HistoryFilter{MuscleID: 1}, []string{"s-chest-new", "s-chest-old"}},
		{"range inclusive", models.HistoryFilter{From: 200, To: 300}, []string{"s-chest-new", "s-back"}},
		{"from only", models.HistoryFilter{From: 250}, []string{"s-chest-new"}},
		{"to only", models.HistoryFilter{To: 150}, []string{"s-chest-old"}},
		{"muscle and range", models.HistoryFilter{MuscleID: 1, To: 200}, []string{"s-chest-old"}},
		{"muscle with limit", models.HistoryFilter{MuscleID: 1, Limit: 1}, []string{"s-chest-new"}},
		{"no match", models.HistoryFilter{MuscleID: 9}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.History(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, syncIDs(got))
		})
	}
}

func TestWorkoutStore_SetSyncStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := sampleWorkout("s-status", 1)
	_, err := store.Insert(ctx, w)
	require.NoError(t, err)

	require.NoError(t, store.SetSyncStatus(ctx, w.ID, models.SyncStatusError))
	got, err := store.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusError, got.SyncStatus)

	err = store.SetSyncStatus(ctx, w.ID, models.SyncStatus("BOGUS"))
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestWorkoutStore_DuplicateSyncID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Insert(ctx, sampleWorkout("dup", 1))
	require.NoError(t, err)
	_, err = store.Insert(ctx, sampleWorkout("dup", 2))
	assert.True(t, apperrors.Is(err, apperrors.ErrDatabase))
}
