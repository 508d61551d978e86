package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/fittrack/backend/internal/errors"
	"github.com/fittrack/backend/internal/models"
)

// WorkoutStore is the SQLite-backed local store for workouts.
type WorkoutStore struct {
	db *sql.DB

	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewWorkoutStore creates a WorkoutStore over an opened database.
func NewWorkoutStore(db *sql.DB) *WorkoutStore {
	return &WorkoutStore{db: db}
}

// prepare gets or creates a prepared statement from cache.
func (s *WorkoutStore) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (s *WorkoutStore) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

const workoutColumns = `id, user_id, exercise_id, muscle_id, region_id, timestamp, reps,
	weight_kg, sync_id, sync_status, updated_at, is_deleted`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkout(row rowScanner) (*models.Workout, error) {
	var w models.Workout
	var userID sql.NullString
	var regionID, reps sql.NullInt64
	var weight sql.NullFloat64
	var status string

	err := row.Scan(&w.ID, &userID, &w.ExerciseID, &w.MuscleID, &regionID, &w.Timestamp,
		&reps, &weight, &w.SyncID, &status, &w.UpdatedAt, &w.IsDeleted)
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		w.UserID = userID.String
	}
	if regionID.Valid {
		v := int(regionID.Int64)
		w.RegionID = &v
	}
	if reps.Valid {
		v := int(reps.Int64)
		w.Reps = &v
	}
	if weight.Valid {
		v := weight.Float64
		w.WeightKg = &v
	}
	w.SyncStatus = models.SyncStatus(status)
	return &w, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.Wrap(apperrors.ErrNotFound, what+" not found", err)
	}
	return apperrors.Wrap(apperrors.ErrDatabase, "failed to load "+what, err)
}

// Insert stores a new workout and returns its row id.
func (s *WorkoutStore) Insert(ctx context.Context, w *models.Workout) (int64, error) {
	query := `
	INSERT INTO workouts (user_id, exercise_id, muscle_id, region_id, timestamp, reps,
		weight_kg, sync_id, sync_status, updated_at, is_deleted)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := s.prepare(ctx, query)
	if err != nil {
		return 0, err
	}
	res, err := stmt.ExecContext(ctx, nullString(w.UserID), w.ExerciseID, w.MuscleID, nullInt(w.RegionID),
		w.Timestamp, nullInt(w.Reps), nullFloat(w.WeightKg), w.SyncID, string(w.SyncStatus),
		w.UpdatedAt, w.IsDeleted)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to insert workout", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to read workout id", err)
	}
	w.ID = id
	return id, nil
}

// Update replaces the mutable fields of a live workout. A soft-deleted row
// is reported as not found and left untouched.
func (s *WorkoutStore) Update(ctx context.Context, w *models.Workout) error {
	query := `
	UPDATE workouts
	SET user_id = ?, exercise_id = ?, muscle_id = ?, region_id = ?, timestamp = ?, reps = ?,
		weight_kg = ?, sync_status = ?, updated_at = ?
	WHERE id = ? AND is_deleted = 0
	`
	stmt, err := s.prepare(ctx, query)
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, nullString(w.UserID), w.ExerciseID, w.MuscleID, nullInt(w.RegionID),
		w.Timestamp, nullInt(w.Reps), nullFloat(w.WeightKg), string(w.SyncStatus), w.UpdatedAt, w.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to update workout", err)
	}
	return requireAffected(res, "workout")
}

// SoftDelete flags a workout as deleted and pending sync. The row stays
// until the delete has been confirmed remotely.
func (s *WorkoutStore) SoftDelete(ctx context.Context, id int64, at int64) error {
	query := `UPDATE workouts SET is_deleted = 1, sync_status = 'PENDING', updated_at = ? WHERE id = ?`
	stmt, err := s.prepare(ctx, query)
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, at, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to soft delete workout", err)
	}
	return requireAffected(res, "workout")
}

// GetByID returns a live (not soft-deleted) workout.
func (s *WorkoutStore) GetByID(ctx context.Context, id int64) (*models.Workout, error) {
	stmt, err := s.prepare(ctx, "SELECT "+workoutColumns+" FROM workouts WHERE id = ? AND is_deleted = 0")
	if err != nil {
		return nil, err
	}
	w, err := scanWorkout(stmt.QueryRowContext(ctx, id))
	if err != nil {
		return nil, notFound("workout", err)
	}
	return w, nil
}

// GetBySyncID returns a workout by sync id, including soft-deleted rows.
func (s *WorkoutStore) GetBySyncID(ctx context.Context, syncID string) (*models.Workout, error) {
	stmt, err := s.prepare(ctx, "SELECT "+workoutColumns+" FROM workouts WHERE sync_id = ?")
	if err != nil {
		return nil, err
	}
	w, err := scanWorkout(stmt.QueryRowContext(ctx, syncID))
	if err != nil {
		return nil, notFound("workout", err)
	}
	return w, nil
}

func (s *WorkoutStore) list(ctx context.Context, query string, args ...any) ([]*models.Workout, error) {
	stmt, err := s.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to query workouts", err)
	}
	defer rows.Close()

	var out []*models.Workout
	for rows.Next() {
		w, err := scanWorkout(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan workout", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate workouts", err)
	}
	return out, nil
}

// ListPendingSync returns all workouts whose latest change is not yet synced.
func (s *WorkoutStore) ListPendingSync(ctx context.Context) ([]*models.Workout, error) {
	return s.list(ctx, "SELECT "+workoutColumns+" FROM workouts WHERE sync_status = 'PENDING' ORDER BY updated_at ASC")
}

// History returns live workouts matching f, most recent first.
func (s *WorkoutStore) History(ctx context.Context, f models.HistoryFilter) ([]*models.Workout, error) {
	where := []string{"is_deleted = 0"}
	var args []any
	if f.MuscleID > 0 {
		where = append(where, "muscle_id = ?")
		args = append(args, f.MuscleID)
	}
	if f.From > 0 {
		where = append(where, "timestamp >= ?")
		args = append(args, f.From)
	}
	if f.To > 0 {
		where = append(where, "timestamp <= ?")
		args = append(args, f.To)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	query := "SELECT " + workoutColumns + " FROM workouts WHERE " + strings.Join(where, " AND ") +
		" ORDER BY timestamp DESC, id DESC LIMIT ?"
	return s.list(ctx, query, args...)
}

// MarkSynced sets a workout's status to SYNCED.
func (s *WorkoutStore) MarkSynced(ctx context.Context, id int64) error {
	return s.SetSyncStatus(ctx, id, models.SyncStatusSynced)
}

// SetSyncStatus updates only the sync status of a workout.
func (s *WorkoutStore) SetSyncStatus(ctx context.Context, id int64, status models.SyncStatus) error {
	if !status.Valid() {
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("invalid sync status %q", status))
	}
	stmt, err := s.prepare(ctx, "UPDATE workouts SET sync_status = ? WHERE id = ?")
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, string(status), id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to update sync status", err)
	}
	return requireAffected(res, "workout")
}

// ClearSyncedDeletes physically removes soft-deleted workouts whose delete
// has been confirmed remotely. It returns the number of rows removed.
func (s *WorkoutStore) ClearSyncedDeletes(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM workouts WHERE is_deleted = 1 AND sync_status = 'SYNCED'")
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to clear synced deletes", err)
	}
	return res.RowsAffected()
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to read affected rows", err)
	}
	if n == 0 {
		return apperrors.Wrap(apperrors.ErrNotFound, what+" not found", sql.ErrNoRows)
	}
	return nil
}
