// Package models provides data model definitions for the FitTrack sync core.
package models

import "time"

// SyncStatus is the synchronization state of a local entity.
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "PENDING"
	SyncStatusSynced   SyncStatus = "SYNCED"
	SyncStatusConflict SyncStatus = "CONFLICT"
	SyncStatusSyncing  SyncStatus = "SYNCING"
	SyncStatusError    SyncStatus = "ERROR"
)

// Valid reports whether s is a known status.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSynced, SyncStatusConflict, SyncStatusSyncing, SyncStatusError:
		return true
	}
	return false
}

// EntityTypeWorkout is the queue tag for workouts.
const EntityTypeWorkout = "workout"

// Workout represents one recorded exercise set.
type Workout struct {
	ID         int64      `db:"id" json:"id"`
	UserID     string     `db:"user_id" json:"user_id,omitempty"` // empty for local-only use
	ExerciseID int        `db:"exercise_id" json:"exercise_id"`
	MuscleID   int        `db:"muscle_id" json:"muscle_id"`
	RegionID   *int       `db:"region_id" json:"region_id,omitempty"`
	Timestamp  int64      `db:"timestamp" json:"timestamp"` // epoch milliseconds
	Reps       *int       `db:"reps" json:"reps,omitempty"`
	WeightKg   *float64   `db:"weight_kg" json:"weight_kg,omitempty"`
	SyncID     string     `db:"sync_id" json:"sync_id"`
	SyncStatus SyncStatus `db:"sync_status" json:"sync_status"`
	UpdatedAt  int64      `db:"updated_at" json:"updated_at"` // epoch milliseconds
	IsDeleted  bool       `db:"is_deleted" json:"is_deleted"`
}

// TableName returns the table name for Workout.
func (Workout) TableName() string {
	return "workouts"
}

// TimestampTime returns Timestamp as time.Time.
func (w *Workout) TimestampTime() time.Time {
	return time.UnixMilli(w.Timestamp)
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (w *Workout) UpdatedAtTime() time.Time {
	return time.UnixMilli(w.UpdatedAt)
}

// Touch marks the workout as locally modified.
func (w *Workout) Touch(now time.Time) {
	w.UpdatedAt = now.UnixMilli()
	w.SyncStatus = SyncStatusPending
}

// HistoryFilter narrows a history listing. Zero fields do not filter.
type HistoryFilter struct {
	MuscleID int   `json:"muscle_id,omitempty"`
	From     int64 `json:"from,omitempty"` // epoch milliseconds, inclusive
	To       int64 `json:"to,omitempty"`   // epoch milliseconds, inclusive
	Limit    int   `json:"limit,omitempty"`
}
