package workout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fittrack/backend/internal/models"
	"github.com/fittrack/backend/internal/sync/remote"
)

// DateLayout is the ISO-8601 form used on the wire, always UTC.
const DateLayout = "2006-01-02T15:04:05.000Z"

// AnonymousUser fills user_id for workouts recorded before sign-in. The
// sync engine replaces it with the authenticated user on transmission.
const AnonymousUser = "anonymous"

// Payload is the wire shape of a workout in the remote workouts table.
type Payload struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	ExerciseID  int      `json:"exercise_id"`
	MuscleID    int      `json:"muscle_id"`
	RegionID    *int     `json:"region_id"`
	WorkoutDate string   `json:"workout_date"`
	Reps        *int     `json:"reps"`
	WeightKg    *float64 `json:"weight_kg"`
	IsDeleted   bool     `json:"is_deleted"`
	UpdatedAt   string   `json:"updated_at"`
}

// FormatTime renders epoch milliseconds in DateLayout.
func FormatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(DateLayout)
}

// FromWorkout builds the payload for w.
func FromWorkout(w *models.Workout) Payload {
	userID := w.UserID
	if userID == "" {
		userID = AnonymousUser
	}
	return Payload{
		ID:          w.SyncID,
		UserID:      userID,
		ExerciseID:  w.ExerciseID,
		MuscleID:    w.MuscleID,
		RegionID:    w.RegionID,
		WorkoutDate: FormatTime(w.Timestamp),
		Reps:        w.Reps,
		WeightKg:    w.WeightKg,
		IsDeleted:   w.IsDeleted,
		UpdatedAt:   FormatTime(w.UpdatedAt),
	}
}

// Encode serializes the payload for the queue.
func (p Payload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode workout payload: %w", err)
	}
	return string(b), nil
}

// DecodePayload parses a queued payload.
func DecodePayload(s string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return p, fmt.Errorf("failed to decode workout payload: %w", err)
	}
	if p.ID == "" {
		return p, fmt.Errorf("workout payload has no id")
	}
	return p, nil
}

// Row returns the payload as a remote row. Absent optional fields are sent
// as null.
func (p Payload) Row() remote.Row {
	row := remote.Row{
		"id":           p.ID,
		"user_id":      p.UserID,
		"exercise_id":  p.ExerciseID,
		"muscle_id":    p.MuscleID,
		"region_id":    nil,
		"workout_date": p.WorkoutDate,
		"reps":         nil,
		"weight_kg":    nil,
		"is_deleted":   p.IsDeleted,
		"updated_at":   p.UpdatedAt,
	}
	if p.RegionID != nil {
		row["region_id"] = *p.RegionID
	}
	if p.Reps != nil {
		row["reps"] = *p.Reps
	}
	if p.WeightKg != nil {
		row["weight_kg"] = *p.WeightKg
	}
	return row
}
