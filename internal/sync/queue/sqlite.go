package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "github.com/fittrack/backend/internal/errors"
	"github.com/fittrack/backend/internal/models"
)

// SQLiteStore persists the queue in the sync_queue table.
type SQLiteStore struct {
	db     *sql.DB
	notify notifier
}

// NewSQLiteStore creates a SQLiteStore. The schema is created by the db
// package migrations.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const recordColumns = `id, entity_type, entity_id, operation, payload, created_at, retry_count, last_error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.MutationRecord, error) {
	var rec models.MutationRecord
	var op string
	var lastError sql.NullString

	if err := row.Scan(&rec.ID, &rec.EntityType, &rec.EntityID, &op, &rec.Payload,
		&rec.CreatedAt, &rec.RetryCount, &lastError); err != nil {
		return nil, err
	}

	parsed, err := models.ParseOperation(op)
	if err != nil {
		return nil, err
	}
	rec.Operation = parsed
	if lastError.Valid {
		rec.LastError = lastError.String
	}
	return &rec, nil
}

// Find returns the record for the key, or nil.
func (s *SQLiteStore) Find(ctx context.Context, entityType, entityID string) (*models.MutationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM sync_queue WHERE entity_type = ? AND entity_id = ?`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, entityType, entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrQueue, "failed to find queued mutation", err)
	}
	return rec, nil
}

// Upsert inserts or replaces the record for rec's key, keeping the original id.
func (s *SQLiteStore) Upsert(ctx context.Context, rec *models.MutationRecord) (int64, error) {
	if rec == nil {
		return 0, apperrors.New(apperrors.ErrInvalid, "nil record")
	}
	if !rec.Operation.Valid() {
		return 0, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("invalid operation %q", rec.Operation))
	}

	query := `
	INSERT INTO sync_queue (entity_type, entity_id, operation, payload, created_at, retry_count, last_error)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(entity_type, entity_id) DO UPDATE SET
		operation = excluded.operation,
		payload = excluded.payload,
		created_at = excluded.created_at,
		retry_count = excluded.retry_count,
		last_error = excluded.last_error
	RETURNING id
	`

	lastError := sql.NullString{String: rec.LastError, Valid: rec.LastError != ""}
	var id int64
	err := s.db.QueryRowContext(ctx, query, rec.EntityType, rec.EntityID, string(rec.Operation),
		rec.Payload, rec.CreatedAt, rec.RetryCount, lastError).Scan(&id)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrQueue, "failed to upsert mutation", err)
	}
	rec.ID = id

	s.publish(ctx)
	return id, nil
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]*models.MutationRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrQueue, "failed to list mutations", err)
	}
	defer rows.Close()

	var out []*models.MutationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrQueue, "failed to scan mutation", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrQueue, "failed to iterate mutations", err)
	}
	return out, nil
}

// ListRetryable returns records below the retry budget in FIFO order.
func (s *SQLiteStore) ListRetryable(ctx context.Context, maxRetries int) ([]*models.MutationRecord, error) {
	return s.list(ctx, `SELECT `+recordColumns+` FROM sync_queue
		WHERE retry_count < ? ORDER BY created_at ASC, id ASC`, maxRetries)
}

// List returns all records in FIFO order.
func (s *SQLiteStore) List(ctx context.Context) ([]*models.MutationRecord, error) {
	return s.list(ctx, `SELECT `+recordColumns+` FROM sync_queue ORDER BY created_at ASC, id ASC`)
}

// Remove deletes the record by id.
func (s *SQLiteStore) Remove(ctx context.Context, rec *models.MutationRecord) error {
	if rec == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, rec.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueue, "failed to remove mutation", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.publish(ctx)
	}
	return nil
}

// Count returns the number of queued records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrQueue, "failed to count mutations", err)
	}
	return n, nil
}

// Subscribe streams the record count after each change.
func (s *SQLiteStore) Subscribe() (<-chan int, func()) {
	return s.notify.subscribe()
}

// Clear removes all records.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return apperrors.Wrap(apperrors.ErrQueue, "failed to clear queue", err)
	}
	s.notify.publish(0)
	return nil
}

func (s *SQLiteStore) publish(ctx context.Context) {
	n, err := s.Count(ctx)
	if err != nil {
		return
	}
	s.notify.publish(n)
}
