package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fittrack/backend/internal/models"
)

// MemoryStore is an in-process Store. It is not durable across restarts.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[models.EntityKey]*models.MutationRecord
	nextID int64
	notify notifier
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[models.EntityKey]*models.MutationRecord),
	}
}

// Find returns a copy of the record for the key, or nil.
func (q *MemoryStore) Find(_ context.Context, entityType, entityID string) (*models.MutationRecord, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	item, ok := q.items[models.EntityKey{EntityType: entityType, EntityID: entityID}]
	if !ok {
		return nil, nil
	}
	return item.Clone(), nil
}

// Upsert inserts or replaces the record for rec's key.
func (q *MemoryStore) Upsert(_ context.Context, rec *models.MutationRecord) (int64, error) {
	if rec == nil {
		return 0, fmt.Errorf("nil record")
	}
	if !rec.Operation.Valid() {
		return 0, fmt.Errorf("invalid operation %q", rec.Operation)
	}

	q.mu.Lock()
	key := rec.Key()
	stored := rec.Clone()
	if existing, ok := q.items[key]; ok {
		stored.ID = existing.ID
	} else {
		q.nextID++
		stored.ID = q.nextID
	}
	q.items[key] = stored
	count := len(q.items)
	q.mu.Unlock()

	rec.ID = stored.ID
	q.notify.publish(count)
	return stored.ID, nil
}

// ListRetryable returns records below the retry budget in FIFO order.
func (q *MemoryStore) ListRetryable(_ context.Context, maxRetries int) ([]*models.MutationRecord, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]*models.MutationRecord, 0, len(q.items))
	for _, item := range q.items {
		if item.RetryCount < maxRetries {
			out = append(out, item.Clone())
		}
	}
	sortFIFO(out)
	return out, nil
}

// List returns all records in FIFO order.
func (q *MemoryStore) List(_ context.Context) ([]*models.MutationRecord, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]*models.MutationRecord, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, item.Clone())
	}
	sortFIFO(out)
	return out, nil
}

// Remove deletes the record with rec's id, if still present.
func (q *MemoryStore) Remove(_ context.Context, rec *models.MutationRecord) error {
	if rec == nil {
		return nil
	}

	q.mu.Lock()
	removed := false
	for key, item := range q.items {
		if item.ID == rec.ID {
			delete(q.items, key)
			removed = true
			break
		}
	}
	count := len(q.items)
	q.mu.Unlock()

	if removed {
		q.notify.publish(count)
	}
	return nil
}

// Count returns the number of queued records.
func (q *MemoryStore) Count(_ context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items), nil
}

// Subscribe streams the record count after each change.
func (q *MemoryStore) Subscribe() (<-chan int, func()) {
	return q.notify.subscribe()
}

// Clear removes all records.
func (q *MemoryStore) Clear(_ context.Context) error {
	q.mu.Lock()
	q.items = make(map[models.EntityKey]*models.MutationRecord)
	q.mu.Unlock()

	q.notify.publish(0)
	return nil
}

func sortFIFO(recs []*models.MutationRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt != recs[j].CreatedAt {
			return recs[i].CreatedAt < recs[j].CreatedAt
		}
		return recs[i].ID < recs[j].ID
	})
}
