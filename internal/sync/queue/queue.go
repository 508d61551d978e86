// Package queue provides the mutation queue for offline sync: at most one
// pending change per entity, drained oldest first.
package queue

import (
	"context"
	"sync"

	"github.com/fittrack/backend/internal/models"
)

// Store is durable CRUD over MutationRecords keyed by (entity type, entity id).
// Every call is atomic. Returned records are copies.
type Store interface {
	// Find returns the queued record for the key, or nil when there is none.
	Find(ctx context.Context, entityType, entityID string) (*models.MutationRecord, error)
	// Upsert inserts or fully replaces the record for its key. A new id is
	// assigned only on first insert; rec.ID is set to the stored id.
	Upsert(ctx context.Context, rec *models.MutationRecord) (int64, error)
	// ListRetryable returns records with RetryCount < maxRetries, oldest first.
	ListRetryable(ctx context.Context, maxRetries int) ([]*models.MutationRecord, error)
	// List returns every record including parked ones, oldest first.
	List(ctx context.Context) ([]*models.MutationRecord, error)
	// Remove deletes the record by id. A missing record is not an error.
	Remove(ctx context.Context, rec *models.MutationRecord) error
	Count(ctx context.Context) (int, error)
	// Subscribe streams the record count after every mutating call. Slow
	// consumers only see the latest value. The returned func unsubscribes.
	Subscribe() (<-chan int, func())
	Clear(ctx context.Context) error
}

// notifier fans out count changes to subscribers.
type notifier struct {
	mu   sync.Mutex
	subs map[chan int]struct{}
}

func (n *notifier) subscribe() (<-chan int, func()) {
	ch := make(chan int, 1)

	n.mu.Lock()
	if n.subs == nil {
		n.subs = make(map[chan int]struct{})
	}
	n.subs[ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, ch)
			n.mu.Unlock()
			close(ch)
		})
	}
}

func (n *notifier) publish(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.subs {
		// Replace any unread value so the latest count wins.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- count:
		default:
		}
	}
}
