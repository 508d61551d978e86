package sync

import (
	"context"
	"fmt"
	"sync"

	"github.com/fittrack/backend/internal/models"
	"github.com/fittrack/backend/internal/sync/remote"
)

// Handler transmits one entity type to its remote table.
type Handler struct {
	// Table is the remote table name.
	Table string
	// OwnerField receives the authenticated user id on CREATE and UPDATE.
	OwnerField string
	// SoftDeleteField is set to true remotely on DELETE.
	SoftDeleteField string
	// Encode turns a queued record's payload into a remote row.
	Encode func(rec *models.MutationRecord) (remote.Row, error)
	// OnSynced runs after the remote store accepted the record.
	OnSynced func(ctx context.Context, rec *models.MutationRecord) error
	// OnParked runs when the record exhausts its retry budget.
	OnParked func(ctx context.Context, rec *models.MutationRecord) error
}

// Registry maps entity types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for entityType.
func (r *Registry) Register(entityType string, h Handler) error {
	if entityType == "" {
		return fmt.Errorf("empty entity type")
	}
	if h.Table == "" || h.Encode == nil {
		return fmt.Errorf("handler for %q needs a table and an encoder", entityType)
	}
	if h.OwnerField == "" {
		h.OwnerField = "user_id"
	}
	if h.SoftDeleteField == "" {
		h.SoftDeleteField = "is_deleted"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[entityType] = h
	return nil
}

// Lookup returns the handler for entityType.
func (r *Registry) Lookup(entityType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[entityType]
	return h, ok
}

// Types returns the registered entity types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
