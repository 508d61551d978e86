// Package models provides data model definitions for the FitTrack sync core.
package models

import (
	"fmt"
	"time"
)

// Operation is the kind of change a MutationRecord carries to the remote store.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// Valid reports whether o is one of the known operations.
func (o Operation) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// String returns the operation name.
func (o Operation) String() string {
	return string(o)
}

// ParseOperation converts a stored operation name back to an Operation.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !op.Valid() {
		return "", fmt.Errorf("unknown operation %q", s)
	}
	return op, nil
}

// EntityKey identifies the entity a mutation targets. At most one queued
// mutation exists per key.
type EntityKey struct {
	EntityType string
	EntityID   string
}

// String returns "type/id".
func (k EntityKey) String() string {
	return k.EntityType + "/" + k.EntityID
}

// MutationRecord is one pending change awaiting transmission.
type MutationRecord struct {
	ID         int64     `db:"id" json:"id"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   string    `db:"entity_id" json:"entity_id"`
	Operation  Operation `db:"operation" json:"operation"`
	Payload    string    `db:"payload" json:"payload"`
	CreatedAt  int64     `db:"created_at" json:"created_at"` // epoch milliseconds
	RetryCount int       `db:"retry_count" json:"retry_count"`
	LastError  string    `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for MutationRecord.
func (MutationRecord) TableName() string {
	return "sync_queue"
}

// Key returns the merge key of the record.
func (m *MutationRecord) Key() EntityKey {
	return EntityKey{EntityType: m.EntityType, EntityID: m.EntityID}
}

// CreatedAtTime returns CreatedAt as time.Time.
func (m *MutationRecord) CreatedAtTime() time.Time {
	return time.UnixMilli(m.CreatedAt)
}

// Parked reports whether the record has exhausted its retry budget.
func (m *MutationRecord) Parked(maxRetries int) bool {
	return m.RetryCount >= maxRetries
}

// Clone returns a copy safe to hand to callers.
func (m *MutationRecord) Clone() *MutationRecord {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// SameChange reports whether two records describe the same queued change,
// ignoring retry bookkeeping.
func (m *MutationRecord) SameChange(other *MutationRecord) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.ID == other.ID &&
		m.Operation == other.Operation &&
		m.Payload == other.Payload &&
		m.CreatedAt == other.CreatedAt
}
