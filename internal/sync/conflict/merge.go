// Package conflict decides how a new local mutation combines with one that
// is already queued for the same entity.
package conflict

import (
	"time"

	"github.com/fittrack/backend/internal/logging"
	"github.com/fittrack/backend/internal/models"
)

// Resolution names the rule that produced a merged record.
type Resolution string

const (
	ResolutionNew              Resolution = "new"
	ResolutionDeleteSupersedes Resolution = "delete_supersedes"
	ResolutionDeleteRetained   Resolution = "delete_retained"
	ResolutionCreateAbsorbs    Resolution = "create_absorbs"
	ResolutionReplace          Resolution = "replace"
)

// Decide reports which rule applies when op arrives for a key whose queued
// record is existing (nil when nothing is queued).
func Decide(existing *models.MutationRecord, op models.Operation) Resolution {
	switch {
	case existing == nil:
		return ResolutionNew
	case op == models.OperationDelete:
		return ResolutionDeleteSupersedes
	case existing.Operation == models.OperationDelete:
		return ResolutionDeleteRetained
	case existing.Operation == models.OperationCreate:
		return ResolutionCreateAbsorbs
	default:
		return ResolutionReplace
	}
}

// Merge returns the record that should be stored for key after op with
// payload is enqueued on top of existing. existing is never modified.
//
// A delete always wins and starts a fresh retry budget. A queued delete is
// kept as is when anything else arrives after it. A pending create absorbs
// later edits and stays a create. Anything else takes the incoming
// operation. Except for deletes, the queue position and retry count of the
// existing record are kept.
func Merge(existing *models.MutationRecord, key models.EntityKey, op models.Operation, payload string, now time.Time) *models.MutationRecord {
	if Decide(existing, op) == ResolutionDeleteRetained {
		return existing.Clone()
	}

	merged := &models.MutationRecord{
		EntityType: key.EntityType,
		EntityID:   key.EntityID,
		Operation:  op,
		Payload:    payload,
		CreatedAt:  now.UnixMilli(),
	}

	switch Decide(existing, op) {
	case ResolutionNew, ResolutionDeleteSupersedes:
		// fresh createdAt, zero retries
	case ResolutionCreateAbsorbs:
		merged.Operation = models.OperationCreate
		merged.CreatedAt = existing.CreatedAt
		merged.RetryCount = existing.RetryCount
		merged.LastError = existing.LastError
	case ResolutionReplace:
		merged.CreatedAt = existing.CreatedAt
		merged.RetryCount = existing.RetryCount
		merged.LastError = existing.LastError
	}

	if existing != nil {
		merged.ID = existing.ID
	}
	return merged
}

// Policy applies Merge with an injectable clock.
type Policy struct {
	now func() time.Time
}

// NewPolicy creates a Policy. A nil clock uses time.Now.
func NewPolicy(now func() time.Time) *Policy {
	if now == nil {
		now = time.Now
	}
	return &Policy{now: now}
}

// Apply merges op into existing and logs the decision.
func (p *Policy) Apply(existing *models.MutationRecord, key models.EntityKey, op models.Operation, payload string) *models.MutationRecord {
	merged := Merge(existing, key, op, payload, p.now())

	fields := map[string]interface{}{
		"entity":     key.String(),
		"incoming":   op,
		"resolution": Decide(existing, op),
		"result":     merged.Operation,
	}
	if existing != nil {
		fields["queued"] = existing.Operation
	}
	logging.Debug("Merged queued mutation", fields)

	return merged
}
