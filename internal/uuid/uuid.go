// Package uuid provides sync-ID generation and validation.
//
// Sync IDs are the globally stable identifiers shared between the local
// store and the remote table's primary key.
package uuid

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// NewSyncID generates a new lowercase UUID v4 sync ID.
func NewSyncID() string {
	return uuid.New().String()
}

// IsValidSyncID reports whether s is a canonical UUID v4.
func IsValidSyncID(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// ValidateSyncID returns an error if s is not a canonical UUID v4.
func ValidateSyncID(s string) error {
	if !IsValidSyncID(s) {
		return fmt.Errorf("invalid sync id %q: want UUID v4", s)
	}
	return nil
}

// NormalizeSyncID parses any UUID v4 spelling and returns its canonical
// lowercase form.
func NormalizeSyncID(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid sync id: %w", err)
	}
	if id.Version() != 4 {
		return "", fmt.Errorf("invalid sync id: expected UUID v4, got v%d", id.Version())
	}
	return id.String(), nil
}
