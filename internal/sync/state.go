package sync

import "fmt"

// StateKind is the phase of the sync engine.
type StateKind string

const (
	StateIdle    StateKind = "idle"
	StateSyncing StateKind = "syncing"
	StateError   StateKind = "error"
)

// State is the observable engine state. Message is set only for StateError.
// An error state is not sticky: the next pass starts normally.
type State struct {
	Kind    StateKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}

var (
	Idle    = State{Kind: StateIdle}
	Syncing = State{Kind: StateSyncing}
)

// ErrorState returns an error state with msg.
func ErrorState(msg string) State {
	return State{Kind: StateError, Message: msg}
}

func (s State) String() string {
	if s.Kind == StateError {
		return fmt.Sprintf("error(%s)", s.Message)
	}
	return string(s.Kind)
}

// SyncResult is the outcome of one SyncAll call.
type SyncResult struct {
	Success     bool   `json:"success"`
	SyncedCount int    `json:"synced_count"`
	ErrorCount  int    `json:"error_count"`
	Message     string `json:"message"`
}

// Messages for passes that did no work.
const (
	MsgInProgress      = "Sync already in progress"
	MsgOffline         = "No network connection"
	MsgUnauthenticated = "User not authenticated"
	MsgCancelled       = "sync cancelled"
)
