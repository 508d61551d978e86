package sync

import "context"

// Syncer is the engine surface used by the scheduler and status feed.
type Syncer interface {
	SyncAll(ctx context.Context) SyncResult
	State() State
	SubscribeState() (<-chan State, func())
	PendingCount() int
	SubscribePending() (<-chan int, func())
}

var _ Syncer = (*Engine)(nil)
