// Package connectivity exposes network reachability as a subscribable
// boolean signal.
package connectivity

import (
	"sync"
)

// Signal reports whether the remote store is reachable.
type Signal interface {
	Online() bool
	// Subscribe streams state transitions. Consecutive values always differ.
	// The returned func unsubscribes and closes the channel.
	Subscribe() (<-chan bool, func())
}

// Switch is a manually driven Signal.
type Switch struct {
	mu     sync.Mutex
	online bool
	subs   map[chan bool]struct{}
}

// NewSwitch creates a Switch in the given state.
func NewSwitch(online bool) *Switch {
	return &Switch{online: online, subs: make(map[chan bool]struct{})}
}

// Online returns the current state.
func (s *Switch) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set updates the state and notifies subscribers on change. It reports
// whether the state changed.
func (s *Switch) Set(online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.online == online {
		return false
	}
	s.online = online

	for ch := range s.subs {
		// A subscriber that has not read the previous transition sees only the latest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- online:
		default:
		}
	}
	return true
}

// Subscribe streams state transitions.
func (s *Switch) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}
