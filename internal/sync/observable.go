package sync

import "sync"

// subscriberBuffer bounds how far a subscriber may lag before the oldest
// unread values are dropped.
const subscriberBuffer = 16

// Value is an observable value. Subscribers receive the current value on
// subscription and every change afterwards.
type Value[T comparable] struct {
	mu   sync.Mutex
	v    T
	subs map[chan T]struct{}
}

// NewValue creates a Value holding v.
func NewValue[T comparable](v T) *Value[T] {
	return &Value[T]{v: v, subs: make(map[chan T]struct{})}
}

// Get returns the current value.
func (o *Value[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.v
}

// Set stores v and notifies subscribers if it differs from the current value.
func (o *Value[T]) Set(v T) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.v == v {
		return false
	}
	o.v = v
	for ch := range o.subs {
		send(ch, v)
	}
	return true
}

// Subscribe returns a channel of values and a func that unsubscribes.
func (o *Value[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, subscriberBuffer)

	o.mu.Lock()
	o.subs[ch] = struct{}{}
	send(ch, o.v)
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, ch)
			o.mu.Unlock()
			close(ch)
		})
	}
}

// send delivers v, dropping the oldest unread value when ch is full.
func send[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
