// internal/presence/presence.go
// Distributes online/offline transitions from the hub to interested observers.
package presence

import "sync"

// Notifier receives presence transitions in the order the hub processed them.
type Notifier interface {
	Notify(username string, online bool)
}

// Nop discards all presence events.
type Nop struct{}

func (Nop) Notify(string, bool) {}

// Fanout delivers each event to every registered observer, synchronously and
// in registration order. Observers must not block; they run on the hub's
// event loop.
type Fanout struct {
	mu        sync.RWMutex
	observers []func(username string, online bool)
}

func NewFanout() *Fanout {
	return &Fanout{}
}

// Observe registers an observer callback for all subsequent events.
func (f *Fanout) Observe(fn func(username string, online bool)) {
	f.mu.Lock()
	f.observers = append(f.observers, fn)
	f.mu.Unlock()
}

func (f *Fanout) Notify(username string, online bool) {
	f.mu.RLock()
	observers := f.observers
	f.mu.RUnlock()

	for _, fn := range observers {
		fn(username, online)
	}
}
