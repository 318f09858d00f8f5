// Package history keeps the bounded in-memory record of recent sleep
// trigger requests.
package history

import (
	"sync"

	"github.com/sleepd/sleepd/internal/model"
)

// DefaultCapacity is the number of trigger events retained.
const DefaultCapacity = 20

// Ledger is a FIFO of the most recent trigger events. It is safe for
// concurrent use and never holds more than its capacity.
type Ledger struct {
	mu       sync.RWMutex
	capacity int
	events   []model.TriggerEvent
}

// NewLedger returns a ledger holding at most capacity events. A non-positive
// capacity selects DefaultCapacity.
func NewLedger(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{
		capacity: capacity,
		events:   make([]model.TriggerEvent, 0, capacity+1),
	}
}

// Record appends ev, evicting the single oldest event once the ledger
// exceeds its capacity.
func (l *Ledger) Record(ev model.TriggerEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, ev)
	if len(l.events) > l.capacity {
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
	}
}

// Snapshot returns a copy of the retained events, oldest first.
func (l *Ledger) Snapshot() []model.TriggerEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.TriggerEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of retained events.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Latest returns the most recent event, if any.
func (l *Ledger) Latest() (model.TriggerEvent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.events) == 0 {
		return model.TriggerEvent{}, false
	}
	return l.events[len(l.events)-1], true
}
