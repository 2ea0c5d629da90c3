package streaminghttp

import (
	"sync"
	"time"
)

const (
	defaultBufferSize = 256
	defaultBufferAge  = 5 * time.Minute
)

// bufferedEvent is one server-to-client message retained for replay.
type bufferedEvent struct {
	ID      string
	Payload []byte
	AddedAt time.Time
}

// eventBuffer retains server-to-client events for Last-Event-ID resumption,
// capped by count and by age so one idle session cannot hold history forever.
type eventBuffer struct {
	mu      sync.RWMutex
	events  []bufferedEvent
	maxSize int
	maxAge  time.Duration
}

func newEventBuffer(maxSize int, maxAge time.Duration) *eventBuffer {
	if maxSize <= 0 {
		maxSize = defaultBufferSize
	}
	if maxAge <= 0 {
		maxAge = defaultBufferAge
	}
	return &eventBuffer{
		events:  make([]bufferedEvent, 0, maxSize),
		maxSize: maxSize,
		maxAge:  maxAge,
	}
}

// add appends an event, evicting expired and overflow entries oldest-first.
func (b *eventBuffer) add(event bufferedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanupLocked()
	if len(b.events) >= b.maxSize {
		b.events = b.events[1:]
	}
	b.events = append(b.events, event)
}

// eventsAfter returns a copy of every buffered event strictly after id. An
// unknown or empty id yields nothing: the client then only sees live events.
func (b *eventBuffer) eventsAfter(id string) []bufferedEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	found := -1
	for i, e := range b.events {
		if e.ID == id {
			found = i
			break
		}
	}
	if found == -1 || found+1 >= len(b.events) {
		return nil
	}
	out := make([]bufferedEvent, len(b.events)-found-1)
	copy(out, b.events[found+1:])
	return out
}

func (b *eventBuffer) size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

func (b *eventBuffer) cleanupLocked() {
	cutoff := time.Now().Add(-b.maxAge)
	drop := 0
	for drop < len(b.events) && b.events[drop].AddedAt.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		b.events = b.events[drop:]
	}
}
