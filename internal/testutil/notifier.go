package testutil

import (
	"sync"

	"mercator-hq/packlimit/pkg/limits/ratelimit"
)

// RecordingNotifier keeps every event it receives.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []ratelimit.Event
}

func (n *RecordingNotifier) Notify(e ratelimit.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

// Events returns a copy of the recorded events.
func (n *RecordingNotifier) Events() []ratelimit.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ratelimit.Event(nil), n.events...)
}

// Count returns how many events of kind were recorded.
func (n *RecordingNotifier) Count(kind ratelimit.EventKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Kind == kind {
			c++
		}
	}
	return c
}

// Reset forgets all recorded events.
func (n *RecordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}
