package testsupport

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"photoscan/internal/protocol"
)

// EventRecorder is a protocol.Sink that keeps every event.
type EventRecorder struct {
	mu     sync.Mutex
	events []protocol.Event
	notify chan struct{}
}

// NewEventRecorder returns an empty recorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{notify: make(chan struct{}, 1)}
}

func (r *EventRecorder) Send(e protocol.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// WithStatus returns the recorded events carrying status.
func (r *EventRecorder) WithStatus(status protocol.Status) []protocol.Event {
	var out []protocol.Event
	for _, e := range r.Events() {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// WaitFor blocks until match accepts a recorded event or the timeout
// elapses, failing the test on timeout.
func (r *EventRecorder) WaitFor(t testing.TB, timeout time.Duration, match func(protocol.Event) bool) protocol.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for {
		for _, e := range r.Events() {
			if match(e) {
				return e
			}
		}
		select {
		case <-r.notify:
		case <-ctx.Done():
			t.Fatalf("timed out waiting for event; got %v", r.Events())
			return protocol.Event{}
		}
	}
}
