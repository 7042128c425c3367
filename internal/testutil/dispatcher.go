package testutil

import "sync"

// RecordingDispatcher captures every event passed to SendEvent.
// Err, when set, is returned from every call after recording.
type RecordingDispatcher struct {
	mu     sync.Mutex
	events []any
	Err    error
}

// SendEvent records event.
func (d *RecordingDispatcher) SendEvent(event any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return d.Err
}

// Events returns the recorded events in order.
func (d *RecordingDispatcher) Events() []any {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]any, len(d.events))
	copy(out, d.events)
	return out
}
