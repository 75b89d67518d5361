package orchestrator

import (
	"fmt"
	"sync"
	"time"
)

// EventKind distinguishes task lifecycle events from stage progress events.
type EventKind string

const (
	EventStatus        EventKind = "status"
	EventStageStarted  EventKind = "stage_started"
	EventStageFinished EventKind = "stage_finished"
	EventStageDegraded EventKind = "stage_degraded"
)

// TaskEvent is published whenever a task changes status or moves between stages.
type TaskEvent struct {
	Kind    EventKind `json:"kind"`
	TaskID  string    `json:"taskId"`
	Status  Status    `json:"status,omitempty"`
	Stage   string    `json:"stage,omitempty"`
	Attempt int       `json:"attempt"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Reporter fans task events out to any number of subscribers through
// buffered channels. Slow subscribers miss events instead of blocking the
// manager.
type Reporter struct {
	mu     sync.RWMutex
	subs   map[int]chan TaskEvent
	nextID int
	closed bool
}

// NewReporter returns a Reporter with no subscribers.
func NewReporter() *Reporter {
	return &Reporter{subs: make(map[int]chan TaskEvent)}
}

// Emit delivers event to every subscriber in a non-blocking fashion.
func (r *Reporter) Emit(event TaskEvent) {
	if r == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a new subscriber with the given channel buffer size
// (64 when size <= 0). The returned function unsubscribes and closes the
// channel; it is safe to call more than once.
func (r *Reporter) Subscribe(size int) (<-chan TaskEvent, func()) {
	if size <= 0 {
		size = 64
	}
	ch := make(chan TaskEvent, size)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if c, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(c)
			}
		})
	}
}

// Close closes every subscriber channel. Later Emit calls are dropped.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
}

// FormatEvent formats a TaskEvent as a human-readable status line.
func FormatEvent(event TaskEvent) string {
	id := event.TaskID
	if len(id) > 8 {
		id = id[:8]
	}
	switch event.Kind {
	case EventStageStarted:
		return fmt.Sprintf("  ● %s %s...", id, event.Stage)
	case EventStageFinished:
		return fmt.Sprintf("  ✓ %s %s complete", id, event.Stage)
	case EventStageDegraded:
		return fmt.Sprintf("  ~ %s %s degraded: %s", id, event.Stage, event.Message)
	}

	switch event.Status {
	case StatusPending:
		return fmt.Sprintf("  ○ %s (pending)", id)
	case StatusRunning:
		return fmt.Sprintf("  ● %s running (attempt %d)", id, event.Attempt)
	case StatusRetrying:
		return fmt.Sprintf("  ↻ %s retrying: %s", id, event.Message)
	case StatusCompleted:
		return fmt.Sprintf("  ✓ %s complete", id)
	case StatusFailed:
		return fmt.Sprintf("  ✗ %s failed: %s", id, event.Message)
	case StatusTimedOut:
		return fmt.Sprintf("  ⧖ %s timed out: %s", id, event.Message)
	default:
		return fmt.Sprintf("  ? %s (unknown status)", id)
	}
}
