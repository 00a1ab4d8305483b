// Package events fans task lifecycle events out to in-process
// subscribers and, optionally, to a NATS subject tree for external
// consumers.
package events

import (
	"sync"
	"time"

	"github.com/jordanhubbard/spindle/pkg/models"
)

// Type identifies a lifecycle event.
type Type string

const (
	TypeTaskSubmitted Type = "task.submitted"
	TypeTaskStarted   Type = "task.started"
	TypeTaskCompleted Type = "task.completed"
	TypeTaskFailed    Type = "task.failed"
	TypeTaskAborted   Type = "task.aborted"
	TypeQueuePaused   Type = "queue.paused"
	TypeQueueResumed  Type = "queue.resumed"
	TypeQueuePurged   Type = "queue.purged"
	TypeEmergencyStop Type = "queue.emergency_stop"
)

// Event is one lifecycle notification.
type Event struct {
	Type      Type            `json:"type"`
	TaskID    string          `json:"task_id,omitempty"`
	Flow      models.FlowKind `json:"flow,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler consumes events. Handlers must not block; slow consumers
// should hand off to their own goroutine.
type Handler func(Event)

// Bus is an in-process publish/subscribe fan-out.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	all      []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Type][]Handler)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler for every event type. Used by
// bridges that forward the whole stream.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers an event to all matching handlers.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	matched := b.handlers[evt.Type]
	all := b.all
	b.mu.RUnlock()

	for _, h := range matched {
		h(evt)
	}
	for _, h := range all {
		h(evt)
	}
}
