// Package stream accumulates incremental backend output into an
// observable result, tracking first-token latency per task.
package stream

import (
	"strings"
	"sync"
	"time"

	"github.com/jordanhubbard/spindle/pkg/models"
)

const subscriberBuffer = 64

// Assembler collects output deltas for one task and fans them out to
// subscribers as StreamEvents. Only the terminal event and the
// first-token latency survive the task; the delta buffer is released
// at Finish and individual events are never persisted.
type Assembler struct {
	taskID    string
	startedAt time.Time

	mu           sync.Mutex
	buf          strings.Builder
	firstToken   time.Time
	firstEmitted bool
	subscribers  []chan models.StreamEvent
	terminal     *models.StreamEvent
	finished     bool
}

// NewAssembler creates an assembler for a task. The clock for
// first-token latency starts now.
func NewAssembler(taskID string) *Assembler {
	return &Assembler{
		taskID:    taskID,
		startedAt: time.Now(),
	}
}

// Subscribe returns a channel of stream events. The channel is closed
// after the terminal event. Slow subscribers have intermediate events
// dropped rather than blocking the producing flow; the terminal event
// is always delivered. A subscriber attaching after Finish receives
// the retained terminal event and then the close.
func (a *Assembler) Subscribe() <-chan models.StreamEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch := make(chan models.StreamEvent, subscriberBuffer)
	if a.finished {
		if a.terminal != nil {
			ch <- *a.terminal
		}
		close(ch)
		return ch
	}
	a.subscribers = append(a.subscribers, ch)
	return ch
}

// Write appends a delta to the assembled text and emits a stream event.
// The first non-empty delta is flagged IsFirstToken exactly once.
func (a *Assembler) Write(delta string) {
	if delta == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return
	}

	a.buf.WriteString(delta)

	event := models.StreamEvent{
		Timestamp: time.Now(),
		Delta:     delta,
	}
	if !a.firstEmitted {
		a.firstEmitted = true
		a.firstToken = event.Timestamp
		event.IsFirstToken = true
	}

	for _, ch := range a.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is not keeping up; drop the delta.
		}
	}
}

// Finish emits the terminal event carrying the final status and result,
// then closes all subscriber channels. The event is retained for late
// subscribers and the delta buffer is released. Safe to call once;
// later calls are no-ops.
func (a *Assembler) Finish(status models.TaskStatus, result *models.TaskResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return
	}
	a.finished = true
	a.buf.Reset()

	event := models.StreamEvent{
		Timestamp: time.Now(),
		Terminal:  true,
		Status:    status,
		Result:    result,
	}
	a.terminal = &event
	for _, ch := range a.subscribers {
		select {
		case ch <- event:
		default:
			// Buffer full: evict the oldest delta so the terminal
			// event always fits. Never block the finishing flow.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
		close(ch)
	}
	a.subscribers = nil
}

// Text returns the assembled text so far. After Finish it returns ""
// because the buffer is released; the final text lives on the terminal
// event's result.
func (a *Assembler) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}

// FirstTokenLatency returns the time from assembler creation to the
// first delta, or zero if nothing has been written yet.
func (a *Assembler) FirstTokenLatency() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.firstEmitted {
		return 0
	}
	return a.firstToken.Sub(a.startedAt)
}

// TaskID returns the task this assembler belongs to.
func (a *Assembler) TaskID() string {
	return a.taskID
}
