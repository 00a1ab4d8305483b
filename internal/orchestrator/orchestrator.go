// Package orchestrator is the façade composing the decision gate, the
// flow router, the flow implementations, the lessons manager, and the
// queue manager. It holds no flow-specific branching of its own: each
// task is classified, routed, and handed to one flow behind the common
// Flow interface.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jordanhubbard/spindle/internal/cache"
	"github.com/jordanhubbard/spindle/internal/events"
	"github.com/jordanhubbard/spindle/internal/flow"
	"github.com/jordanhubbard/spindle/internal/gate"
	"github.com/jordanhubbard/spindle/internal/knowledge"
	"github.com/jordanhubbard/spindle/internal/lessons"
	"github.com/jordanhubbard/spindle/internal/metrics"
	"github.com/jordanhubbard/spindle/internal/queue"
	"github.com/jordanhubbard/spindle/internal/router"
	"github.com/jordanhubbard/spindle/internal/skills"
	"github.com/jordanhubbard/spindle/internal/stream"
	"github.com/jordanhubbard/spindle/internal/worker"
	"github.com/jordanhubbard/spindle/pkg/config"
	"github.com/jordanhubbard/spindle/pkg/models"
)

// ErrStreamUnknownTask marks a stream subscription for a task id the
// orchestrator has never seen.
var ErrStreamUnknownTask = errors.New("no stream for task")

// Orchestrator wires the components together and runs admitted tasks.
type Orchestrator struct {
	cfg       *config.Config
	queue     *queue.Manager
	gate      *gate.Gate
	router    *router.Router
	workers   *worker.Registry
	skills    *skills.Registry
	knowledge knowledge.Base
	lessons   *lessons.Manager
	cache     cache.Backend
	bus       *events.Bus
	metrics   *metrics.Metrics

	mu      sync.Mutex
	streams map[string]*stream.Assembler
}

// Deps bundles the collaborators the orchestrator composes.
type Deps struct {
	Config    *config.Config
	Queue     *queue.Manager
	Gate      *gate.Gate
	Router    *router.Router
	Workers   *worker.Registry
	Skills    *skills.Registry
	Knowledge knowledge.Base
	Lessons   *lessons.Manager
	Cache     cache.Backend
	Bus       *events.Bus
	Metrics   *metrics.Metrics
}

// New creates the orchestrator. Call Start to begin dispatching.
func New(deps Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:       deps.Config,
		queue:     deps.Queue,
		gate:      deps.Gate,
		router:    deps.Router,
		workers:   deps.Workers,
		skills:    deps.Skills,
		knowledge: deps.Knowledge,
		lessons:   deps.Lessons,
		cache:     deps.Cache,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		streams:   make(map[string]*stream.Assembler),
	}
	if o.bus == nil {
		o.bus = events.NewBus()
	}
	return o
}

// Start launches the queue dispatcher with this orchestrator as the
// runner.
func (o *Orchestrator) Start() {
	o.queue.Start(o.execute)
	log.Printf("[Orchestrator] Started")
}

// Stop halts dispatch. Running flows finish or get cancelled by the
// caller via EmergencyStop.
func (o *Orchestrator) Stop() {
	o.queue.Stop()
	log.Printf("[Orchestrator] Stopped")
}

// ApplyConfig applies the reloadable sections of a fresh configuration:
// flow bounds (which also rebuild the routing table), cache TTL, and
// the queue's admission limits. Everything else requires a restart.
func (o *Orchestrator) ApplyConfig(cfg *config.Config) {
	o.queue.UpdateConfig(cfg.Queue)

	o.mu.Lock()
	o.cfg = cfg
	o.router = router.New(cfg.Flows)
	o.mu.Unlock()

	log.Printf("[Orchestrator] Applied reloaded configuration")
}

// Submit admits a task. The task id is usable immediately for status
// and stream subscriptions; rejections are synchronous.
func (o *Orchestrator) Submit(task *models.Task) (string, error) {
	if err := o.queue.Submit(task); err != nil {
		if o.metrics != nil {
			o.metrics.TasksRejected.WithLabelValues(err.Error()).Inc()
		}
		return "", err
	}

	o.mu.Lock()
	o.streams[task.ID] = stream.NewAssembler(task.ID)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.TasksSubmitted.Inc()
	}
	o.bus.Publish(events.Event{Type: events.TypeTaskSubmitted, TaskID: task.ID})
	return task.ID, nil
}

// Subscribe returns the task's stream of progress events. The stream
// culminates in a terminal event carrying the final result and status.
func (o *Orchestrator) Subscribe(taskID string) (<-chan models.StreamEvent, error) {
	o.mu.Lock()
	asm, ok := o.streams[taskID]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamUnknownTask, taskID)
	}
	return asm.Subscribe(), nil
}

// Task returns a copy of the task record safe for concurrent readers.
func (o *Orchestrator) Task(taskID string) (models.Task, bool) {
	return o.queue.Snapshot(taskID)
}

// Status returns the queue state snapshot.
func (o *Orchestrator) Status() models.QueueState {
	state := o.queue.Status()
	if o.metrics != nil {
		o.metrics.QueuePending.Set(float64(state.PendingCount))
		o.metrics.QueueActive.Set(float64(state.ActiveCount))
		if state.Paused {
			o.metrics.QueuePaused.Set(1)
		} else {
			o.metrics.QueuePaused.Set(0)
		}
	}
	return state
}

// Pause blocks new admissions.
func (o *Orchestrator) Pause() {
	o.queue.Pause()
	o.bus.Publish(events.Event{Type: events.TypeQueuePaused})
}

// Resume re-enables admissions.
func (o *Orchestrator) Resume() {
	o.queue.Resume()
	o.bus.Publish(events.Event{Type: events.TypeQueueResumed})
}

// Purge aborts all queued tasks, returning the count removed.
func (o *Orchestrator) Purge() int {
	count := o.queue.Purge()
	o.bus.Publish(events.Event{Type: events.TypeQueuePurged, Detail: fmt.Sprintf("%d tasks purged", count)})
	return count
}

// Abort cancels one task, idempotent on terminal tasks.
func (o *Orchestrator) Abort(taskID string) error {
	return o.queue.Abort(taskID)
}

// EmergencyStop aborts every non-terminal task and pauses the queue.
func (o *Orchestrator) EmergencyStop() int {
	count := o.queue.EmergencyStop()
	o.bus.Publish(events.Event{Type: events.TypeEmergencyStop, Detail: fmt.Sprintf("%d tasks affected", count)})
	return count
}

// execute runs one admitted task: classify, route, run the selected
// flow, then record the outcome as a lesson and populate the answer
// cache. Called by the queue with a cancellable per-task context.
func (o *Orchestrator) execute(ctx context.Context, task *models.Task) (*models.TaskResult, error) {
	start := time.Now()
	asm := o.assembler(task.ID)
	o.bus.Publish(events.Event{Type: events.TypeTaskStarted, TaskID: task.ID})

	o.mu.Lock()
	rt := o.router
	flowsCfg := o.cfg.Flows
	o.mu.Unlock()

	gr := o.gate.Classify(ctx, task)
	if o.metrics != nil && o.cache != nil {
		if gr.CacheHit != nil {
			o.metrics.CacheHits.Inc()
		} else {
			o.metrics.CacheMisses.Inc()
		}
	}

	kind := rt.Route(task, gr)
	o.queue.AppendFlow(task.ID, string(kind))
	o.queue.AppendLog(task.ID, "routed to %s flow", kind)

	impl, err := flow.ForKind(kind)
	if err != nil {
		o.finish(asm, task, kind, nil, err, gr, start)
		return nil, err
	}

	env := &flow.Env{
		Workers:   o.workers,
		Skills:    o.skills,
		Knowledge: o.knowledge,
		Stream:    asm,
		Gate:      gr,
		Config:    flowsCfg,
		Log: func(format string, args ...interface{}) {
			o.queue.AppendLog(task.ID, format, args...)
		},
		MarkRepairing: func(awaiting bool) {
			o.queue.SetRepairing(task.ID, awaiting)
		},
		DropContext: func(key string) {
			o.queue.DropContext(task.ID, key)
		},
	}

	result, err := impl.Run(ctx, task, env)
	o.finish(asm, task, kind, result, err, gr, start)
	return result, err
}

// finish records the lesson, populates the cache, emits the terminal
// stream event, and publishes the lifecycle event. Lesson writes are
// fire-and-forget; a persistence failure never fails the task.
func (o *Orchestrator) finish(asm *stream.Assembler, task *models.Task, kind models.FlowKind, result *models.TaskResult, err error, gr *gate.Result, start time.Time) {
	elapsed := time.Since(start)
	if o.metrics != nil {
		o.metrics.TaskFlowDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
		if lat := asm.FirstTokenLatency(); lat > 0 {
			o.metrics.FirstTokenLatency.Observe(lat.Seconds())
		}
	}

	var status models.TaskStatus
	var outcome models.LessonOutcome
	var eventType events.Type
	switch {
	case errors.Is(err, context.Canceled):
		status = models.TaskStatusAborted
		outcome = models.LessonOutcomeRejected
		eventType = events.TypeTaskAborted
	case err != nil:
		status = models.TaskStatusFailed
		outcome = models.LessonOutcomeFailure
		eventType = events.TypeTaskFailed
	default:
		status = models.TaskStatusCompleted
		outcome = models.LessonOutcomeSuccess
		eventType = events.TypeTaskCompleted
	}

	if o.lessons != nil && gr != nil {
		o.lessons.Record(gr.Fingerprint, string(kind), outcome, lessons.RecordMeta{
			LatencyMs: elapsed.Milliseconds(),
		})
		if o.metrics != nil {
			o.metrics.LessonsRecorded.WithLabelValues(string(outcome)).Inc()
		}
	}

	// Successful, non-cached answers become cache entries so a
	// confirmed repeat of the same request is answered without a
	// backend call.
	if status == models.TaskStatusCompleted && result != nil && !result.Cached && o.cache != nil && gr != nil {
		o.mu.Lock()
		ttl := o.cfg.Cache.DefaultTTL
		o.mu.Unlock()
		entry := &cache.Entry{
			Fingerprint: gr.Fingerprint,
			Answer:      result.Text,
			Flow:        kind,
		}
		if cerr := o.cache.Set(context.Background(), entry, ttl); cerr != nil {
			log.Printf("[Orchestrator] Failed to cache answer for task %s: %v", task.ID, cerr)
		}
	}

	if result != nil && asm.FirstTokenLatency() > 0 {
		result.FirstTokenMs = asm.FirstTokenLatency().Milliseconds()
	}
	asm.Finish(status, result)
	if o.metrics != nil {
		o.metrics.TasksTerminal.WithLabelValues(string(status), string(kind)).Inc()
	}
	o.bus.Publish(events.Event{Type: eventType, TaskID: task.ID, Flow: kind})
}

func (o *Orchestrator) assembler(taskID string) *stream.Assembler {
	o.mu.Lock()
	defer o.mu.Unlock()
	asm, ok := o.streams[taskID]
	if !ok {
		asm = stream.NewAssembler(taskID)
		o.streams[taskID] = asm
	}
	return asm
}
