// Package queue owns the concurrency-bounded execution slots, the
// admission controls, and the pause/resume/purge/abort/emergency-stop
// surface. It is the only writer of task status and of the shared
// QueueState.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/spindle/pkg/config"
	"github.com/jordanhubbard/spindle/pkg/models"
)

// Admission rejections. Recoverable: the caller retries later.
var (
	ErrQueuePaused = errors.New("queue paused")
	ErrBacklogFull = errors.New("backlog full")
	ErrUnknownTask = errors.New("unknown task")
)

// Runner executes one admitted task's flow and returns its result.
// The queue cancels the context on abort; runners must treat a
// cancelled context as a request to stop at the next suspension point.
type Runner func(ctx context.Context, task *models.Task) (*models.TaskResult, error)

// Manager schedules queued tasks into bounded execution slots.
type Manager struct {
	mu      sync.Mutex
	cfg     config.QueueConfig
	state   *models.QueueState
	tasks   map[string]*models.Task
	pending []*models.Task
	cancels map[string]context.CancelFunc
	done    map[string]chan struct{}
	aborted map[string]bool

	slots  chan struct{}
	wake   chan struct{}
	stop   chan struct{}
	runner Runner

	stopOnce sync.Once
}

// NewManager creates a queue manager around the single shared
// QueueState instance. The dispatcher does not run until Start.
func NewManager(cfg config.QueueConfig, state *models.QueueState) *Manager {
	if cfg.ConcurrencyLimit < 1 {
		cfg.ConcurrencyLimit = 4
	}
	if cfg.BacklogCeiling < 1 {
		cfg.BacklogCeiling = 256
	}
	if cfg.DispatchPoll <= 0 {
		cfg.DispatchPoll = 100 * time.Millisecond
	}
	if cfg.AbortTimeout <= 0 {
		cfg.AbortTimeout = 5 * time.Second
	}
	if state == nil {
		state = &models.QueueState{}
	}
	state.ConcurrencyLimit = cfg.ConcurrencyLimit

	return &Manager{
		cfg:     cfg,
		state:   state,
		tasks:   make(map[string]*models.Task),
		cancels: make(map[string]context.CancelFunc),
		done:    make(map[string]chan struct{}),
		aborted: make(map[string]bool),
		slots:   make(chan struct{}, cfg.ConcurrencyLimit),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Start launches the background dispatcher with the given runner.
func (m *Manager) Start(runner Runner) {
	m.runner = runner
	go m.dispatch()
	log.Printf("[Queue] Dispatcher started (concurrency limit %d, backlog ceiling %d)",
		m.cfg.ConcurrencyLimit, m.cfg.BacklogCeiling)
}

// Stop shuts down the dispatcher. Running tasks are left to finish.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// UpdateConfig applies the reloadable queue settings: backlog ceiling,
// abort timeout, and backend timeout. The concurrency limit sizes the
// slot channel at construction and requires a restart; a changed value
// is logged and ignored.
func (m *Manager) UpdateConfig(cfg config.QueueConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.ConcurrencyLimit >= 1 && cfg.ConcurrencyLimit != m.cfg.ConcurrencyLimit {
		log.Printf("[Queue] concurrency_limit change (%d -> %d) requires restart; keeping %d",
			m.cfg.ConcurrencyLimit, cfg.ConcurrencyLimit, m.cfg.ConcurrencyLimit)
	}
	if cfg.BacklogCeiling >= 1 {
		m.cfg.BacklogCeiling = cfg.BacklogCeiling
	}
	if cfg.AbortTimeout > 0 {
		m.cfg.AbortTimeout = cfg.AbortTimeout
	}
	if cfg.BackendTimeout > 0 {
		m.cfg.BackendTimeout = cfg.BackendTimeout
	}
	log.Printf("[Queue] Applied reloaded settings (backlog ceiling %d)", m.cfg.BacklogCeiling)
}

// Submit admits a task. Rejections are synchronous and immediate.
func (m *Manager) Submit(task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Paused {
		return ErrQueuePaused
	}
	if len(m.pending) >= m.cfg.BacklogCeiling {
		return ErrBacklogFull
	}

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Context == nil {
		task.Context = make(map[string]string)
	}
	now := time.Now()
	task.Status = models.TaskStatusQueued
	task.CreatedAt = now
	task.UpdatedAt = now

	m.tasks[task.ID] = task
	m.pending = append(m.pending, task)
	m.state.PendingCount = len(m.pending)
	m.appendLogLocked(task, "task queued")

	m.kick()
	return nil
}

// Pause blocks new admissions. Running tasks are unaffected.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Paused = true
	log.Printf("[Queue] Paused")
}

// Resume re-enables admissions and dispatch.
func (m *Manager) Resume() {
	m.mu.Lock()
	m.state.Paused = false
	m.mu.Unlock()
	log.Printf("[Queue] Resumed")
	m.kick()
}

// Purge aborts every currently queued task with reason "purged" and
// returns the count removed. Running tasks are untouched.
func (m *Manager) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := len(m.pending)
	for _, task := range m.pending {
		m.transitionLocked(task, models.TaskStatusAborted)
		m.aborted[task.ID] = true
		m.appendLogLocked(task, "aborted: purged")
	}
	m.pending = m.pending[:0]
	m.state.PendingCount = 0
	m.state.AbortedIDs = m.abortedIDsLocked()
	log.Printf("[Queue] Purged %d queued tasks", count)
	return count
}

// Abort cancels one task. Queued tasks are removed immediately;
// running tasks get a cooperative cancellation signal and are marked
// aborted once the flow acknowledges. Idempotent on terminal tasks.
func (m *Manager) Abort(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.abortLocked(taskID)
}

func (m *Manager) abortLocked(taskID string) error {
	task, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if task.Status.IsTerminal() {
		return nil
	}

	switch task.Status {
	case models.TaskStatusQueued:
		m.removePendingLocked(taskID)
		m.transitionLocked(task, models.TaskStatusAborted)
		m.appendLogLocked(task, "aborted while queued")
	default:
		// Cooperative: the flow observes the cancelled context at its
		// next suspension point and the runner marks the task aborted.
		if cancel, ok := m.cancels[taskID]; ok {
			cancel()
		}
		m.appendLogLocked(task, "cancellation requested")
	}
	m.aborted[taskID] = true
	m.state.AbortedIDs = m.abortedIDsLocked()
	return nil
}

// EmergencyStop aborts every non-terminal task and pauses the queue.
// Best-effort: a running task that does not acknowledge within the
// abort timeout is force-marked aborted and the failure is logged.
// Returns the number of tasks affected.
func (m *Manager) EmergencyStop() int {
	log.Printf("[Queue] EMERGENCY STOP requested")
	m.Pause()

	m.mu.Lock()
	var waiting []string
	affected := 0
	for id, task := range m.tasks {
		if task.Status.IsTerminal() {
			continue
		}
		affected++
		if task.Status == models.TaskStatusQueued {
			m.abortLocked(id)
			continue
		}
		m.abortLocked(id)
		waiting = append(waiting, id)
	}
	m.mu.Unlock()

	for _, id := range waiting {
		m.mu.Lock()
		done := m.done[id]
		m.mu.Unlock()
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-time.After(m.cfg.AbortTimeout):
			log.Printf("[Queue] Task %s did not acknowledge abort within %v, force-marking aborted", id, m.cfg.AbortTimeout)
			m.mu.Lock()
			if task, ok := m.tasks[id]; ok && !task.Status.IsTerminal() {
				m.transitionLocked(task, models.TaskStatusAborted)
				m.appendLogLocked(task, "aborted: emergency stop (flow unresponsive)")
			}
			m.mu.Unlock()
		}
	}

	log.Printf("[Queue] Emergency stop complete, %d tasks affected", affected)
	return affected
}

// Status returns a snapshot of the shared queue state.
func (m *Manager) Status() models.QueueState {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := *m.state
	snap.AbortedIDs = append([]string(nil), m.state.AbortedIDs...)
	return snap
}

// Task returns the live task record for an id.
func (m *Manager) Task(taskID string) (*models.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	return task, ok
}

// Snapshot returns a copy of the task safe for concurrent readers.
func (m *Manager) Snapshot(taskID string) (models.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return models.Task{}, false
	}
	snap := *task
	snap.Logs = append([]models.LogEntry(nil), task.Logs...)
	snap.FlowHistory = append([]string(nil), task.FlowHistory...)
	if task.Context != nil {
		snap.Context = make(map[string]string, len(task.Context))
		for k, v := range task.Context {
			snap.Context[k] = v
		}
	}
	return snap, true
}

// AppendLog funnels a log line into the task's ordered log. All
// appends go through the manager's lock, keeping a single writer per
// task log.
func (m *Manager) AppendLog(taskID, format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.tasks[taskID]; ok {
		m.appendLogLocked(task, format, args...)
	}
}

// AppendFlow records a routing decision on the task's flow history.
// Like log appends, history writes go through the manager's lock so
// snapshots never race with a running flow.
func (m *Manager) AppendFlow(taskID, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.tasks[taskID]; ok {
		task.FlowHistory = append(task.FlowHistory, kind)
	}
}

// DropContext removes one key from the task's context map under the
// manager's lock. Flows must not mutate the map directly; snapshots
// read it concurrently.
func (m *Manager) DropContext(taskID, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.tasks[taskID]; ok {
		delete(task.Context, key)
	}
}

// SetRepairing toggles a running task into awaiting_repair and back.
// Used by the self-review and self-healing flows between cycles.
func (m *Manager) SetRepairing(taskID string, awaiting bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok || task.Status.IsTerminal() {
		return
	}
	if awaiting {
		m.transitionLocked(task, models.TaskStatusAwaitingRepair)
	} else if task.Status == models.TaskStatusAwaitingRepair {
		m.transitionLocked(task, models.TaskStatusRunning)
	}
}

// dispatch is the background loop moving queued tasks into free slots.
func (m *Manager) dispatch() {
	ticker := time.NewTicker(m.cfg.DispatchPoll)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-m.wake:
		case <-ticker.C:
		}
		m.drain()
	}
}

// drain admits queued tasks while slots are free and the queue is not
// paused.
func (m *Manager) drain() {
	for {
		select {
		case m.slots <- struct{}{}:
		default:
			return
		}

		m.mu.Lock()
		if m.state.Paused || len(m.pending) == 0 {
			m.mu.Unlock()
			<-m.slots
			return
		}

		task := m.popNextLocked()
		m.transitionLocked(task, models.TaskStatusRunning)
		m.appendLogLocked(task, "task started")

		ctx, cancel := context.WithCancel(context.Background())
		m.cancels[task.ID] = cancel
		m.done[task.ID] = make(chan struct{})
		m.mu.Unlock()

		go m.run(ctx, cancel, task)
	}
}

// popNextLocked picks the next task: highest priority hint first,
// submission order among equals. Never called with an empty backlog.
func (m *Manager) popNextLocked() *models.Task {
	best := 0
	for i, task := range m.pending {
		if task.Priority > m.pending[best].Priority {
			best = i
		}
	}
	task := m.pending[best]
	m.pending = append(m.pending[:best], m.pending[best+1:]...)
	m.state.PendingCount = len(m.pending)
	return task
}

// run executes one admitted task and applies its terminal transition.
func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, task *models.Task) {
	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.cancels, task.ID)
		if done, ok := m.done[task.ID]; ok {
			close(done)
			delete(m.done, task.ID)
		}
		m.mu.Unlock()
		<-m.slots
		m.kick()
	}()

	result, err := m.runner(ctx, task)

	m.mu.Lock()
	defer m.mu.Unlock()
	if task.Status.IsTerminal() {
		// Force-marked during emergency stop while the flow was still
		// unwinding; keep the terminal state.
		return
	}
	if result != nil {
		task.Result = result
	}

	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		m.transitionLocked(task, models.TaskStatusAborted)
		m.appendLogLocked(task, "aborted: cancellation requested")
	case err != nil:
		m.transitionLocked(task, models.TaskStatusFailed)
		m.appendLogLocked(task, "failed: %v", err)
	default:
		m.transitionLocked(task, models.TaskStatusCompleted)
		m.appendLogLocked(task, "completed")
	}
}

// transitionLocked applies a status transition, enforcing the task
// state machine. Illegal transitions are logged and dropped.
func (m *Manager) transitionLocked(task *models.Task, to models.TaskStatus) {
	if !task.Status.CanTransition(to) {
		log.Printf("[Queue] Illegal transition %s -> %s for task %s, ignored", task.Status, to, task.ID)
		return
	}
	from := task.Status
	task.Status = to
	task.UpdatedAt = time.Now()
	m.recountLocked(from, to)
}

func (m *Manager) recountLocked(from, to models.TaskStatus) {
	active := func(s models.TaskStatus) bool {
		return s == models.TaskStatusRunning || s == models.TaskStatusAwaitingRepair
	}
	switch {
	case !active(from) && active(to):
		m.state.ActiveCount++
	case active(from) && !active(to):
		m.state.ActiveCount--
	}
}

func (m *Manager) appendLogLocked(task *models.Task, format string, args ...interface{}) {
	task.Logs = append(task.Logs, models.LogEntry{
		Timestamp: time.Now(),
		Message:   fmt.Sprintf(format, args...),
	})
}

func (m *Manager) removePendingLocked(taskID string) {
	for i, task := range m.pending {
		if task.ID == taskID {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
	m.state.PendingCount = len(m.pending)
}

func (m *Manager) abortedIDsLocked() []string {
	ids := make([]string, 0, len(m.aborted))
	for id := range m.aborted {
		ids = append(ids, id)
	}
	return ids
}

// kick nudges the dispatcher without blocking.
func (m *Manager) kick() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
