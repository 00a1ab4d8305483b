package models

import "time"

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusQueued         TaskStatus = "queued"
	TaskStatusRunning        TaskStatus = "running"
	TaskStatusAwaitingRepair TaskStatus = "awaiting_repair"
	TaskStatusCompleted      TaskStatus = "completed"
	TaskStatusFailed         TaskStatus = "failed"
	TaskStatusAborted        TaskStatus = "aborted"
)

// IsTerminal reports whether the status is a terminal state.
// Terminal tasks accept no further mutation.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusAborted:
		return true
	}
	return false
}

// CanTransition reports whether a status transition is legal.
// queued -> running -> {completed|failed|aborted}, with
// running <-> awaiting_repair for repair-capable flows, and
// aborted reachable from queued or running only.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	switch s {
	case TaskStatusQueued:
		return to == TaskStatusRunning || to == TaskStatusAborted
	case TaskStatusRunning:
		switch to {
		case TaskStatusCompleted, TaskStatusFailed, TaskStatusAborted, TaskStatusAwaitingRepair:
			return true
		}
	case TaskStatusAwaitingRepair:
		return to == TaskStatusRunning || to == TaskStatusAborted || to == TaskStatusFailed
	}
	return false
}

// LogEntry is a single timestamped line in a task's append-only log
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// TaskResult holds the final outcome of a task. Nil until the task
// reaches a terminal status.
type TaskResult struct {
	Text         string         `json:"text"`
	Flow         FlowKind       `json:"flow"`
	Cached       bool           `json:"cached,omitempty"`
	FirstTokenMs int64          `json:"first_token_ms,omitempty"`
	Plan         *ExecutionPlan `json:"plan,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Task is the unit of work flowing through the orchestrator.
// Lifecycle fields (Status, timestamps) are owned by the queue manager;
// flows only append logs and set the result through the orchestrator.
type Task struct {
	ID          string            `json:"id"`
	Content     string            `json:"content"`
	Attachments []string          `json:"attachments,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	FlowHint    string            `json:"flow_hint,omitempty"`
	Priority    int               `json:"priority,omitempty"`
	Status      TaskStatus        `json:"status"`
	Logs        []LogEntry        `json:"logs,omitempty"`
	Result      *TaskResult       `json:"result,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
	FlowHistory []string          `json:"flow_history,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// FlowKind identifies an execution strategy
type FlowKind string

const (
	FlowDirect      FlowKind = "direct"
	FlowSelfReview  FlowKind = "self_review"
	FlowConsensus   FlowKind = "consensus"
	FlowCampaign    FlowKind = "campaign"
	FlowPipeline    FlowKind = "pipeline"
	FlowSelfHealing FlowKind = "self_healing"
)

// QueueState is a snapshot of the queue manager's shared state
type QueueState struct {
	Paused           bool     `json:"paused"`
	ActiveCount      int      `json:"active_count"`
	PendingCount     int      `json:"pending_count"`
	ConcurrencyLimit int      `json:"concurrency_limit"`
	AbortedIDs       []string `json:"aborted_ids,omitempty"`
}

// StreamEvent is a transient unit of streamed progress. Only the final
// assembled text and first-token latency are retained on the task.
type StreamEvent struct {
	Timestamp    time.Time   `json:"timestamp"`
	Delta        string      `json:"delta,omitempty"`
	IsFirstToken bool        `json:"is_first_token,omitempty"`
	Terminal     bool        `json:"terminal,omitempty"`
	Status       TaskStatus  `json:"status,omitempty"`
	Result       *TaskResult `json:"result,omitempty"`
}
