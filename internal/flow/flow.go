// Package flow implements the bounded execution strategies a task can
// be routed to. Each flow is a small state machine over one or more
// backend calls. Flows never touch task status directly; they return
// a result or an error and the queue manager owns the transition.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jordanhubbard/spindle/internal/gate"
	"github.com/jordanhubbard/spindle/internal/knowledge"
	"github.com/jordanhubbard/spindle/internal/skills"
	"github.com/jordanhubbard/spindle/internal/stream"
	"github.com/jordanhubbard/spindle/internal/worker"
	"github.com/jordanhubbard/spindle/pkg/config"
	"github.com/jordanhubbard/spindle/pkg/models"
)

// ErrAllCandidatesFailed marks a consensus run where no candidate
// produced an answer.
var ErrAllCandidatesFailed = errors.New("all consensus candidates failed")

// ErrCapabilityUnavailable marks a required tool with no registered
// skill. Surfaced to the caller as an explicit result, not a generic
// failure.
var ErrCapabilityUnavailable = errors.New("capability unavailable")

// Env carries the collaborators a flow may use. Stream and Log are
// per-task; the rest are process-wide.
type Env struct {
	Workers   *worker.Registry
	Skills    *skills.Registry
	Knowledge knowledge.Base
	Stream    *stream.Assembler
	Gate      *gate.Result
	Config    config.FlowsConfig
	// Log funnels a formatted line into the task's append-only log.
	Log func(format string, args ...interface{})
	// MarkRepairing toggles the task between running and
	// awaiting_repair. Wired by the queue manager; only the
	// self-review and self-healing flows use it.
	MarkRepairing func(awaiting bool)
	// DropContext removes a key from the task's context map through
	// the queue manager's lock. Task snapshots read the map
	// concurrently, so flows must not delete from it directly.
	DropContext func(key string)
}

func (e *Env) markRepairing(awaiting bool) {
	if e.MarkRepairing != nil {
		e.MarkRepairing(awaiting)
	}
}

func (e *Env) dropContext(task *models.Task, key string) {
	if e.DropContext != nil {
		e.DropContext(key)
		return
	}
	delete(task.Context, key)
}

func (e *Env) logf(format string, args ...interface{}) {
	if e.Log != nil {
		e.Log(format, args...)
	}
}

func (e *Env) write(delta string) {
	if e.Stream != nil {
		e.Stream.Write(delta)
	}
}

// Flow is a bounded execution strategy for one task.
type Flow interface {
	Kind() models.FlowKind
	Run(ctx context.Context, task *models.Task, env *Env) (*models.TaskResult, error)
}

// ForKind returns the flow implementation for a kind.
func ForKind(kind models.FlowKind) (Flow, error) {
	switch kind {
	case models.FlowDirect:
		return &Direct{}, nil
	case models.FlowSelfReview:
		return &SelfReview{}, nil
	case models.FlowConsensus:
		return &Consensus{}, nil
	case models.FlowCampaign:
		return &Campaign{}, nil
	case models.FlowPipeline:
		return &Pipeline{}, nil
	case models.FlowSelfHealing:
		return &SelfHealing{}, nil
	}
	return nil, fmt.Errorf("no flow implementation for kind %q", kind)
}

// invokeWithRetry runs a backend call under the flow retry policy:
// timeouts and backend errors are retried up to Config.BackendRetries
// additional attempts, with cancellation checked between attempts.
// The last error is preserved on exhaustion.
func invokeWithRetry(ctx context.Context, env *Env, req *worker.Request, onDelta func(string)) (*worker.Response, error) {
	attempts := env.Config.BackendRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := env.Workers.Invoke(ctx, req, onDelta)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, worker.ErrUnknownRole) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		log.Printf("[Flow] Backend call failed (role %s, attempt %d/%d): %v", req.Role, attempt, attempts, err)
		env.logf("backend call failed (role %s, attempt %d/%d): %v", req.Role, attempt, attempts, err)
	}
	return nil, fmt.Errorf("backend retries exhausted for role %q: %w", req.Role, lastErr)
}

// recallContext enriches a prompt with ranked knowledge snippets.
// Returns "" when no knowledge base is wired or nothing matches.
func recallContext(env *Env, query string) string {
	if env.Knowledge == nil {
		return ""
	}
	snippets := env.Knowledge.Recall(query, 3)
	if len(snippets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant knowledge:\n")
	for _, s := range snippets {
		b.WriteString("- ")
		b.WriteString(s.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// newResult stamps a result with the flow kind and first-token latency.
func newResult(env *Env, kind models.FlowKind, text string) *models.TaskResult {
	res := &models.TaskResult{Text: text, Flow: kind}
	if env.Stream != nil {
		if lat := env.Stream.FirstTokenLatency(); lat > 0 {
			res.FirstTokenMs = lat.Milliseconds()
		}
	}
	return res
}

// cancelled reports whether the task's cancellation flag is set.
// Checked at loop boundaries and before each backend call.
func cancelled(ctx context.Context) bool {
	return ctx.Err() != nil
}

// elapsedMs is a small helper for log lines.
func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
