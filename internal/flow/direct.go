package flow

import (
	"context"
	"fmt"

	"github.com/jordanhubbard/spindle/internal/worker"
	"github.com/jordanhubbard/spindle/pkg/models"
)

// Direct answers a task with a single step: a cached answer, one skill
// execution, or one streamed generation call.
type Direct struct{}

// Kind implements Flow.
func (f *Direct) Kind() models.FlowKind { return models.FlowDirect }

// Run implements Flow.
func (f *Direct) Run(ctx context.Context, task *models.Task, env *Env) (*models.TaskResult, error) {
	if env.Gate != nil && env.Gate.CacheHit != nil {
		env.logf("reusing cached answer (fingerprint %s)", env.Gate.CacheHit.Fingerprint)
		env.write(env.Gate.CacheHit.Text)
		res := newResult(env, models.FlowDirect, env.Gate.CacheHit.Text)
		res.Cached = true
		return res, nil
	}

	if env.Gate != nil && env.Gate.ToolMissing {
		// Explicit capability-unavailable result rather than a
		// generic failure; the caller can see exactly what was
		// needed.
		msg := fmt.Sprintf("capability unavailable: %s", env.Gate.ToolHint)
		env.logf("%s", msg)
		env.write(msg)
		return newResult(env, models.FlowDirect, msg), nil
	}

	if env.Gate != nil && env.Gate.NeedsTool && env.Skills != nil && env.Skills.Has(env.Gate.ToolHint) {
		env.logf("executing skill %q", env.Gate.ToolHint)
		out, err := env.Skills.Execute(ctx, env.Gate.ToolHint, task.Context)
		if err != nil {
			return nil, fmt.Errorf("skill %q failed: %w", env.Gate.ToolHint, err)
		}
		env.write(out)
		return newResult(env, models.FlowDirect, out), nil
	}

	prompt := task.Content
	resp, err := invokeWithRetry(ctx, env, &worker.Request{
		Role:    "generalist",
		Prompt:  prompt,
		Context: recallContext(env, prompt),
	}, env.write)
	if err != nil {
		return nil, err
	}
	return newResult(env, models.FlowDirect, resp.Text), nil
}
