package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jordanhubbard/spindle/internal/worker"
	"github.com/jordanhubbard/spindle/pkg/models"
)

// TaskContextPlan is the task context key holding a caller-supplied
// ExecutionPlan as JSON. When absent, plan flows ask the planner role.
const TaskContextPlan = "plan"

// parsePlan decodes an ExecutionPlan from text, tolerating a JSON
// payload wrapped in a markdown code fence.
func parsePlan(text string) (*models.ExecutionPlan, error) {
	payload := strings.TrimSpace(text)
	if i := strings.Index(payload, "```"); i >= 0 {
		payload = payload[i+3:]
		payload = strings.TrimPrefix(payload, "json")
		if j := strings.Index(payload, "```"); j >= 0 {
			payload = payload[:j]
		}
		payload = strings.TrimSpace(payload)
	}

	var plan models.ExecutionPlan
	if err := json.Unmarshal([]byte(payload), &plan); err != nil {
		return nil, fmt.Errorf("failed to parse execution plan: %w", err)
	}
	return &plan, nil
}

// obtainPlan returns the caller-supplied plan from task context, or
// generates one via the planner role.
func obtainPlan(ctx context.Context, task *models.Task, env *Env, goal string) (*models.ExecutionPlan, error) {
	if raw, ok := task.Context[TaskContextPlan]; ok && raw != "" {
		return parsePlan(raw)
	}

	resp, err := invokeWithRetry(ctx, env, &worker.Request{
		Role: "planner",
		Prompt: fmt.Sprintf("Produce an execution plan for the following goal as JSON with fields "+
			`{"goal": string, "steps": [{"number": int, "role": string, "instruction": string, "depends_on": int|null}]}. `+
			"Reply COMPLETE instead if nothing remains to do.\n\nGoal:\n%s", goal),
	}, nil)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(resp.Text)), "COMPLETE") {
		return nil, nil
	}
	return parsePlan(resp.Text)
}

// executePlan runs a validated plan in ascending step order, halting on
// the first step failure with no speculative continuation. Completed
// step results are left on the plan so callers can surface the partial
// outcome. The returned error identifies the failing step.
func executePlan(ctx context.Context, plan *models.ExecutionPlan, env *Env) error {
	// Dependency violations are fatal before any step runs.
	if err := plan.Validate(); err != nil {
		return err
	}

	order := make([]*models.ExecutionStep, len(plan.Steps))
	for i := range plan.Steps {
		order[i] = &plan.Steps[i]
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Number < order[j].Number })

	for _, step := range order {
		if cancelled(ctx) {
			return ctx.Err()
		}

		stepCtx := ""
		if step.DependsOn != nil {
			dep := plan.Step(*step.DependsOn)
			if dep == nil || !dep.Completed {
				return fmt.Errorf("step %d depends on step %d which has no result", step.Number, *step.DependsOn)
			}
			stepCtx = fmt.Sprintf("Result of step %d:\n%s", dep.Number, dep.Result)
		}

		env.logf("executing plan step %d (role %s)", step.Number, step.Role)
		resp, err := invokeWithRetry(ctx, env, &worker.Request{
			Role:    step.Role,
			Prompt:  step.Instruction,
			Context: stepCtx,
		}, nil)
		if err != nil {
			env.logf("plan halted at step %d: %v", step.Number, err)
			return fmt.Errorf("plan step %d failed: %w", step.Number, err)
		}
		step.Result = resp.Text
		step.Completed = true
	}
	return nil
}

// renderPlan summarizes a (possibly partial) plan for the task result.
func renderPlan(plan *models.ExecutionPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s\n", plan.Goal)
	for _, step := range plan.Steps {
		status := "not run"
		if step.Completed {
			status = "done"
		}
		fmt.Fprintf(&b, "%d. [%s] %s (%s)\n", step.Number, step.Role, step.Instruction, status)
		if step.Result != "" {
			fmt.Fprintf(&b, "   %s\n", firstLine(step.Result))
		}
	}
	return b.String()
}
