package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/jordanhubbard/spindle/pkg/models"
)

// Pipeline runs exactly one execution plan for an external change
// request. A step failure halts the plan and surfaces the partial plan
// as the task result.
type Pipeline struct{}

// Kind implements Flow.
func (f *Pipeline) Kind() models.FlowKind { return models.FlowPipeline }

// Run implements Flow.
func (f *Pipeline) Run(ctx context.Context, task *models.Task, env *Env) (*models.TaskResult, error) {
	plan, err := obtainPlan(ctx, task, env, task.Content)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return newResult(env, models.FlowPipeline, "nothing to do"), nil
	}

	if err := executePlan(ctx, plan, env); err != nil {
		res := newResult(env, models.FlowPipeline, renderPlan(plan))
		res.Plan = plan
		res.Error = err.Error()
		return res, err
	}

	text := renderPlan(plan)
	env.write(text)
	res := newResult(env, models.FlowPipeline, text)
	res.Plan = plan
	return res, nil
}

// Campaign loops plan-and-execute rounds against a standing goal,
// re-planning between rounds with the prior rounds' outcomes, up to
// Config.MaxCampaignRounds.
type Campaign struct{}

// Kind implements Flow.
func (f *Campaign) Kind() models.FlowKind { return models.FlowCampaign }

// Run implements Flow.
func (f *Campaign) Run(ctx context.Context, task *models.Task, env *Env) (*models.TaskResult, error) {
	maxRounds := env.Config.MaxCampaignRounds
	if maxRounds < 1 {
		maxRounds = 3
	}

	var history strings.Builder
	var lastPlan *models.ExecutionPlan
	for round := 1; round <= maxRounds; round++ {
		if cancelled(ctx) {
			return nil, ctx.Err()
		}

		goal := task.Content
		if history.Len() > 0 {
			goal = fmt.Sprintf("%s\n\nCompleted so far:\n%s", task.Content, history.String())
		}

		env.logf("campaign round %d/%d: planning", round, maxRounds)
		plan, err := obtainPlan(ctx, task, env, goal)
		if err != nil {
			return nil, err
		}
		if plan == nil || len(plan.Steps) == 0 {
			env.logf("campaign round %d: planner reports goal complete", round)
			break
		}
		// The caller-supplied plan only seeds the first round;
		// later rounds must re-plan.
		env.dropContext(task, TaskContextPlan)

		lastPlan = plan
		if err := executePlan(ctx, plan, env); err != nil {
			res := newResult(env, models.FlowCampaign, renderPlan(plan))
			res.Plan = plan
			res.Error = err.Error()
			return res, err
		}

		fmt.Fprintf(&history, "Round %d:\n%s\n", round, renderPlan(plan))
	}

	text := history.String()
	if text == "" {
		text = "nothing to do"
	}
	env.write(text)
	res := newResult(env, models.FlowCampaign, text)
	res.Plan = lastPlan
	return res, nil
}
