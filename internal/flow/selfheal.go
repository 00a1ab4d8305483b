package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/jordanhubbard/spindle/internal/worker"
	"github.com/jordanhubbard/spindle/pkg/models"
)

// RunTestsSkill is the capability name the self-healing flow uses to
// execute the test suite. When it is not registered the flow falls
// back to the tester worker role.
const RunTestsSkill = "run_tests"

// SelfHealing drives a run_tests, diagnose, apply_fix cycle until the
// tests pass or Config.MaxRepairCycles is exhausted. Each diagnosis
// sees the full history of prior test output and fixes so the flow
// does not repeat an already-failed fix.
type SelfHealing struct{}

// Kind implements Flow.
func (f *SelfHealing) Kind() models.FlowKind { return models.FlowSelfHealing }

// Run implements Flow.
func (f *SelfHealing) Run(ctx context.Context, task *models.Task, env *Env) (*models.TaskResult, error) {
	maxCycles := env.Config.MaxRepairCycles
	if maxCycles < 1 {
		maxCycles = 3
	}

	var history strings.Builder
	var lastOutput string
	for cycle := 1; cycle <= maxCycles; cycle++ {
		if cancelled(ctx) {
			return nil, ctx.Err()
		}

		out, err := f.runTests(ctx, task, env)
		if err != nil {
			return nil, fmt.Errorf("test run failed: %w", err)
		}
		lastOutput = out

		if testsPassed(out) {
			env.markRepairing(false)
			env.logf("tests passed on cycle %d", cycle)
			text := fmt.Sprintf("tests passing after %d cycle(s)\n%s", cycle, out)
			env.write(text)
			return newResult(env, models.FlowSelfHealing, text), nil
		}

		env.logf("tests failing on cycle %d/%d: %s", cycle, maxCycles, firstLine(out))
		if cycle == maxCycles {
			break
		}
		env.markRepairing(true)

		fmt.Fprintf(&history, "--- cycle %d test output ---\n%s\n", cycle, out)

		diagnosis, err := invokeWithRetry(ctx, env, &worker.Request{
			Role:    "diagnostician",
			Prompt:  fmt.Sprintf("Tests are failing for: %s\nDiagnose the root cause. Do not repeat a fix that already failed.", task.Content),
			Context: history.String(),
		}, nil)
		if err != nil {
			return nil, err
		}

		if cancelled(ctx) {
			return nil, ctx.Err()
		}

		fix, err := invokeWithRetry(ctx, env, &worker.Request{
			Role:    "coder",
			Prompt:  fmt.Sprintf("Apply a fix for this diagnosis:\n%s", diagnosis.Text),
			Context: history.String(),
		}, nil)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&history, "--- cycle %d fix applied ---\n%s\n", cycle, fix.Text)
		env.markRepairing(false)
	}

	env.markRepairing(false)
	err := fmt.Errorf("repair cycles exhausted after %d attempts, tests still failing", maxCycles)
	res := newResult(env, models.FlowSelfHealing, lastOutput)
	res.Error = err.Error()
	return res, err
}

// runTests executes the registered test-runner skill, or the tester
// worker role when no skill is available.
func (f *SelfHealing) runTests(ctx context.Context, task *models.Task, env *Env) (string, error) {
	if env.Skills != nil && env.Skills.Has(RunTestsSkill) {
		return env.Skills.Execute(ctx, RunTestsSkill, task.Context)
	}
	resp, err := invokeWithRetry(ctx, env, &worker.Request{
		Role:   "tester",
		Prompt: fmt.Sprintf("Run the test suite for: %s\nReport PASS or FAIL with output.", task.Content),
	}, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// testsPassed interprets test-runner output.
func testsPassed(out string) bool {
	upper := strings.ToUpper(strings.TrimSpace(out))
	if strings.HasPrefix(upper, "FAIL") {
		return false
	}
	return strings.HasPrefix(upper, "PASS") || strings.HasPrefix(upper, "OK")
}
