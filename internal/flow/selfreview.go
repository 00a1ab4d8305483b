package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/jordanhubbard/spindle/internal/worker"
	"github.com/jordanhubbard/spindle/pkg/models"
)

// SelfReview runs a coder-critic loop: generate, review, and on
// rejection regenerate with the critique folded into the next
// attempt's context. Bounded by Config.MaxReviewAttempts; if the limit
// is exhausted the last artifact is returned together with the
// outstanding critique rather than dropped.
type SelfReview struct{}

// Kind implements Flow.
func (f *SelfReview) Kind() models.FlowKind { return models.FlowSelfReview }

// Run implements Flow.
func (f *SelfReview) Run(ctx context.Context, task *models.Task, env *Env) (*models.TaskResult, error) {
	maxAttempts := env.Config.MaxReviewAttempts
	if maxAttempts < 1 {
		maxAttempts = 2
	}

	var artifact, critique string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if cancelled(ctx) {
			return nil, ctx.Err()
		}

		genCtx := recallContext(env, task.Content)
		if critique != "" {
			genCtx += fmt.Sprintf("\nPrevious attempt was rejected with this critique, address it:\n%s", critique)
			env.markRepairing(false)
		}

		env.logf("generation attempt %d/%d", attempt, maxAttempts)
		gen, err := invokeWithRetry(ctx, env, &worker.Request{
			Role:    "coder",
			Prompt:  task.Content,
			Context: genCtx,
		}, nil)
		if err != nil {
			return nil, err
		}
		artifact = gen.Text

		if cancelled(ctx) {
			return nil, ctx.Err()
		}

		review, err := invokeWithRetry(ctx, env, &worker.Request{
			Role:    "critic",
			Prompt:  fmt.Sprintf("Review the following solution to the request %q. Reply APPROVED if acceptable, otherwise REJECTED followed by your critique.\n\n%s", task.Content, artifact),
			Context: "",
		}, nil)
		if err != nil {
			return nil, err
		}

		approved, feedback := parseVerdict(review.Text)
		if approved {
			env.logf("critic approved attempt %d", attempt)
			env.write(artifact)
			return newResult(env, models.FlowSelfReview, artifact), nil
		}

		critique = feedback
		env.logf("critic rejected attempt %d: %s", attempt, firstLine(critique))
		env.markRepairing(true)
	}

	// Attempt limit exhausted: surface the last artifact with the
	// outstanding critique, never silently dropped.
	env.markRepairing(false)
	env.logf("review attempts exhausted after %d attempts, returning last artifact with critique", maxAttempts)
	text := fmt.Sprintf("%s\n\n[unresolved critique after %d attempts]\n%s", artifact, maxAttempts, critique)
	env.write(text)
	return newResult(env, models.FlowSelfReview, text), nil
}

// parseVerdict splits a critic reply into approval and critique. A
// reply beginning with APPROVED (or LGTM) approves; anything else is
// treated as a rejection whose text is the critique.
func parseVerdict(text string) (approved bool, critique string) {
	trimmed := strings.TrimSpace(text)
	upper := strings.ToUpper(trimmed)
	if strings.HasPrefix(upper, "APPROVED") || strings.HasPrefix(upper, "LGTM") {
		return true, ""
	}
	critique = strings.TrimSpace(strings.TrimPrefix(trimmed, "REJECTED"))
	critique = strings.TrimSpace(strings.TrimPrefix(critique, ":"))
	if critique == "" {
		critique = trimmed
	}
	return false, critique
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
