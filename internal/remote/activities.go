package remote

import (
	"context"

	"github.com/jordanhubbard/spindle/internal/worker"
)

// Activities executes generation activities on a Temporal worker process.
// The delegate is a local invoker (an OpenAI-compatible provider) that
// performs the actual backend call.
type Activities struct {
	delegate worker.Invoker
}

// NewActivities creates the activity set backed by a local invoker.
func NewActivities(delegate worker.Invoker) *Activities {
	return &Activities{delegate: delegate}
}

// GenerateActivity performs one backend call. Streaming deltas are not
// forwarded across the workflow boundary; the text arrives whole.
func (a *Activities) GenerateActivity(ctx context.Context, input GenerateInput) (GenerateResult, error) {
	resp, err := a.delegate.Invoke(ctx, &worker.Request{
		Role:    input.Role,
		Prompt:  input.Prompt,
		Context: input.Context,
		Timeout: input.Timeout,
	}, nil)
	if err != nil {
		return GenerateResult{}, err
	}

	return GenerateResult{
		Text:       resp.Text,
		TokensUsed: resp.TokensUsed,
		CostUSD:    resp.CostUSD,
	}, nil
}
