package remote

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// GenerateInput is the serialized form of one backend invocation.
type GenerateInput struct {
	Role    string        `json:"role"`
	Prompt  string        `json:"prompt"`
	Context string        `json:"context,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// GenerateResult carries the backend's completed output.
type GenerateResult struct {
	Text       string  `json:"text"`
	TokensUsed int64   `json:"tokens_used,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
}

// GenerateWorkflow runs one backend generation as a durable activity.
// Retries are delegated to Temporal's retry policy; the flow layer does
// not re-retry remote calls.
func GenerateWorkflow(ctx workflow.Context, input GenerateInput) (GenerateResult, error) {
	timeout := input.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var result GenerateResult
	err := workflow.ExecuteActivity(ctx, "GenerateActivity", input).Get(ctx, &result)
	if err != nil {
		workflow.GetLogger(ctx).Error("Generation activity failed", "role", input.Role, "error", err)
		return GenerateResult{}, err
	}

	return result, nil
}
