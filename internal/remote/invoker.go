package remote

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	"github.com/jordanhubbard/spindle/internal/worker"
)

// Invoker satisfies worker.Invoker by running each backend call as a
// Temporal workflow. Output is delivered whole: onDelta receives the
// complete text exactly once so downstream first-token accounting still
// works, just without incremental chunks.
type Invoker struct {
	client *Client
}

// NewInvoker creates a Temporal-backed invoker.
func NewInvoker(c *Client) *Invoker {
	return &Invoker{client: c}
}

// Invoke starts a GenerateWorkflow and blocks until it completes or the
// context is cancelled. Cancellation propagates to the workflow.
func (i *Invoker) Invoke(ctx context.Context, req *worker.Request, onDelta func(string)) (*worker.Response, error) {
	workflowID := fmt.Sprintf("generate-%s-%s", req.Role, uuid.NewString())

	options := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: i.client.TaskQueue(),
	}

	run, err := i.client.temporal.ExecuteWorkflow(ctx, options, GenerateWorkflow, GenerateInput{
		Role:    req.Role,
		Prompt:  req.Prompt,
		Context: req.Context,
		Timeout: req.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start generation workflow: %w", err)
	}

	var result GenerateResult
	if err := run.Get(ctx, &result); err != nil {
		if ctx.Err() != nil {
			// Best-effort cancel so the activity stops burning tokens.
			cancelCtx, cancel := context.WithTimeout(context.Background(), cancelGrace)
			defer cancel()
			_ = i.client.temporal.CancelWorkflow(cancelCtx, workflowID, run.GetRunID())
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("generation workflow failed: %w", err)
	}

	if onDelta != nil && result.Text != "" {
		onDelta(result.Text)
	}

	return &worker.Response{
		Text:       result.Text,
		TokensUsed: result.TokensUsed,
		CostUSD:    result.CostUSD,
	}, nil
}
