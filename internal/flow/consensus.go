package flow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jordanhubbard/spindle/internal/worker"
	"github.com/jordanhubbard/spindle/pkg/models"
)

// candidateAngles vary the prompt per candidate so independent
// generations do not collapse into the same answer.
var candidateAngles = []string{
	"Favor the simplest correct solution.",
	"Favor robustness and explicit error handling.",
	"Favor performance and minimal allocations.",
	"Favor readability and maintainability.",
}

// Consensus solicits several independent generations for the same
// request and has an arbiter select or synthesize the final answer.
// Candidate failures are tolerated while at least one succeeds; if the
// arbiter fails, the first successful candidate in submission order
// wins.
type Consensus struct{}

// Kind implements Flow.
func (f *Consensus) Kind() models.FlowKind { return models.FlowConsensus }

// Run implements Flow.
func (f *Consensus) Run(ctx context.Context, task *models.Task, env *Env) (*models.TaskResult, error) {
	n := env.Config.ConsensusCandidates
	if n < 2 {
		n = 3
	}

	texts := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := invokeWithRetry(ctx, env, &worker.Request{
				Role:    "coder",
				Prompt:  task.Content,
				Context: candidateAngles[i%len(candidateAngles)],
			}, nil)
			if err != nil {
				errs[i] = err
				return
			}
			texts[i] = resp.Text
		}(i)
	}
	wg.Wait()

	if cancelled(ctx) {
		return nil, ctx.Err()
	}

	succeeded := 0
	firstSuccess := -1
	for i := 0; i < n; i++ {
		if errs[i] == nil {
			succeeded++
			if firstSuccess < 0 {
				firstSuccess = i
			}
		} else {
			env.logf("candidate %d failed: %v", i+1, errs[i])
		}
	}
	if succeeded == 0 {
		return nil, fmt.Errorf("%w: last error: %v", ErrAllCandidatesFailed, errs[n-1])
	}
	env.logf("%d/%d candidates succeeded", succeeded, n)

	// Single survivor needs no arbitration.
	if succeeded == 1 {
		env.write(texts[firstSuccess])
		return newResult(env, models.FlowConsensus, texts[firstSuccess]), nil
	}

	choice := f.arbitrate(ctx, task, env, texts)
	if choice < 0 {
		env.logf("arbiter produced no usable decision, falling back to candidate %d", firstSuccess+1)
		choice = firstSuccess
	}
	env.logf("selected candidate %d", choice+1)
	env.write(texts[choice])
	return newResult(env, models.FlowConsensus, texts[choice]), nil
}

// arbitrate asks the arbiter role to pick a candidate. Returns -1 when
// the arbiter fails or its reply names no valid candidate.
func (f *Consensus) arbitrate(ctx context.Context, task *models.Task, env *Env, texts []string) int {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\nCandidate answers:\n", task.Content)
	for i, t := range texts {
		if t == "" {
			continue
		}
		fmt.Fprintf(&b, "--- CANDIDATE %d ---\n%s\n", i+1, t)
	}
	b.WriteString("\nReply with the single best candidate as: CANDIDATE <number>")

	resp, err := invokeWithRetry(ctx, env, &worker.Request{
		Role:   "arbiter",
		Prompt: b.String(),
	}, nil)
	if err != nil {
		env.logf("arbiter failed: %v", err)
		return -1
	}

	idx := parseCandidateChoice(resp.Text, len(texts))
	if idx >= 0 && texts[idx] == "" {
		return -1
	}
	return idx
}

// parseCandidateChoice extracts the 1-based candidate number from an
// arbiter reply, returning the 0-based index or -1.
func parseCandidateChoice(text string, n int) int {
	upper := strings.ToUpper(text)
	pos := strings.Index(upper, "CANDIDATE")
	if pos < 0 {
		return -1
	}
	rest := strings.TrimSpace(upper[pos+len("CANDIDATE"):])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return -1
	}
	num, err := strconv.Atoi(strings.Trim(fields[0], ".:)"))
	if err != nil || num < 1 || num > n {
		return -1
	}
	return num - 1
}
