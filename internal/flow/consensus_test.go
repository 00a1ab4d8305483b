package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jordanhubbard/spindle/internal/worker"
	"github.com/jordanhubbard/spindle/pkg/models"
)

func TestConsensus_SingleSurvivorWins(t *testing.T) {
	env := testEnv(t)
	// Candidates are distinguished by their prompt angle; only the
	// robustness candidate succeeds.
	env.Workers.Register("coder", funcInvoker(func(ctx context.Context, req *worker.Request, onDelta func(string)) (*worker.Response, error) {
		if strings.Contains(req.Context, "robustness") {
			return &worker.Response{Text: "the robust answer"}, nil
		}
		return nil, errors.New("model unavailable")
	}))

	res, err := (&Consensus{}).Run(context.Background(), &models.Task{ID: "t1", Content: "implement auth"}, env)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Text != "the robust answer" {
		t.Errorf("Text = %q, want the sole successful candidate", res.Text)
	}
}

func TestConsensus_ArbiterSelectsCandidate(t *testing.T) {
	env := testEnv(t)
	env.Workers.Register("coder", funcInvoker(func(ctx context.Context, req *worker.Request, onDelta func(string)) (*worker.Response, error) {
		return &worker.Response{Text: "answer: " + req.Context}, nil
	}))
	env.Workers.Register("arbiter", worker.NewStubInvoker("CANDIDATE 2"))

	res, err := (&Consensus{}).Run(context.Background(), &models.Task{ID: "t1", Content: "implement auth"}, env)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(res.Text, candidateAngles[1]) {
		t.Errorf("Text = %q, want candidate 2's answer", res.Text)
	}
}

func TestConsensus_ArbiterFailureFallsBackToFirstSuccess(t *testing.T) {
	env := testEnv(t)
	env.Workers.Register("coder", funcInvoker(func(ctx context.Context, req *worker.Request, onDelta func(string)) (*worker.Response, error) {
		return &worker.Response{Text: "answer: " + req.Context}, nil
	}))
	env.Workers.Register("arbiter", worker.NewStubInvoker("I cannot decide"))

	res, err := (&Consensus{}).Run(context.Background(), &models.Task{ID: "t1", Content: "implement auth"}, env)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(res.Text, candidateAngles[0]) {
		t.Errorf("Text = %q, want first candidate in submission order", res.Text)
	}
}

func TestConsensus_TotalFailurePropagates(t *testing.T) {
	env := testEnv(t)
	stub := worker.NewStubInvoker("never")
	stub.Fail = func(call int) error { return errors.New("model down") }
	env.Workers.Register("coder", stub)

	_, err := (&Consensus{}).Run(context.Background(), &models.Task{ID: "t1", Content: "x"}, env)
	if !errors.Is(err, ErrAllCandidatesFailed) {
		t.Errorf("err = %v, want ErrAllCandidatesFailed", err)
	}
}

func TestParseCandidateChoice(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want int
	}{
		{"CANDIDATE 2", 3, 1},
		{"The best is candidate 3.", 3, 2},
		{"CANDIDATE 1: cleanest", 3, 0},
		{"CANDIDATE 9", 3, -1},
		{"no idea", 3, -1},
		{"CANDIDATE", 3, -1},
	}
	for _, tt := range tests {
		if got := parseCandidateChoice(tt.in, tt.n); got != tt.want {
			t.Errorf("parseCandidateChoice(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
