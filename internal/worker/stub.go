package worker

import (
	"context"
	"strings"
	"sync"
)

// StubInvoker is a deterministic invoker that emits scripted responses
// without calling any external backend. It counts calls, which lets
// tests verify zero-backend-call paths such as cache hits.
type StubInvoker struct {
	mu        sync.Mutex
	calls     int
	responses []string
	// Fail, when non-nil, is consulted per call (1-based) and makes
	// that call return the given error.
	Fail func(call int) error
	// Delay streams the response in two deltas when true.
	Stream bool
}

// NewStubInvoker creates a stub that cycles through the given
// responses. With no responses it echoes the prompt.
func NewStubInvoker(responses ...string) *StubInvoker {
	return &StubInvoker{responses: responses}
}

// Invoke implements Invoker.
func (s *StubInvoker) Invoke(ctx context.Context, req *Request, onDelta func(string)) (*Response, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	var text string
	if len(s.responses) > 0 {
		text = s.responses[(call-1)%len(s.responses)]
	} else {
		text = "stub: " + req.Prompt
	}
	fail := s.Fail
	stream := s.Stream
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail != nil {
		if err := fail(call); err != nil {
			return nil, err
		}
	}

	if onDelta != nil {
		if stream && len(text) > 1 {
			mid := len(text) / 2
			onDelta(text[:mid])
			onDelta(text[mid:])
		} else {
			onDelta(text)
		}
	}

	return &Response{
		Text:       text,
		TokensUsed: int64(len(strings.Fields(text))),
	}, nil
}

// Calls returns how many times Invoke ran.
func (s *StubInvoker) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
