// Package worker defines the consumed backend interface and the
// role-to-invoker registry. Backends are black-box text-in/text-out
// workers; the registry is resolved once at startup so unknown roles
// fail fast at routing time instead of deep inside a flow.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimeout marks a backend call that exceeded its deadline. Flows
// treat it as a retryable failure, never as an orchestrator crash.
var ErrTimeout = errors.New("backend call timed out")

// ErrUnknownRole marks a request for a role with no registered invoker.
var ErrUnknownRole = errors.New("unknown worker role")

// Request is one backend invocation
type Request struct {
	Role    string
	Prompt  string
	Context string
	Timeout time.Duration
}

// Response is the backend's completed output
type Response struct {
	Text       string
	TokensUsed int64
	CostUSD    float64
}

// Invoker executes one backend call. Implementations that stream call
// onDelta with each new chunk; onDelta may be nil.
type Invoker interface {
	Invoke(ctx context.Context, req *Request, onDelta func(delta string)) (*Response, error)
}

// Registry maps worker roles to invokers
type Registry struct {
	mu             sync.RWMutex
	roles          map[string]Invoker
	defaultTimeout time.Duration
}

// NewRegistry creates an empty worker registry. defaultTimeout applies
// to requests that carry no timeout of their own.
func NewRegistry(defaultTimeout time.Duration) *Registry {
	if defaultTimeout <= 0 {
		defaultTimeout = 2 * time.Minute
	}
	return &Registry{
		roles:          make(map[string]Invoker),
		defaultTimeout: defaultTimeout,
	}
}

// Register binds an invoker to a role, replacing any previous binding.
func (r *Registry) Register(role string, inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role] = inv
}

// Resolve returns the invoker for a role.
func (r *Registry) Resolve(role string) (Invoker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.roles[role]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return inv, nil
}

// Has reports whether a role is registered.
func (r *Registry) Has(role string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.roles[role]
	return ok
}

// Roles returns the registered role names.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.roles))
	for role := range r.roles {
		names = append(names, role)
	}
	return names
}

// Invoke resolves the request's role and executes it under the
// request's (or the default) timeout. Deadline expiry is reported as
// ErrTimeout.
func (r *Registry) Invoke(ctx context.Context, req *Request, onDelta func(string)) (*Response, error) {
	inv, err := r.Resolve(req.Role)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := inv.Invoke(callCtx, req, onDelta)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: role %q after %v", ErrTimeout, req.Role, timeout)
		}
		return nil, err
	}
	return resp, nil
}
