// Package skills holds the capability registry. Skills are opaque
// capability providers; the orchestration core only needs to know
// whether a mapping exists for a tool hint and how to invoke it.
package skills

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Skill executes one capability.
type Skill interface {
	Name() string
	Execute(ctx context.Context, args map[string]string) (string, error)
}

// Registry maps tool names to skills. Resolved once at startup;
// unknown tools fail fast at routing time.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewRegistry creates an empty skill registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]Skill)}
}

// Register adds a skill under its name, replacing any previous skill
// with the same name.
func (r *Registry) Register(s Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[s.Name()] = s
}

// Has reports whether a capability mapping exists for the tool name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.skills[name]
	return ok
}

// Execute invokes the named skill.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]string) (string, error) {
	r.mu.RLock()
	s, ok := r.skills[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("no skill registered for capability %q", name)
	}
	return s.Execute(ctx, args)
}

// Names returns the registered capability names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.skills))
	for name := range r.skills {
		names = append(names, name)
	}
	return names
}

// ClockSkill answers time lookups deterministically without a
// generation call.
type ClockSkill struct {
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// Name implements Skill.
func (c *ClockSkill) Name() string { return "clock" }

// Execute implements Skill.
func (c *ClockSkill) Execute(ctx context.Context, args map[string]string) (string, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return now().Format("Mon Jan 2 15:04:05 MST 2006"), nil
}
