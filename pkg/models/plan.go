package models

import "fmt"

// ExecutionStep is one unit of a multi-step plan. DependsOn, when set,
// must reference a strictly smaller step number.
type ExecutionStep struct {
	Number      int    `json:"number"`
	Role        string `json:"role"`
	Instruction string `json:"instruction"`
	DependsOn   *int   `json:"depends_on,omitempty"`
	Result      string `json:"result,omitempty"`
	Completed   bool   `json:"completed,omitempty"`
}

// ExecutionPlan is an ordered sequence of steps produced by the
// campaign and pipeline flows.
type ExecutionPlan struct {
	ID    string          `json:"id"`
	Goal  string          `json:"goal"`
	Steps []ExecutionStep `json:"steps"`
}

// Validate rejects plans with duplicate step numbers or forward/cyclic
// dependency references. Called before any step executes.
func (p *ExecutionPlan) Validate() error {
	seen := make(map[int]bool, len(p.Steps))
	for _, step := range p.Steps {
		if seen[step.Number] {
			return fmt.Errorf("duplicate step number %d", step.Number)
		}
		seen[step.Number] = true
		if step.DependsOn != nil && *step.DependsOn >= step.Number {
			return fmt.Errorf("step %d depends on step %d: dependencies must reference earlier steps", step.Number, *step.DependsOn)
		}
	}
	for _, step := range p.Steps {
		if step.DependsOn != nil && !seen[*step.DependsOn] {
			return fmt.Errorf("step %d depends on unknown step %d", step.Number, *step.DependsOn)
		}
	}
	return nil
}

// Step returns the step with the given number, or nil.
func (p *ExecutionPlan) Step(number int) *ExecutionStep {
	for i := range p.Steps {
		if p.Steps[i].Number == number {
			return &p.Steps[i]
		}
	}
	return nil
}
