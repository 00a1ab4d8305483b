// Package router selects an execution flow for a classified task.
package router

import (
	"log"
	"strings"

	"github.com/jordanhubbard/spindle/internal/gate"
	"github.com/jordanhubbard/spindle/pkg/config"
	"github.com/jordanhubbard/spindle/pkg/models"
)

// Context keys the router inspects on a task. Set by the intake layer.
const (
	CtxMultiStep = "multi_step" // "true" marks a multi-file/multi-step project
	CtxOrigin    = "origin"     // "change_request" or "goal_list"
	CtxRepair    = "repair"     // "true" marks a test-failure-driven repair request
	CtxCritical  = "critical"   // "true" requests higher-confidence output
)

// Origin values distinguishing the two plan-driven flows.
const (
	OriginChangeRequest = "change_request"
	OriginGoalList      = "goal_list"
)

var codeGenKeywords = []string{
	"write a function", "write code", "implement", "refactor",
	"write a program", "generate code", "write a script", "fix this code",
}

// Router applies the flow decision table.
type Router struct {
	cfg config.FlowsConfig
}

// New creates a router.
func New(cfg config.FlowsConfig) *Router {
	return &Router{cfg: cfg}
}

// Route picks a flow for the task. Rules are evaluated in order and the
// first match wins:
//
//  1. cached answer present -> Direct (no backend call)
//  2. multi-step project -> Campaign or Pipeline by origin
//  3. repair request -> SelfHealing
//  4. critical output and consensus enabled -> Consensus
//  5. code generation -> SelfReview
//  6. otherwise -> Direct
//
// An explicit flow hint naming a known flow overrides rules 2-6.
func (r *Router) Route(task *models.Task, gr *gate.Result) models.FlowKind {
	kind := r.route(task, gr)
	log.Printf("[Router] Task %s routed to %s flow", task.ID, kind)
	return kind
}

func (r *Router) route(task *models.Task, gr *gate.Result) models.FlowKind {
	if gr != nil && gr.CacheHit != nil {
		return models.FlowDirect
	}

	if hint, ok := knownFlow(task.FlowHint); ok {
		if hint == models.FlowConsensus && !r.cfg.ConsensusEnabled {
			return models.FlowSelfReview
		}
		return hint
	}

	if task.Context[CtxMultiStep] == "true" {
		if task.Context[CtxOrigin] == OriginChangeRequest {
			return models.FlowPipeline
		}
		return models.FlowCampaign
	}

	if task.Context[CtxRepair] == "true" {
		return models.FlowSelfHealing
	}

	if task.Context[CtxCritical] == "true" && r.cfg.ConsensusEnabled {
		return models.FlowConsensus
	}

	if isCodeGeneration(task.Content) {
		return models.FlowSelfReview
	}

	return models.FlowDirect
}

func knownFlow(hint string) (models.FlowKind, bool) {
	switch models.FlowKind(hint) {
	case models.FlowDirect, models.FlowSelfReview, models.FlowConsensus,
		models.FlowCampaign, models.FlowPipeline, models.FlowSelfHealing:
		return models.FlowKind(hint), true
	}
	return "", false
}

func isCodeGeneration(content string) bool {
	lower := strings.ToLower(content)
	for _, kw := range codeGenKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
