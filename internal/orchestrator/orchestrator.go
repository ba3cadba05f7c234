// Package orchestrator implements the decomposition-routing-and-fan-in state
// machine behind any agent that decomposes work: it turns an inbound message
// into capability-tagged tasks, single-routes or fans out, gates risky plans
// behind approval, and reassembles fan-in results into a single answer.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dbhq-uk/cortex/internal/authority"
	"github.com/dbhq-uk/cortex/internal/bus"
	"github.com/dbhq-uk/cortex/internal/envelope"
	"github.com/dbhq-uk/cortex/internal/harness"
	"github.com/dbhq-uk/cortex/internal/ledger"
	"github.com/dbhq-uk/cortex/internal/pipeline"
	"github.com/dbhq-uk/cortex/internal/refcode"
	"github.com/dbhq-uk/cortex/internal/registry"
)

// Config holds the orchestrator's routing policy.
type Config struct {
	AgentID   string
	AgentName string
	// EscalationTarget is the fixed agent that receives plan proposals and
	// unroutable work.
	EscalationTarget string
	// ConfidenceThreshold is the minimum decomposition confidence; below it
	// the request escalates.
	ConfidenceThreshold float64
	// ApprovalRequiredTier gates dispatch: an inbound max tier at or above it
	// requires an approved plan first.
	ApprovalRequiredTier authority.Tier
}

// Deps are the orchestrator's collaborators. Plans is optional and defaults
// to an in-memory store.
type Deps struct {
	Bus         bus.Bus
	Registry    *registry.Registry
	Refs        *refcode.Generator
	Delegations *ledger.DelegationLedger
	Workflows   *ledger.WorkflowLedger
	Plans       ledger.PlanStore
	Decomposer  pipeline.Decomposer
}

// SkillDrivenAgent is the orchestrating agent. It satisfies harness.Agent.
type SkillDrivenAgent struct {
	cfg         Config
	bus         bus.Bus
	reg         *registry.Registry
	refs        *refcode.Generator
	delegations *ledger.DelegationLedger
	workflows   *ledger.WorkflowLedger
	plans       ledger.PlanStore
	decomposer  pipeline.Decomposer
}

// New creates the orchestrating agent.
func New(cfg Config, d Deps) *SkillDrivenAgent {
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.6
	}
	if cfg.ApprovalRequiredTier == 0 {
		cfg.ApprovalRequiredTier = authority.TierMustAskFirst
	}
	plans := d.Plans
	if plans == nil {
		plans = ledger.NewMemoryPlanStore(nil)
	}
	return &SkillDrivenAgent{
		cfg:         cfg,
		bus:         d.Bus,
		reg:         d.Registry,
		refs:        d.Refs,
		delegations: d.Delegations,
		workflows:   d.Workflows,
		plans:       plans,
		decomposer:  d.Decomposer,
	}
}

func (a *SkillDrivenAgent) ID() string   { return a.cfg.AgentID }
func (a *SkillDrivenAgent) Name() string { return a.cfg.AgentName }
func (a *SkillDrivenAgent) Type() string { return "orchestrator" }

// Capabilities returns nothing: the orchestrator routes work, it is not a
// capability-matched target itself.
func (a *SkillDrivenAgent) Capabilities() []registry.Capability { return nil }

// inboundKind classifies an envelope once per message.
type inboundKind int

const (
	kindFreshRequest inboundKind = iota
	kindPlanApproval
	kindSubtaskReply
)

func (a *SkillDrivenAgent) classify(env *envelope.Envelope) (inboundKind, string) {
	if env.Message.Kind == envelope.KindPlanApproval && env.Message.Approval != nil {
		return kindPlanApproval, ""
	}
	if parentRef, ok := a.workflows.FindBySubtask(env.ReferenceCode); ok {
		return kindSubtaskReply, parentRef
	}
	return kindFreshRequest, ""
}

// Process dispatches one inbound envelope through the state machine. The
// orchestrator routes every outcome itself, so it never returns a harness
// reply.
func (a *SkillDrivenAgent) Process(ctx context.Context, env *envelope.Envelope) (*envelope.Message, error) {
	kind, parentRef := a.classify(env)
	switch kind {
	case kindPlanApproval:
		return nil, a.handleApproval(ctx, env)
	case kindSubtaskReply:
		return nil, a.handleFanIn(ctx, env, parentRef)
	default:
		return nil, a.handleFresh(ctx, env)
	}
}

func (a *SkillDrivenAgent) handleFresh(ctx context.Context, env *envelope.Envelope) error {
	result, err := a.decomposer.Decompose(ctx, env.Message.Text, a.capabilityHint())
	if err != nil {
		slog.Warn("decomposition failed", "agent_id", a.cfg.AgentID, "reference_code", env.ReferenceCode, "error", err)
		return a.escalate(ctx, env, "decomposition produced no result")
	}
	if result == nil {
		return a.escalate(ctx, env, "decomposition produced no result")
	}
	if result.Confidence < a.cfg.ConfidenceThreshold {
		return a.escalate(ctx, env, fmt.Sprintf("decomposition confidence %.2f below threshold %.2f", result.Confidence, a.cfg.ConfidenceThreshold))
	}
	if len(result.Tasks) == 0 {
		return a.escalate(ctx, env, "decomposition produced no tasks")
	}

	maxTier := authority.MaxTier(env.AuthorityClaims)
	if maxTier >= a.cfg.ApprovalRequiredTier {
		return a.gate(ctx, env, result)
	}
	return a.dispatch(ctx, env, result, maxTier)
}

// dispatch routes an approved (or ungated) decomposition: one task is plain
// 1:1 routing, more than one is a fan-out workflow.
func (a *SkillDrivenAgent) dispatch(ctx context.Context, env *envelope.Envelope, result *pipeline.Result, maxTier authority.Tier) error {
	if len(result.Tasks) == 1 {
		return a.singleRoute(ctx, env, result.Tasks[0], maxTier)
	}
	return a.fanOut(ctx, env, result, maxTier)
}

// capabilityHint lists the externally known capabilities (excluding self) for
// the decomposition pipeline.
func (a *SkillDrivenAgent) capabilityHint() string {
	var sb strings.Builder
	for _, reg := range a.reg.ListAvailable() {
		if reg.AgentID == a.cfg.AgentID {
			continue
		}
		for _, cap := range reg.Capabilities {
			sb.WriteString("- ")
			sb.WriteString(cap.Name)
			if cap.Description != "" {
				sb.WriteString(": ")
				sb.WriteString(cap.Description)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// candidatesFor returns available non-self agents declaring the capability.
func (a *SkillDrivenAgent) candidatesFor(capability string) []registry.Registration {
	matches := a.reg.FindByCapability(capability)
	out := matches[:0]
	for _, m := range matches {
		if m.AgentID != a.cfg.AgentID {
			out = append(out, m)
		}
	}
	return out
}

// originalGoal resolves the goal carried on the envelope, falling back to the
// message text.
func originalGoal(env *envelope.Envelope) string {
	if env.Context.OriginalGoal != "" {
		return env.Context.OriginalGoal
	}
	return env.Message.Text
}

// selfQueue is the orchestrator's own queue, where fan-in replies and
// approval responses arrive.
func (a *SkillDrivenAgent) selfQueue() string { return harness.QueueFor(a.cfg.AgentID) }
