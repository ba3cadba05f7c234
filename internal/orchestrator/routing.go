package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dbhq-uk/cortex/internal/authority"
	"github.com/dbhq-uk/cortex/internal/envelope"
	"github.com/dbhq-uk/cortex/internal/harness"
	"github.com/dbhq-uk/cortex/internal/ledger"
	"github.com/dbhq-uk/cortex/internal/pipeline"
)

// gate stores the plan and asks the escalation target for sign-off. Nothing
// is dispatched until the approval response arrives.
func (a *SkillDrivenAgent) gate(ctx context.Context, env *envelope.Envelope, result *pipeline.Result) error {
	ref := a.refs.Generate()
	if err := a.plans.Put(ref, ledger.PendingPlan{
		Original:      env,
		Decomposition: result,
		StoredAt:      time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("store pending plan %s: %w", ref, err)
	}

	descriptions := make([]string, len(result.Tasks))
	for i, t := range result.Tasks {
		descriptions[i] = t.Description
	}
	proposal := envelope.NewPlanProposal(envelope.PlanProposal{
		Summary:               result.Summary,
		TaskDescriptions:      descriptions,
		OriginalGoal:          originalGoal(env),
		WorkflowReferenceCode: ref,
	})
	out := envelope.New(proposal, ref, envelope.Context{
		ReplyTo:         a.selfQueue(),
		ParentMessageID: env.Message.ID,
		FromAgentID:     a.cfg.AgentID,
		TeamID:          env.Context.TeamID,
		ChannelID:       env.Context.ChannelID,
		OriginalGoal:    originalGoal(env),
	})

	slog.Info("plan gated for approval", "agent_id", a.cfg.AgentID, "workflow_ref", ref, "tasks", len(result.Tasks))
	return a.bus.Publish(ctx, harness.QueueFor(a.cfg.EscalationTarget), out)
}

// handleApproval resumes or rejects a gated plan. The plan is consumed
// exactly once regardless of outcome; an unknown or stale response is
// dropped.
func (a *SkillDrivenAgent) handleApproval(ctx context.Context, env *envelope.Envelope) error {
	approval := env.Message.Approval
	plan, ok := a.plans.Take(approval.WorkflowReferenceCode)
	if !ok {
		slog.Warn("dropping unknown or stale plan approval",
			"agent_id", a.cfg.AgentID, "workflow_ref", approval.WorkflowReferenceCode)
		return nil
	}

	if !approval.Approved {
		slog.Info("plan rejected", "agent_id", a.cfg.AgentID,
			"workflow_ref", approval.WorkflowReferenceCode, "reason", approval.RejectionReason)
		replyTo := plan.Original.Context.ReplyTo
		if replyTo == "" {
			return nil
		}
		notice := fmt.Sprintf("Plan rejected: %s", approval.RejectionReason)
		if approval.RejectionReason == "" {
			notice = "Plan rejected."
		}
		out := plan.Original.Reply(envelope.NewTextMessage(notice), a.cfg.AgentID)
		return a.bus.Publish(ctx, replyTo, out)
	}

	// Resume exactly as though the gate had not triggered.
	maxTier := authority.MaxTier(plan.Original.AuthorityClaims)
	return a.dispatch(ctx, plan.Original, plan.Decomposition, maxTier)
}

// singleRoute delegates a 1-task decomposition straight to the first
// capability match. The original reply-to is preserved, so the worker's
// answer flows back to the requester without a fan-in hop.
func (a *SkillDrivenAgent) singleRoute(ctx context.Context, env *envelope.Envelope, task pipeline.Task, maxTier authority.Tier) error {
	candidates := a.candidatesFor(task.Capability)
	if len(candidates) == 0 {
		return a.escalate(ctx, env, fmt.Sprintf("no available agent for capability %q", task.Capability))
	}
	target := candidates[0]

	ref := a.refs.Generate()
	if err := a.delegations.Delegate(ledger.DelegationRecord{
		ReferenceCode: ref,
		DelegatedBy:   a.cfg.AgentID,
		DelegatedTo:   target.AgentID,
		Description:   task.Description,
		Status:        ledger.StatusAssigned,
	}); err != nil {
		return err
	}

	out := env.
		WithMessage(envelope.NewTextMessage(task.Description)).
		WithReferenceCode(ref).
		WithClaims(a.claimFor(target.AgentID, task, maxTier)).
		WithLineage(env.Message.ID, a.cfg.AgentID).
		WithOriginalGoal(originalGoal(env))

	slog.Info("task routed", "agent_id", a.cfg.AgentID, "reference_code", ref,
		"target", target.AgentID, "capability", task.Capability)
	return a.bus.Publish(ctx, harness.QueueFor(target.AgentID), out)
}

// fanOut dispatches a multi-task decomposition as one workflow. Dispatch is
// all-or-nothing: if any task lacks a capable agent the whole workflow
// escalates before anything is delegated.
func (a *SkillDrivenAgent) fanOut(ctx context.Context, env *envelope.Envelope, result *pipeline.Result, maxTier authority.Tier) error {
	targets := make([]string, len(result.Tasks))
	for i, task := range result.Tasks {
		candidates := a.candidatesFor(task.Capability)
		if len(candidates) == 0 {
			return a.escalate(ctx, env, fmt.Sprintf("no available agent for capability %q", task.Capability))
		}
		targets[i] = candidates[0].AgentID
	}

	parentRef := env.ReferenceCode
	if parentRef == "" {
		parentRef = a.refs.Generate()
	}

	childRefs := make([]string, len(result.Tasks))
	for i := range result.Tasks {
		childRefs[i] = a.refs.Generate()
	}

	// The workflow record is registered before any child is published:
	// otherwise a fast reply could arrive before its own workflow exists and
	// be misread as a fresh request.
	if err := a.workflows.Create(parentRef, env, result.Summary, childRefs); err != nil {
		return fmt.Errorf("create workflow %s: %w", parentRef, err)
	}

	for i, task := range result.Tasks {
		ref := childRefs[i]
		if err := a.delegations.Delegate(ledger.DelegationRecord{
			ReferenceCode: ref,
			DelegatedBy:   a.cfg.AgentID,
			DelegatedTo:   targets[i],
			Description:   task.Description,
			Status:        ledger.StatusAssigned,
		}); err != nil {
			return err
		}

		child := env.
			WithMessage(envelope.NewTextMessage(task.Description)).
			WithReferenceCode(ref).
			WithClaims(a.claimFor(targets[i], task, maxTier)).
			WithLineage(env.Message.ID, a.cfg.AgentID).
			WithReplyTo(a.selfQueue()).
			WithOriginalGoal(result.Summary)

		if err := a.bus.Publish(ctx, harness.QueueFor(targets[i]), child); err != nil {
			return fmt.Errorf("dispatch subtask %s: %w", ref, err)
		}
	}

	slog.Info("workflow dispatched", "agent_id", a.cfg.AgentID,
		"workflow_ref", parentRef, "subtasks", len(childRefs))
	return nil
}

// handleFanIn stores one sub-task reply and, when it is the last one,
// assembles and publishes the combined answer exactly once.
func (a *SkillDrivenAgent) handleFanIn(ctx context.Context, env *envelope.Envelope, parentRef string) error {
	if err := a.workflows.StoreSubtaskResult(env.ReferenceCode, env.Message.Text); err != nil {
		return err
	}
	if err := a.delegations.UpdateStatus(env.ReferenceCode, ledger.StatusComplete); err != nil {
		slog.Warn("no delegation record for completed subtask",
			"agent_id", a.cfg.AgentID, "reference_code", env.ReferenceCode)
	}

	completion, ready := a.workflows.TryComplete(parentRef)
	if !ready {
		return nil
	}

	document := a.assemble(completion)
	slog.Info("workflow completed", "agent_id", a.cfg.AgentID, "workflow_ref", parentRef)

	replyTo := completion.Original.Context.ReplyTo
	if replyTo == "" {
		slog.Warn("workflow has no requester reply-to; result not delivered",
			"agent_id", a.cfg.AgentID, "workflow_ref", parentRef)
		return nil
	}
	out := completion.Original.Reply(envelope.NewTextMessage(document), a.cfg.AgentID)
	out = out.WithReferenceCode(completion.ParentRef)
	return a.bus.Publish(ctx, replyTo, out)
}

// assemble renders the combined document, walking sub-tasks in their original
// dispatch order regardless of reply arrival order.
func (a *SkillDrivenAgent) assemble(completion *ledger.Completion) string {
	var sb strings.Builder
	if completion.Summary != "" {
		sb.WriteString(completion.Summary)
		sb.WriteString("\n\n")
	}
	for _, res := range completion.Results {
		heading := res.ReferenceCode
		if rec, ok := a.delegations.Get(res.ReferenceCode); ok && rec.Description != "" {
			heading = rec.Description
		}
		sb.WriteString("## ")
		sb.WriteString(heading)
		sb.WriteString("\n\n")
		sb.WriteString(res.Content)
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// escalate hands the original message to the fixed escalation target under a
// fresh reference code.
func (a *SkillDrivenAgent) escalate(ctx context.Context, env *envelope.Envelope, reason string) error {
	ref := a.refs.Generate()
	if err := a.delegations.Delegate(ledger.DelegationRecord{
		ReferenceCode: ref,
		DelegatedBy:   a.cfg.AgentID,
		DelegatedTo:   a.cfg.EscalationTarget,
		Description:   "escalated: " + reason,
		Status:        ledger.StatusAssigned,
	}); err != nil {
		return err
	}

	// Claims are per-hop grants to this agent; they must not travel onward or
	// the target's harness would drop the message as misdirected.
	out := env.
		WithReferenceCode(ref).
		WithClaims().
		WithLineage(env.Message.ID, a.cfg.AgentID)

	slog.Warn("escalating request", "agent_id", a.cfg.AgentID,
		"reference_code", ref, "reason", reason)
	return a.bus.Publish(ctx, harness.QueueFor(a.cfg.EscalationTarget), out)
}

// claimFor issues the single per-hop authority claim for a delegation,
// narrowed against the inbound authority.
func (a *SkillDrivenAgent) claimFor(targetID string, task pipeline.Task, maxTier authority.Tier) authority.Claim {
	taskTier := authority.ParseTier(task.AuthorityTier)
	return authority.Claim{
		GrantedBy: a.cfg.AgentID,
		GrantedTo: targetID,
		Tier:      authority.Narrow(taskTier, maxTier),
		GrantedAt: time.Now().UTC(),
	}
}
