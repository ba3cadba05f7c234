// Package envelope defines the immutable message envelope and the payload
// contracts exchanged between agents.
package envelope

import (
	"time"

	"github.com/google/uuid"

	"github.com/dbhq-uk/cortex/internal/authority"
)

// Kind tags the message payload so each inbound envelope is classified once,
// not re-inspected per handler.
type Kind string

const (
	KindText         Kind = "text"
	KindPlanProposal Kind = "plan_proposal"
	KindPlanApproval Kind = "plan_approval"
)

// PlanProposal asks an approver to sign off on a decomposition before dispatch.
type PlanProposal struct {
	Summary               string   `json:"summary"`
	TaskDescriptions      []string `json:"task_descriptions"`
	OriginalGoal          string   `json:"original_goal"`
	WorkflowReferenceCode string   `json:"workflow_reference_code"`
}

// PlanApproval is the decision for a previously proposed plan.
type PlanApproval struct {
	WorkflowReferenceCode string `json:"workflow_reference_code"`
	Approved              bool   `json:"approved"`
	RejectionReason       string `json:"rejection_reason,omitempty"`
}

// Message is the tagged-union payload carried by an envelope. Exactly one of
// the payload fields matching Kind is set.
type Message struct {
	ID        string        `json:"id"`
	Kind      Kind          `json:"kind"`
	Text      string        `json:"text,omitempty"`
	Proposal  *PlanProposal `json:"proposal,omitempty"`
	Approval  *PlanApproval `json:"approval,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewTextMessage creates a plain text message with a fresh id.
func NewTextMessage(text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      KindText,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// NewPlanProposal creates a plan-proposal message with a fresh id.
func NewPlanProposal(p PlanProposal) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      KindPlanProposal,
		Proposal:  &p,
		Timestamp: time.Now().UTC(),
	}
}

// NewPlanApproval creates a plan-approval response message with a fresh id.
func NewPlanApproval(a PlanApproval) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      KindPlanApproval,
		Approval:  &a,
		Timestamp: time.Now().UTC(),
	}
}

// Context carries the routing metadata of an envelope.
type Context struct {
	ReplyTo         string `json:"reply_to,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
	FromAgentID     string `json:"from_agent_id,omitempty"`
	TeamID          string `json:"team_id,omitempty"`
	ChannelID       string `json:"channel_id,omitempty"`
	OriginalGoal    string `json:"original_goal,omitempty"`
}

// Envelope wraps a message with its tracking code, authority claims, and
// routing context. Envelopes are treated as immutable: every hop produces a
// new envelope via the With* derivations, never a mutation in place.
type Envelope struct {
	Message         Message           `json:"message"`
	ReferenceCode   string            `json:"reference_code"`
	AuthorityClaims []authority.Claim `json:"authority_claims,omitempty"`
	Context         Context           `json:"context"`
}

// New creates an envelope at the point a task enters the system.
func New(msg Message, referenceCode string, ctx Context) *Envelope {
	return &Envelope{Message: msg, ReferenceCode: referenceCode, Context: ctx}
}

// Clone returns a deep copy of the envelope. The claims slice is copied so the
// derived envelope never shares mutable state with its parent.
func (e *Envelope) Clone() *Envelope {
	out := *e
	if len(e.AuthorityClaims) > 0 {
		out.AuthorityClaims = make([]authority.Claim, len(e.AuthorityClaims))
		copy(out.AuthorityClaims, e.AuthorityClaims)
	}
	return &out
}

// WithMessage derives an envelope carrying a different payload.
func (e *Envelope) WithMessage(msg Message) *Envelope {
	out := e.Clone()
	out.Message = msg
	return out
}

// WithReferenceCode derives an envelope tracked under a new code.
func (e *Envelope) WithReferenceCode(ref string) *Envelope {
	out := e.Clone()
	out.ReferenceCode = ref
	return out
}

// WithClaims derives an envelope carrying exactly the given claims.
func (e *Envelope) WithClaims(claims ...authority.Claim) *Envelope {
	out := e.Clone()
	out.AuthorityClaims = claims
	return out
}

// WithLineage derives an envelope stamped as a descendant of the given parent
// message, sent by the given agent.
func (e *Envelope) WithLineage(parentMessageID, fromAgentID string) *Envelope {
	out := e.Clone()
	out.Context.ParentMessageID = parentMessageID
	out.Context.FromAgentID = fromAgentID
	return out
}

// WithReplyTo derives an envelope whose replies are routed to the given queue.
func (e *Envelope) WithReplyTo(queue string) *Envelope {
	out := e.Clone()
	out.Context.ReplyTo = queue
	return out
}

// WithOriginalGoal derives an envelope carrying the goal of the originating
// request.
func (e *Envelope) WithOriginalGoal(goal string) *Envelope {
	out := e.Clone()
	out.Context.OriginalGoal = goal
	return out
}

// Reply builds the outbound envelope for an agent's reply: same reference
// code, lineage stamped, claims and reply-to cleared. Team, channel, and
// original goal are inherited.
func (e *Envelope) Reply(msg Message, fromAgentID string) *Envelope {
	return &Envelope{
		Message:       msg,
		ReferenceCode: e.ReferenceCode,
		Context: Context{
			ParentMessageID: e.Message.ID,
			FromAgentID:     fromAgentID,
			TeamID:          e.Context.TeamID,
			ChannelID:       e.Context.ChannelID,
			OriginalGoal:    e.Context.OriginalGoal,
		},
	}
}
