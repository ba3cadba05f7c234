package envelope

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dbhq-uk/cortex/internal/authority"
)

func TestCloneDoesNotShareClaims(t *testing.T) {
	env := New(NewTextMessage("hello"), "CTX-2026-0830-001", Context{ReplyTo: "q"})
	env.AuthorityClaims = []authority.Claim{{GrantedBy: "a", GrantedTo: "b", Tier: authority.TierMustAskFirst}}

	derived := env.WithClaims(authority.Claim{GrantedBy: "a", GrantedTo: "c"})
	if env.AuthorityClaims[0].GrantedTo != "b" {
		t.Error("derivation mutated the parent envelope's claims")
	}
	if derived.AuthorityClaims[0].GrantedTo != "c" {
		t.Error("derived envelope missing its own claims")
	}

	clone := env.Clone()
	clone.AuthorityClaims[0].GrantedTo = "z"
	if env.AuthorityClaims[0].GrantedTo != "b" {
		t.Error("clone shares claim storage with the original")
	}
}

func TestDerivationsLeaveOriginalIntact(t *testing.T) {
	env := New(NewTextMessage("original"), "CTX-2026-0830-001", Context{ReplyTo: "caller", TeamID: "t1"})

	derived := env.
		WithMessage(NewTextMessage("changed")).
		WithReferenceCode("CTX-2026-0830-002").
		WithReplyTo("elsewhere").
		WithLineage(env.Message.ID, "orch").
		WithOriginalGoal("the goal")

	if env.Message.Text != "original" || env.ReferenceCode != "CTX-2026-0830-001" || env.Context.ReplyTo != "caller" {
		t.Error("derivation chain mutated the original envelope")
	}
	if derived.Message.Text != "changed" {
		t.Errorf("derived text = %q", derived.Message.Text)
	}
	if derived.Context.ParentMessageID != env.Message.ID {
		t.Error("lineage not stamped")
	}
	if derived.Context.TeamID != "t1" {
		t.Error("team id not inherited")
	}
}

func TestReplyBuildsOutboundEnvelope(t *testing.T) {
	inbound := New(NewTextMessage("task"), "CTX-2026-0830-007", Context{
		ReplyTo:      "agent.orchestrator",
		TeamID:       "team-a",
		ChannelID:    "C123",
		OriginalGoal: "goal",
	})
	inbound.AuthorityClaims = []authority.Claim{{GrantedTo: "worker", GrantedAt: time.Now()}}

	out := inbound.Reply(NewTextMessage("done"), "worker")

	if out.ReferenceCode != inbound.ReferenceCode {
		t.Errorf("reply reference code = %s, want %s", out.ReferenceCode, inbound.ReferenceCode)
	}
	if out.Context.ParentMessageID != inbound.Message.ID {
		t.Error("reply parent message id not set to inbound message id")
	}
	if out.Context.FromAgentID != "worker" {
		t.Errorf("reply from = %s", out.Context.FromAgentID)
	}
	if out.Context.ReplyTo != "" {
		t.Error("reply must not inherit reply-to")
	}
	if len(out.AuthorityClaims) != 0 {
		t.Error("reply must not carry the inbound per-hop claims")
	}
	if out.Context.TeamID != "team-a" || out.Context.ChannelID != "C123" || out.Context.OriginalGoal != "goal" {
		t.Error("reply should inherit team, channel, and goal")
	}
}

func TestMessageConstructorsAssignIDs(t *testing.T) {
	a := NewTextMessage("x")
	b := NewTextMessage("x")
	if a.ID == "" || a.ID == b.ID {
		t.Error("text messages need unique ids")
	}
	p := NewPlanProposal(PlanProposal{WorkflowReferenceCode: "CTX-2026-0830-001"})
	if p.Kind != KindPlanProposal || p.Proposal == nil {
		t.Error("plan proposal not tagged")
	}
	ap := NewPlanApproval(PlanApproval{WorkflowReferenceCode: "CTX-2026-0830-001", Approved: true})
	if ap.Kind != KindPlanApproval || ap.Approval == nil {
		t.Error("plan approval not tagged")
	}
}

func TestEnvelopeJSONRoundTrip(t *testing.T) {
	env := New(NewTextMessage("payload"), "CTX-2026-0830-003", Context{ReplyTo: "q", OriginalGoal: "g"})
	env.AuthorityClaims = []authority.Claim{{GrantedBy: "a", GrantedTo: "b", Tier: authority.TierExecuteAndReport, GrantedAt: time.Now().UTC()}}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.ReferenceCode != env.ReferenceCode || decoded.Message.Text != "payload" {
		t.Error("round trip lost fields")
	}
	if decoded.AuthorityClaims[0].Tier != authority.TierExecuteAndReport {
		t.Error("round trip lost claim tier")
	}
}
