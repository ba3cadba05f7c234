package runtime

import (
	"context"
	"sort"
	"testing"

	"github.com/dbhq-uk/cortex/internal/bus"
	"github.com/dbhq-uk/cortex/internal/envelope"
	"github.com/dbhq-uk/cortex/internal/harness"
	"github.com/dbhq-uk/cortex/internal/registry"
)

func stubAgent(id string) *harness.FuncAgent {
	return &harness.FuncAgent{
		AgentID:   id,
		AgentName: id,
		AgentType: "worker",
		Fn: func(ctx context.Context, env *envelope.Envelope) (*envelope.Message, error) {
			return nil, nil
		},
	}
}

func newTestRuntime() (*Runtime, *registry.Registry, *bus.MemoryBus) {
	b := bus.NewMemoryBus()
	reg := registry.New()
	return New(b, reg), reg, b
}

func TestStartAgentRejectsDuplicate(t *testing.T) {
	r, _, b := newTestRuntime()
	defer b.Close()

	if err := r.StartAgent(stubAgent("w1"), ""); err != nil {
		t.Fatal(err)
	}
	if err := r.StartAgent(stubAgent("w1"), ""); err == nil {
		t.Error("starting the same agent id twice should fail")
	}
	if got := r.Running(); len(got) != 1 {
		t.Errorf("running = %v", got)
	}
}

func TestStopUnknownAgentIsNoOp(t *testing.T) {
	r, _, b := newTestRuntime()
	defer b.Close()

	r.StopAgent("ghost")
	if got := r.Running(); len(got) != 0 {
		t.Errorf("running = %v", got)
	}
}

func TestTeamLifecycle(t *testing.T) {
	r, reg, b := newTestRuntime()
	defer b.Close()

	if err := r.StartAgent(stubAgent("w1"), "team-a"); err != nil {
		t.Fatal(err)
	}
	if err := r.StartAgent(stubAgent("w2"), "team-a"); err != nil {
		t.Fatal(err)
	}
	if err := r.StartAgent(stubAgent("w3"), "team-b"); err != nil {
		t.Fatal(err)
	}

	members := r.TeamMembers("team-a")
	sort.Strings(members)
	if len(members) != 2 || members[0] != "w1" || members[1] != "w2" {
		t.Fatalf("team-a members = %v", members)
	}

	r.StopTeam("team-a")
	if got := r.TeamMembers("team-a"); len(got) != 0 {
		t.Errorf("team-a still has members: %v", got)
	}
	if got := r.Running(); len(got) != 1 || got[0] != "w3" {
		t.Errorf("running = %v, want only w3", got)
	}
	if w1, _ := reg.FindByID("w1"); w1.IsAvailable {
		t.Error("stopped team member still available")
	}
}

func TestStaticBootAbortsOnFirstFailure(t *testing.T) {
	r, _, b := newTestRuntime()
	defer b.Close()

	r.AddStatic(stubAgent("a"), "")
	r.AddStatic(stubAgent("a"), "") // duplicate id fails to start
	r.AddStatic(stubAgent("c"), "")

	if err := r.Start(context.Background()); err == nil {
		t.Fatal("boot should abort on the first failed static agent")
	}
	running := r.Running()
	if len(running) != 1 || running[0] != "a" {
		t.Errorf("running after aborted boot = %v", running)
	}
	r.Stop()
}

func TestStopDrainsEverything(t *testing.T) {
	r, _, b := newTestRuntime()
	defer b.Close()

	r.AddStatic(stubAgent("w1"), "team-a")
	r.AddStatic(stubAgent("w2"), "")
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	r.Stop()
	if got := r.Running(); len(got) != 0 {
		t.Errorf("running after stop = %v", got)
	}
}
