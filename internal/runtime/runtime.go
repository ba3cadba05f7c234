// Package runtime owns the set of running agent harnesses: static startup
// agents, dynamic start/stop, and team-scoped grouping.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dbhq-uk/cortex/internal/bus"
	"github.com/dbhq-uk/cortex/internal/harness"
	"github.com/dbhq-uk/cortex/internal/ledger"
	"github.com/dbhq-uk/cortex/internal/registry"
)

// StaticAgent is an agent the runtime starts at boot.
type StaticAgent struct {
	Agent  harness.Agent
	TeamID string
}

// Runtime manages harness lifecycles.
type Runtime struct {
	bus bus.Bus
	reg *registry.Registry

	mu         sync.Mutex
	harnesses  map[string]*harness.Harness
	teamAgents map[string]map[string]struct{}
	agentTeam  map[string]string

	static []StaticAgent

	delegations  *ledger.DelegationLedger
	overdueAfter time.Duration
	sweepEvery   time.Duration
	sweepCancel  context.CancelFunc
}

// New creates a runtime over the given bus and registry.
func New(b bus.Bus, reg *registry.Registry) *Runtime {
	return &Runtime{
		bus:        b,
		reg:        reg,
		harnesses:  make(map[string]*harness.Harness),
		teamAgents: make(map[string]map[string]struct{}),
		agentTeam:  make(map[string]string),
	}
}

// AddStatic queues an agent for startup with Start.
func (r *Runtime) AddStatic(agent harness.Agent, teamID string) {
	r.static = append(r.static, StaticAgent{Agent: agent, TeamID: teamID})
}

// EnableOverdueSweep configures the delegation deadline sweep run by Start.
func (r *Runtime) EnableOverdueSweep(delegations *ledger.DelegationLedger, overdueAfter, every time.Duration) {
	r.delegations = delegations
	r.overdueAfter = overdueAfter
	r.sweepEvery = every
}

// StartAgent constructs and starts a harness for the agent. It fails if the
// agent id is already running. teamID may be empty.
func (r *Runtime) StartAgent(agent harness.Agent, teamID string) error {
	r.mu.Lock()
	if _, running := r.harnesses[agent.ID()]; running {
		r.mu.Unlock()
		return fmt.Errorf("agent %s is already running", agent.ID())
	}
	h := harness.New(agent, r.bus, r.reg)
	r.harnesses[agent.ID()] = h
	if teamID != "" {
		if r.teamAgents[teamID] == nil {
			r.teamAgents[teamID] = make(map[string]struct{})
		}
		r.teamAgents[teamID][agent.ID()] = struct{}{}
		r.agentTeam[agent.ID()] = teamID
	}
	r.mu.Unlock()

	if err := h.Start(); err != nil {
		r.mu.Lock()
		delete(r.harnesses, agent.ID())
		r.removeTeamEntryLocked(agent.ID())
		r.mu.Unlock()
		return err
	}
	return nil
}

// StopAgent stops a running agent. An unknown id is logged and ignored.
func (r *Runtime) StopAgent(agentID string) {
	r.mu.Lock()
	h, ok := r.harnesses[agentID]
	if ok {
		delete(r.harnesses, agentID)
		r.removeTeamEntryLocked(agentID)
	}
	r.mu.Unlock()

	if !ok {
		slog.Info("stop requested for unknown agent", "agent_id", agentID)
		return
	}
	h.Stop()
}

// StopTeam stops every tracked member of the team, then drops the team entry.
func (r *Runtime) StopTeam(teamID string) {
	r.mu.Lock()
	var members []string
	for id := range r.teamAgents[teamID] {
		members = append(members, id)
	}
	r.mu.Unlock()

	for _, id := range members {
		r.StopAgent(id)
	}

	r.mu.Lock()
	delete(r.teamAgents, teamID)
	r.mu.Unlock()
}

// TeamMembers returns the agent ids currently tracked for the team.
func (r *Runtime) TeamMembers(teamID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.teamAgents[teamID]))
	for id := range r.teamAgents[teamID] {
		out = append(out, id)
	}
	return out
}

// Running returns the ids of all running agents.
func (r *Runtime) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.harnesses))
	for id := range r.harnesses {
		out = append(out, id)
	}
	return out
}

// Start boots the runtime: static agents are started sequentially and the
// first failure aborts. The overdue sweep ticker starts when configured.
func (r *Runtime) Start(ctx context.Context) error {
	for _, sa := range r.static {
		if err := r.StartAgent(sa.Agent, sa.TeamID); err != nil {
			return fmt.Errorf("start static agent %s: %w", sa.Agent.ID(), err)
		}
	}
	if r.delegations != nil && r.overdueAfter > 0 && r.sweepEvery > 0 {
		sweepCtx, cancel := context.WithCancel(ctx)
		r.sweepCancel = cancel
		go r.sweepLoop(sweepCtx)
	}
	return nil
}

// Stop drains every running agent gracefully and stops the sweep.
func (r *Runtime) Stop() {
	if r.sweepCancel != nil {
		r.sweepCancel()
		r.sweepCancel = nil
	}
	for _, id := range r.Running() {
		r.StopAgent(id)
	}
}

func (r *Runtime) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.delegations.SweepOverdue(r.overdueAfter); n > 0 {
				slog.Warn("delegations marked overdue", "count", n, "older_than", r.overdueAfter)
			}
		}
	}
}

// removeTeamEntryLocked drops the agent from the team index. Caller holds mu.
func (r *Runtime) removeTeamEntryLocked(agentID string) {
	teamID, ok := r.agentTeam[agentID]
	if !ok {
		return
	}
	delete(r.agentTeam, agentID)
	if members, ok := r.teamAgents[teamID]; ok {
		delete(members, agentID)
		if len(members) == 0 {
			delete(r.teamAgents, teamID)
		}
	}
}
