// Package harness binds one agent instance to its queue: it registers the
// agent, validates authority claims on inbound envelopes, dispatches them to
// the agent, and routes replies back using envelope metadata.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dbhq-uk/cortex/internal/authority"
	"github.com/dbhq-uk/cortex/internal/bus"
	"github.com/dbhq-uk/cortex/internal/envelope"
	"github.com/dbhq-uk/cortex/internal/registry"
)

// Agent is an addressable unit of work processing. Process may return a nil
// message when no reply is needed.
type Agent interface {
	ID() string
	Name() string
	Type() string
	Capabilities() []registry.Capability
	Process(ctx context.Context, env *envelope.Envelope) (*envelope.Message, error)
}

// QueueFor returns the queue name an agent consumes from.
func QueueFor(agentID string) string { return "agent." + agentID }

// Harness runs one agent against its queue.
type Harness struct {
	agent  Agent
	bus    bus.Bus
	reg    *registry.Registry
	handle bus.ConsumerHandle
	now    func() time.Time
}

// New creates a harness for the agent.
func New(agent Agent, b bus.Bus, reg *registry.Registry) *Harness {
	return &Harness{agent: agent, bus: b, reg: reg, now: time.Now}
}

// AgentID returns the id of the bound agent.
func (h *Harness) AgentID() string { return h.agent.ID() }

// Start registers the agent as available and begins consuming its queue.
func (h *Harness) Start() error {
	h.reg.Register(registry.Registration{
		AgentID:      h.agent.ID(),
		Name:         h.agent.Name(),
		AgentType:    h.agent.Type(),
		Capabilities: h.agent.Capabilities(),
		RegisteredAt: h.now().UTC(),
		IsAvailable:  true,
	})
	handle, err := h.bus.StartConsuming(QueueFor(h.agent.ID()), h.handleMessage)
	if err != nil {
		return fmt.Errorf("start consuming for agent %s: %w", h.agent.ID(), err)
	}
	h.handle = handle
	slog.Info("agent started", "agent_id", h.agent.ID(), "queue", QueueFor(h.agent.ID()))
	return nil
}

// Stop stops this harness's own consumer (siblings on the bus are unaffected)
// and marks the agent unavailable.
func (h *Harness) Stop() {
	if h.handle != nil {
		h.handle.Stop()
		h.handle = nil
	}
	h.reg.SetAvailable(h.agent.ID(), false)
	slog.Info("agent stopped", "agent_id", h.agent.ID())
}

func (h *Harness) handleMessage(ctx context.Context, env *envelope.Envelope) error {
	if err := authority.ValidateClaims(env.AuthorityClaims, h.agent.ID(), h.now()); err != nil {
		// Fail-closed: the whole message is dropped, no response, no re-queue.
		slog.Warn("dropping message: authority validation failed",
			"agent_id", h.agent.ID(), "reference_code", env.ReferenceCode, "error", err)
		return nil
	}

	reply, err := h.agent.Process(ctx, env)
	if err != nil {
		return fmt.Errorf("agent %s: process %s: %w", h.agent.ID(), env.ReferenceCode, err)
	}
	if reply == nil {
		return nil
	}
	if env.Context.ReplyTo == "" {
		slog.Warn("dropping reply: inbound envelope has no reply-to",
			"agent_id", h.agent.ID(), "reference_code", env.ReferenceCode)
		return nil
	}

	out := env.Reply(*reply, h.agent.ID())
	return h.bus.Publish(ctx, env.Context.ReplyTo, out)
}

// FuncAgent adapts a plain function into an Agent.
type FuncAgent struct {
	AgentID   string
	AgentName string
	AgentType string
	Caps      []registry.Capability
	Fn        func(ctx context.Context, env *envelope.Envelope) (*envelope.Message, error)
}

func (a *FuncAgent) ID() string                          { return a.AgentID }
func (a *FuncAgent) Name() string                        { return a.AgentName }
func (a *FuncAgent) Type() string                        { return a.AgentType }
func (a *FuncAgent) Capabilities() []registry.Capability { return a.Caps }
func (a *FuncAgent) Process(ctx context.Context, env *envelope.Envelope) (*envelope.Message, error) {
	if a.Fn == nil {
		return nil, nil
	}
	return a.Fn(ctx, env)
}
