// Package worker provides a capability-declaring agent that executes
// delegated tasks through a completion backend.
package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/dbhq-uk/cortex/internal/envelope"
	"github.com/dbhq-uk/cortex/internal/pipeline"
	"github.com/dbhq-uk/cortex/internal/registry"
)

// Agent executes the sub-tasks the orchestrator routes to it and replies with
// the produced text. It satisfies harness.Agent.
type Agent struct {
	id        string
	name      string
	caps      []registry.Capability
	completer pipeline.Completer
}

// New creates a worker agent.
func New(id, name string, caps []registry.Capability, completer pipeline.Completer) *Agent {
	return &Agent{id: id, name: name, caps: caps, completer: completer}
}

func (a *Agent) ID() string                          { return a.id }
func (a *Agent) Name() string                        { return a.name }
func (a *Agent) Type() string                        { return "worker" }
func (a *Agent) Capabilities() []registry.Capability { return a.caps }

// Process runs the delegated task and returns the result as a reply.
func (a *Agent) Process(ctx context.Context, env *envelope.Envelope) (*envelope.Message, error) {
	if env.Message.Kind != envelope.KindText {
		return nil, nil
	}
	system := a.systemPrompt(env.Context.OriginalGoal)
	answer, err := a.completer.Complete(ctx, system, env.Message.Text)
	if err != nil {
		return nil, fmt.Errorf("worker %s: complete task %s: %w", a.id, env.ReferenceCode, err)
	}
	msg := envelope.NewTextMessage(answer)
	return &msg, nil
}

func (a *Agent) systemPrompt(goal string) string {
	var sb strings.Builder
	sb.WriteString("You are ")
	sb.WriteString(a.name)
	sb.WriteString(", a specialist agent. Your capabilities: ")
	for i, c := range a.caps {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(c.Name)
	}
	sb.WriteString(". Complete the delegated task concisely.")
	if goal != "" {
		sb.WriteString(" The overall goal is: ")
		sb.WriteString(goal)
	}
	return sb.String()
}
