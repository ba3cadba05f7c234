package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/dbhq-uk/cortex/internal/bus"
	"github.com/dbhq-uk/cortex/internal/config"
	"github.com/dbhq-uk/cortex/internal/envelope"
	"github.com/dbhq-uk/cortex/internal/harness"
	"github.com/dbhq-uk/cortex/internal/refcode"
)

// DeliveryQueue is the queue final answers and notices are delivered on.
const DeliveryQueue = "channel.slack"

// SlackChannel connects a Slack workspace to the orchestrator over Socket
// Mode. Inbound messages become text envelopes; "approve CTX-..." and
// "reject CTX-... [reason]" become plan-approval responses. Plan proposals
// and assembled answers are posted back to the configured Slack channel.
type SlackChannel struct {
	cfg          config.SlackConfig
	bus          bus.Bus
	refs         *refcode.Generator
	orchestrator string

	api      *slack.Client
	sock     *socketmode.Client
	delivery bus.ConsumerHandle
	proposal bus.ConsumerHandle
	cancel   context.CancelFunc
}

// NewSlackChannel creates the channel. orchestratorID addresses the queue
// fresh requests and approval responses are published to.
func NewSlackChannel(cfg config.SlackConfig, b bus.Bus, refs *refcode.Generator, orchestratorID string) *SlackChannel {
	return &SlackChannel{cfg: cfg, bus: b, refs: refs, orchestrator: orchestratorID}
}

func (c *SlackChannel) Name() string { return "slack" }

// Start opens the Socket Mode connection and attaches the delivery consumer.
func (c *SlackChannel) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	c.api = slack.New(c.cfg.BotToken, slack.OptionAppLevelToken(c.cfg.AppToken))
	c.sock = socketmode.New(c.api)

	handle, err := c.bus.StartConsuming(DeliveryQueue, c.deliver)
	if err != nil {
		return fmt.Errorf("slack: start delivery consumer: %w", err)
	}
	c.delivery = handle

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.eventLoop(runCtx)
	go func() {
		if err := c.sock.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("slack: socket mode terminated", "error", err)
		}
	}()
	return nil
}

// Stop stops the socket connection and the delivery consumer.
func (c *SlackChannel) Stop() error {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.delivery != nil {
		c.delivery.Stop()
		c.delivery = nil
	}
	if c.proposal != nil {
		c.proposal.Stop()
		c.proposal = nil
	}
	return nil
}

// ConsumeProposals attaches the channel to the queue where gated plan
// proposals and escalations for the given target land, so a human in Slack
// can act on them.
func (c *SlackChannel) ConsumeProposals(escalationTarget string) error {
	handle, err := c.bus.StartConsuming(harness.QueueFor(escalationTarget), c.deliver)
	if err != nil {
		return fmt.Errorf("slack: start proposal consumer: %w", err)
	}
	c.proposal = handle
	return nil
}

func (c *SlackChannel) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.sock.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			c.sock.Ack(*evt.Request)
			inner, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
			if !ok || inner.BotID != "" || strings.TrimSpace(inner.Text) == "" {
				continue
			}
			c.handleInbound(ctx, inner)
		}
	}
}

func (c *SlackChannel) handleInbound(ctx context.Context, msg *slackevents.MessageEvent) {
	text := strings.TrimSpace(msg.Text)

	if approval, ok := parseApproval(text); ok {
		env := envelope.New(envelope.NewPlanApproval(approval), approval.WorkflowReferenceCode, envelope.Context{
			ChannelID: msg.Channel,
		})
		if err := c.bus.Publish(ctx, harness.QueueFor(c.orchestrator), env); err != nil {
			slog.Error("slack: publish approval", "workflow_ref", approval.WorkflowReferenceCode, "error", err)
		}
		return
	}

	ref := c.refs.Generate()
	env := envelope.New(envelope.NewTextMessage(text), ref, envelope.Context{
		ReplyTo:      DeliveryQueue,
		ChannelID:    msg.Channel,
		OriginalGoal: text,
	})
	if err := c.bus.Publish(ctx, harness.QueueFor(c.orchestrator), env); err != nil {
		slog.Error("slack: publish request", "reference_code", ref, "error", err)
	}
}

// parseApproval recognizes "approve CTX-..." and "reject CTX-... [reason]".
func parseApproval(text string) (envelope.PlanApproval, bool) {
	fields := strings.Fields(text)
	if len(fields) < 2 || !strings.HasPrefix(fields[1], "CTX-") {
		return envelope.PlanApproval{}, false
	}
	switch strings.ToLower(fields[0]) {
	case "approve":
		return envelope.PlanApproval{WorkflowReferenceCode: fields[1], Approved: true}, true
	case "reject":
		return envelope.PlanApproval{
			WorkflowReferenceCode: fields[1],
			Approved:              false,
			RejectionReason:       strings.Join(fields[2:], " "),
		}, true
	default:
		return envelope.PlanApproval{}, false
	}
}

// deliver posts an outbound envelope to Slack.
func (c *SlackChannel) deliver(ctx context.Context, env *envelope.Envelope) error {
	channelID := env.Context.ChannelID
	if channelID == "" {
		channelID = c.cfg.ChannelID
	}
	if channelID == "" {
		slog.Warn("slack: no channel for delivery", "reference_code", env.ReferenceCode)
		return nil
	}
	_, _, err := c.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(renderEnvelope(env), false))
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// renderEnvelope formats an envelope for humans in Slack.
func renderEnvelope(env *envelope.Envelope) string {
	switch env.Message.Kind {
	case envelope.KindPlanProposal:
		p := env.Message.Proposal
		var sb strings.Builder
		fmt.Fprintf(&sb, "*Plan %s awaiting approval*\n", p.WorkflowReferenceCode)
		fmt.Fprintf(&sb, "Goal: %s\n", p.OriginalGoal)
		if p.Summary != "" {
			fmt.Fprintf(&sb, "Summary: %s\n", p.Summary)
		}
		for i, d := range p.TaskDescriptions {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, d)
		}
		fmt.Fprintf(&sb, "Reply `approve %s` or `reject %s <reason>`.", p.WorkflowReferenceCode, p.WorkflowReferenceCode)
		return sb.String()
	default:
		return fmt.Sprintf("[%s] %s", env.ReferenceCode, env.Message.Text)
	}
}
