package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/adpilot-ai/adpilot/internal/bus"
	"github.com/adpilot-ai/adpilot/internal/config"
)

// SlackChannel is the Slack transport over Socket Mode. Each Slack
// conversation (channel or DM) maps to one agent conversation.
type SlackChannel struct {
	BaseChannel
	config    config.SlackConfig
	approvals *ApprovalRouter
	api       *slack.Client
	socket    *socketmode.Client
	logger    *slog.Logger
}

func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus, approvals *ApprovalRouter, logger *slog.Logger) *SlackChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
		approvals:   approvals,
		logger:      logger,
	}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	if c.config.BotToken == "" || c.config.AppToken == "" {
		return fmt.Errorf("slack channel requires bot and app tokens")
	}

	c.api = slack.New(c.config.BotToken, slack.OptionAppLevelToken(c.config.AppToken))
	c.socket = socketmode.New(c.api)

	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		content := msg.Content
		if msg.PlanID != "" {
			content += FormatPlanPrompt(msg.PlanID)
		}
		_, _, err := c.api.PostMessageContext(ctx, msg.ConversationID, slack.MsgOptionText(content, false))
		if err != nil {
			c.logger.Warn("slack delivery failed", "conversation", msg.ConversationID, "error", err)
		}
	})

	go c.consumeEvents(ctx)
	go func() {
		if err := c.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("slack socket stopped", "error", err)
		}
	}()
	c.logger.Info("slack channel started")
	return nil
}

func (c *SlackChannel) Stop() error { return nil }

func (c *SlackChannel) consumeEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.socket.Events:
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
			c.socket.Ack(*evt.Request)
			c.handleEvent(ctx, apiEvent)
		}
	}
}

func (c *SlackChannel) handleEvent(ctx context.Context, evt slackevents.EventsAPIEvent) {
	if evt.Type != slackevents.CallbackEvent {
		return
	}
	msg, ok := evt.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok || msg.BotID != "" || strings.TrimSpace(msg.Text) == "" {
		return
	}

	if reply, handled := c.approvals.Handle(ctx, msg.Text); handled {
		if _, _, err := c.api.PostMessageContext(ctx, msg.Channel, slack.MsgOptionText(reply, false)); err != nil {
			c.logger.Warn("slack approval reply failed", "error", err)
		}
		return
	}

	c.Bus.PublishInbound(&bus.InboundMessage{
		Channel:        c.Name(),
		SenderID:       msg.User,
		ConversationID: msg.Channel,
		TraceID:        uuid.NewString(),
		Content:        msg.Text,
	})
}
