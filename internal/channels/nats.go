package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/adpilot-ai/adpilot/internal/bus"
	"github.com/adpilot-ai/adpilot/internal/config"
)

// natsRequest is the inbound payload on the request subject.
type natsRequest struct {
	ConversationID string `json:"conversation_id"`
	BusinessID     string `json:"business_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Mode           string `json:"mode,omitempty"`
	Content        string `json:"content"`
}

// natsResponse is the payload published to the reply subject.
type natsResponse struct {
	ConversationID string `json:"conversation_id"`
	TraceID        string `json:"trace_id,omitempty"`
	PlanID         string `json:"plan_id,omitempty"`
	Content        string `json:"content"`
	Error          string `json:"error,omitempty"`
}

// NATSChannel serves request/reply over a NATS subject. The reply inbox of
// each request is remembered per conversation until the agent answers.
type NATSChannel struct {
	BaseChannel
	config    config.NATSConfig
	approvals *ApprovalRouter
	conn      *nats.Conn
	sub       *nats.Subscription
	logger    *slog.Logger

	mu      sync.Mutex
	replies map[string]string // conversation_id -> reply subject
}

func NewNATSChannel(cfg config.NATSConfig, messageBus *bus.MessageBus, approvals *ApprovalRouter, logger *slog.Logger) *NATSChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
		approvals:   approvals,
		logger:      logger,
		replies:     make(map[string]string),
	}
}

func (c *NATSChannel) Name() string { return "nats" }

func (c *NATSChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	conn, err := nats.Connect(c.config.URL,
		nats.Name("adpilot"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	c.conn = conn

	subject := c.config.Subject
	if subject == "" {
		subject = "adpilot.requests"
	}
	c.sub, err = conn.Subscribe(subject, func(msg *nats.Msg) {
		c.handleRequest(ctx, msg)
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	c.Bus.Subscribe(c.Name(), func(out *bus.OutboundMessage) {
		c.deliver(out)
	})
	c.logger.Info("nats channel started", "subject", subject)
	return nil
}

func (c *NATSChannel) Stop() error {
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	return nil
}

func (c *NATSChannel) handleRequest(ctx context.Context, msg *nats.Msg) {
	var req natsRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.respond(msg.Reply, &natsResponse{Error: "invalid request payload"})
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	if reply, handled := c.approvals.Handle(ctx, req.Content); handled {
		c.respond(msg.Reply, &natsResponse{ConversationID: req.ConversationID, Content: reply})
		return
	}

	if msg.Reply != "" {
		c.mu.Lock()
		c.replies[req.ConversationID] = msg.Reply
		c.mu.Unlock()
	}

	c.Bus.PublishInbound(&bus.InboundMessage{
		Channel:        c.Name(),
		SenderID:       req.UserID,
		ConversationID: req.ConversationID,
		BusinessID:     req.BusinessID,
		TraceID:        uuid.NewString(),
		Mode:           req.Mode,
		Content:        req.Content,
	})
}

func (c *NATSChannel) deliver(out *bus.OutboundMessage) {
	c.mu.Lock()
	reply, ok := c.replies[out.ConversationID]
	delete(c.replies, out.ConversationID)
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("no reply subject for conversation", "conversation", out.ConversationID)
		return
	}
	c.respond(reply, &natsResponse{
		ConversationID: out.ConversationID,
		TraceID:        out.TraceID,
		PlanID:         out.PlanID,
		Content:        out.Content,
	})
}

func (c *NATSChannel) respond(subject string, resp *natsResponse) {
	if subject == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.conn.Publish(subject, data); err != nil {
		c.logger.Warn("nats reply failed", "subject", subject, "error", err)
	}
}
