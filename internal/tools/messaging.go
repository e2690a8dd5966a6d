package tools

import (
	"context"
	"fmt"
	"time"
)

// MessagingClient is the collaborator interface for outbound messaging.
type MessagingClient interface {
	Send(ctx context.Context, recipient, body string) (map[string]any, error)
	Broadcast(ctx context.Context, segment, body string) (map[string]any, error)
}

// SendMessageTool sends a message to a single recipient.
type SendMessageTool struct {
	client MessagingClient
}

func NewSendMessageTool(client MessagingClient) *SendMessageTool {
	return &SendMessageTool{client: client}
}

func (t *SendMessageTool) Name() string { return "messaging_send" }

func (t *SendMessageTool) Description() string {
	return "Send a message to a single customer or contact."
}

func (t *SendMessageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"recipient": map[string]any{"type": "string", "description": "Recipient identifier (phone, email, or contact ID)"},
			"body":      map[string]any{"type": "string", "description": "Message text"},
		},
		"required": []any{"recipient", "body"},
	}
}

func (t *SendMessageTool) Meta() Meta {
	return domainMeta("messaging", t.Name(), 15*time.Second, false)
}

func (t *SendMessageTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	recipient := GetString(params, "recipient", "")
	body := GetString(params, "body", "")

	data, err := t.client.Send(ctx, recipient, body)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Message sent to %s", recipient),
		Data:    data,
	}, nil
}

// BroadcastTool sends a message to a whole customer segment.
// Dangerous: bulk sends are irreversible and can cost money.
type BroadcastTool struct {
	client MessagingClient
}

func NewBroadcastTool(client MessagingClient) *BroadcastTool {
	return &BroadcastTool{client: client}
}

func (t *BroadcastTool) Name() string { return "messaging_broadcast" }

func (t *BroadcastTool) Description() string {
	return "Broadcast a message to an entire customer segment. Requires approval."
}

func (t *BroadcastTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"segment": map[string]any{"type": "string", "description": "Segment name, e.g. all_customers, recent_leads"},
			"body":    map[string]any{"type": "string", "description": "Message text"},
		},
		"required": []any{"segment", "body"},
	}
}

func (t *BroadcastTool) Meta() Meta {
	return domainMeta("messaging", t.Name(), 30*time.Second, false)
}

func (t *BroadcastTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	segment := GetString(params, "segment", "")
	body := GetString(params, "body", "")

	data, err := t.client.Broadcast(ctx, segment, body)
	if err != nil {
		return nil, fmt.Errorf("broadcast: %w", err)
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Broadcast queued for segment %s", segment),
		Data:    data,
	}, nil
}
