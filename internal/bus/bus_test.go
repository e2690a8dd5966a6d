package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInboundRoundTrip(t *testing.T) {
	b := NewMessageBus()
	b.PublishInbound(&InboundMessage{Channel: "cli", ConversationID: "conv-1", Content: "hi"})

	msg, err := b.ConsumeInbound(context.Background())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if msg.ConversationID != "conv-1" || msg.Content != "hi" {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Fatal("timestamp not stamped on publish")
	}
}

func TestConsumeInboundHonoursContext(t *testing.T) {
	b := NewMessageBus()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := b.ConsumeInbound(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline error, got %v", err)
	}
}

func TestDispatchOutboundRoutesByChannel(t *testing.T) {
	b := NewMessageBus()
	slack := make(chan *OutboundMessage, 1)
	nats := make(chan *OutboundMessage, 1)
	b.Subscribe("slack", func(m *OutboundMessage) { slack <- m })
	b.Subscribe("nats", func(m *OutboundMessage) { nats <- m })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.PublishOutbound(&OutboundMessage{Channel: "slack", ConversationID: "conv-1", Content: "for slack"})

	select {
	case m := <-slack:
		if m.Content != "for slack" {
			t.Fatalf("msg = %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("slack subscriber never received the message")
	}
	select {
	case m := <-nats:
		t.Fatalf("nats received a slack message: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}
