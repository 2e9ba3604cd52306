package comms

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func makeMsg(from, to string, t MessageType) *Message {
	return &Message{
		Type:      t,
		From:      from,
		To:        to,
		Subject:   "test",
		Content:   "hello",
		Timestamp: time.Now(),
	}
}

func TestInMemoryBus_Subscribe_Unsubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	var received int32
	unsub := bus.Subscribe("agent-a", func(_ context.Context, _ *Message) error {
		atomic.AddInt32(&received, 1)
		return nil
	})

	msg := makeMsg("agent-b", "agent-a", TypeDirect)
	if err := bus.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("received = %d, want 1", received)
	}

	unsub()
	if err := bus.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish after unsub: %v", err)
	}
	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("received after unsub = %d, want 1", received)
	}
}

func TestInMemoryBus_ChannelDelivery(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	var onChannel, onWildcard, other int32
	bus.Subscribe("ui-42", func(_ context.Context, _ *Message) error {
		atomic.AddInt32(&onChannel, 1)
		return nil
	})
	bus.Subscribe(Wildcard, func(_ context.Context, _ *Message) error {
		atomic.AddInt32(&onWildcard, 1)
		return nil
	})
	bus.Subscribe("ui-7", func(_ context.Context, _ *Message) error {
		atomic.AddInt32(&other, 1)
		return nil
	})

	msg := &Message{Type: TypeProgress, Channel: "ui-42", From: "dev", Content: "WRITE_FILE: success"}
	if err := bus.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if onChannel != 1 || onWildcard != 1 || other != 0 {
		t.Errorf("deliveries channel=%d wildcard=%d other=%d, want 1/1/0", onChannel, onWildcard, other)
	}
	if msg.ID == "" || msg.Timestamp.IsZero() {
		t.Error("Publish did not stamp ID and Timestamp")
	}
}

func TestInMemoryBus_Broadcast(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	var count int32
	for _, id := range []string{"agent-a", "agent-b", "agent-c"} {
		bus.Subscribe(id, func(_ context.Context, _ *Message) error {
			atomic.AddInt32(&count, 1)
			return nil
		})
	}

	msg := &Message{Type: TypeBroadcast, From: "lead", Subject: "all hands", Content: "meeting now"}
	if err := bus.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish broadcast: %v", err)
	}
	if atomic.LoadInt32(&count) != 3 {
		t.Errorf("broadcast delivered to %d agents, want 3", count)
	}
}

func TestInMemoryBus_History(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	msgs := []*Message{
		makeMsg("lead", "agent-a", TypeDirect),
		makeMsg("agent-a", "lead", TypeDirect),
		makeMsg("lead", "agent-b", TypeDirect), // not visible to agent-a
		{Type: TypeBroadcast, From: "system", Subject: "s"},
	}
	for _, m := range msgs {
		bus.Publish(ctx, m)
	}

	hist, err := bus.History("agent-a", 100)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 {
		t.Errorf("History len = %d, want 3", len(hist))
	}

	all, _ := bus.History(Wildcard, 0)
	if len(all) != 4 {
		t.Errorf("Wildcard history len = %d, want 4", len(all))
	}
}

func TestInMemoryBus_History_Limit(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		bus.Publish(ctx, makeMsg("sender", "agent-a", TypeDirect))
	}

	hist, err := bus.History("agent-a", 5)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 5 {
		t.Errorf("History with limit 5 returned %d messages", len(hist))
	}
}
