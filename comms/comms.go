// Package comms provides the observer channel and inter-agent message bus.
package comms

import (
	"context"
	"time"
)

// MessageType identifies the kind of message.
type MessageType string

const (
	TypeProgress   MessageType = "progress"    // one per attempted tool action
	TypeTaskUpdate MessageType = "task_update" // task status change notification
	TypeResult     MessageType = "result"      // final task outcome
	TypeDirect     MessageType = "direct"      // point-to-point message between agents
	TypeBroadcast  MessageType = "broadcast"   // delivered to every subscriber
	TypeEscalation MessageType = "escalation"  // question bubbling up the hierarchy
)

// Wildcard subscribes to every message regardless of channel or recipient.
const Wildcard = "*"

// Message is a communication unit published to observers or agents.
type Message struct {
	ID        string            `json:"id"`
	Type      MessageType       `json:"type"`
	Channel   string            `json:"channel,omitempty"` // output channel tag of the task
	From      string            `json:"from"`              // source: agent ID or "system"
	To        string            `json:"to,omitempty"`      // recipient agent ID for direct messages
	TaskID    string            `json:"task_id,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Handler processes a delivered message.
type Handler func(ctx context.Context, msg *Message) error

// Bus is the fire-and-forget sink for progress notifications and
// inter-agent messages. Publishers never read from it.
type Bus interface {
	// Publish delivers msg to subscribers of msg.Channel, msg.To and Wildcard.
	// Broadcasts reach every subscriber.
	Publish(ctx context.Context, msg *Message) error

	// Subscribe registers a handler for a channel tag, agent ID or Wildcard.
	// Returns an unsubscribe function.
	Subscribe(topic string, handler Handler) (unsubscribe func())

	// History returns recent messages addressed to, sent by, or published on topic.
	History(topic string, limit int) ([]*Message, error)
}
