// Package backplane relays gateway broadcasts between processes.
package backplane

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

const (
	TopicBroadcast = "broadcast"
	TopicRevoke    = "revoke"
)

// Envelope is the wire form of one relayed message.
type Envelope struct {
	ID     string          `json:"id"`
	Origin string          `json:"origin"`
	Groups []string        `json:"groups,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Handler receives envelopes published by other nodes.
type Handler func(ctx context.Context, env Envelope)

// Backplane is at-least-once and never echoes a node's own messages back to it.
type Backplane interface {
	Publish(ctx context.Context, topic string, env Envelope) error
	Subscribe(topic string, h Handler) error
	Close() error
}

func Subject(prefix, topic string) string {
	if prefix == "" {
		return topic
	}
	return prefix + "." + topic
}

// stamp fills ID and Origin before a publish.
func stamp(env *Envelope, origin string) {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	env.Origin = origin
}
