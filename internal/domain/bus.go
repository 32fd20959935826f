package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `env:"SANCTIOND_BUS"`

	// Channel settings (Community tier)
	ChannelBufferSize int `env:"SANCTIOND_BUS_BUFFER"`

	// NATS settings (Pro tier)
	NATSUrl           string `env:"SANCTIOND_NATS_URL"`
	NATSToken         string `env:"SANCTIOND_NATS_TOKEN"`
	NATSMaxReconnects int    `env:"SANCTIOND_NATS_MAX_RECONNECTS"`
	NATSReconnectWait int    `env:"SANCTIOND_NATS_RECONNECT_WAIT"` // seconds
	QueueGroup        string `env:"SANCTIOND_NATS_QUEUE"`
}

// Decision lifecycle topics. Every successful transition publishes the
// decision's read model on the topic of its new status.
const (
	TopicDecisionPrefix   = "sanctions.decision."
	TopicDecisionCreated  = "sanctions.decision.created"
	TopicDecisionUpdated  = "sanctions.decision.updated"
	TopicDecisionApproved = "sanctions.decision.approved"
	TopicExportGenerated  = "sanctions.export.generated"
)

// DecisionTopic returns the lifecycle topic for a status.
func DecisionTopic(s Status) string {
	return TopicDecisionPrefix + string(s)
}

// DecisionEvent is the payload published on decision lifecycle topics.
type DecisionEvent struct {
	Operation string        `json:"operation"`
	ActorID   string        `json:"actorId,omitempty"`
	Decision  *DecisionView `json:"decision"`
}
