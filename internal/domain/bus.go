package domain

import (
	"context"
)

// EventBus carries gateway lifecycle events between components.
// Backed by Go channels in-process or NATS for distributed deployments.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

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
	Type string

	// Channel settings
	ChannelBufferSize int

	// NATS settings
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for gateway lifecycle events.
const (
	TopicConnectorConnected  = "corelink.connector.connected"
	TopicConnectorLost       = "corelink.connector.lost"
	TopicConnectorAuthFailed = "corelink.connector.authfailed"
	TopicConnectFailed       = "corelink.connector.connectfailed"

	TopicIntegrationRequested = "corelink.integration.requested"
	TopicIntegrationStarted   = "corelink.integration.started"
	TopicIntegrationCompleted = "corelink.integration.completed"
	TopicIntegrationFailed    = "corelink.integration.failed"
)

// ConnectorEvent is the payload published on connector topics.
type ConnectorEvent struct {
	System string `json:"system"`
	Reason string `json:"reason,omitempty"`
}

// IntegrationEvent is the payload published on integration topics.
type IntegrationEvent struct {
	IntegrationID string          `json:"integrationId"`
	Type          IntegrationType `json:"type"`
	System        string          `json:"system"`
	Operation     string          `json:"operation"`
	Error         string          `json:"error,omitempty"`
}
