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
	Type string `json:"type" yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `json:"channelBufferSize" yaml:"channel_buffer_size"`

	// NATS settings (Pro tier)
	NATSUrl           string `json:"natsUrl" yaml:"nats_url"`
	NATSToken         string `json:"-" yaml:"nats_token"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"nats_max_reconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"nats_reconnect_wait"` // seconds

	// NATSQueue is the queue group dataset workers join. Empty means every
	// subscriber receives every submission.
	NATSQueue string `json:"natsQueue" yaml:"nats_queue"`
}

// Standard topic names for the analysis pipeline.
const (
	TopicDatasetSubmitted  = "kestrel.dataset.submitted"
	TopicAnalysisCompleted = "kestrel.analysis.completed"
	TopicAlert             = "kestrel.alert"
)

// JobStatus is the lifecycle state of an asynchronous analysis.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job tracks an asynchronous analysis request.
type Job struct {
	ID        string    `json:"id"`
	Module    Module    `json:"module"`
	Status    JobStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	ReportID  string    `json:"reportId,omitempty"`
	Submitted int64     `json:"submitted"`
	Finished  int64     `json:"finished,omitempty"`
}

// DatasetMessage is the payload published when a dataset is submitted.
type DatasetMessage struct {
	JobID  string `json:"jobId"`
	Module Module `json:"module"`
	Params Params `json:"params"`
	CSV    []byte `json:"csv"`
}

// CompletionMessage is published when an analysis finishes.
type CompletionMessage struct {
	JobID    string    `json:"jobId"`
	ReportID string    `json:"reportId"`
	Module   Module    `json:"module"`
	Status   JobStatus `json:"status"`
	Rows     int       `json:"rows"`
	Critical int       `json:"critical"`
	Error    string    `json:"error,omitempty"`
}

// AlertMessage is published when an analysis contains critical entities.
type AlertMessage struct {
	JobID     string   `json:"jobId"`
	ReportID  string   `json:"reportId"`
	Module    Module   `json:"module"`
	Critical  int      `json:"critical"`
	EntityIDs []string `json:"entityIds"`
}
