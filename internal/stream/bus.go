package stream

import (
	"context"
	"errors"
	"time"
)

// Bus is the pub/sub contract the pipeline runs on. Delivery is
// at-least-once within a consumer group; messages sharing a key are handled
// in publication order.
type Bus interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	Subscribe(ctx context.Context, topic, group string, handler Handler) error

	// CreateTopic is idempotent: creating an existing topic is a no-op.
	CreateTopic(ctx context.Context, config TopicConfig) error

	Start(ctx context.Context) error
	// Stop drains in-flight handlers before returning, bounded by ctx.
	Stop(ctx context.Context) error
	Health() HealthStatus
}

// Message is one delivered bus record.
type Message struct {
	Topic     string
	Key       string
	Payload   []byte
	Partition int32
	Offset    int64
	Timestamp time.Time
}

// Handler processes a delivered message. A non-nil error triggers bounded
// redelivery; after retries are exhausted the message is dropped and the
// offset advances.
type Handler func(ctx context.Context, msg *Message) error

// TopicConfig describes a topic at creation time.
type TopicConfig struct {
	Name       string
	Partitions int32
}

// HealthStatus reports bus liveness for /health.
type HealthStatus struct {
	Healthy         bool      `json:"healthy"`
	Backend         string    `json:"backend"`
	ActiveTopics    int       `json:"active_topics"`
	ActiveConsumers int       `json:"active_consumers"`
	LastCheck       time.Time `json:"last_check"`
}

// RetryPolicy bounds handler redelivery. Uniform across backends.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy retries three times with doubling delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

var (
	ErrBusNotStarted = errors.New("bus not started")
	ErrBusStopped    = errors.New("bus stopped")
	ErrUnknownTopic  = errors.New("unknown topic")
)
