package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaBus implements Bus on a Kafka (or Redpanda) cluster via franz-go.
// Keys select partitions, so the broker provides the per-key ordering the
// pipeline relies on; offsets are committed only after the handler (and its
// bounded retries) complete, which gives at-least-once delivery.
type KafkaBus struct {
	brokers  []string
	clientID string
	retry    RetryPolicy

	mu       sync.Mutex
	started  bool
	stopped  bool
	producer *kgo.Client
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	consumers int
}

// KafkaConfig holds connection settings for the Kafka backend.
type KafkaConfig struct {
	Brokers  []string
	ClientID string
	Retry    RetryPolicy
}

// NewKafkaBus creates a Kafka-backed bus. The connection is established on
// Start.
func NewKafkaBus(cfg KafkaConfig) (*KafkaBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers must be specified")
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &KafkaBus{brokers: cfg.Brokers, clientID: cfg.ClientID, retry: cfg.Retry}, nil
}

// Start opens the shared producer client.
func (b *KafkaBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	producer, err := kgo.NewClient(
		kgo.SeedBrokers(b.brokers...),
		kgo.ClientID(b.clientID),
		kgo.ProducerBatchCompression(kgo.GzipCompression()),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return fmt.Errorf("failed to create kafka producer: %w", err)
	}
	if err := producer.Ping(ctx); err != nil {
		producer.Close()
		return fmt.Errorf("kafka unreachable: %w", err)
	}
	b.cancel = func() {}
	b.producer = producer
	b.started = true
	log.Info().Strs("brokers", b.brokers).Msg("kafka bus started")
	return nil
}

// Stop cancels consumer poll loops, waits for in-flight handlers bounded by
// ctx, then closes the producer.
func (b *KafkaBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started || b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	cancel := b.cancel
	producer := b.producer
	b.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	producer.Close()
	log.Info().Msg("kafka bus stopped")
	return nil
}

// CreateTopic relies on broker auto-creation; explicit admin calls are not
// needed because the producer is configured with AllowAutoTopicCreation.
func (b *KafkaBus) CreateTopic(_ context.Context, _ TopicConfig) error {
	return nil
}

// Publish produces one keyed record and waits for the broker ack.
func (b *KafkaBus) Publish(ctx context.Context, topic, key string, payload []byte) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return ErrBusNotStarted
	}
	if b.stopped {
		b.mu.Unlock()
		return ErrBusStopped
	}
	producer := b.producer
	b.mu.Unlock()

	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: payload}
	if err := producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a consumer-group poll loop for the topic. Records from
// the same partition are handled sequentially; offsets are committed after
// handling.
func (b *KafkaBus) Subscribe(ctx context.Context, topic, group string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return ErrBusNotStarted
	}
	if b.stopped {
		return ErrBusStopped
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(b.brokers...),
		kgo.ClientID(b.clientID),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.SessionTimeout(10*time.Second),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(500*time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	prevCancel := b.cancel
	b.cancel = func() {
		prevCancel()
		cancel()
	}
	b.consumers++
	b.wg.Add(1)
	go b.pollLoop(runCtx, client, topic, group, handler)
	log.Info().Str("topic", topic).Str("group", group).Msg("kafka subscription registered")
	return nil
}

func (b *KafkaBus) pollLoop(ctx context.Context, client *kgo.Client, topic, group string, handler Handler) {
	defer b.wg.Done()
	defer client.Close()

	for {
		fetches := client.PollFetches(ctx)
		if ctx.Err() != nil {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				log.Error().Err(fe.Err).Str("topic", fe.Topic).Msg("kafka fetch error")
			}
		}
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			for _, record := range p.Records {
				msg := &Message{
					Topic:     record.Topic,
					Key:       string(record.Key),
					Payload:   record.Value,
					Partition: record.Partition,
					Offset:    record.Offset,
					Timestamp: record.Timestamp,
				}
				b.handleWithRetry(ctx, topic, group, handler, msg)
			}
		})
		if err := client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("group", group).Msg("kafka commit failed")
		}
	}
}

func (b *KafkaBus) handleWithRetry(ctx context.Context, topic, group string, handler Handler, msg *Message) {
	for attempt := 0; ; attempt++ {
		err := handler(ctx, msg)
		if err == nil {
			return
		}
		if attempt >= b.retry.MaxRetries {
			log.Error().Err(err).
				Str("topic", topic).
				Str("group", group).
				Str("key", msg.Key).
				Int("attempts", attempt+1).
				Msg("handler failed, advancing offset")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.retry.delay(attempt)):
		}
	}
}

// Health reports connectivity based on a producer ping.
func (b *KafkaBus) Health() HealthStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	healthy := b.started && !b.stopped
	if healthy {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		healthy = b.producer.Ping(ctx) == nil
		cancel()
	}
	return HealthStatus{
		Healthy:         healthy,
		Backend:         "kafka",
		ActiveConsumers: b.consumers,
		LastCheck:       time.Now().UTC(),
	}
}
