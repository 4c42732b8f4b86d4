package stream

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultPartitions = 8
	partitionBuffer   = 1024
)

// MemoryBus is an in-process Bus for local runs and tests. It preserves the
// contract the pipeline relies on: per-key ordering (key-hashed partitions,
// one worker per partition per group) and at-least-once delivery with
// bounded handler retries.
type MemoryBus struct {
	mu      sync.RWMutex
	started bool
	stopped bool
	retry   RetryPolicy
	topics  map[string]*memTopic
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	consumers int
}

type memTopic struct {
	name       string
	partitions int32
	groups     map[string]*memGroup
	log        []*Message
	offsets    []int64
}

type memGroup struct {
	name    string
	handler Handler
	chans   []chan *Message
}

// NewMemoryBus creates an in-process bus with the given retry policy.
func NewMemoryBus(retry RetryPolicy) *MemoryBus {
	return &MemoryBus{retry: retry, topics: make(map[string]*memTopic)}
}

// Start makes the bus accept publishes and subscriptions.
func (b *MemoryBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	b.runCtx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	b.started = true
	log.Debug().Str("backend", "memory").Msg("bus started")
	return nil
}

// Stop closes all group queues and waits for in-flight handlers, bounded by
// ctx.
func (b *MemoryBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started || b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	for _, t := range b.topics {
		for _, g := range t.groups {
			for _, ch := range g.chans {
				close(ch)
			}
		}
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.cancel()
		<-done
	}
	b.cancel()
	log.Debug().Str("backend", "memory").Msg("bus stopped")
	return nil
}

// CreateTopic registers a topic; existing topics are left untouched.
func (b *MemoryBus) CreateTopic(_ context.Context, config TopicConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createTopicLocked(config)
	return nil
}

func (b *MemoryBus) createTopicLocked(config TopicConfig) *memTopic {
	if t, ok := b.topics[config.Name]; ok {
		return t
	}
	parts := config.Partitions
	if parts <= 0 {
		parts = defaultPartitions
	}
	t := &memTopic{
		name:       config.Name,
		partitions: parts,
		groups:     make(map[string]*memGroup),
		offsets:    make([]int64, parts),
	}
	b.topics[config.Name] = t
	return t
}

// Publish routes the message to the key's partition in every consumer group.
func (b *MemoryBus) Publish(_ context.Context, topic, key string, payload []byte) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return ErrBusNotStarted
	}
	if b.stopped {
		b.mu.Unlock()
		return ErrBusStopped
	}
	t, ok := b.topics[topic]
	if !ok {
		t = b.createTopicLocked(TopicConfig{Name: topic})
	}
	part := partitionFor(key, t.partitions)
	msg := &Message{
		Topic:     topic,
		Key:       key,
		Payload:   payload,
		Partition: part,
		Offset:    t.offsets[part],
		Timestamp: time.Now().UTC(),
	}
	t.offsets[part]++
	t.log = append(t.log, msg)
	groups := make([]*memGroup, 0, len(t.groups))
	for _, g := range t.groups {
		groups = append(groups, g)
	}
	b.mu.Unlock()

	for _, g := range groups {
		g.chans[part] <- msg
	}
	return nil
}

// Subscribe registers a handler for (topic, group) and starts one worker per
// partition so same-key messages stay ordered.
func (b *MemoryBus) Subscribe(_ context.Context, topic, group string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return ErrBusNotStarted
	}
	if b.stopped {
		return ErrBusStopped
	}
	t, ok := b.topics[topic]
	if !ok {
		t = b.createTopicLocked(TopicConfig{Name: topic})
	}
	if _, exists := t.groups[group]; exists {
		// One registration per group in-process; additional handlers would
		// break per-key ordering.
		return nil
	}
	g := &memGroup{name: group, handler: handler, chans: make([]chan *Message, t.partitions)}
	for i := range g.chans {
		g.chans[i] = make(chan *Message, partitionBuffer)
		b.wg.Add(1)
		go b.partitionWorker(t.name, g, g.chans[i])
	}
	t.groups[group] = g
	b.consumers++
	log.Debug().Str("topic", topic).Str("group", group).Msg("bus subscription registered")
	return nil
}

func (b *MemoryBus) partitionWorker(topic string, g *memGroup, ch chan *Message) {
	defer b.wg.Done()
	for msg := range ch {
		b.deliver(topic, g, msg)
	}
}

func (b *MemoryBus) deliver(topic string, g *memGroup, msg *Message) {
	for attempt := 0; ; attempt++ {
		err := b.safeHandle(g.handler, msg)
		if err == nil {
			return
		}
		if attempt >= b.retry.MaxRetries {
			log.Error().Err(err).
				Str("topic", topic).
				Str("group", g.name).
				Str("key", msg.Key).
				Int("attempts", attempt+1).
				Msg("handler failed, dropping message")
			return
		}
		select {
		case <-b.runCtx.Done():
			return
		case <-time.After(b.retry.delay(attempt)):
		}
	}
}

func (b *MemoryBus) safeHandle(h Handler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("topic", msg.Topic).Msg("handler panic")
			err = nil // a panicking handler does not block the partition
		}
	}()
	return h(b.runCtx, msg)
}

// Health reports topic and consumer counts.
func (b *MemoryBus) Health() HealthStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return HealthStatus{
		Healthy:         b.started && !b.stopped,
		Backend:         "memory",
		ActiveTopics:    len(b.topics),
		ActiveConsumers: b.consumers,
		LastCheck:       time.Now().UTC(),
	}
}

// Messages returns a copy of everything published on a topic. Test helper.
func (b *MemoryBus) Messages(topic string) []*Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.topics[topic]
	if !ok {
		return nil
	}
	out := make([]*Message, len(t.log))
	copy(out, t.log)
	return out
}

func partitionFor(key string, partitions int32) int32 {
	if key == "" {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int32(h.Sum32() % uint32(partitions))
}
