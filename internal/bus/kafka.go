package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dbhq-uk/cortex/internal/envelope"
)

// KafkaBus is the broker-backed Bus implementation. Each queue maps to a
// Kafka topic; competing consumers on one queue share a consumer group so
// each message is delivered to exactly one of them.
type KafkaBus struct {
	brokers []string
	group   string
	writer  *kafka.Writer

	mu        sync.Mutex
	consumers map[*kafkaConsumer]struct{}
	closed    bool
}

// NewKafkaBus creates a bus against the given brokers. consumerGroup scopes
// the competing-consumer groups of this process family.
func NewKafkaBus(brokers []string, consumerGroup string) *KafkaBus {
	return &KafkaBus{
		brokers: brokers,
		group:   consumerGroup,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		consumers: make(map[*kafkaConsumer]struct{}),
	}
}

// Publish writes the JSON-encoded envelope to the queue's topic. The
// reference code is used as the message key so a task's hops stay ordered
// within a partition.
func (b *KafkaBus) Publish(ctx context.Context, queue string, env *envelope.Envelope) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus is closed")
	}
	b.mu.Unlock()

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic: queue,
		Key:   []byte(env.ReferenceCode),
		Value: data,
	})
}

// StartConsuming attaches a group reader to the queue's topic.
func (b *KafkaBus) StartConsuming(queue string, h Handler) (ConsumerHandle, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("bus is closed")
	}
	b.mu.Unlock()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.brokers,
		Topic:    queue,
		GroupID:  b.group + "." + queue,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := &kafkaConsumer{reader: reader, cancel: cancel, done: make(chan struct{})}

	b.mu.Lock()
	b.consumers[c] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer close(c.done)
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("kafka bus: read error", "queue", queue, "error", err)
				continue
			}
			var env envelope.Envelope
			if err := json.Unmarshal(msg.Value, &env); err != nil {
				slog.Warn("kafka bus: dropping undecodable message", "queue", queue, "error", err)
				continue
			}
			if err := h(ctx, &env); err != nil {
				slog.Error("kafka bus: handler failed", "queue", queue, "reference_code", env.ReferenceCode, "error", err)
			}
		}
	}()
	return c, nil
}

// StopAllConsuming stops every consumer on the bus.
func (b *KafkaBus) StopAllConsuming() {
	b.mu.Lock()
	consumers := make([]*kafkaConsumer, 0, len(b.consumers))
	for c := range b.consumers {
		consumers = append(consumers, c)
	}
	b.consumers = make(map[*kafkaConsumer]struct{})
	b.mu.Unlock()

	for _, c := range consumers {
		c.Stop()
	}
}

// Close stops all consumers and closes the writer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.StopAllConsuming()
	return b.writer.Close()
}

type kafkaConsumer struct {
	reader   *kafka.Reader
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Stop cancels the read loop and closes the underlying reader.
func (c *kafkaConsumer) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		<-c.done
		_ = c.reader.Close()
	})
}
