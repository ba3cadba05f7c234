// Package bus provides the named-queue pub/sub transport between agents.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dbhq-uk/cortex/internal/envelope"
)

// Handler processes one envelope delivered from a queue.
type Handler func(ctx context.Context, env *envelope.Envelope) error

// ConsumerHandle controls a single consumer. Stopping a handle stops only
// that consumer; other consumers on the same queue or bus are unaffected.
type ConsumerHandle interface {
	Stop()
}

// Bus is the message transport contract. Queues are created implicitly on
// first use. Publishing to a queue with no consumer buffers the message until
// a consumer attaches. Multiple consumers on one queue compete: each message
// goes to exactly one of them. FIFO holds per queue for a single consumer; no
// ordering is guaranteed across queues.
type Bus interface {
	Publish(ctx context.Context, queue string, env *envelope.Envelope) error
	StartConsuming(queue string, h Handler) (ConsumerHandle, error)
	StopAllConsuming()
	Close() error
}

const defaultQueueDepth = 256

// MemoryBus is the in-process Bus implementation, backed by one buffered
// channel per queue.
type MemoryBus struct {
	mu        sync.Mutex
	queues    map[string]chan *envelope.Envelope
	consumers map[*memoryConsumer]struct{}
	depth     int
	closed    bool
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		queues:    make(map[string]chan *envelope.Envelope),
		consumers: make(map[*memoryConsumer]struct{}),
		depth:     defaultQueueDepth,
	}
}

func (b *MemoryBus) queue(name string) chan *envelope.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan *envelope.Envelope, b.depth)
		b.queues[name] = q
	}
	return q
}

// Publish enqueues the envelope. The message is buffered even if no consumer
// is attached yet.
func (b *MemoryBus) Publish(ctx context.Context, queue string, env *envelope.Envelope) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus is closed")
	}
	b.mu.Unlock()

	select {
	case b.queue(queue) <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartConsuming attaches a consumer to the queue and begins delivering
// buffered and future messages to the handler, one at a time.
func (b *MemoryBus) StartConsuming(queue string, h Handler) (ConsumerHandle, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("bus is closed")
	}
	b.mu.Unlock()

	q := b.queue(queue)
	ctx, cancel := context.WithCancel(context.Background())
	c := &memoryConsumer{cancel: cancel, done: make(chan struct{})}

	b.mu.Lock()
	b.consumers[c] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer close(c.done)
		for {
			select {
			case <-ctx.Done():
				return
			case env := <-q:
				if err := h(ctx, env); err != nil {
					slog.Error("bus: handler failed", "queue", queue, "reference_code", env.ReferenceCode, "error", err)
				}
			}
		}
	}()
	return c, nil
}

// StopAllConsuming stops every consumer on the bus. Buffered messages remain
// queued for consumers that attach later.
func (b *MemoryBus) StopAllConsuming() {
	b.mu.Lock()
	consumers := make([]*memoryConsumer, 0, len(b.consumers))
	for c := range b.consumers {
		consumers = append(consumers, c)
	}
	b.consumers = make(map[*memoryConsumer]struct{})
	b.mu.Unlock()

	for _, c := range consumers {
		c.Stop()
	}
}

// Close stops all consumers and rejects further publishes.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.StopAllConsuming()
	return nil
}

type memoryConsumer struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Stop cancels this consumer and waits for its loop to exit.
func (c *memoryConsumer) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		<-c.done
	})
}
