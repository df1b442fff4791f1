package kafka

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-checkout/internal/events"
)

// Bus publishes envelopes to per-topic producers, keyed by correlation id so
// one aggregate's events stay ordered.
type Bus struct {
	mu        sync.Mutex
	producers map[string]*Producer
	newFn     func(topic string) *Producer
	ctx       context.Context
}

func NewBus(ctx context.Context, brokers []string, buf int, log *zap.Logger) *Bus {
	return &Bus{
		producers: make(map[string]*Producer),
		newFn:     func(topic string) *Producer { return NewProducer(brokers, topic, buf, log) },
		ctx:       ctx,
	}
}

func (b *Bus) producer(topic string) *Producer {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.producers[topic]
	if !ok {
		p = b.newFn(topic)
		p.Start(b.ctx)
		b.producers[topic] = p
	}
	return p
}

func (b *Bus) Publish(_ context.Context, topic string, env events.Envelope) error {
	value, headers, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	if !b.producer(topic).Publish(events.PartitionKey(env.CorrelationID), value, headers...) {
		return fmt.Errorf("publish %s to %s: producer closed", env.EventType, topic)
	}
	return nil
}

// Close flushes every producer and waits for them to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	ps := make([]*Producer, 0, len(b.producers))
	for _, p := range b.producers {
		ps = append(ps, p)
	}
	b.mu.Unlock()
	for _, p := range ps {
		p.Close()
	}
	for _, p := range ps {
		p.WaitClosed()
	}
}

var _ events.Publisher = (*Bus)(nil)
