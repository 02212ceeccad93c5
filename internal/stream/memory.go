package stream

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/model"
)

// MemoryBroker is an in-process Publisher/Consumer backed by a buffered
// channel. Used by tests and the --local worker mode; delivery semantics
// mirror the Kafka broker (handler errors logged, never propagated).
type MemoryBroker struct {
	ch   chan Message
	once sync.Once
	mu   sync.Mutex
	next map[model.Topic]int64
}

// NewMemory creates a MemoryBroker with the given buffer size.
func NewMemory(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryBroker{
		ch:   make(chan Message, buffer),
		next: make(map[model.Topic]int64),
	}
}

// Publish JSON-encodes value and enqueues it.
func (b *MemoryBroker) Publish(ctx context.Context, topic model.Topic, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return eris.Wrapf(err, "stream: marshal message for %s", topic)
	}

	b.mu.Lock()
	offset := b.next[topic]
	b.next[topic] = offset + 1
	b.mu.Unlock()

	msg := Message{Topic: topic, Key: key, Value: payload, Offset: offset}

	select {
	case b.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume drains the queue until the context is cancelled.
func (b *MemoryBroker) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-b.ch:
			if !ok {
				return nil
			}
			if err := handler(ctx, msg); err != nil {
				zap.L().Error("stream: handler error",
					zap.String("topic", string(msg.Topic)),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
		}
	}
}

// Close stops delivery. Publish after Close panics, matching channel
// semantics; callers stop producers first.
func (b *MemoryBroker) Close() error {
	b.once.Do(func() { close(b.ch) })
	return nil
}
