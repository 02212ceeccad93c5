// Package stream abstracts the message pipeline the dispatcher consumes and
// the crawler publishes into. Two implementations exist: a Kafka/Redpanda
// broker for deployment and an in-process broker for tests and local runs.
package stream

import (
	"context"

	"github.com/sells-group/signal-pipeline/internal/model"
)

// Message is one inbound unit from a topic.
type Message struct {
	Topic     model.Topic
	Key       string
	Value     []byte
	Partition int
	Offset    int64
}

// Handler processes a single message. A returned error is recorded by the
// consumer but never stops consumption; progress is committed either way.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends JSON-encoded messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic model.Topic, key string, value any) error
	Close() error
}

// Consumer drives a handler over the subscribed topics until the context is
// cancelled. Offsets are committed only after the handler returns, so a crash
// mid-handler can redeliver; handlers must tolerate re-running.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
	Close() error
}
