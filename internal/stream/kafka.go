package stream

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/config"
	"github.com/sells-group/signal-pipeline/internal/model"
)

// KafkaBroker implements Publisher and Consumer over a Kafka-compatible
// broker (Redpanda in deployment).
type KafkaBroker struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

// NewKafka connects a broker client for the standard pipeline topics.
func NewKafka(cfg config.KafkaConfig) *KafkaBroker {
	topics := make([]string, 0, len(model.Topics()))
	for _, t := range model.Topics() {
		topics = append(topics, string(t))
	}

	return &KafkaBroker{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Gzip,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			GroupTopics: topics,
		}),
	}
}

// Publish JSON-encodes value and sends it to the topic.
func (b *KafkaBroker) Publish(ctx context.Context, topic model.Topic, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return eris.Wrapf(err, "stream: marshal message for %s", topic)
	}

	msg := kafka.Message{
		Topic: string(topic),
		Value: payload,
	}
	if key != "" {
		msg.Key = []byte(key)
	}

	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return eris.Wrapf(err, "stream: publish to %s", topic)
	}
	return nil
}

// Consume fetches messages and commits each offset only after the handler
// returns. Handler errors are logged; consumption continues.
func (b *KafkaBroker) Consume(ctx context.Context, handler Handler) error {
	for {
		kmsg, err := b.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return eris.Wrap(err, "stream: fetch message")
		}

		msg := Message{
			Topic:     model.Topic(kmsg.Topic),
			Key:       string(kmsg.Key),
			Value:     kmsg.Value,
			Partition: kmsg.Partition,
			Offset:    kmsg.Offset,
		}

		if err := handler(ctx, msg); err != nil {
			zap.L().Error("stream: handler error",
				zap.String("topic", kmsg.Topic),
				zap.Int("partition", kmsg.Partition),
				zap.Int64("offset", kmsg.Offset),
				zap.Error(err),
			)
		}

		if err := b.reader.CommitMessages(ctx, kmsg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zap.L().Warn("stream: commit failed", zap.Error(err))
		}
	}
}

// Close releases the underlying reader and writer.
func (b *KafkaBroker) Close() error {
	werr := b.writer.Close()
	rerr := b.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
