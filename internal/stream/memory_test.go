package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-pipeline/internal/model"
)

// consume runs the broker until the handler signals completion by cancelling,
// and waits for the consume loop to exit so test state is safe to read.
func consume(t *testing.T, b *MemoryBroker, handler func(cancel context.CancelFunc, msg Message) error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Consume(ctx, func(_ context.Context, msg Message) error {
			return handler(cancel, msg)
		})
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("consume loop did not exit")
	}
}

func TestMemoryBroker_PublishConsume(t *testing.T) {
	b := NewMemory(8)
	defer b.Close()

	require.NoError(t, b.Publish(context.Background(), model.TopicRawEvents, "42", map[string]any{"event_type": "web_crawl"}))
	require.NoError(t, b.Publish(context.Background(), model.TopicCleanEvents, "", map[string]any{"company_id": 42}))

	var got []Message
	consume(t, b, func(cancel context.CancelFunc, msg Message) error {
		got = append(got, msg)
		if len(got) == 2 {
			cancel()
		}
		return nil
	})

	require.Len(t, got, 2)
	assert.Equal(t, model.TopicRawEvents, got[0].Topic)
	assert.Equal(t, "42", got[0].Key)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(got[0].Value, &decoded))
	assert.Equal(t, "web_crawl", decoded["event_type"])
}

func TestMemoryBroker_HandlerErrorDoesNotStopConsumption(t *testing.T) {
	b := NewMemory(8)
	defer b.Close()

	require.NoError(t, b.Publish(context.Background(), model.TopicRawEvents, "", "bad"))
	require.NoError(t, b.Publish(context.Background(), model.TopicRawEvents, "", "good"))

	var seen int
	consume(t, b, func(cancel context.CancelFunc, _ Message) error {
		seen++
		if seen == 2 {
			cancel()
			return nil
		}
		return eris.New("handler blew up")
	})

	assert.Equal(t, 2, seen)
}

func TestMemoryBroker_OffsetsIncreasePerTopic(t *testing.T) {
	b := NewMemory(8)
	defer b.Close()

	require.NoError(t, b.Publish(context.Background(), model.TopicRawEvents, "", 1))
	require.NoError(t, b.Publish(context.Background(), model.TopicRawEvents, "", 2))
	require.NoError(t, b.Publish(context.Background(), model.TopicSignalsDetected, "", 3))

	offsets := map[model.Topic][]int64{}
	count := 0
	consume(t, b, func(cancel context.CancelFunc, msg Message) error {
		offsets[msg.Topic] = append(offsets[msg.Topic], msg.Offset)
		count++
		if count == 3 {
			cancel()
		}
		return nil
	})

	assert.Equal(t, []int64{0, 1}, offsets[model.TopicRawEvents])
	assert.Equal(t, []int64{0}, offsets[model.TopicSignalsDetected])
}
