package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "snappy")

	require.NoError(t, p.Publish(context.Background(), "events", []byte("k"), map[string]int{"n": 1}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "events", w.msgs[0].Topic)

	var got map[string]int
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, 1, got["n"])
}

func TestPublishBatchWrapsWriterError(t *testing.T) {
	boom := errors.New("boom")
	p := NewProducerWithWriter(&fakeWriter{err: boom}, "snappy")
	err := p.PublishBatch(context.Background(), "events", []Message{{Value: "a"}, {Value: []byte("b")}})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, p.PublishBatch(context.Background(), "events", nil))
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(ProducerConfig{})
	assert.Error(t, err)
}

func TestBackoffStaysWithinBounds(t *testing.T) {
	for attempt := 1; attempt < 10; attempt++ {
		d := backoffWithJitter(50*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}
