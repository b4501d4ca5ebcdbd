package consumers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/spei-ledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves a fixed list of messages and then blocks until ctx ends.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []kafka.Message
	done      chan struct{}
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{msgs: msgs, done: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type fakeDLQ struct {
	mu      sync.Mutex
	keys    []string
	reasons []string
}

func (d *fakeDLQ) PublishToDLQ(_ context.Context, key string, _ []byte, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys = append(d.keys, key)
	d.reasons = append(d.reasons, reason)
	return nil
}

func (d *fakeDLQ) Close() error { return nil }

func (d *fakeDLQ) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.keys)
}

func newTestConsumer(reader kafkaReader, dlq *fakeDLQ) *KafkaConsumer {
	c := &KafkaConsumer{
		reader:      reader,
		logger:      slog.New(slog.NewJSONHandler(os.Stdout, nil)),
		topic:       "spei_reconciliation_requests",
		groupID:     "spei-ledger-processor",
		maxAttempts: 3,
		retryDelay:  time.Millisecond,
	}
	if dlq != nil {
		c.dlq = dlq
	}
	return c
}

func TestNewKafkaConsumer(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := &config.KafkaConfig{
		Brokers:       "localhost:9092",
		ConsumerGroup: "test-group",
		MinBytes:      1024,
		MaxBytes:      10240,
		MaxWait:       time.Second,
	}

	consumer := NewKafkaConsumer(context.Background(), logger, cfg, "test-topic", nil)
	require.NotNil(t, consumer)
	require.NotNil(t, consumer.reader)
	assert.Equal(t, "test-topic", consumer.topic)
	assert.Equal(t, "test-group", consumer.groupID)
	assert.Equal(t, defaultMaxAttempts, consumer.maxAttempts)
	require.NoError(t, consumer.Close())
}

func TestKafkaConsumer_Subscribe(t *testing.T) {
	t.Run("CommitsHandledMessages", func(t *testing.T) {
		reader := newFakeReader(
			kafka.Message{Key: []byte("a"), Value: []byte("1")},
			kafka.Message{Key: []byte("b"), Value: []byte("2")},
		)
		consumer := newTestConsumer(reader, nil)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var mu sync.Mutex
		var seen []string
		require.NoError(t, consumer.Subscribe(ctx, func(_ context.Context, key, _ []byte) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, string(key))
			return nil
		}))

		assert.Eventually(t, func() bool { return reader.committedCount() == 2 }, time.Second, 5*time.Millisecond)
		mu.Lock()
		assert.Equal(t, []string{"a", "b"}, seen)
		mu.Unlock()
	})

	t.Run("RetriesThenDeadLetters", func(t *testing.T) {
		reader := newFakeReader(kafka.Message{Key: []byte("req-1"), Value: []byte("{}")})
		dlq := &fakeDLQ{}
		consumer := newTestConsumer(reader, dlq)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var mu sync.Mutex
		attempts := 0
		require.NoError(t, consumer.Subscribe(ctx, func(context.Context, []byte, []byte) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			return errors.New("remote unavailable")
		}))

		assert.Eventually(t, func() bool { return reader.committedCount() == 1 }, time.Second, 5*time.Millisecond)
		mu.Lock()
		assert.Equal(t, 3, attempts)
		mu.Unlock()
		assert.Equal(t, 1, dlq.count())
		assert.Equal(t, "req-1", dlq.keys[0])
		assert.Contains(t, dlq.reasons[0], "remote unavailable")
	})

	t.Run("PoisonMessageSkipsRetries", func(t *testing.T) {
		reader := newFakeReader(kafka.Message{Key: []byte("bad"), Value: []byte("not json")})
		dlq := &fakeDLQ{}
		consumer := newTestConsumer(reader, dlq)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var mu sync.Mutex
		attempts := 0
		require.NoError(t, consumer.Subscribe(ctx, func(context.Context, []byte, []byte) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			return fmt.Errorf("decode: %w", ErrPoisonMessage)
		}))

		assert.Eventually(t, func() bool { return dlq.count() == 1 }, time.Second, 5*time.Millisecond)
		mu.Lock()
		assert.Equal(t, 1, attempts)
		mu.Unlock()
	})

	t.Run("NilHandler", func(t *testing.T) {
		consumer := newTestConsumer(newFakeReader(), nil)
		assert.Error(t, consumer.Subscribe(context.Background(), nil))
	})
}

func TestKafkaConsumer_Close(t *testing.T) {
	consumer := &KafkaConsumer{logger: slog.New(slog.NewJSONHandler(os.Stdout, nil))}
	require.NoError(t, consumer.Close())
}
