package consumers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/spei-ledger/internal/config"
	"github.com/spei-ledger/internal/platform/messaging/producers"
)

// ErrPoisonMessage marks a message that can never be processed; it is
// dead-lettered immediately instead of retried.
var ErrPoisonMessage = errors.New("poison message")

const (
	defaultMaxAttempts = 3
	fetchBackoff       = time.Second
)

type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer defines the message queue consumer interface
type Consumer interface {
	Subscribe(ctx context.Context, handler MessageHandler) error
	Close() error
}

// kafkaReader is the subset of *kafka.Reader the consumer uses.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads one topic in a consumer group. A message whose handler
// keeps failing is sent to the dead letter topic and committed so the
// partition can move on.
type KafkaConsumer struct {
	reader      kafkaReader
	dlq         producers.DeadLetterPublisher
	logger      *slog.Logger
	topic       string
	groupID     string
	maxAttempts int
	retryDelay  time.Duration
}

// NewKafkaConsumer creates a consumer for topic. dlq may be nil, in which case
// failed messages are logged and committed.
func NewKafkaConsumer(_ context.Context, logger *slog.Logger, cfg *config.KafkaConfig, topic string, dlq producers.DeadLetterPublisher) *KafkaConsumer {
	startOffset := cfg.StartOffset
	if startOffset == 0 {
		startOffset = kafka.FirstOffset
	}

	return &KafkaConsumer{
		logger:      logger,
		dlq:         dlq,
		topic:       topic,
		groupID:     cfg.ConsumerGroup,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  fetchBackoff,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     []string{cfg.Brokers},
			Topic:       topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
			MaxWait:     cfg.MaxWait,
			StartOffset: startOffset,
		}),
	}
}

// Subscribe starts a goroutine that feeds every message to handler until ctx is done.
func (c *KafkaConsumer) Subscribe(ctx context.Context, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	c.logger.Info("Subscribed to Kafka topic",
		"topic", c.topic,
		"group_id", c.groupID,
	)

	go c.run(ctx, handler)
	return nil
}

func (c *KafkaConsumer) run(ctx context.Context, handler MessageHandler) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Context canceled, stopping consumer",
					"topic", c.topic,
					"group_id", c.groupID,
				)
				return
			}
			c.logger.Error("Failed to fetch message from Kafka",
				"topic", c.topic,
				"group_id", c.groupID,
				"error", err,
			)
			if !sleep(ctx, c.retryDelay) {
				return
			}
			continue
		}

		c.logger.Debug("Received message from Kafka",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
		)

		if !c.process(ctx, msg, handler) {
			return
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Failed to commit message",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
				"error", err,
			)
		}
	}
}

// process runs handler with retries. It returns false only when ctx ended
// before the message was resolved, in which case the offset is left uncommitted.
func (c *KafkaConsumer) process(ctx context.Context, msg kafka.Message, handler MessageHandler) bool {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = handler(ctx, msg.Key, msg.Value)
		if lastErr == nil {
			return true
		}
		if errors.Is(lastErr, ErrPoisonMessage) {
			break
		}

		c.logger.Warn("Failed to process message, retrying",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"attempt", attempt,
			"error", lastErr,
		)
		if attempt < c.maxAttempts && !sleep(ctx, c.retryDelay*time.Duration(attempt)) {
			return false
		}
	}
	if ctx.Err() != nil {
		return false
	}

	c.logger.Error("Giving up on message",
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"key", string(msg.Key),
		"error", lastErr,
	)

	if c.dlq != nil {
		reason := fmt.Sprintf("%s: %v", c.topic, lastErr)
		if err := c.dlq.PublishToDLQ(ctx, string(msg.Key), msg.Value, reason); err != nil {
			c.logger.Error("Failed to dead-letter message", "key", string(msg.Key), "error", err)
		}
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *KafkaConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
