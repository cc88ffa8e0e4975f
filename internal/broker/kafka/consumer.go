package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads one topic in a consumer group and commits a message only
// after it has been handled or dropped.
type Consumer struct {
	r messageReader

	maxAttempts int
	delay       func(attempt int32) time.Duration
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return &Consumer{
		r: kafka.NewReader(cfg),
	}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

// WithRetry keeps a failed message in place for up to maxAttempts handler
// calls, sleeping delay(attempt) between them, then drops and commits it.
// Without it a handler error stops Consume.
func (c *Consumer) WithRetry(maxAttempts int, delay func(attempt int32) time.Duration) *Consumer {
	c.maxAttempts = maxAttempts
	c.delay = delay
	return c
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume blocks until ctx is done, the reader fails, or handler fails with no
// retry policy. Delivery is at least once, and a partition is handled strictly
// in order: the next message is not fetched while one is being retried.
func (c *Consumer) Consume(ctx context.Context, handler func(ctx context.Context, key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := c.handle(ctx, msg, handler); err != nil {
			// Важно: commit делаем только при успехе, иначе потеряем сообщение.
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handler func(ctx context.Context, key, value []byte) error) error {
	for attempt := int32(1); ; attempt++ {
		err := handler(ctx, msg.Key, msg.Value)
		if err == nil {
			return nil
		}
		if c.maxAttempts <= 0 {
			return err
		}
		if int(attempt) >= c.maxAttempts {
			slog.Error("drop message after retries",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
				"attempts", attempt,
				"error", err.Error(),
			)
			return nil
		}

		d := time.Second
		if c.delay != nil {
			d = c.delay(attempt)
		}
		slog.Warn("message handler failed",
			"topic", msg.Topic,
			"key", string(msg.Key),
			"attempt", attempt,
			"retry_in", d.String(),
			"error", err.Error(),
		)
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
