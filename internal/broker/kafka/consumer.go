package kafka

import (
	"context"
	"encoding/json"
	"fmt"
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
// after its handler succeeded.
type Consumer struct {
	r     messageReader
	topic string
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
	return &Consumer{r: kafka.NewReader(cfg), topic: topic}
}

func newConsumerWithReader(r messageReader, topic string) *Consumer {
	return &Consumer{r: r, topic: topic}
}

func (c *Consumer) Topic() string { return c.topic }

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume hands every message to handler. A handler error stops the loop
// without commit, so the message is redelivered.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(msg.Key, msg.Value); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

// RawConsumer is what ConsumeJSON needs from a consumer.
type RawConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// ConsumeJSON decodes every message into T before calling handle. A message
// that does not decode is logged and committed: a retry cannot fix it.
func ConsumeJSON[T any](ctx context.Context, c RawConsumer, handle func(ctx context.Context, key string, msg T) error) error {
	return c.Consume(ctx, func(key, value []byte) error {
		var msg T
		if err := json.Unmarshal(value, &msg); err != nil {
			slog.Error("skip undecodable kafka message", "key", string(key), "type", typeName[T](), "error", err.Error())
			return nil
		}
		return handle(ctx, string(key), msg)
	})
}

func typeName[T any]() string {
	var zero T
	return fmt.Sprintf("%T", zero)
}
