package scrape

import (
	"context"
	"log/slog"

	"github.com/BearBump/FreightTrack/internal/broker/messages"
)

type publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

// KafkaDispatcher sends tasks to the worker through the scrape topic.
type KafkaDispatcher struct {
	p     publisher
	topic string
}

func NewKafkaDispatcher(p publisher, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{p: p, topic: topic}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, msg messages.ScrapeRequested) error {
	return d.p.PublishJSON(ctx, d.topic, string(msg.Carrier)+":"+msg.InvoiceNumber, msg)
}

// KafkaPublisher publishes delivery updates.
type KafkaPublisher struct {
	p     publisher
	topic string
}

func NewKafkaPublisher(p publisher, topic string) *KafkaPublisher {
	return &KafkaPublisher{p: p, topic: topic}
}

func (k *KafkaPublisher) PublishDeliveryUpdated(ctx context.Context, msg messages.DeliveryUpdated) error {
	return k.p.PublishJSON(ctx, k.topic, string(msg.Carrier)+":"+msg.InvoiceNumber, msg)
}

type executor interface {
	Execute(ctx context.Context, msg messages.ScrapeRequested) error
}

// InlineDispatcher runs the task in a goroutine of the current process.
// Used when Kafka is not configured.
type InlineDispatcher struct {
	exec executor
	// sem ограничивает число одновременно открытых браузеров
	sem chan struct{}
}

func NewInlineDispatcher(exec executor, maxConcurrent int) *InlineDispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &InlineDispatcher{exec: exec, sem: make(chan struct{}, maxConcurrent)}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, msg messages.ScrapeRequested) error {
	// задача живёт дольше HTTP-запроса
	bg := context.WithoutCancel(ctx)
	go func() {
		d.sem <- struct{}{}
		defer func() { <-d.sem }()
		if err := d.exec.Execute(bg, msg); err != nil {
			slog.Debug("inline scrape finished with error", "task_id", msg.TaskID, "error", err.Error())
		}
	}()
	return nil
}
