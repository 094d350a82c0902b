package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/FreightTrack/config"
	deliveriesapi "github.com/BearBump/FreightTrack/internal/api/deliveries_api"
	"github.com/BearBump/FreightTrack/internal/broker/kafka"
	"github.com/BearBump/FreightTrack/internal/broker/messages"
	"github.com/BearBump/FreightTrack/internal/cache/rediscache"
	"github.com/BearBump/FreightTrack/internal/pipeline"
	"github.com/BearBump/FreightTrack/internal/services/deliveries"
	"github.com/BearBump/FreightTrack/internal/services/notify"
	"github.com/BearBump/FreightTrack/internal/services/reconcile"
	"github.com/BearBump/FreightTrack/internal/services/scrape"
	"github.com/BearBump/FreightTrack/internal/storage/pgdelivery"
)

const inlineMaxConcurrent = 2

type trackAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   trackAPIOpts
	deps   trackAPIDeps

	closers []func()
}

// localPublisher отдаёт DeliveryUpdated прямо в кэш, когда Kafka не используется.
type localPublisher struct {
	svc *deliveries.Service
}

func (p localPublisher) PublishDeliveryUpdated(ctx context.Context, msg messages.DeliveryUpdated) error {
	return p.svc.ApplyDeliveryUpdated(ctx, msg)
}

func mustBootstrapTrackAPI() *trackAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	ft := cfg.FreightTrack
	httpAddr := ft.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := ft.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "track-api"
	}
	updatedTopic := cfg.Kafka.DeliveryUpdatedTopicName
	if updatedTopic == "" {
		updatedTopic = "delivery.updated"
	}
	requestedTopic := cfg.Kafka.ScrapeRequestedTopicName
	if requestedTopic == "" {
		requestedTopic = "scrape.requested"
	}
	cacheTTL := time.Duration(ft.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	app := &trackAPIApp{}

	st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
	app.closers = append(app.closers, st.Close)

	rc := rediscache.NewClient(cfg.Redis.Addr())
	app.closers = append(app.closers, func() { _ = rc.Close() })

	deliveriesSvc := deliveries.New(st, rediscache.New(rc, "freighttrack"), cacheTTL)
	batcher := notify.NewBatcher(st, pipeline.NewSink(cfg.Notifications), cfg.Notifications.BatchLimit)

	var consumer *kafka.Consumer
	deps := scrape.Deps{Tasks: st}
	if ft.InlineDispatch {
		// без Kafka: скрейп в этом же процессе
		orch, err := pipeline.NewOrchestrator(cfg)
		if err != nil {
			panic(err)
		}
		deps.Scraper = orch
		deps.Reconciler = reconcile.New(st, reconcile.NewKeyedMutex())
		deps.Publisher = localPublisher{svc: deliveriesSvc}
	}
	scrapeSvc := scrape.NewService(deps)

	if ft.InlineDispatch {
		scrapeSvc.SetDispatcher(scrape.NewInlineDispatcher(scrapeSvc, inlineMaxConcurrent))
		slog.Info("inline dispatch enabled", "max_concurrent", inlineMaxConcurrent)
	} else {
		producer := kafka.NewProducer(cfg.Kafka.Brokers())
		app.closers = append(app.closers, func() { _ = producer.Close() })
		scrapeSvc.SetDispatcher(scrape.NewKafkaDispatcher(producer, requestedTopic))

		consumer = kafka.NewConsumer(cfg.Kafka.Brokers(), updatedTopic, consumerGroup)
		app.closers = append(app.closers, func() { _ = consumer.Close() })
	}

	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app.opts = trackAPIOpts{
		httpAddr:      httpAddr,
		swaggerPath:   swaggerPath,
		topic:         updatedTopic,
		consumerGroup: consumerGroup,
	}
	app.deps = trackAPIDeps{
		api:     deliveriesapi.New(deliveriesSvc, scrapeSvc, batcher),
		applier: deliveriesSvc,
		db:      st,
	}
	if consumer != nil {
		app.deps.consumer = consumer
	}
	return app
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgdelivery.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgdelivery.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		slog.Warn("postgres is not ready yet", "error", err.Error())
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *trackAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *trackAPIApp) Run() error {
	return runTrackAPI(a.ctx, a.opts, a.deps)
}
