package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/FreightTrack/config"
	"github.com/BearBump/FreightTrack/internal/broker/kafka"
	"github.com/BearBump/FreightTrack/internal/broker/messages"
	"github.com/BearBump/FreightTrack/internal/cache/rediscache"
	"github.com/BearBump/FreightTrack/internal/pipeline"
	"github.com/BearBump/FreightTrack/internal/schedule"
	"github.com/BearBump/FreightTrack/internal/services/notify"
	"github.com/BearBump/FreightTrack/internal/services/poller"
	"github.com/BearBump/FreightTrack/internal/services/reconcile"
	"github.com/BearBump/FreightTrack/internal/services/scrape"
	"github.com/BearBump/FreightTrack/internal/storage/pgdelivery"
)

const defaultDigestSchedule = "0 8 * * *"

// workerStorage: всё, что воркеру нужно от базы.
type workerStorage interface {
	poller.Repository
	reconcile.Repository
	scrape.TaskRepository
	notify.Repository
}

type jsonPublisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type workerFactories struct {
	newStorage  func(cfg *config.Config) (st workerStorage, closeFn func(), err error)
	newRedis    func(cfg *config.Config) (rl poller.RateLimiter, locker reconcile.Locker, closeFn func())
	newProducer func(cfg *config.Config) (p jsonPublisher, closeFn func())
	newConsumer func(cfg *config.Config) (c kafkaConsumer, closeFn func())
	newScraper  func(cfg *config.Config) (scrape.Scraper, error)
	newSink     func(cfg *config.Config) notify.Sink
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			st, err := pgdelivery.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newRedis: func(cfg *config.Config) (poller.RateLimiter, reconcile.Locker, func()) {
			ft := cfg.FreightTrack
			perMinute := int64(ft.WorkerRateLimitPerMinute)
			if perMinute <= 0 {
				perMinute = 4
			}
			lockTTL := time.Duration(ft.WorkerLockTTLSeconds) * time.Second
			if lockTTL <= 0 {
				lockTTL = 5 * time.Minute
			}
			c := rediscache.NewClient(cfg.Redis.Addr())
			return rediscache.NewRateLimiter(c, perMinute, time.Minute),
				rediscache.NewLocker(c, lockTTL),
				func() { _ = c.Close() }
		},
		newProducer: func(cfg *config.Config) (jsonPublisher, func()) {
			p := kafka.NewProducer(cfg.Kafka.Brokers())
			return p, func() { _ = p.Close() }
		},
		newConsumer: func(cfg *config.Config) (kafkaConsumer, func()) {
			group := cfg.FreightTrack.WorkerConsumerGroup
			if group == "" {
				group = "track-worker"
			}
			c := kafka.NewConsumer(cfg.Kafka.Brokers(), requestedTopic(cfg), group)
			return c, func() { _ = c.Close() }
		},
		newScraper: func(cfg *config.Config) (scrape.Scraper, error) {
			return pipeline.NewOrchestrator(cfg)
		},
		newSink: func(cfg *config.Config) notify.Sink {
			return pipeline.NewSink(cfg.Notifications)
		},
	}
}

func requestedTopic(cfg *config.Config) string {
	if t := cfg.Kafka.ScrapeRequestedTopicName; t != "" {
		return t
	}
	return "scrape.requested"
}

func updatedTopic(cfg *config.Config) string {
	if t := cfg.Kafka.DeliveryUpdatedTopicName; t != "" {
		return t
	}
	return "delivery.updated"
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func plannerConfig(ft config.FreightTrackConfig) poller.PlannerConfig {
	return poller.PlannerConfig{
		InTransitMinDelay: seconds(ft.WorkerNextCheckInTransitMinSeconds),
		InTransitMaxDelay: seconds(ft.WorkerNextCheckInTransitMaxSeconds),
		UnknownDelay:      seconds(ft.WorkerNextCheckUnknownSeconds),
		Backoff1:          seconds(ft.WorkerBackoff1Seconds),
		Backoff2:          seconds(ft.WorkerBackoff2Seconds),
		Backoff3:          seconds(ft.WorkerBackoff3Seconds),
		Backoff4:          seconds(ft.WorkerBackoff4Seconds),
	}
}

// worker is the assembled process: scrape tasks from Kafka, the poller and
// the digest schedule.
type worker struct {
	svc       *scrape.Service
	poller    *poller.Poller
	batcher   *notify.Batcher
	scheduler *schedule.Scheduler
	consumer  kafkaConsumer
	topic     string

	closers []func()
}

func (w *worker) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
}

func buildWorker(ctx context.Context, cfg *config.Config, f workerFactories) (*worker, error) {
	w := &worker{topic: requestedTopic(cfg)}

	st, closeDB, err := f.newStorage(cfg)
	if err != nil {
		return nil, err
	}
	if closeDB != nil {
		w.closers = append(w.closers, closeDB)
	}

	rl, locker, closeRedis := f.newRedis(cfg)
	if closeRedis != nil {
		w.closers = append(w.closers, closeRedis)
	}

	producer, closeProducer := f.newProducer(cfg)
	if closeProducer != nil {
		w.closers = append(w.closers, closeProducer)
	}

	scraper, err := f.newScraper(cfg)
	if err != nil {
		w.Close()
		return nil, err
	}

	w.svc = scrape.NewService(scrape.Deps{
		Tasks:      st,
		Scraper:    scraper,
		Reconciler: reconcile.New(st, locker),
		Publisher:  scrape.NewKafkaPublisher(producer, updatedTopic(cfg)),
	})

	ft := cfg.FreightTrack
	w.poller = poller.New(st, w.svc, rl).
		WithSettings(seconds(ft.WorkerPollIntervalSeconds), ft.WorkerBatchSize, seconds(ft.WorkerLeaseSeconds)).
		WithBraspressCooldown(seconds(cfg.Carriers.BraspressCooldownSeconds)).
		WithPlanner(plannerConfig(ft))

	w.batcher = notify.NewBatcher(st, f.newSink(cfg), cfg.Notifications.BatchLimit)
	w.scheduler = schedule.New(schedule.LoadLocation(cfg.Notifications.Timezone))
	spec := cfg.Notifications.Schedule
	if spec == "" {
		spec = defaultDigestSchedule
	}
	err = w.scheduler.Add(ctx, "digest", spec, func(ctx context.Context) {
		if _, err := w.batcher.Run(ctx); err != nil {
			slog.Error("scheduled digest failed", "error", err.Error())
		}
	})
	if err != nil {
		w.Close()
		return nil, err
	}

	consumer, closeConsumer := f.newConsumer(cfg)
	w.consumer = consumer
	if closeConsumer != nil {
		w.closers = append(w.closers, closeConsumer)
	}
	return w, nil
}

// handleScrapeRequested исполняет задачу; ошибка скрейпа уже записана в
// задачу, поэтому сообщение коммитится в любом случае.
func (w *worker) handleScrapeRequested(ctx context.Context, _ string, m messages.ScrapeRequested) error {
	if err := w.svc.Execute(ctx, m); err != nil {
		slog.Warn("scrape task failed", "task_id", m.TaskID, "carrier", m.Carrier, "error", err.Error())
	}
	return nil
}

// run blocks until ctx is done or the poller stops.
func (w *worker) run(ctx context.Context) error {
	go func() {
		slog.Info("kafka consumer started", "topic", w.topic)
		err := kafka.ConsumeJSON(ctx, w.consumer, w.handleScrapeRequested)
		if err != nil && ctx.Err() == nil {
			slog.Error("kafka consumer stopped", "error", err.Error())
		}
	}()
	go func() { _ = w.scheduler.Run(ctx) }()

	return w.poller.Run(ctx)
}

func RunTrackWorker(ctx context.Context, cfg *config.Config, f workerFactories, httpOpts workerHTTPOpts) error {
	w, err := buildWorker(ctx, cfg, f)
	if err != nil {
		return err
	}
	defer w.Close()

	if httpOpts.swaggerPath != "" {
		httpOpts.poller = w.poller
		httpOpts.batcher = w.batcher
		httpOpts.scheduler = w.scheduler
		httpOpts.cfg = cfg
		go func() {
			if err := runWorkerHTTPServer(ctx, httpOpts); err != nil {
				slog.Error("worker http server stopped", "error", err.Error())
			}
		}()
	}

	return w.run(ctx)
}
