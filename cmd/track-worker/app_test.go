package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/FreightTrack/config"
	"github.com/BearBump/FreightTrack/internal/broker/messages"
	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/BearBump/FreightTrack/internal/services/notify"
	"github.com/BearBump/FreightTrack/internal/services/poller"
	"github.com/BearBump/FreightTrack/internal/services/reconcile"
	"github.com/BearBump/FreightTrack/internal/services/scrape"
	"github.com/BearBump/FreightTrack/internal/storage/pgdelivery"
	"github.com/stretchr/testify/require"
)

type fakeStorage struct {
	mu       sync.Mutex
	created  []models.Delivery
	statuses map[string]models.ScrapeTaskStatus
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{statuses: map[string]models.ScrapeTaskStatus{}}
}

func (s *fakeStorage) ClaimDueDeliveries(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Delivery, error) {
	return []*models.Delivery{}, nil
}
func (s *fakeStorage) ScheduleNextCheck(ctx context.Context, r pgdelivery.CheckResult) error {
	return nil
}
func (s *fakeStorage) GetDeliveryByKey(ctx context.Context, c models.Carrier, invoice string) (*models.Delivery, error) {
	return nil, nil
}
func (s *fakeStorage) CreateDelivery(ctx context.Context, d models.Delivery, history []models.TrackingEvent, notify bool) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, d)
	return uint64(len(s.created)), nil
}
func (s *fakeStorage) ReplaceMovements(ctx context.Context, d models.Delivery, history []models.TrackingEvent) error {
	return nil
}
func (s *fakeStorage) CreateScrapeTask(ctx context.Context, task models.ScrapeTask) error { return nil }
func (s *fakeStorage) UpdateScrapeTask(ctx context.Context, id string, status models.ScrapeTaskStatus, deliveryID *uint64, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}
func (s *fakeStorage) GetScrapeTask(ctx context.Context, id string) (*models.ScrapeTask, error) {
	return nil, models.ErrTaskNotFound
}
func (s *fakeStorage) ListPendingNotifications(ctx context.Context, limit int) ([]*models.PendingNotification, error) {
	return nil, nil
}
func (s *fakeStorage) MarkNotified(ctx context.Context, sent []*models.PendingNotification, digest models.NotificationDigest) (uint64, error) {
	return 0, nil
}

func (s *fakeStorage) status(id string) models.ScrapeTaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[id]
}

type allowAll struct{}

func (allowAll) Allow(ctx context.Context, key string) (bool, int64, error) { return true, 1, nil }

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) PublishJSON(ctx context.Context, topic, key string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

type scriptedScraper struct {
	err error
}

func (s scriptedScraper) Scrape(ctx context.Context, q models.SearchQuery) (*models.StandardizedDeliveryData, error) {
	if s.err != nil {
		return nil, s.err
	}
	at := time.Date(2025, 9, 1, 10, 15, 0, 0, time.UTC)
	return &models.StandardizedDeliveryData{
		GeneralInfo: models.GeneralInfo{Carrier: q.Carrier, InvoiceNumber: q.InvoiceNumber, TrackingCode: q.InvoiceNumber, TaxID: q.TaxID},
		History:     []models.TrackingEvent{{Timestamp: &at, Status: "EM TRANSFERENCIA"}},
	}, nil
}

// queueConsumer отдаёт сообщения по одному и ждёт отмены.
type queueConsumer struct {
	values [][]byte
}

func (c queueConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for _, v := range c.values {
		if err := handler(nil, v); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func testFactories(st *fakeStorage, pub *recordingPublisher, scraper scrape.Scraper, values [][]byte, closed *[]string) workerFactories {
	track := func(name string) func() { return func() { *closed = append(*closed, name) } }
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			return st, track("db"), nil
		},
		newRedis: func(cfg *config.Config) (poller.RateLimiter, reconcile.Locker, func()) {
			return allowAll{}, reconcile.NewKeyedMutex(), track("redis")
		},
		newProducer: func(cfg *config.Config) (jsonPublisher, func()) {
			return pub, track("producer")
		},
		newConsumer: func(cfg *config.Config) (kafkaConsumer, func()) {
			return queueConsumer{values: values}, track("consumer")
		},
		newScraper: func(cfg *config.Config) (scrape.Scraper, error) {
			return scraper, nil
		},
		newSink: func(cfg *config.Config) notify.Sink { return notify.LogSink{} },
	}
}

func TestRunTrackWorker_ExecutesScrapeRequests(t *testing.T) {
	st := newFakeStorage()
	pub := &recordingPublisher{}
	var closed []string

	values := [][]byte{
		[]byte(`{"task_id":"t-1","carrier":"jamef","invoice_number":"1160274","tax_id":"48.775.191/0001-90"}`),
		[]byte(`{broken`),
	}
	cfg := &config.Config{
		Kafka:        config.KafkaConfig{DeliveryUpdatedTopicName: "delivery.updated"},
		FreightTrack: config.FreightTrackConfig{WorkerPollIntervalSeconds: 1},
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- RunTrackWorker(ctx, cfg, testFactories(st, pub, scriptedScraper{}, values, &closed), workerHTTPOpts{})
	}()

	require.Eventually(t, func() bool { return st.status("t-1") == models.ScrapeTaskSuccess }, 2*time.Second, 10*time.Millisecond)
	require.Len(t, st.created, 1)
	require.Equal(t, "1160274", st.created[0].InvoiceNumber)

	pub.mu.Lock()
	require.Equal(t, []string{"delivery.updated"}, pub.topics)
	pub.mu.Unlock()

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	// закрываются в обратном порядке
	require.Equal(t, []string{"consumer", "producer", "redis", "db"}, closed)
}

func TestWorker_FailedScrapeIsCommitted(t *testing.T) {
	st := newFakeStorage()
	var closed []string
	f := testFactories(st, &recordingPublisher{}, scriptedScraper{err: &models.ErrorInfo{Kind: models.ErrorKindNotFound, Message: "shipment not found"}}, nil, &closed)

	w, err := buildWorker(context.Background(), &config.Config{}, f)
	require.NoError(t, err)
	defer w.Close()

	err = w.handleScrapeRequested(context.Background(), "accert:1", messages.ScrapeRequested{
		TaskID: "t-2", Carrier: models.CarrierAccert, InvoiceNumber: "1",
	})
	require.NoError(t, err)
	require.Equal(t, models.ScrapeTaskFailed, st.status("t-2"))
	require.Empty(t, st.created)
}

func TestBuildWorker_BadScheduleFails(t *testing.T) {
	var closed []string
	f := testFactories(newFakeStorage(), &recordingPublisher{}, scriptedScraper{}, nil, &closed)
	cfg := &config.Config{Notifications: config.NotificationsConfig{Schedule: "whenever"}}

	_, err := buildWorker(context.Background(), cfg, f)
	require.Error(t, err)
	require.Contains(t, closed, "db")
}

func TestBuildWorker_ScraperErrorClosesResources(t *testing.T) {
	var closed []string
	f := testFactories(newFakeStorage(), &recordingPublisher{}, scriptedScraper{}, nil, &closed)
	f.newScraper = func(cfg *config.Config) (scrape.Scraper, error) { return nil, errors.New("no chrome") }

	_, err := buildWorker(context.Background(), &config.Config{}, f)
	require.ErrorContains(t, err, "no chrome")
	require.Equal(t, []string{"producer", "redis", "db"}, closed)
}

func TestPlannerConfig(t *testing.T) {
	pc := plannerConfig(config.FreightTrackConfig{WorkerNextCheckUnknownSeconds: 600, WorkerBackoff2Seconds: 60})
	require.Equal(t, 10*time.Minute, pc.UnknownDelay)
	require.Equal(t, time.Minute, pc.Backoff2)
	require.Zero(t, pc.InTransitMinDelay)
}

func TestWorkerRouter(t *testing.T) {
	var closed []string
	f := testFactories(newFakeStorage(), &recordingPublisher{}, scriptedScraper{}, nil, &closed)
	cfg := &config.Config{
		FreightTrack:  config.FreightTrackConfig{WorkerBatchSize: 5},
		Notifications: config.NotificationsConfig{Schedule: "0 8 * * *"},
	}
	w, err := buildWorker(context.Background(), cfg, f)
	require.NoError(t, err)
	defer w.Close()

	sw := filepath.Join(t.TempDir(), "worker-swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))
	r := newWorkerRouter(workerHTTPOpts{swaggerPath: sw, poller: w.poller, batcher: w.batcher, scheduler: w.scheduler, cfg: cfg})

	do := func(method, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, nil)
		r.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, do(http.MethodGet, "/healthz").Code)

	rec := do(http.MethodGet, "/config")
	require.Equal(t, http.StatusOK, rec.Code)
	var conf map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conf))
	require.Equal(t, float64(5), conf["batchSize"])
	require.NotContains(t, rec.Body.String(), "password")

	rec = do(http.MethodPost, "/trigger")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "triggered")

	rec = do(http.MethodPost, "/notifications/send")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "totalClaimed")

	rec = do(http.MethodGet, "/swagger.json")
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestWorkerHTTP_SwaggerRequired(t *testing.T) {
	require.Error(t, runWorkerHTTPServer(context.Background(), workerHTTPOpts{httpAddr: "127.0.0.1:0"}))
}
