package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/BearBump/FreightTrack/internal/services/reconcile"
	"github.com/BearBump/FreightTrack/internal/storage/pgdelivery"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu        sync.Mutex
	due         []*models.Delivery
	claims      int
	scheduled   []pgdelivery.CheckResult
	scheduleErr error
}

func (r *fakeRepo) ClaimDueDeliveries(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims++
	out := r.due
	r.due = nil
	return out, nil
}

func (r *fakeRepo) ScheduleNextCheck(ctx context.Context, c pgdelivery.CheckResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduleErr != nil {
		return r.scheduleErr
	}
	r.scheduled = append(r.scheduled, c)
	return nil
}

type fakeTracker struct {
	mu      sync.Mutex
	results map[string]reconcile.Result
	errs    map[string]error
	queries []models.SearchQuery
	active  int
	maxSeen int
}

func (t *fakeTracker) Track(ctx context.Context, q models.SearchQuery) (reconcile.Result, error) {
	t.mu.Lock()
	t.active++
	if t.active > t.maxSeen {
		t.maxSeen = t.active
	}
	t.queries = append(t.queries, q)
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.active--
		t.mu.Unlock()
	}()
	return t.results[q.InvoiceNumber], t.errs[q.InvoiceNumber]
}

type fakeRL struct {
	mu     sync.Mutex
	denied int
	keys   []string
}

func (r *fakeRL) Allow(ctx context.Context, key string) (bool, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	if r.denied > 0 {
		r.denied--
		return false, 99, nil
	}
	return true, 1, nil
}

var fixedNow = time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)

func newTestPoller(repo Repository, tr Tracker, rl RateLimiter) *Poller {
	p := New(repo, tr, rl)
	p.now = func() time.Time { return fixedNow }
	p.planner = NewPlanner(PlannerConfig{InTransitMinDelay: time.Hour, InTransitMaxDelay: time.Hour}, nil)
	p.rateWait = time.Millisecond
	p.cooldown = time.Millisecond
	return p
}

func TestPoller_runOnce_SchedulesByOutcome(t *testing.T) {
	repo := &fakeRepo{due: []*models.Delivery{
		{ID: 1, Carrier: models.CarrierAccert, InvoiceNumber: "A", TaxID: "T"},
		{ID: 2, Carrier: models.CarrierJamef, InvoiceNumber: "B"},
		{ID: 3, Carrier: models.CarrierViaVerde, InvoiceNumber: "C", CheckFailCount: 2},
	}}
	tr := &fakeTracker{
		results: map[string]reconcile.Result{
			"A": {DeliveryID: 1, Status: models.StatusDelivered},
			"B": {DeliveryID: 2, Status: "EM ROTA"},
		},
		errs: map[string]error{"C": errors.New("timeout: wait #login")},
	}
	p := newTestPoller(repo, tr, nil)

	p.runOnce(context.Background())

	require.Len(t, repo.scheduled, 3)
	require.Equal(t, fixedNow.Add(365*24*time.Hour), repo.scheduled[0].NextCheckAt)
	require.Nil(t, repo.scheduled[0].Error)
	require.Equal(t, fixedNow.Add(time.Hour), repo.scheduled[1].NextCheckAt)
	require.Equal(t, fixedNow.Add(30*time.Minute), repo.scheduled[2].NextCheckAt)
	require.Equal(t, "timeout: wait #login", *repo.scheduled[2].Error)

	require.Equal(t, "T", tr.queries[0].TaxID)
	require.Equal(t, 1, tr.maxSeen)

	st := p.Stats()
	require.Equal(t, int64(3), st.TotalClaimed)
	require.Equal(t, int64(3), st.TotalProcessed)
	require.Equal(t, int64(1), st.TotalErrors)
	require.Equal(t, "timeout: wait #login", st.LastError)
	require.Zero(t, st.InFlight)
}

func TestPoller_processOne_WaitsForRateLimit(t *testing.T) {
	repo := &fakeRepo{}
	rl := &fakeRL{denied: 2}
	p := newTestPoller(repo, &fakeTracker{}, rl)

	require.NoError(t, p.processOne(context.Background(), &models.Delivery{ID: 5, Carrier: models.CarrierBraspress, InvoiceNumber: "X"}))
	require.Equal(t, []string{"carrier:braspress", "carrier:braspress", "carrier:braspress"}, rl.keys)
	require.Len(t, repo.scheduled, 1)
}

func TestPoller_processOne_RateLimitRespectsContext(t *testing.T) {
	p := newTestPoller(&fakeRepo{}, &fakeTracker{}, &fakeRL{denied: 1 << 30})
	p.rateWait = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.processOne(ctx, &models.Delivery{Carrier: models.CarrierJamef})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoller_BraspressCooldown(t *testing.T) {
	p := newTestPoller(&fakeRepo{}, &fakeTracker{}, nil)
	p.cooldown = 50 * time.Millisecond

	start := time.Now()
	require.NoError(t, p.processOne(context.Background(), &models.Delivery{Carrier: models.CarrierBraspress}))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	start = time.Now()
	require.NoError(t, p.processOne(context.Background(), &models.Delivery{Carrier: models.CarrierAccert}))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestPoller_BraspressCooldownWhenScheduleFails(t *testing.T) {
	repo := &fakeRepo{scheduleErr: errors.New("db down")}
	tr := &fakeTracker{}
	p := newTestPoller(repo, tr, nil)
	p.cooldown = 50 * time.Millisecond

	start := time.Now()
	err := p.processOne(context.Background(), &models.Delivery{ID: 8, Carrier: models.CarrierBraspress, InvoiceNumber: "Z"})
	require.ErrorContains(t, err, "db down")
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	require.Len(t, tr.queries, 1)
}

func TestPoller_WithSettings(t *testing.T) {
	p := New(nil, nil, nil).
		WithSettings(5*time.Second, 7, 11*time.Second).
		WithBraspressCooldown(20 * time.Second)
	require.Equal(t, 5*time.Second, p.pollInterval)
	require.Equal(t, 7, p.batchSize)
	require.Equal(t, 11*time.Second, p.lease)
	require.Equal(t, 20*time.Second, p.cooldown)
}

func TestPoller_Run_StopsOnContextCancel(t *testing.T) {
	repo := &fakeRepo{}
	p := newTestPoller(repo, &fakeTracker{}, nil).WithSettings(5*time.Millisecond, 1, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.GreaterOrEqual(t, repo.claims, 1)
}

func TestPoller_TriggerRunsCycle(t *testing.T) {
	repo := &fakeRepo{}
	p := newTestPoller(repo, &fakeTracker{}, nil).WithSettings(time.Hour, 1, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Trigger()
	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return repo.claims >= 1
	}, time.Second, 5*time.Millisecond)
	require.NotNil(t, p.Stats().LastTriggerAt)

	cancel()
	<-done
}
