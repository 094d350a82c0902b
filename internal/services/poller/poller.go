// Package poller is the bulk driver: it claims due watched deliveries and
// re-scrapes them one at a time.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/BearBump/FreightTrack/internal/services/reconcile"
	"github.com/BearBump/FreightTrack/internal/storage/pgdelivery"
	"github.com/pkg/errors"
)

type Repository interface {
	ClaimDueDeliveries(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Delivery, error)
	ScheduleNextCheck(ctx context.Context, r pgdelivery.CheckResult) error
}

// Tracker scrapes and reconciles one delivery.
type Tracker interface {
	Track(ctx context.Context, q models.SearchQuery) (reconcile.Result, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, int64, error)
}

type Poller struct {
	repo    Repository
	tracker Tracker
	rl      RateLimiter

	planner *Planner

	pollInterval time.Duration
	batchSize    int
	lease        time.Duration
	// rateWait: пауза перед повторной проверкой лимита
	rateWait time.Duration
	// cooldown выдерживается после каждого запроса к Braspress
	cooldown time.Duration

	now func() time.Time

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, tracker Tracker, rl RateLimiter) *Poller {
	return &Poller{
		repo: repo, tracker: tracker, rl: rl,
		planner:           DefaultPlanner(),
		pollInterval:      30 * time.Second,
		batchSize:         20,
		lease:             15 * time.Minute,
		rateWait:          5 * time.Second,
		cooldown:          15 * time.Second,
		now:               func() time.Time { return time.Now().UTC() },
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig(), nil)
}

// WithSettings overrides the loop settings; zero values keep the defaults.
// The lease must cover a whole batch since items are processed in sequence.
func (p *Poller) WithSettings(pollInterval time.Duration, batchSize int, lease time.Duration) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	if lease > 0 {
		p.lease = lease
	}
	return p
}

func (p *Poller) WithBraspressCooldown(d time.Duration) *Poller {
	if d > 0 {
		p.cooldown = d
	}
	return p
}

func (p *Poller) WithPlanner(cfg PlannerConfig) *Poller {
	p.planner = NewPlanner(cfg, nil)
	return p
}

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalClaimed:   p.totalClaimed.Load(),
		TotalProcessed: p.totalProcessed.Load(),
		TotalErrors:    p.totalErrors.Load(),
		InFlight:       p.inFlight.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Poller) setLastError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.runOnce(ctx)
		case <-p.triggerCh:
			p.runOnce(ctx)
		}
	}
}

// runOnce claims a batch and scrapes it strictly one by one: one browser at
// a time per worker.
func (p *Poller) runOnce(ctx context.Context) {
	now := p.now()
	p.lastCycleUnixNano.Store(now.UnixNano())

	items, err := p.repo.ClaimDueDeliveries(ctx, now, p.batchSize, p.lease)
	if err != nil {
		slog.Error("claim due deliveries", "error", err.Error())
		p.setLastError(err)
		return
	}
	p.totalClaimed.Add(int64(len(items)))

	for _, d := range items {
		if ctx.Err() != nil {
			// недоделанные вернутся в очередь по истечении lease
			return
		}
		p.inFlight.Add(1)
		if err := p.processOne(ctx, d); err != nil {
			p.totalErrors.Add(1)
			p.setLastError(err)
			slog.Error("process delivery", "delivery_id", d.ID, "carrier", d.Carrier, "error", err.Error())
		}
		p.inFlight.Add(-1)
		p.totalProcessed.Add(1)
	}
}

func (p *Poller) processOne(ctx context.Context, d *models.Delivery) error {
	if err := p.waitRateLimit(ctx, d.Carrier); err != nil {
		return err
	}

	now := p.now()
	res, trackErr := p.tracker.Track(ctx, models.SearchQuery{
		Carrier:       d.Carrier,
		TaxID:         d.TaxID,
		InvoiceNumber: d.InvoiceNumber,
	})
	if d.Carrier == models.CarrierBraspress {
		// запрос к Braspress уже ушёл: пауза выдерживается при любом исходе
		defer p.sleep(ctx, p.cooldown)
	}

	check := pgdelivery.CheckResult{DeliveryID: d.ID, CheckedAt: now}
	if trackErr != nil {
		msg := trackErr.Error()
		check.Error = &msg
		check.NextCheckAt = now.Add(p.planner.BackoffDelay(d.CheckFailCount + 1))
	} else {
		check.NextCheckAt = now.Add(p.planner.NextCheckDelay(res.Status))
	}

	// следующую проверку пишем и при отменённом ctx, иначе доставка висит до конца lease
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.repo.ScheduleNextCheck(writeCtx, check); err != nil {
		return errors.Wrap(err, "schedule next check")
	}
	return trackErr
}

// waitRateLimit blocks until the per-carrier window admits one more scrape.
func (p *Poller) waitRateLimit(ctx context.Context, c models.Carrier) error {
	if p.rl == nil {
		return nil
	}
	for {
		allowed, n, err := p.rl.Allow(ctx, "carrier:"+string(c))
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		slog.Warn("carrier rate limit exceeded", "carrier", c, "count", n)
		if !p.sleep(ctx, p.rateWait) {
			return ctx.Err()
		}
	}
}

// sleep returns false if ctx ended first.
func (p *Poller) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
