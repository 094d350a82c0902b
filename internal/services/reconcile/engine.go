// Package reconcile decides how a freshly scraped delivery changes the
// stored one and applies that change.
package reconcile

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	// GetDeliveryByKey loads the delivery with its movements; (nil, nil) when absent.
	GetDeliveryByKey(ctx context.Context, carrier models.Carrier, invoiceNumber string) (*models.Delivery, error)
	// CreateDelivery stores the delivery and its movements in one transaction
	// and, when notify is set, enqueues a pending notification.
	CreateDelivery(ctx context.Context, d models.Delivery, history []models.TrackingEvent, notify bool) (uint64, error)
	// ReplaceMovements swaps the whole movement set, updates the delivery
	// fields and enqueues a pending notification, atomically.
	ReplaceMovements(ctx context.Context, d models.Delivery, history []models.TrackingEvent) error
}

// Locker serialises reconciliation of one (carrier, invoice) key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type Result struct {
	DeliveryID       uint64 `json:"deliveryId"`
	Created          bool   `json:"created"`
	MovementsChanged bool   `json:"movementsChanged"`
	Status           string `json:"status"`
}

type Engine struct {
	repo   Repository
	locker Locker
}

// New builds an engine. A nil locker falls back to an in-process KeyedMutex.
func New(repo Repository, locker Locker) *Engine {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &Engine{repo: repo, locker: locker}
}

func LockKey(c models.Carrier, invoiceNumber string) string {
	return "delivery:" + string(c) + ":" + invoiceNumber
}

// Apply loads the stored delivery under the per-key lock and reconciles.
func (e *Engine) Apply(ctx context.Context, data *models.StandardizedDeliveryData) (Result, error) {
	if err := Validate(data); err != nil {
		return Result{}, err
	}
	gi := data.GeneralInfo

	unlock, err := e.locker.Lock(ctx, LockKey(gi.Carrier, gi.InvoiceNumber))
	if err != nil {
		return Result{}, errors.Wrap(err, "lock delivery")
	}
	defer unlock()

	existing, err := e.repo.GetDeliveryByKey(ctx, gi.Carrier, gi.InvoiceNumber)
	if err != nil {
		return Result{}, errors.Wrap(err, "load delivery")
	}
	return e.Reconcile(ctx, data, existing)
}

// Reconcile writes the outcome of Decide. The caller must hold the key lock
// when existing comes from storage.
func (e *Engine) Reconcile(ctx context.Context, data *models.StandardizedDeliveryData, existing *models.Delivery) (Result, error) {
	plan, err := Decide(data, existing)
	if err != nil {
		return Result{}, err
	}
	log := slog.With("carrier", plan.Delivery.Carrier, "invoice", plan.Delivery.InvoiceNumber)

	switch plan.Action {
	case ActionCreate:
		id, err := e.repo.CreateDelivery(ctx, plan.Delivery, plan.History, plan.Notify)
		if err != nil {
			return Result{}, errors.Wrap(err, "create delivery")
		}
		log.Info("delivery created", "delivery_id", id, "movements", len(plan.History), "status", plan.Delivery.Status)
		return Result{DeliveryID: id, Created: true, MovementsChanged: len(plan.History) > 0, Status: plan.Delivery.Status}, nil

	case ActionReplace:
		if err := e.repo.ReplaceMovements(ctx, plan.Delivery, plan.History); err != nil {
			return Result{}, errors.Wrap(err, "replace movements")
		}
		log.Info("delivery movements replaced", "delivery_id", plan.Delivery.ID, "movements", len(plan.History), "status", plan.Delivery.Status)
		return Result{DeliveryID: plan.Delivery.ID, MovementsChanged: true, Status: plan.Delivery.Status}, nil

	default:
		log.Debug("delivery unchanged", "delivery_id", plan.Delivery.ID)
		return Result{DeliveryID: plan.Delivery.ID, Status: plan.Delivery.Status}, nil
	}
}

// KeyedMutex is an in-process Locker for single-instance deployments and tests.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: map[string]*keyLock{}}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.release(key, l)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
