// Package deliveries is the read and registration side of the API: watched
// deliveries, their movements and the cached current state.
package deliveries

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/FreightTrack/internal/broker/messages"
	"github.com/BearBump/FreightTrack/internal/cache"
	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/pkg/errors"
)

const maxWatchItems = 10_000

type Repository interface {
	WatchDeliveries(ctx context.Context, items []models.WatchInput) ([]*models.Delivery, error)
	GetDeliveriesByIDs(ctx context.Context, ids []uint64) ([]*models.Delivery, error)
	ListMovements(ctx context.Context, deliveryID uint64, limit, offset int) ([]models.Movement, error)
	RefreshDelivery(ctx context.Context, deliveryID uint64) error
	ListDigests(ctx context.Context, limit int) ([]*models.NotificationDigest, error)
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, currentTTL: currentTTL}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.currentTTL > 0
}

// Watch registers deliveries for periodic polling. Duplicates within the
// request are collapsed; already watched deliveries are returned as they are.
func (s *Service) Watch(ctx context.Context, items []models.WatchInput) ([]*models.Delivery, error) {
	if len(items) == 0 {
		return nil, errors.Wrap(models.ErrInvalidInput, "items is empty")
	}
	if len(items) > maxWatchItems {
		return nil, errors.Wrapf(models.ErrInvalidInput, "too many items (max %d)", maxWatchItems)
	}

	clean := make([]models.WatchInput, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		c, err := models.ParseCarrier(string(it.Carrier))
		if err != nil {
			return nil, err
		}
		it.Carrier = c
		it.InvoiceNumber = strings.TrimSpace(it.InvoiceNumber)
		it.TaxID = strings.TrimSpace(it.TaxID)
		if it.InvoiceNumber == "" {
			return nil, errors.Wrap(models.ErrInvalidInput, "invoiceNumber is required")
		}
		k := fmt.Sprintf("%s|%s", it.Carrier, it.InvoiceNumber)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		clean = append(clean, it)
	}

	return s.repo.WatchDeliveries(ctx, clean)
}

// GetDeliveriesByIDs reads through the current-state cache and keeps the
// order of ids. Cache errors count as misses.
func (s *Service) GetDeliveriesByIDs(ctx context.Context, ids []uint64) ([]*models.Delivery, error) {
	if len(ids) == 0 {
		return []*models.Delivery{}, nil
	}

	miss := make([]uint64, 0, len(ids))
	got := make(map[uint64]*models.Delivery, len(ids))

	if s.cacheEnabled() {
		for _, id := range ids {
			b, ok, err := s.cache.Get(ctx, currentKey(id))
			if err != nil || !ok {
				miss = append(miss, id)
				continue
			}
			var d models.Delivery
			if json.Unmarshal(b, &d) != nil {
				miss = append(miss, id)
				continue
			}
			got[id] = &d
		}
	} else {
		miss = ids
	}

	if len(miss) > 0 {
		fromDB, err := s.repo.GetDeliveriesByIDs(ctx, miss)
		if err != nil {
			return nil, err
		}
		for _, d := range fromDB {
			got[d.ID] = d
			s.store(ctx, d)
		}
	}

	out := make([]*models.Delivery, 0, len(ids))
	for _, id := range ids {
		if d, ok := got[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Service) ListMovements(ctx context.Context, deliveryID uint64, limit, offset int) ([]models.Movement, error) {
	if deliveryID == 0 {
		return nil, errors.Wrap(models.ErrInvalidInput, "deliveryId is required")
	}
	return s.repo.ListMovements(ctx, deliveryID, limit, offset)
}

// Refresh moves the delivery to the head of the poll queue.
func (s *Service) Refresh(ctx context.Context, deliveryID uint64) error {
	if deliveryID == 0 {
		return errors.Wrap(models.ErrInvalidInput, "deliveryId is required")
	}
	if err := s.repo.RefreshDelivery(ctx, deliveryID); err != nil {
		return err
	}
	s.invalidate(ctx, deliveryID)
	return nil
}

func (s *Service) ListDigests(ctx context.Context, limit int) ([]*models.NotificationDigest, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListDigests(ctx, limit)
}

// ApplyDeliveryUpdated refreshes the cached state after the worker has
// reconciled a delivery.
func (s *Service) ApplyDeliveryUpdated(ctx context.Context, msg messages.DeliveryUpdated) error {
	if msg.DeliveryID == 0 {
		return errors.New("delivery_id is required")
	}
	if !s.cacheEnabled() {
		return nil
	}

	ds, err := s.repo.GetDeliveriesByIDs(ctx, []uint64{msg.DeliveryID})
	if err != nil || len(ds) != 1 {
		// устаревшую запись лучше убрать, чем отдавать
		s.invalidate(ctx, msg.DeliveryID)
		return err
	}
	s.store(ctx, ds[0])
	return nil
}

func (s *Service) store(ctx context.Context, d *models.Delivery) {
	if !s.cacheEnabled() {
		return
	}
	b, _ := json.Marshal(d)
	_ = s.cache.Set(ctx, currentKey(d.ID), b, s.currentTTL)
}

func (s *Service) invalidate(ctx context.Context, id uint64) {
	if !s.cacheEnabled() {
		return
	}
	if err := s.cache.Delete(ctx, currentKey(id)); err != nil {
		slog.Warn("cache invalidate", "delivery_id", id, "error", err.Error())
	}
}

func currentKey(id uint64) string {
	return fmt.Sprintf("delivery:%d:current", id)
}
