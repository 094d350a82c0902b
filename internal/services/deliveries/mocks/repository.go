package mocks

import (
	"context"

	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockRepository is a testify mock of deliveries.Repository.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) WatchDeliveries(ctx context.Context, items []models.WatchInput) ([]*models.Delivery, error) {
	args := m.Called(ctx, items)
	out, _ := args.Get(0).([]*models.Delivery)
	return out, args.Error(1)
}

func (m *MockRepository) GetDeliveriesByIDs(ctx context.Context, ids []uint64) ([]*models.Delivery, error) {
	args := m.Called(ctx, ids)
	out, _ := args.Get(0).([]*models.Delivery)
	return out, args.Error(1)
}

func (m *MockRepository) ListMovements(ctx context.Context, deliveryID uint64, limit, offset int) ([]models.Movement, error) {
	args := m.Called(ctx, deliveryID, limit, offset)
	out, _ := args.Get(0).([]models.Movement)
	return out, args.Error(1)
}

func (m *MockRepository) RefreshDelivery(ctx context.Context, deliveryID uint64) error {
	return m.Called(ctx, deliveryID).Error(0)
}

func (m *MockRepository) ListDigests(ctx context.Context, limit int) ([]*models.NotificationDigest, error) {
	args := m.Called(ctx, limit)
	out, _ := args.Get(0).([]*models.NotificationDigest)
	return out, args.Error(1)
}
