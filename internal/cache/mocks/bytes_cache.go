package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockBytesCache is a testify mock of cache.BytesCache.
type MockBytesCache struct {
	mock.Mock
}

func (m *MockBytesCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	args := m.Called(ctx, key)
	b, _ := args.Get(0).([]byte)
	return b, args.Bool(1), args.Error(2)
}

func (m *MockBytesCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

func (m *MockBytesCache) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}
