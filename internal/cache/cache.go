// Package cache holds the small storage-agnostic cache contracts shared by
// the services.
package cache

import (
	"context"
	"time"
)

// BytesCache is a key/value cache; a miss is (nil, false, nil).
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
