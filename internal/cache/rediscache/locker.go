package rediscache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout: лок не удалось взять до истечения ctx.
var ErrLockTimeout = errors.New("lock wait timed out")

// снимаем лок, только если он всё ещё наш
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker serialises work on one key across processes with SET NX PX.
type Locker struct {
	c     *redis.Client
	ttl   time.Duration
	retry time.Duration
}

func NewLocker(c *redis.Client, ttl time.Duration) *Locker {
	return &Locker{c: c, ttl: ttl, retry: 50 * time.Millisecond}
}

// Lock blocks until key is free or ctx ends. The lock expires after ttl even
// if unlock is never called.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	key = "lock:" + key
	token := uuid.NewString()
	for {
		ok, err := l.c.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(ErrLockTimeout, key)
			}
			return nil, errors.Wrap(err, "redis lock")
		}
		if ok {
			break
		}
		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, errors.Wrap(ErrLockTimeout, key)
		case <-t.C:
		}
	}
	return func() {
		// ctx вызывающего мог уже закончиться
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.c, []string{key}, token).Err()
	}, nil
}
