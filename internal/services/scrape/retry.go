package scrape

import (
	"context"
	"time"

	"github.com/BearBump/FreightTrack/internal/integrations/carrier"
	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// RetryPolicy decides whether a failed attempt is repeated and how long to
// wait before the next one.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: 5 * time.Second, MaxInterval: 30 * time.Second}
}

// Retryable: timeout и прочие исключения повторяются; not_found и
// неподнявшийся браузер не повторяются.
func (p RetryPolicy) Retryable(resp carrier.Response) bool {
	if resp.OK() || resp.Error == nil {
		return false
	}
	switch resp.Error.Kind {
	case models.ErrorKindTimeout:
		return true
	case models.ErrorKindException:
		var initErr *carrier.BrowserInitError
		return !errors.As(resp.Cause, &initErr)
	default:
		return false
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}
