package scrape

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/FreightTrack/internal/integrations/carrier"
	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

type Resolver interface {
	Resolve(c models.Carrier) (carrier.Scraper, carrier.Normalizer, error)
}

// Orchestrator runs the resolved scraper under the retry policy and an outer
// timeout, then normalizes the raw result.
type Orchestrator struct {
	resolver Resolver
	open     carrier.SessionFactory
	shots    carrier.Screenshotter
	retry    RetryPolicy
	timeout  time.Duration
}

// NewOrchestrator; shots may be nil, timeout <= 0 disables the outer deadline.
func NewOrchestrator(resolver Resolver, open carrier.SessionFactory, shots carrier.Screenshotter, retry RetryPolicy, timeout time.Duration) *Orchestrator {
	return &Orchestrator{resolver: resolver, open: open, shots: shots, retry: retry, timeout: timeout}
}

// Scrape returns the normalized record. Any failure comes back as
// *models.ErrorInfo.
func (o *Orchestrator) Scrape(ctx context.Context, q models.SearchQuery) (*models.StandardizedDeliveryData, error) {
	scraper, normalize, err := o.resolver.Resolve(q.Carrier)
	if err != nil {
		return nil, errorInfo(models.ErrorKindException, err.Error())
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	log := slog.With("carrier", q.Carrier, "invoice", q.InvoiceNumber)

	attempt := 0
	var resp carrier.Response
	op := func() error {
		attempt++
		resp = carrier.Run(ctx, o.open, scraper, q, o.shots)
		if resp.OK() {
			return nil
		}
		if !o.retry.Retryable(resp) {
			return backoff.Permanent(resp.Error)
		}
		return resp.Error
	}
	onRetry := func(err error, wait time.Duration) {
		log.Warn("scrape attempt failed, retrying", "attempt", attempt, "wait", wait, "error", err.Error())
	}
	if err := backoff.RetryNotify(op, o.retry.backOff(ctx), onRetry); err != nil {
		var info *models.ErrorInfo
		if errors.As(err, &info) {
			return nil, info
		}
		// backoff прерван контекстом: причину даёт последняя попытка
		if resp.Error != nil {
			log.Warn("scrape retries interrupted", "attempts", attempt, "error", err.Error())
			return nil, resp.Error
		}
		return nil, errorInfo(carrier.Classify(err), err.Error())
	}

	data := normalize(resp.Data, q.TaxID, q.InvoiceNumber)
	if data == nil {
		log.Warn("normalizer returned nothing")
		return nil, errorInfo(models.ErrorKindNormalizationFailure, "raw data is missing required fields")
	}
	if data.GeneralInfo.TaxID == "" {
		data.GeneralInfo.TaxID = q.TaxID
	}
	log.Info("scrape normalized", "attempts", attempt, "events", len(data.History))
	return data, nil
}

func errorInfo(kind models.ErrorKind, msg string) *models.ErrorInfo {
	return &models.ErrorInfo{Kind: kind, Message: msg, Timestamp: time.Now().UTC()}
}
