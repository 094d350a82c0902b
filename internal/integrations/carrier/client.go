package carrier

import (
	"context"
	"time"

	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/pkg/errors"
)

// ErrNotFound: портал перевозчика явно сообщил, что отправление не найдено.
var ErrNotFound = errors.New("shipment not found")

// Page is the subset of browser operations the scrapers drive. Selectors are
// CSS unless they start with "/" or "(", in which case they are XPath.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, sel string) error
	// WaitAny blocks until one of sels is visible and returns its index.
	WaitAny(ctx context.Context, sels ...string) (int, error)
	Fill(ctx context.Context, sel, value string) error
	// Type sends value key by key, sleeping keyDelay() between keys.
	Type(ctx context.Context, sel, value string, keyDelay func() time.Duration) error
	Click(ctx context.Context, sel string) error
	// DispatchClick fires pointer and mouse events from script instead of a
	// native click, so nothing is scrolled into view.
	DispatchClick(ctx context.Context, sel string) error
	// ClickAwaitRequest clicks sel and returns once a request whose URL starts
	// with urlPrefix has been sent.
	ClickAwaitRequest(ctx context.Context, sel, urlPrefix string) error
	WaitNetworkIdle(ctx context.Context, quiet time.Duration) error
	InnerText(ctx context.Context, sel string) (string, error)
	OuterHTML(ctx context.Context, sel string) (string, error)
	Evaluate(ctx context.Context, script string, res any) error
	AddInitScript(ctx context.Context, script string) error
	// Frame returns a Page scoped to the document of the iframe matched by sel.
	Frame(ctx context.Context, sel string) (Page, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Session owns one browser process and its single page.
type Session interface {
	Page() Page
	Release()
}

type SessionFactory func(ctx context.Context) (Session, error)

// BrowserInitError: браузер не поднялся. Такой сбой не ретраится.
type BrowserInitError struct {
	Err error
}

func (e *BrowserInitError) Error() string {
	return "browser init: " + e.Err.Error()
}

// Screenshotter persists diagnostic captures; failures are only logged.
type Screenshotter interface {
	Save(name string, kind models.ErrorKind, png []byte) error
}

// Scraper drives one carrier portal and returns raw carrier-shaped data.
// Whole-scrape retries belong to the caller.
type Scraper interface {
	Name() string
	Scrape(ctx context.Context, page Page, q models.SearchQuery) (RawResult, error)
}

// Normalizer converts raw carrier data into the canonical record or returns
// nil when the required part of raw is missing.
type Normalizer func(raw RawResult, taxID, invoiceNumber string) *models.StandardizedDeliveryData

// Timeouts are per-step budgets shared by all scrapers.
type Timeouts struct {
	Navigation  time.Duration
	Element     time.Duration
	Selector    time.Duration
	NetworkIdle time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Navigation:  60 * time.Second,
		Element:     10 * time.Second,
		Selector:    15 * time.Second,
		NetworkIdle: 30 * time.Second,
	}
}

// Step runs fn with its own deadline so every wait is bounded.
func Step(ctx context.Context, budget time.Duration, fn func(ctx context.Context) error) error {
	if budget <= 0 {
		return fn(ctx)
	}
	stepCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	return fn(stepCtx)
}
