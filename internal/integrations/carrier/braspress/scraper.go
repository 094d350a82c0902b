// Package braspress scrapes the Braspress tracking widget, which sits behind
// overlays and reacts badly to native clicks.
package braspress

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/BearBump/FreightTrack/internal/integrations/carrier"
	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

const DefaultURL = "https://www.braspress.com/"

const (
	taxIDInput     = "#cnpj-tracking"
	invoiceInput   = "#pedido-tracking"
	searchButton   = ".search-tracking"
	trackingIframe = "#iframe-tracking"

	timelineEntry = ".vertical-time-line._tracking-datail"
	timelineInfo  = ".vertical-time-line-info"
	timelineDate  = ".vertical-time-line-date"

	overlayPollInterval = 250 * time.Millisecond
	idleQuiet           = 500 * time.Millisecond
)

var (
	detailsTab     = carrier.TextXPath("*", "Detalhes do Rastreamento")
	moreDetails    = carrier.TextXPath("*", "Mais Detalhes")
	notFoundMarker = carrier.TextXPath("*", "não localizad")
)

type Config struct {
	URL      string
	Timeouts carrier.Timeouts

	// OverlayWatch: сколько после загрузки гасить оверлеи.
	OverlayWatch time.Duration
	// NavigationAttempts: всего попыток прохода навигации (1 + повторы).
	NavigationAttempts int
	// RetryInterval: начальная пауза перед повтором навигации.
	RetryInterval time.Duration
	// KeyDelay задаёт паузу между нажатиями; по умолчанию 60..180 мс.
	KeyDelay func() time.Duration
}

type Scraper struct {
	cfg Config
}

func New(cfg Config) *Scraper {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.OverlayWatch <= 0 {
		cfg.OverlayWatch = 5 * time.Second
	}
	if cfg.NavigationAttempts <= 0 {
		cfg.NavigationAttempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	if cfg.KeyDelay == nil {
		cfg.KeyDelay = humanKeyDelay
	}
	return &Scraper{cfg: cfg}
}

func humanKeyDelay() time.Duration {
	return time.Duration(60+rand.IntN(120)) * time.Millisecond
}

func (s *Scraper) Name() string { return string(models.CarrierBraspress) }

// Scrape repeats the whole navigation with backoff when an attempt fails;
// an explicit "not found" answer stops the retries.
func (s *Scraper) Scrape(ctx context.Context, page carrier.Page, q models.SearchQuery) (carrier.RawResult, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.RetryInterval
	eb.RandomizationFactor = 0.5
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.cfg.NavigationAttempts-1)), ctx)

	var out carrier.Timeline
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		res, err := s.attempt(ctx, page, q)
		if err == nil {
			out = res
			return nil
		}
		if errors.Is(err, carrier.ErrNotFound) {
			return backoff.Permanent(err)
		}
		slog.Warn("braspress navigation failed", "attempt", attempt, "invoice", q.InvoiceNumber, "error", err.Error())
		return err
	}, b)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Scraper) attempt(ctx context.Context, page carrier.Page, q models.SearchQuery) (carrier.Timeline, error) {
	t := s.cfg.Timeouts

	if err := page.AddInitScript(ctx, disableScrollScript); err != nil {
		return carrier.Timeline{}, errors.Wrap(err, "disable scroll")
	}
	err := carrier.Step(ctx, t.Navigation, func(ctx context.Context) error {
		return page.Navigate(ctx, s.cfg.URL)
	})
	if err != nil {
		return carrier.Timeline{}, errors.Wrap(err, "open braspress portal")
	}

	if err := s.neutralizeOverlays(ctx, page); err != nil {
		return carrier.Timeline{}, err
	}

	if err := s.typeInto(ctx, page, taxIDInput, q.TaxID); err != nil {
		return carrier.Timeline{}, err
	}
	if err := s.typeInto(ctx, page, invoiceInput, q.InvoiceNumber); err != nil {
		return carrier.Timeline{}, err
	}
	if err := s.dispatchClick(ctx, page, searchButton); err != nil {
		return carrier.Timeline{}, err
	}

	err = carrier.Step(ctx, t.NetworkIdle, func(ctx context.Context) error {
		return page.WaitNetworkIdle(ctx, idleQuiet)
	})
	if err != nil {
		return carrier.Timeline{}, errors.Wrap(err, "wait network idle")
	}

	var frame carrier.Page
	err = carrier.Step(ctx, t.Selector, func(ctx context.Context) error {
		if err := page.WaitVisible(ctx, trackingIframe); err != nil {
			return err
		}
		var err error
		frame, err = page.Frame(ctx, trackingIframe)
		return err
	})
	if err != nil {
		return carrier.Timeline{}, errors.Wrap(err, "enter tracking iframe")
	}

	if err := carrier.WaitResult(ctx, frame, t.Selector, detailsTab, notFoundMarker); err != nil {
		return carrier.Timeline{}, err
	}
	if err := s.dispatchClick(ctx, frame, detailsTab); err != nil {
		return carrier.Timeline{}, err
	}
	if err := s.dispatchClick(ctx, frame, moreDetails); err != nil {
		return carrier.Timeline{}, err
	}

	var html string
	err = carrier.Step(ctx, t.Selector, func(ctx context.Context) error {
		if err := frame.WaitVisible(ctx, timelineEntry); err != nil {
			return err
		}
		var err error
		html, err = frame.OuterHTML(ctx, "body")
		return err
	})
	if err != nil {
		return carrier.Timeline{}, errors.Wrap(err, "read timeline")
	}
	return ParseTimeline(html)
}

// neutralizeOverlays polls overlayScript for OverlayWatch. It is a bounded
// wait: it ends after the window even if overlays keep reappearing.
func (s *Scraper) neutralizeOverlays(ctx context.Context, page carrier.Page) error {
	deadline := time.NewTimer(s.cfg.OverlayWatch)
	defer deadline.Stop()
	tick := time.NewTicker(overlayPollInterval)
	defer tick.Stop()

	for {
		var hidden int
		if err := page.Evaluate(ctx, overlayScript, &hidden); err != nil {
			return errors.Wrap(err, "neutralize overlays")
		}
		if hidden > 0 {
			slog.Debug("braspress overlays hidden", "count", hidden)
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "neutralize overlays")
		case <-deadline.C:
			return nil
		case <-tick.C:
		}
	}
}

func (s *Scraper) typeInto(ctx context.Context, page carrier.Page, sel, value string) error {
	err := carrier.Step(ctx, s.cfg.Timeouts.Selector, func(ctx context.Context) error {
		if err := page.WaitVisible(ctx, sel); err != nil {
			return err
		}
		return page.Type(ctx, sel, value, s.cfg.KeyDelay)
	})
	return errors.Wrapf(err, "type %s", sel)
}

func (s *Scraper) dispatchClick(ctx context.Context, page carrier.Page, sel string) error {
	err := carrier.Step(ctx, s.cfg.Timeouts.Element, func(ctx context.Context) error {
		if err := page.WaitVisible(ctx, sel); err != nil {
			return err
		}
		return page.DispatchClick(ctx, sel)
	})
	return errors.Wrapf(err, "click %s", sel)
}

// ParseTimeline extracts the vertical timeline and the step summary from the
// tracking iframe's HTML.
func ParseTimeline(html string) (carrier.Timeline, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return carrier.Timeline{}, errors.Wrap(err, "parse timeline html")
	}

	var out carrier.Timeline
	doc.Find(timelineEntry).Each(func(_ int, sel *goquery.Selection) {
		status := textBeforeBreak(sel.Find(timelineInfo).First())
		ts := strings.TrimSpace(sel.Find(timelineDate).First().Text())
		if status == "" || ts == "" {
			return
		}
		out.Entries = append(out.Entries, carrier.TimelineEntry{Timestamp: ts, Status: status})
	})

	summary := carrier.TimelineSummary{
		Forecast:    strings.TrimSpace(doc.Find(".dt-previsao-entrega").First().Text()),
		Status:      strings.TrimSpace(doc.Find(".dt-status").First().Text()),
		DeliveredAt: strings.TrimSpace(doc.Find(".dt-data-entrega").First().Text()),
	}
	if summary != (carrier.TimelineSummary{}) {
		out.Summary = &summary
	}
	return out, nil
}

// textBeforeBreak returns the text of sel up to its first <br>.
func textBeforeBreak(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Contents().EachWithBreak(func(_ int, c *goquery.Selection) bool {
		if goquery.NodeName(c) == "br" {
			return false
		}
		b.WriteString(c.Text())
		return true
	})
	return carrier.CollapseSpaces(b.String())
}
