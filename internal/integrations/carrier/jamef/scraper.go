// Package jamef scrapes the public Jamef tracking form.
package jamef

import (
	"context"
	"time"

	"github.com/BearBump/FreightTrack/internal/integrations/carrier"
	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/pkg/errors"
)

const (
	DefaultURL = "https://www.jamef.com.br/"
	// После отрисовки истории страница шлёт этот аналитический запрос;
	// других признаков завершения рендера нет.
	DefaultBeaconPrefix = "https://px.ads.linkedin.com/wa/"
)

const (
	invoiceInput     = `input[placeholder="insira o n° da nota fiscal"]`
	taxIDInput       = `input[placeholder="insira o CPF / CNPJ"]`
	detailsContainer = ".content"
	idleQuiet        = 500 * time.Millisecond
)

var (
	searchButton   = carrier.TextXPath("button", "PESQUISAR")
	historyButton  = carrier.TextXPath("button", "Histórico")
	notFoundMarker = carrier.TextXPath("*", "não encontrad")
)

type Config struct {
	URL          string
	BeaconPrefix string
	Timeouts     carrier.Timeouts
}

type Scraper struct {
	cfg Config
}

func New(cfg Config) *Scraper {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.BeaconPrefix == "" {
		cfg.BeaconPrefix = DefaultBeaconPrefix
	}
	return &Scraper{cfg: cfg}
}

func (s *Scraper) Name() string { return string(models.CarrierJamef) }

func (s *Scraper) Scrape(ctx context.Context, page carrier.Page, q models.SearchQuery) (carrier.RawResult, error) {
	t := s.cfg.Timeouts

	err := carrier.Step(ctx, t.Navigation, func(ctx context.Context) error {
		return page.Navigate(ctx, s.cfg.URL)
	})
	if err != nil {
		return nil, errors.Wrap(err, "open jamef portal")
	}

	// Поиск в два шага: сначала только НФ, затем появляется поле CNPJ.
	if err := carrier.WaitAndFill(ctx, page, t.Selector, invoiceInput, carrier.Digits(q.InvoiceNumber)); err != nil {
		return nil, err
	}
	if err := carrier.WaitAndClick(ctx, page, t.Element, searchButton); err != nil {
		return nil, err
	}
	if err := carrier.WaitAndFill(ctx, page, t.Selector, taxIDInput, carrier.Digits(q.TaxID)); err != nil {
		return nil, err
	}
	if err := carrier.WaitAndClick(ctx, page, t.Element, searchButton); err != nil {
		return nil, err
	}

	err = carrier.Step(ctx, t.NetworkIdle, func(ctx context.Context) error {
		return page.WaitNetworkIdle(ctx, idleQuiet)
	})
	if err != nil {
		return nil, errors.Wrap(err, "wait network idle")
	}

	if err := carrier.WaitResult(ctx, page, t.Selector, historyButton, notFoundMarker); err != nil {
		return nil, err
	}
	err = carrier.Step(ctx, t.Selector, func(ctx context.Context) error {
		return page.ClickAwaitRequest(ctx, historyButton, s.cfg.BeaconPrefix)
	})
	if err != nil {
		return nil, errors.Wrap(err, "open history")
	}

	text, err := carrier.WaitAndRead(ctx, page, t.Selector, detailsContainer)
	if err != nil {
		return nil, err
	}
	return carrier.TextBlock{Text: text}, nil
}
