// Package accert scrapes the Accert Logística customer portal.
package accert

import (
	"context"

	"github.com/BearBump/FreightTrack/internal/integrations/carrier"
	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/pkg/errors"
)

const DefaultURL = "https://cliente.accertlogistica.com.br/rastreamento"

const (
	taxIDInput       = "#cnpjOrCpf"
	invoiceInput     = "#notaFiscal"
	resultMarker     = "span.text-base.font-semibold"
	detailsContainer = ".border-separation"
)

var (
	searchButton   = carrier.TextXPath("button", "Buscar encomendas")
	detailsButton  = carrier.TextXPath("button", "Ver detalhes")
	notFoundMarker = carrier.TextXPath("*", "Nenhuma encomenda encontrada")
)

type Config struct {
	URL      string
	Timeouts carrier.Timeouts
}

type Scraper struct {
	cfg Config
}

func New(cfg Config) *Scraper {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	return &Scraper{cfg: cfg}
}

func (s *Scraper) Name() string { return string(models.CarrierAccert) }

func (s *Scraper) Scrape(ctx context.Context, page carrier.Page, q models.SearchQuery) (carrier.RawResult, error) {
	t := s.cfg.Timeouts

	err := carrier.Step(ctx, t.Navigation, func(ctx context.Context) error {
		return page.Navigate(ctx, s.cfg.URL)
	})
	if err != nil {
		return nil, errors.Wrap(err, "open accert portal")
	}

	if err := carrier.WaitAndFill(ctx, page, t.Selector, taxIDInput, q.TaxID); err != nil {
		return nil, err
	}
	// поле НФ появляется только после ввода CNPJ
	if err := carrier.WaitAndFill(ctx, page, t.Selector, invoiceInput, q.InvoiceNumber); err != nil {
		return nil, err
	}
	if err := carrier.WaitAndClick(ctx, page, t.Element, searchButton); err != nil {
		return nil, err
	}

	if err := carrier.WaitResult(ctx, page, t.Element, resultMarker, notFoundMarker); err != nil {
		return nil, err
	}
	if err := carrier.WaitAndClick(ctx, page, t.Element, detailsButton); err != nil {
		return nil, err
	}

	text, err := carrier.WaitAndRead(ctx, page, t.Selector, detailsContainer)
	if err != nil {
		return nil, err
	}
	return carrier.TextBlock{Text: text}, nil
}
