// Package viaverde scrapes the Via Verde SupplyTrack portal. Unlike the other
// carriers it needs a customer login before any search.
package viaverde

import (
	"context"
	"strings"

	"github.com/BearBump/FreightTrack/internal/integrations/carrier"
	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
)

const DefaultURL = "http://viaverde.supplytrack.com.br/login?ReturnUrl=%2f"

var ErrMissingCredentials = errors.New("viaverde credentials are not configured")

// Column keys of the TableRow.
const (
	ColOccurrences = "ocorrencias"
	ColDeliveryDay = "dt_entrega"
	ColSender      = "remetente"
	ColRecipient   = "destinatario"
	ColInvoice     = "nr_nf"
)

const (
	loginInput    = "#login"
	passwordInput = "#senha"
	documentInput = "#nrNf"

	resultTable    = "table.dataTable"
	resultCell     = "table.dataTable tbody tr td.coluna-ocorrencias"
	notFoundMarker = "table.dataTable td.dataTables_empty"
)

var (
	loginButton    = carrier.TextXPath("button", "Entrar")
	queriesMenu    = `//a[.//i[contains(@class, "fa-search")]]`
	byDocumentLink = carrier.TextXPath("*", "Por Documento")
	searchButton   = carrier.TextXPath("button", "Pesquisar")
)

var columnClasses = map[string]string{
	ColOccurrences: "td.coluna-ocorrencias",
	ColDeliveryDay: "td.coluna-dtentrega",
	ColSender:      "td.coluna-remetente",
	ColRecipient:   "td.coluna-destinatario",
	ColInvoice:     "td.coluna-nrnf",
}

type Config struct {
	URL      string
	Timeouts carrier.Timeouts
	// Default credentials, used when the query carries none.
	Login    string
	Password string
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

func (s *Scraper) Name() string { return string(models.CarrierViaVerde) }

func (s *Scraper) credentials(q models.SearchQuery) (string, string, error) {
	if q.Credentials != nil && q.Credentials.Username != "" {
		return q.Credentials.Username, q.Credentials.Password, nil
	}
	if s.cfg.Login == "" {
		return "", "", ErrMissingCredentials
	}
	return s.cfg.Login, s.cfg.Password, nil
}

func (s *Scraper) Scrape(ctx context.Context, page carrier.Page, q models.SearchQuery) (carrier.RawResult, error) {
	login, password, err := s.credentials(q)
	if err != nil {
		return nil, err
	}
	t := s.cfg.Timeouts

	err = carrier.Step(ctx, t.Navigation, func(ctx context.Context) error {
		return page.Navigate(ctx, s.cfg.URL)
	})
	if err != nil {
		return nil, errors.Wrap(err, "open viaverde portal")
	}

	if err := carrier.WaitAndFill(ctx, page, t.Selector, loginInput, login); err != nil {
		return nil, err
	}
	if err := carrier.WaitAndFill(ctx, page, t.Selector, passwordInput, password); err != nil {
		return nil, err
	}
	if err := carrier.WaitAndClick(ctx, page, t.Element, loginButton); err != nil {
		return nil, err
	}

	// после логина: Consultas -> Por Documento
	if err := carrier.WaitAndClick(ctx, page, t.Navigation, queriesMenu); err != nil {
		return nil, err
	}
	if err := carrier.WaitAndClick(ctx, page, t.Selector, byDocumentLink); err != nil {
		return nil, err
	}
	if err := carrier.WaitAndFill(ctx, page, t.Selector, documentInput, q.InvoiceNumber); err != nil {
		return nil, err
	}
	if err := carrier.WaitAndClick(ctx, page, t.Element, searchButton); err != nil {
		return nil, err
	}

	if err := carrier.WaitResult(ctx, page, t.Selector, resultCell, notFoundMarker); err != nil {
		return nil, err
	}
	var html string
	err = carrier.Step(ctx, t.Element, func(ctx context.Context) error {
		var err error
		html, err = page.OuterHTML(ctx, resultTable)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "read result table")
	}
	return ParseFirstRow(html)
}

// ParseFirstRow reads the cells of the first body row. Only that row is
// considered, even when the portal lists several documents.
func ParseFirstRow(html string) (carrier.TableRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return carrier.TableRow{}, errors.Wrap(err, "parse result table")
	}
	row := doc.Find("tbody tr").First()
	if row.Length() == 0 {
		return carrier.TableRow{}, errors.New("result table has no rows")
	}

	cols := make(map[string]string, len(columnClasses))
	for key, sel := range columnClasses {
		cell := row.Find(sel).First()
		if cell.Length() == 0 {
			continue
		}
		cols[key] = cellText(cell)
	}
	return carrier.TableRow{Columns: cols}, nil
}

// cellText keeps line structure: <br> and block children become newlines.
func cellText(cell *goquery.Selection) string {
	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, c *goquery.Selection) {
			switch name := goquery.NodeName(c); name {
			case "#text":
				b.WriteString(c.Text())
			case "br":
				b.WriteByte('\n')
			default:
				walk(c)
				if name == "div" || name == "p" || name == "li" {
					b.WriteByte('\n')
				}
			}
		})
	}
	walk(cell)
	return strings.TrimSpace(b.String())
}
