// Package scrape runs one carrier scrape end to end: resolve the carrier,
// drive the browser with retries, normalize and hand the result to
// reconciliation. It also owns the asynchronous scrape task lifecycle.
package scrape

import (
	"github.com/BearBump/FreightTrack/internal/integrations/carrier"
	"github.com/BearBump/FreightTrack/internal/integrations/carrier/accert"
	"github.com/BearBump/FreightTrack/internal/integrations/carrier/braspress"
	"github.com/BearBump/FreightTrack/internal/integrations/carrier/jamef"
	"github.com/BearBump/FreightTrack/internal/integrations/carrier/viaverde"
	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/pkg/errors"
)

var (
	ErrUnknownCarrier = models.ErrUnknownCarrier
	ErrTaskNotFound   = models.ErrTaskNotFound
)

// ScrapersConfig carries the per-carrier settings; zero values fall back to
// each scraper's defaults.
type ScrapersConfig struct {
	Timeouts  carrier.Timeouts
	Accert    accert.Config
	Jamef     jamef.Config
	Braspress braspress.Config
	ViaVerde  viaverde.Config
}

// Scrapers is the closed set of carrier scrapers.
type Scrapers struct {
	Accert    carrier.Scraper
	Jamef     carrier.Scraper
	Braspress carrier.Scraper
	ViaVerde  carrier.Scraper
}

func NewScrapers(cfg ScrapersConfig) Scrapers {
	cfg.Accert.Timeouts = cfg.Timeouts
	cfg.Jamef.Timeouts = cfg.Timeouts
	cfg.Braspress.Timeouts = cfg.Timeouts
	cfg.ViaVerde.Timeouts = cfg.Timeouts
	return Scrapers{
		Accert:    accert.New(cfg.Accert),
		Jamef:     jamef.New(cfg.Jamef),
		Braspress: braspress.New(cfg.Braspress),
		ViaVerde:  viaverde.New(cfg.ViaVerde),
	}
}

// Resolve returns the scraper and normalizer for c.
func (s Scrapers) Resolve(c models.Carrier) (carrier.Scraper, carrier.Normalizer, error) {
	var (
		sc   carrier.Scraper
		norm carrier.Normalizer
	)
	switch c {
	case models.CarrierAccert:
		sc, norm = s.Accert, accert.Normalize
	case models.CarrierJamef:
		sc, norm = s.Jamef, jamef.Normalize
	case models.CarrierBraspress:
		sc, norm = s.Braspress, braspress.Normalize
	case models.CarrierViaVerde:
		sc, norm = s.ViaVerde, viaverde.Normalize
	default:
		return nil, nil, errors.Wrapf(ErrUnknownCarrier, "%q", c)
	}
	if sc == nil {
		return nil, nil, errors.Errorf("scraper for %s is not configured", c)
	}
	return sc, norm, nil
}
