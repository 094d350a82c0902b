// Package pipeline builds the scrape and notification stacks from config;
// both binaries share it.
package pipeline

import (
	"log/slog"
	"time"

	"github.com/BearBump/FreightTrack/config"
	"github.com/BearBump/FreightTrack/internal/browser"
	"github.com/BearBump/FreightTrack/internal/integrations/carrier"
	"github.com/BearBump/FreightTrack/internal/integrations/carrier/accert"
	"github.com/BearBump/FreightTrack/internal/integrations/carrier/braspress"
	"github.com/BearBump/FreightTrack/internal/integrations/carrier/jamef"
	"github.com/BearBump/FreightTrack/internal/integrations/carrier/viaverde"
	"github.com/BearBump/FreightTrack/internal/integrations/notifier/email"
	"github.com/BearBump/FreightTrack/internal/integrations/notifier/whatsapp"
	"github.com/BearBump/FreightTrack/internal/services/notify"
	"github.com/BearBump/FreightTrack/internal/services/scrape"
)

const defaultScrapeTimeout = 3 * time.Minute

func seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func Timeouts(c config.TimeoutsConfig) carrier.Timeouts {
	def := carrier.DefaultTimeouts()
	return carrier.Timeouts{
		Navigation:  seconds(c.NavigationSeconds, def.Navigation),
		Element:     seconds(c.ElementSeconds, def.Element),
		Selector:    seconds(c.SelectorSeconds, def.Selector),
		NetworkIdle: seconds(c.NetworkIdleSeconds, def.NetworkIdle),
	}
}

func ScrapeTimeout(c config.TimeoutsConfig) time.Duration {
	return seconds(c.ScrapeSeconds, defaultScrapeTimeout)
}

func ScrapersConfig(cfg *config.Config) scrape.ScrapersConfig {
	c := cfg.Carriers
	return scrape.ScrapersConfig{
		Timeouts: Timeouts(cfg.Timeouts),
		Accert:   accert.Config{URL: c.AccertURL},
		Jamef:    jamef.Config{URL: c.JamefURL, BeaconPrefix: c.JamefBeacon},
		Braspress: braspress.Config{
			URL:                c.BraspressURL,
			OverlayWatch:       seconds(c.BraspressOverlayWatchSeconds, 0),
			NavigationAttempts: c.BraspressNavigationAttempts,
		},
		ViaVerde: viaverde.Config{
			URL:      c.ViaVerdeURL,
			Login:    c.ViaVerdeLogin,
			Password: c.ViaVerdePassword,
		},
	}
}

func RetryPolicy(c config.RetryConfig) scrape.RetryPolicy {
	def := scrape.DefaultRetryPolicy()
	p := scrape.RetryPolicy{
		MaxAttempts:     c.MaxAttempts,
		InitialInterval: seconds(c.InitialIntervalSeconds, def.InitialInterval),
		MaxInterval:     seconds(c.MaxIntervalSeconds, def.MaxInterval),
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	return p
}

func BrowserOptions(c config.BrowserConfig) browser.Options {
	headless := true
	if c.Headless != nil {
		headless = *c.Headless
	}
	return browser.Options{
		Headless:  headless,
		UserAgent: c.UserAgent,
		Width:     c.ViewportWidth,
		Height:    c.ViewportHeight,
		ExecPath:  c.ExecPath,
	}
}

// NewOrchestrator wires browser sessions, carrier scrapers, screenshots and
// the retry policy into a scrape.Orchestrator.
func NewOrchestrator(cfg *config.Config) (*scrape.Orchestrator, error) {
	var shots carrier.Screenshotter
	if cfg.Browser.Screenshots {
		dir := cfg.Browser.ScreenshotDir
		if dir == "" {
			dir = "screenshots"
		}
		sd, err := browser.NewScreenshotDir(dir)
		if err != nil {
			return nil, err
		}
		shots = sd
	}

	return scrape.NewOrchestrator(
		scrape.NewScrapers(ScrapersConfig(cfg)),
		browser.Factory(BrowserOptions(cfg.Browser)),
		shots,
		RetryPolicy(cfg.Retry),
		ScrapeTimeout(cfg.Timeouts),
	), nil
}

// NewSink combines every configured channel; with none configured the
// digest only goes to the log.
func NewSink(c config.NotificationsConfig) notify.Sink {
	var sinks notify.MultiSink
	if c.SMTP.Host != "" && len(c.SMTP.To) > 0 {
		port := c.SMTP.Port
		if port == 0 {
			port = 587
		}
		sinks = append(sinks, email.New(email.Config{
			Host:     c.SMTP.Host,
			Port:     port,
			Username: c.SMTP.Username,
			Password: c.SMTP.Password,
			From:     c.SMTP.From,
			To:       c.SMTP.To,
		}))
	}
	if c.WhatsApp.BaseURL != "" && len(c.WhatsApp.Recipients) > 0 {
		sinks = append(sinks, whatsapp.New(whatsapp.Config{
			BaseURL:    c.WhatsApp.BaseURL,
			Instance:   c.WhatsApp.Instance,
			APIKey:     c.WhatsApp.APIKey,
			Recipients: c.WhatsApp.Recipients,
			PerMinute:  c.WhatsApp.PerMinute,
		}))
	}
	if len(sinks) == 0 {
		slog.Warn("no notification channel configured, digests go to the log")
		return notify.LogSink{}
	}
	return sinks
}
