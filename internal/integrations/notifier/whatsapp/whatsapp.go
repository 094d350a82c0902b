// Package whatsapp sends notification digests through an Evolution API
// instance.
package whatsapp

import (
	"context"
	"time"

	"github.com/BearBump/FreightTrack/internal/services/notify"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL    string
	Instance   string
	APIKey     string
	Recipients []string
	// PerMinute ограничивает число сообщений в минуту (0 = 20).
	PerMinute int
	Timeout   time.Duration
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type Sender struct {
	client   *resty.Client
	instance string
	to       []string
	limiter  *rate.Limiter
}

func New(cfg Config) *Sender {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetHeader("apikey", cfg.APIKey)
	client.SetTimeout(cfg.Timeout)

	return &Sender{
		client:   client,
		instance: cfg.Instance,
		to:       cfg.Recipients,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.PerMinute)), 1),
	}
}

func (s *Sender) Name() string { return "whatsapp" }

// Send posts the plain-text digest to every recipient. The table is wrapped
// in a code block so WhatsApp keeps it monospaced.
func (s *Sender) Send(ctx context.Context, d notify.Digest) error {
	if len(s.to) == 0 {
		return errors.New("whatsapp: no recipients configured")
	}
	text := "*" + d.Subject + "*\n```\n" + d.Text + "```"

	for _, number := range s.to {
		if err := s.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "whatsapp rate limit")
		}
		res, err := s.client.R().
			SetContext(ctx).
			SetBody(sendTextRequest{Number: number, Text: text}).
			Post("/message/sendText/" + s.instance)
		if err != nil {
			return errors.Wrap(err, "whatsapp send")
		}
		if res.IsError() {
			return errors.Errorf("whatsapp send to %s: status %d: %s", number, res.StatusCode(), res.String())
		}
	}
	return nil
}
