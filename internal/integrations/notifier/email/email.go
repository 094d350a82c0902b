// Package email sends notification digests over SMTP.
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/BearBump/FreightTrack/internal/services/notify"
	"github.com/jordan-wright/email"
	"github.com/pkg/errors"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

type sendFunc func(e *email.Email, addr string, auth smtp.Auth) error

type Sender struct {
	cfg  Config
	send sendFunc
}

func New(cfg Config) *Sender {
	return &Sender{cfg: cfg, send: func(e *email.Email, addr string, auth smtp.Auth) error {
		return e.Send(addr, auth)
	}}
}

func (s *Sender) Name() string { return "email" }

func (s *Sender) buildEmail(d notify.Digest) *email.Email {
	e := email.NewEmail()
	e.From = fmt.Sprintf("FreightTrack <%s>", s.cfg.From)
	e.To = append([]string(nil), s.cfg.To...)
	e.Subject = d.Subject
	e.Text = []byte(d.Text)
	e.HTML = []byte(d.HTML)
	return e
}

func (s *Sender) Send(ctx context.Context, d notify.Digest) error {
	if len(s.cfg.To) == 0 {
		return errors.New("email: no recipients configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e := s.buildEmail(d)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	err := s.send(e, addr, auth)
	// локальные релеи часто без AUTH
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = s.send(e, addr, nil)
	}
	return errors.Wrap(err, "send email")
}
