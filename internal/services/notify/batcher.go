// Package notify turns pending notifications into one digest per run and
// pushes it through the configured sinks.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	ListPendingNotifications(ctx context.Context, limit int) ([]*models.PendingNotification, error)
	// MarkNotified closes the sent records whose version did not change
	// since they were listed.
	MarkNotified(ctx context.Context, sent []*models.PendingNotification, digest models.NotificationDigest) (uint64, error)
}

// Sink delivers a rendered digest to one channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, d Digest) error
}

type Result struct {
	Pending  int    `json:"pending"`
	Lines    int    `json:"lines"`
	DigestID uint64 `json:"digestId,omitempty"`
}

type Batcher struct {
	repo  Repository
	sink  Sink
	limit int
	now   func() time.Time

	// один прогон за раз: cron и ручной запуск из API не должны пересекаться
	mu sync.Mutex
}

func NewBatcher(repo Repository, sink Sink, limit int) *Batcher {
	if limit <= 0 {
		limit = 1000
	}
	return &Batcher{repo: repo, sink: sink, limit: limit, now: time.Now}
}

// Run sends one digest for everything pending. When the sink fails nothing
// is marked and the records stay pending for the next run.
func (b *Batcher) Run(ctx context.Context) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending, err := b.repo.ListPendingNotifications(ctx, b.limit)
	if err != nil {
		return Result{}, errors.Wrap(err, "list pending notifications")
	}
	if len(pending) == 0 {
		slog.Info("no pending notifications")
		return Result{}, nil
	}

	seen := make(map[uint64]struct{}, len(pending))
	deliveries := make([]models.Delivery, 0, len(pending))
	for _, p := range pending {
		if _, ok := seen[p.DeliveryID]; ok {
			continue
		}
		seen[p.DeliveryID] = struct{}{}
		deliveries = append(deliveries, p.Delivery)
	}

	digest := Build(deliveries, b.now())
	if err := b.sink.Send(ctx, digest); err != nil {
		return Result{Pending: len(pending)}, errors.Wrap(err, "send digest")
	}

	digestID, err := b.repo.MarkNotified(ctx, pending, models.NotificationDigest{
		Subject:  digest.Subject,
		Body:     digest.Text,
		Lines:    digest.Lines(),
		Channels: strings.Split(b.sink.Name(), ","),
		SentAt:   digest.GeneratedAt,
	})
	if err != nil {
		// дайджест ушёл, но записи остались pending: следующий прогон отправит повторно
		return Result{Pending: len(pending), Lines: digest.Lines()}, errors.Wrap(err, "mark notified")
	}

	slog.Info("digest sent", "digest_id", digestID, "pending", len(pending), "lines", digest.Lines(), "sink", b.sink.Name())
	return Result{Pending: len(pending), Lines: digest.Lines(), DigestID: digestID}, nil
}

// MultiSink fans a digest out to several sinks. It fails if any sink fails,
// so the whole digest is retried.
type MultiSink []Sink

func (m MultiSink) Name() string {
	names := make([]string, 0, len(m))
	for _, s := range m {
		names = append(names, s.Name())
	}
	return strings.Join(names, ",")
}

func (m MultiSink) Send(ctx context.Context, d Digest) error {
	var firstErr error
	failed := 0
	for _, s := range m {
		if err := s.Send(ctx, d); err != nil {
			slog.Error("digest sink failed", "sink", s.Name(), "error", err.Error())
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return errors.Wrapf(firstErr, "%d of %d sinks failed", failed, len(m))
	}
	return nil
}

// LogSink only logs the digest; used when no channel is configured.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(ctx context.Context, d Digest) error {
	slog.Info("digest", "subject", d.Subject, "lines", d.Lines(), "body", d.Text)
	return nil
}
