package pgdelivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// enqueueNotification keeps one unsent record per delivery. A mutation that
// lands on an open record bumps its version, so a digest rendered from the
// older snapshot cannot close it.
func enqueueNotification(ctx context.Context, tx pgx.Tx, deliveryID uint64) error {
	_, err := tx.Exec(ctx, `
INSERT INTO pending_notifications (delivery_id, created_at)
VALUES ($1, now())
ON CONFLICT (delivery_id) WHERE notified_at IS NULL
DO UPDATE SET version = pending_notifications.version + 1
`, deliveryID)
	return errors.Wrap(err, "enqueue notification")
}

// ListPendingNotifications returns unsent records joined with their delivery,
// oldest first.
func (s *Storage) ListPendingNotifications(ctx context.Context, limit int) ([]*models.PendingNotification, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.Query(ctx, `
SELECT p.id, p.delivery_id, p.version, p.created_at,`+prefixed("d", deliveryColumns)+`
FROM pending_notifications p
JOIN deliveries d ON d.id = p.delivery_id
WHERE p.notified_at IS NULL
ORDER BY p.created_at ASC, p.id ASC
LIMIT $1
`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select pending notifications")
	}
	defer rows.Close()

	var out []*models.PendingNotification
	for rows.Next() {
		var p models.PendingNotification
		d := &p.Delivery
		if err := rows.Scan(
			&p.ID, &p.DeliveryID, &p.Version, &p.CreatedAt,
			&d.ID, &d.Carrier, &d.InvoiceNumber, &d.TaxID, &d.TrackingCode,
			&d.Status, &d.EstimatedDelivery, &d.PostingDate, &d.Sender, &d.Recipient,
			&d.LastCheckedAt, &d.NextCheckAt, &d.CheckFailCount, &d.LastError,
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan pending notification")
		}
		out = append(out, &p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// MarkNotified records the digest and closes the sent pending records in one
// transaction. A record is closed only while its version still matches the
// one that was sent; newer mutations keep it pending for the next digest.
func (s *Storage) MarkNotified(ctx context.Context, sent []*models.PendingNotification, digest models.NotificationDigest) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sentAt := digest.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	channels := digest.Channels
	if channels == nil {
		channels = []string{}
	}

	var digestID uint64
	err = tx.QueryRow(ctx, `
INSERT INTO notification_digests (subject, body, lines, channels, sent_at)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`, digest.Subject, digest.Body, digest.Lines, channels, sentAt.UTC()).Scan(&digestID)
	if err != nil {
		return 0, errors.Wrap(err, "insert digest")
	}

	ids := make([]int64, 0, len(sent))
	versions := make([]int32, 0, len(sent))
	for _, p := range sent {
		ids = append(ids, int64(p.ID))
		versions = append(versions, p.Version)
	}
	tag, err := tx.Exec(ctx, `
UPDATE pending_notifications p
SET notified_at = $3, digest_id = $4
FROM unnest($1::bigint[], $2::int[]) AS s(id, version)
WHERE p.id = s.id AND p.version = s.version AND p.notified_at IS NULL
`, ids, versions, sentAt.UTC(), digestID)
	if err != nil {
		return 0, errors.Wrap(err, "mark notified")
	}
	if stale := int64(len(sent)) - tag.RowsAffected(); stale > 0 {
		slog.Info("pending notifications changed while sending, kept for next digest", "count", stale)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return digestID, nil
}

// ListDigests returns the most recent digests first.
func (s *Storage) ListDigests(ctx context.Context, limit int) ([]*models.NotificationDigest, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
SELECT id, subject, body, lines, channels, sent_at
FROM notification_digests
ORDER BY sent_at DESC, id DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select digests")
	}
	defer rows.Close()

	out := []*models.NotificationDigest{}
	for rows.Next() {
		var d models.NotificationDigest
		if err := rows.Scan(&d.ID, &d.Subject, &d.Body, &d.Lines, &d.Channels, &d.SentAt); err != nil {
			return nil, errors.Wrap(err, "scan digest")
		}
		out = append(out, &d)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
