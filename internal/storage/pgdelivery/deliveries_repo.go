package pgdelivery

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Новая доставка после скрейпа проверяется повторно не раньше, чем через это время.
const firstRecheckDelay = 30 * time.Minute

const deliveryColumns = `
  id, carrier, invoice_number, tax_id, tracking_code,
  status, estimated_delivery, posting_date, sender, recipient,
  last_checked_at, next_check_at, check_fail_count, last_error,
  created_at, updated_at`

// prefixed qualifies a column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = " " + alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ",")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (*models.Delivery, error) {
	var d models.Delivery
	if err := row.Scan(
		&d.ID, &d.Carrier, &d.InvoiceNumber, &d.TaxID, &d.TrackingCode,
		&d.Status, &d.EstimatedDelivery, &d.PostingDate, &d.Sender, &d.Recipient,
		&d.LastCheckedAt, &d.NextCheckAt, &d.CheckFailCount, &d.LastError,
		&d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDeliveries(rows pgx.Rows, capacity int) ([]*models.Delivery, error) {
	defer rows.Close()
	out := make([]*models.Delivery, 0, capacity)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan delivery")
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// WatchDeliveries registers deliveries for polling. Existing rows are kept
// as they are; a non-empty tax id fills a missing one.
func (s *Storage) WatchDeliveries(ctx context.Context, items []models.WatchInput) ([]*models.Delivery, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uint64, 0, len(items))
	for _, it := range items {
		var id uint64
		err := tx.QueryRow(ctx, `
INSERT INTO deliveries (
  carrier, invoice_number, tax_id, tracking_code, status, next_check_at, created_at, updated_at
)
VALUES ($1,$2,$3,$2,$4,$5,$5,$5)
ON CONFLICT (carrier, invoice_number)
DO UPDATE SET tax_id = CASE WHEN deliveries.tax_id = '' THEN EXCLUDED.tax_id ELSE deliveries.tax_id END
RETURNING id
`, it.Carrier, it.InvoiceNumber, it.TaxID, models.StatusUnknown, now).Scan(&id)
		if err != nil {
			return nil, errors.Wrap(err, "insert delivery")
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetDeliveriesByIDs(ctx, ids)
}

func (s *Storage) GetDeliveriesByIDs(ctx context.Context, ids []uint64) ([]*models.Delivery, error) {
	if len(ids) == 0 {
		return []*models.Delivery{}, nil
	}

	rows, err := s.db.Query(ctx, `SELECT`+deliveryColumns+` FROM deliveries WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select deliveries")
	}
	return collectDeliveries(rows, len(ids))
}

// GetDeliveryByKey loads a delivery together with its movements.
// Returns (nil, nil) when there is no such delivery.
func (s *Storage) GetDeliveryByKey(ctx context.Context, carrier models.Carrier, invoiceNumber string) (*models.Delivery, error) {
	d, err := scanDelivery(s.db.QueryRow(ctx,
		`SELECT`+deliveryColumns+` FROM deliveries WHERE carrier = $1 AND invoice_number = $2`,
		carrier, invoiceNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select delivery by key")
	}

	d.Movements, err = s.allMovements(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// CreateDelivery upserts the delivery by (carrier, invoice) and writes its
// whole movement set in one transaction.
func (s *Storage) CreateDelivery(ctx context.Context, d models.Delivery, history []models.TrackingEvent, notify bool) (uint64, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uint64
	err = tx.QueryRow(ctx, `
INSERT INTO deliveries (
  carrier, invoice_number, tax_id, tracking_code, status,
  estimated_delivery, posting_date, sender, recipient,
  last_checked_at, next_check_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$10,$10)
ON CONFLICT (carrier, invoice_number)
DO UPDATE SET
  tax_id = EXCLUDED.tax_id,
  tracking_code = EXCLUDED.tracking_code,
  status = EXCLUDED.status,
  estimated_delivery = EXCLUDED.estimated_delivery,
  posting_date = EXCLUDED.posting_date,
  sender = EXCLUDED.sender,
  recipient = EXCLUDED.recipient,
  last_checked_at = EXCLUDED.last_checked_at,
  updated_at = EXCLUDED.updated_at
RETURNING id
`, d.Carrier, d.InvoiceNumber, d.TaxID, d.TrackingCode, d.Status,
		d.EstimatedDelivery, d.PostingDate, d.Sender, d.Recipient,
		now, now.Add(firstRecheckDelay)).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert delivery")
	}

	if err := replaceMovements(ctx, tx, id, history); err != nil {
		return 0, err
	}
	if notify {
		if err := enqueueNotification(ctx, tx, id); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return id, nil
}

// ReplaceMovements overwrites the delivery fields and its movement set and
// enqueues a pending notification.
func (s *Storage) ReplaceMovements(ctx context.Context, d models.Delivery, history []models.TrackingEvent) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE deliveries
SET
  tax_id = $2,
  tracking_code = $3,
  status = $4,
  estimated_delivery = $5,
  posting_date = $6,
  sender = $7,
  recipient = $8,
  last_checked_at = now(),
  updated_at = now()
WHERE id = $1
`, d.ID, d.TaxID, d.TrackingCode, d.Status, d.EstimatedDelivery, d.PostingDate, d.Sender, d.Recipient)
	if err != nil {
		return errors.Wrap(err, "update delivery")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(models.ErrDeliveryNotFound, "id %d", d.ID)
	}

	if err := replaceMovements(ctx, tx, d.ID, history); err != nil {
		return err
	}
	if err := enqueueNotification(ctx, tx, d.ID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) RefreshDelivery(ctx context.Context, deliveryID uint64) error {
	tag, err := s.db.Exec(ctx, `UPDATE deliveries SET next_check_at = now(), updated_at = now() WHERE id = $1`, deliveryID)
	if err != nil {
		return errors.Wrap(err, "refresh delivery")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrDeliveryNotFound
	}
	return nil
}

// ClaimDueDeliveries выбирает пачку недоставленных доставок, которые пора
// проверить, и сдвигает им next_check_at на lease, чтобы параллельный воркер
// их не взял. SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDueDeliveries(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Delivery, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT`+deliveryColumns+`
FROM deliveries
WHERE next_check_at <= $1
  AND status <> $2
ORDER BY next_check_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, now.UTC(), models.StatusDelivered, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due deliveries")
	}
	picked, err := collectDeliveries(rows, limit)
	if err != nil {
		return nil, err
	}

	leaseUntil := now.UTC().Add(lease)
	for _, d := range picked {
		if _, err := tx.Exec(ctx, `UPDATE deliveries SET next_check_at = $2, updated_at = now() WHERE id = $1`, d.ID, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease delivery")
		}
		d.NextCheckAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// CheckResult is the poller's bookkeeping after one scrape of a delivery.
type CheckResult struct {
	DeliveryID  uint64
	CheckedAt   time.Time
	NextCheckAt time.Time
	// Error is set when the scrape failed.
	Error *string
}

func (s *Storage) ScheduleNextCheck(ctx context.Context, r CheckResult) error {
	var err error
	if r.Error != nil && *r.Error != "" {
		_, err = s.db.Exec(ctx, `
UPDATE deliveries
SET
  last_checked_at = $2,
  check_fail_count = check_fail_count + 1,
  last_error = $3,
  next_check_at = $4,
  updated_at = now()
WHERE id = $1
`, r.DeliveryID, r.CheckedAt.UTC(), *r.Error, r.NextCheckAt.UTC())
	} else {
		_, err = s.db.Exec(ctx, `
UPDATE deliveries
SET
  last_checked_at = $2,
  check_fail_count = 0,
  last_error = NULL,
  next_check_at = $3,
  updated_at = now()
WHERE id = $1
`, r.DeliveryID, r.CheckedAt.UTC(), r.NextCheckAt.UTC())
	}
	return errors.Wrap(err, "schedule next check")
}
