package pgdelivery

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS deliveries (
  id BIGSERIAL PRIMARY KEY,
  carrier TEXT NOT NULL,
  invoice_number TEXT NOT NULL,
  tax_id TEXT NOT NULL DEFAULT '',
  tracking_code TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  estimated_delivery TIMESTAMP NULL,
  posting_date TIMESTAMP NULL,
  sender JSONB NULL,
  recipient JSONB NULL,
  last_checked_at TIMESTAMPTZ NULL,
  next_check_at TIMESTAMPTZ NOT NULL,
  check_fail_count INT NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (carrier, invoice_number)
)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_next_check_at ON deliveries(next_check_at)`,
		// event_time: "настенное" время перевозчика, поэтому без зоны
		`
CREATE TABLE IF NOT EXISTS movements (
  id BIGSERIAL PRIMARY KEY,
  delivery_id BIGINT NOT NULL REFERENCES deliveries(id) ON DELETE CASCADE,
  position INT NOT NULL,
  event_time TIMESTAMP NULL,
  status TEXT NOT NULL,
  city TEXT NULL,
  state TEXT NULL,
  details TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_movements_delivery_id_position ON movements(delivery_id, position)`,
		`
CREATE TABLE IF NOT EXISTS notification_digests (
  id BIGSERIAL PRIMARY KEY,
  subject TEXT NOT NULL,
  body TEXT NOT NULL,
  lines INT NOT NULL,
  channels TEXT[] NOT NULL DEFAULT '{}',
  sent_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS pending_notifications (
  id BIGSERIAL PRIMARY KEY,
  delivery_id BIGINT NOT NULL REFERENCES deliveries(id) ON DELETE CASCADE,
  created_at TIMESTAMPTZ NOT NULL,
  version INT NOT NULL DEFAULT 1,
  notified_at TIMESTAMPTZ NULL,
  digest_id BIGINT NULL REFERENCES notification_digests(id)
)`,
		`ALTER TABLE pending_notifications ADD COLUMN IF NOT EXISTS version INT NOT NULL DEFAULT 1`,
		// не больше одной неотправленной записи на доставку
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_pending_notifications_open ON pending_notifications(delivery_id) WHERE notified_at IS NULL`,
		`
CREATE TABLE IF NOT EXISTS scrape_tasks (
  id TEXT PRIMARY KEY,
  carrier TEXT NOT NULL,
  invoice_number TEXT NOT NULL,
  status TEXT NOT NULL,
  delivery_id BIGINT NULL REFERENCES deliveries(id) ON DELETE SET NULL,
  error_message TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
