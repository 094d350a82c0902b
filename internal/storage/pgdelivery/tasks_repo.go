package pgdelivery

import (
	"context"
	"time"

	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) CreateScrapeTask(ctx context.Context, t models.ScrapeTask) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO scrape_tasks (id, carrier, invoice_number, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5)
`, t.ID, t.Carrier, t.InvoiceNumber, t.Status, t.CreatedAt.UTC())
	return errors.Wrap(err, "insert scrape task")
}

// UpdateScrapeTask moves a task to status; deliveryID and errMsg may be nil.
func (s *Storage) UpdateScrapeTask(ctx context.Context, id string, status models.ScrapeTaskStatus, deliveryID *uint64, errMsg *string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE scrape_tasks
SET status = $2, delivery_id = COALESCE($3, delivery_id), error_message = $4, updated_at = $5
WHERE id = $1
`, id, status, deliveryID, errMsg, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "update scrape task")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrTaskNotFound
	}
	return nil
}

func (s *Storage) GetScrapeTask(ctx context.Context, id string) (*models.ScrapeTask, error) {
	var t models.ScrapeTask
	err := s.db.QueryRow(ctx, `
SELECT id, carrier, invoice_number, status, delivery_id, error_message, created_at, updated_at
FROM scrape_tasks
WHERE id = $1
`, id).Scan(&t.ID, &t.Carrier, &t.InvoiceNumber, &t.Status, &t.DeliveryID, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrTaskNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select scrape task")
	}
	return &t, nil
}
