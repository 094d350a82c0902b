package pgdelivery

import (
	"context"

	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Размер страницы движений для API.
const maxMovementsPage = 500

// ListMovements returns one page of movements in scrape order. limit <= 0 or
// above maxMovementsPage gives a full page.
func (s *Storage) ListMovements(ctx context.Context, deliveryID uint64, limit, offset int) ([]models.Movement, error) {
	if limit <= 0 || limit > maxMovementsPage {
		limit = maxMovementsPage
	}
	if offset < 0 {
		offset = 0
	}
	return s.queryMovements(ctx, deliveryID, &limit, offset)
}

// allMovements returns the whole movement set; reconciliation compares it
// against the scrape and must not see a truncated history.
func (s *Storage) allMovements(ctx context.Context, deliveryID uint64) ([]models.Movement, error) {
	return s.queryMovements(ctx, deliveryID, nil, 0)
}

// queryMovements: limit nil означает LIMIT NULL, то есть без ограничения.
func (s *Storage) queryMovements(ctx context.Context, deliveryID uint64, limit *int, offset int) ([]models.Movement, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, delivery_id, position, event_time, status, city, state, details, created_at
FROM movements
WHERE delivery_id = $1
ORDER BY position ASC
LIMIT $2 OFFSET $3
`, deliveryID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select movements")
	}
	defer rows.Close()

	out := []models.Movement{}
	for rows.Next() {
		var (
			m           models.Movement
			city, state *string
		)
		if err := rows.Scan(
			&m.ID, &m.DeliveryID, &m.Position, &m.Timestamp, &m.Status,
			&city, &state, &m.Details, &m.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan movement")
		}
		if city != nil || state != nil {
			m.Location = &models.Location{City: city, State: state}
		}
		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// replaceMovements: delete-then-insert, источник истины всегда последний скрейп.
func replaceMovements(ctx context.Context, tx pgx.Tx, deliveryID uint64, history []models.TrackingEvent) error {
	if _, err := tx.Exec(ctx, `DELETE FROM movements WHERE delivery_id = $1`, deliveryID); err != nil {
		return errors.Wrap(err, "delete movements")
	}
	if len(history) == 0 {
		return nil
	}

	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"movements"},
		[]string{"delivery_id", "position", "event_time", "status", "city", "state", "details"},
		pgx.CopyFromSlice(len(history), func(i int) ([]any, error) {
			e := history[i]
			var city, state *string
			if e.Location != nil {
				city, state = e.Location.City, e.Location.State
			}
			return []any{int64(deliveryID), int32(i), e.Timestamp, e.Status, city, state, e.Details}, nil
		}),
	)
	return errors.Wrap(err, "copy movements")
}
