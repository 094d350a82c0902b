package reconcile

import (
	"strings"

	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidRecord: нормализованные данные без ключа доставки.
	ErrInvalidRecord = errors.New("normalized record has no carrier or invoice number")
	// ErrEmptyHistory: скрейп вернул пустую историю, а в базе она есть.
	// Хорошую историю пустой не перезаписываем.
	ErrEmptyHistory = errors.New("scraped history is empty, stored history kept")
)

type Action int

const (
	ActionNone Action = iota
	ActionCreate
	ActionReplace
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionReplace:
		return "replace"
	default:
		return "none"
	}
}

// Plan is the storage change one reconciliation decided on.
type Plan struct {
	Action   Action
	Delivery models.Delivery
	History  []models.TrackingEvent
	// Notify: ставить ли доставку в очередь дайджеста.
	Notify bool
}

// Decide compares fresh data with the stored delivery (nil when unseen) and
// returns what has to be written. It performs no I/O.
func Decide(data *models.StandardizedDeliveryData, existing *models.Delivery) (Plan, error) {
	if err := Validate(data); err != nil {
		return Plan{}, err
	}
	gi := data.GeneralInfo

	d := models.Delivery{
		Carrier:           gi.Carrier,
		InvoiceNumber:     gi.InvoiceNumber,
		TaxID:             gi.TaxID,
		TrackingCode:      gi.TrackingCode,
		Status:            DeriveStatus(data.History),
		EstimatedDelivery: gi.EstimatedDelivery,
		PostingDate:       gi.PostingDate,
		Sender:            gi.Sender,
		Recipient:         gi.Recipient,
	}

	if existing == nil {
		return Plan{
			Action:   ActionCreate,
			Delivery: d,
			History:  data.History,
			Notify:   len(data.History) > 0,
		}, nil
	}

	stored := make([]models.TrackingEvent, 0, len(existing.Movements))
	for _, m := range existing.Movements {
		stored = append(stored, m.TrackingEvent)
	}
	if sameEvents(data.History, stored) {
		return Plan{Action: ActionNone, Delivery: *existing}, nil
	}
	if len(data.History) == 0 {
		return Plan{}, ErrEmptyHistory
	}

	d.ID = existing.ID
	if d.TaxID == "" {
		d.TaxID = existing.TaxID
	}
	return Plan{Action: ActionReplace, Delivery: d, History: data.History, Notify: true}, nil
}

// Validate rejects records that cannot be keyed.
func Validate(data *models.StandardizedDeliveryData) error {
	if data == nil {
		return errors.Wrap(ErrInvalidRecord, "nil record")
	}
	if data.GeneralInfo.Carrier == "" || strings.TrimSpace(data.GeneralInfo.InvoiceNumber) == "" {
		return ErrInvalidRecord
	}
	return nil
}

// sameEvents compares the two histories as sets of full tuples; order and
// duplicates do not matter.
func sameEvents(a, b []models.TrackingEvent) bool {
	as, bs := keySet(a), keySet(b)
	if len(as) != len(bs) {
		return false
	}
	for k := range as {
		if _, ok := bs[k]; !ok {
			return false
		}
	}
	return true
}

func keySet(events []models.TrackingEvent) map[string]struct{} {
	out := make(map[string]struct{}, len(events))
	for _, e := range events {
		out[e.Key()] = struct{}{}
	}
	return out
}
