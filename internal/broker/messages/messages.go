// Package messages holds the Kafka payloads exchanged between track-api and
// track-worker.
package messages

import (
	"time"

	"github.com/BearBump/FreightTrack/internal/models"
)

// ScrapeRequested: задача скрейпа, поставленная через API.
type ScrapeRequested struct {
	TaskID        string              `json:"task_id"`
	Carrier       models.Carrier      `json:"carrier"`
	InvoiceNumber string              `json:"invoice_number"`
	TaxID         string              `json:"tax_id"`
	Credentials   *models.Credentials `json:"credentials,omitempty"`
	RequestedAt   time.Time           `json:"requested_at"`
}

func (m ScrapeRequested) Query() models.SearchQuery {
	return models.SearchQuery{
		Carrier:       m.Carrier,
		TaxID:         m.TaxID,
		InvoiceNumber: m.InvoiceNumber,
		Credentials:   m.Credentials,
	}
}

// DeliveryUpdated is published after every successful reconciliation so the
// API can refresh its cached view.
type DeliveryUpdated struct {
	DeliveryID       uint64         `json:"delivery_id"`
	Carrier          models.Carrier `json:"carrier"`
	InvoiceNumber    string         `json:"invoice_number"`
	Status           string         `json:"status"`
	Created          bool           `json:"created"`
	MovementsChanged bool           `json:"movements_changed"`
	CheckedAt        time.Time      `json:"checked_at"`
}
