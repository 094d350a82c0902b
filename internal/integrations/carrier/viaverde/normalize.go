package viaverde

import (
	"strings"

	"github.com/BearBump/FreightTrack/internal/integrations/carrier"
	"github.com/BearBump/FreightTrack/internal/models"
)

// Normalize turns the occurrences blob into one event per non-empty line.
// The portal gives no per-event dates or places.
func Normalize(raw carrier.RawResult, taxID, invoiceNumber string) *models.StandardizedDeliveryData {
	row, ok := raw.(carrier.TableRow)
	if !ok {
		return nil
	}
	blob, ok := row.Columns[ColOccurrences]
	if !ok {
		return nil
	}

	var history []models.TrackingEvent
	for _, line := range strings.Split(blob, "\n") {
		if line = carrier.CollapseSpaces(line); line != "" {
			history = append(history, models.TrackingEvent{Status: line})
		}
	}
	history = carrier.Dedup(history)

	code := strings.TrimSpace(row.Columns[ColInvoice])
	if code == "" {
		code = invoiceNumber
	}

	return &models.StandardizedDeliveryData{
		GeneralInfo: models.GeneralInfo{
			Carrier:           models.CarrierViaVerde,
			TrackingCode:      code,
			InvoiceNumber:     invoiceNumber,
			TaxID:             taxID,
			EstimatedDelivery: carrier.DateOnly(carrier.ParseDate(row.Columns[ColDeliveryDay])),
			Sender:            party(row.Columns[ColSender]),
			Recipient:         party(row.Columns[ColRecipient]),
		},
		History: history,
	}
}

func party(name string) *models.Party {
	name = carrier.CollapseSpaces(name)
	if name == "" {
		return nil
	}
	return &models.Party{Name: name}
}
