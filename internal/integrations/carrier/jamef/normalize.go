package jamef

import (
	"regexp"
	"strings"

	"github.com/BearBump/FreightTrack/internal/integrations/carrier"
	"github.com/BearBump/FreightTrack/internal/models"
)

// Каждое поле блока занимает одну строку; блоки, где поле "съехало", отбрасываются.
var blockRe = regexp.MustCompile(
	`Data: ([^\n]*)\n\nStatus: ([^\n]*)\n\nEstado origem: ([^\n]*)\n\nMunicípio origem: ([^\n]*)\n\nEstado destino: ([^\n]*)\n\nMunicípio destino: ([^\n]*)`,
)

// Normalize parses the history text. Events keep the portal's order.
func Normalize(raw carrier.RawResult, taxID, invoiceNumber string) *models.StandardizedDeliveryData {
	block, ok := raw.(carrier.TextBlock)
	if !ok || strings.TrimSpace(block.Text) == "" {
		return nil
	}
	text := strings.ReplaceAll(block.Text, "\r\n", "\n")

	var history []models.TrackingEvent
	for _, m := range blockRe.FindAllStringSubmatch(text, -1) {
		ev := models.TrackingEvent{
			Timestamp: carrier.ParseDate(m[1]),
			Status:    strings.TrimSpace(m[2]),
		}
		city, state := carrier.OptString(m[6]), carrier.OptString(m[5])
		if city != nil || state != nil {
			ev.Location = &models.Location{City: city, State: state}
		}
		if origin := strings.TrimSpace(m[4]); origin != "" {
			ev.Details = "Origem: " + origin
		}
		history = append(history, ev)
	}
	history = carrier.Dedup(history)

	return &models.StandardizedDeliveryData{
		GeneralInfo: models.GeneralInfo{
			Carrier:           models.CarrierJamef,
			TrackingCode:      invoiceNumber,
			InvoiceNumber:     invoiceNumber,
			TaxID:             taxID,
			EstimatedDelivery: carrier.DeliveredOn(history),
			PostingDate:       carrier.PostingDate(history),
		},
		History: history,
	}
}
