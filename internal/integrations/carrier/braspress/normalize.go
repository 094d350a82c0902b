package braspress

import (
	"strings"

	"github.com/BearBump/FreightTrack/internal/integrations/carrier"
	"github.com/BearBump/FreightTrack/internal/models"
)

// Normalize maps the timeline onto standardized data. Events keep the
// widget's order; exact duplicates are dropped.
func Normalize(raw carrier.RawResult, taxID, invoiceNumber string) *models.StandardizedDeliveryData {
	tl, ok := raw.(carrier.Timeline)
	if !ok || len(tl.Entries) == 0 {
		return nil
	}

	history := make([]models.TrackingEvent, 0, len(tl.Entries))
	for _, e := range tl.Entries {
		status, loc := splitStatus(e.Status)
		history = append(history, models.TrackingEvent{
			Timestamp: carrier.ParseDate(e.Timestamp),
			Status:    status,
			Location:  loc,
		})
	}
	history = carrier.Dedup(history)

	estimated := carrier.DeliveredOn(history)
	if tl.Summary != nil {
		if d := carrier.DateOnly(carrier.ParseDate(tl.Summary.DeliveredAt)); d != nil {
			estimated = d
		}
		if d := carrier.DateOnly(carrier.ParseDate(tl.Summary.Forecast)); d != nil {
			estimated = d
		}
	}

	return &models.StandardizedDeliveryData{
		GeneralInfo: models.GeneralInfo{
			Carrier:           models.CarrierBraspress,
			TrackingCode:      invoiceNumber,
			InvoiceNumber:     invoiceNumber,
			TaxID:             taxID,
			EstimatedDelivery: estimated,
			PostingDate:       carrier.PostingDate(history),
		},
		History: history,
	}
}

// splitStatus разбирает "СТАТУС - ГОРОД - UF".
//
//	1 часть:  только статус
//	2 части:  статус, город
//	3+ части: статус это всё до двух последних частей, затем город и UF
func splitStatus(s string) (string, *models.Location) {
	parts := strings.Split(s, " - ")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch len(parts) {
	case 1:
		return parts[0], nil
	case 2:
		city := carrier.OptString(parts[1])
		if city == nil {
			return parts[0], nil
		}
		return parts[0], &models.Location{City: city}
	default:
		n := len(parts)
		status := strings.Join(parts[:n-2], " - ")
		city, state := carrier.OptString(parts[n-2]), carrier.OptString(parts[n-1])
		if city == nil && state == nil {
			return status, nil
		}
		return status, &models.Location{City: city, State: state}
	}
}
