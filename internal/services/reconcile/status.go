package reconcile

import (
	"strings"

	"github.com/BearBump/FreightTrack/internal/models"
)

// Маркеры завершённой доставки (регистр не важен).
var deliveredMarkers = []string{"entregue", "realizada", "delivered", "completed"}

// IsDelivered reports whether a status text means the shipment was handed over.
func IsDelivered(status string) bool {
	s := strings.ToLower(status)
	for _, m := range deliveredMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// DeriveStatus returns StatusDelivered when any event reports delivery,
// otherwise the status of the most recent event, otherwise StatusUnknown.
// The most recent event is the one with the latest timestamp; with no
// timestamps at all (or a tie) the later position in history wins.
func DeriveStatus(history []models.TrackingEvent) string {
	if len(history) == 0 {
		return models.StatusUnknown
	}
	for _, e := range history {
		if IsDelivered(e.Status) {
			return models.StatusDelivered
		}
	}

	latest := -1
	for i, e := range history {
		if e.Timestamp == nil {
			continue
		}
		if latest < 0 || !e.Timestamp.Before(*history[latest].Timestamp) {
			latest = i
		}
	}
	if latest < 0 {
		latest = len(history) - 1
	}
	if s := strings.TrimSpace(history[latest].Status); s != "" {
		return s
	}
	return models.StatusUnknown
}
