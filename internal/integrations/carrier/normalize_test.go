package carrier_test

import (
	"testing"
	"time"

	"github.com/BearBump/FreightTrack/internal/integrations/carrier"
	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/stretchr/testify/require"
)

func at(y int, m time.Month, d, hh, mm int) *time.Time {
	t := time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
	return &t
}

func TestParseDate(t *testing.T) {
	require.Equal(t, at(2025, 10, 3, 14, 5), carrier.ParseDate("03/10/2025 14:05"))
	require.Equal(t, at(2025, 10, 3, 0, 0), carrier.ParseDate(" 03/10/2025 "))
	require.Equal(t, at(2025, 10, 3, 0, 0), carrier.ParseDate("03/10/25"))
	require.Nil(t, carrier.ParseDate(""))
	require.Nil(t, carrier.ParseDate("amanhã"))
}

func TestParseDayMonthTime_AnchorsYear(t *testing.T) {
	require.Equal(t, at(2031, 10, 10, 9, 0), carrier.ParseDayMonthTime("10/10 09:00", 2031))
	require.Nil(t, carrier.ParseDayMonthTime("10-10 09:00", 2031))
}

func TestDedup_KeepsFirstOccurrence(t *testing.T) {
	a := models.TrackingEvent{Timestamp: at(2025, 1, 1, 8, 0), Status: "A"}
	b := models.TrackingEvent{Timestamp: at(2025, 1, 2, 8, 0), Status: "B"}
	out := carrier.Dedup([]models.TrackingEvent{a, b, a, b, a})
	require.Equal(t, []models.TrackingEvent{a, b}, out)
}

func TestPostingDateAndDeliveredOn(t *testing.T) {
	events := []models.TrackingEvent{
		{Timestamp: at(2025, 1, 5, 10, 0), Status: "ENTREGA REALIZADA"},
		{Timestamp: at(2025, 1, 4, 18, 0), Status: "Entrega realizada parcialmente"},
		{Timestamp: nil, Status: "sem data"},
		{Timestamp: at(2025, 1, 1, 8, 30), Status: "Coletado"},
	}
	require.Equal(t, at(2025, 1, 1, 0, 0), carrier.PostingDate(events))
	require.Equal(t, at(2025, 1, 4, 0, 0), carrier.DeliveredOn(events))
	require.Nil(t, carrier.DeliveredOn(events[2:]))
	require.Nil(t, carrier.PostingDate(nil))
}

func TestDigitsAndOptString(t *testing.T) {
	require.Equal(t, "48775191000190", carrier.Digits("48.775.191/0001-90"))
	require.Nil(t, carrier.OptString("   "))
	require.Equal(t, "x", *carrier.OptString(" x "))
	require.Equal(t, "a b", carrier.CollapseSpaces(" a \n  b "))
}
