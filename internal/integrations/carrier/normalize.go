package carrier

import (
	"strings"
	"time"

	"github.com/BearBump/FreightTrack/internal/models"
)

// Форматы дат, которые встречаются на порталах перевозчиков.
var dateLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02/01/06",
}

// ParseDate parses dd/mm/yyyy[ hh:mm[:ss]] and dd/mm/yy. The result is the
// carrier's wall-clock time tagged UTC; nil when nothing matches.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}

// ParseDayMonthTime parses "dd/mm hh:mm" and anchors it to year.
func ParseDayMonthTime(s string, year int) *time.Time {
	t, err := time.ParseInLocation("02/01 15:04", strings.TrimSpace(s), time.UTC)
	if err != nil {
		return nil
	}
	out := time.Date(year, t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
	return &out
}

// DateOnly drops the clock part.
func DateOnly(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

// Dedup keeps the first occurrence of every full-tuple-equal event.
func Dedup(events []models.TrackingEvent) []models.TrackingEvent {
	seen := make(map[string]struct{}, len(events))
	out := make([]models.TrackingEvent, 0, len(events))
	for _, e := range events {
		k := e.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

// PostingDate is the date of the earliest timestamped event.
func PostingDate(events []models.TrackingEvent) *time.Time {
	var earliest *time.Time
	for _, e := range events {
		if e.Timestamp == nil {
			continue
		}
		if earliest == nil || e.Timestamp.Before(*earliest) {
			earliest = e.Timestamp
		}
	}
	return DateOnly(earliest)
}

const deliveryCompletedMarker = "entrega realizada"

// DeliveredOn returns the date of the chronologically first event whose
// status reports a completed delivery, matched case-insensitively.
func DeliveredOn(events []models.TrackingEvent) *time.Time {
	var first *time.Time
	for _, e := range events {
		if e.Timestamp == nil || !strings.Contains(strings.ToLower(e.Status), deliveryCompletedMarker) {
			continue
		}
		if first == nil || e.Timestamp.Before(*first) {
			first = e.Timestamp
		}
	}
	return DateOnly(first)
}

// OptString returns nil for blank strings.
func OptString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Digits strips everything except 0-9 (CNPJ/CPF and invoice inputs).
func Digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// CollapseSpaces normalises runs of whitespace inside a single line.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
