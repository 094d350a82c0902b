package accert

import (
	"regexp"
	"strings"
	"time"

	"github.com/BearBump/FreightTrack/internal/integrations/carrier"
	"github.com/BearBump/FreightTrack/internal/models"
)

var (
	forecastRe = regexp.MustCompile(`Previsão de entrega: (\d{2}/\d{2}/\d{2}(?:\d{2})?)`)
	headerRe   = regexp.MustCompile(`(\d{2}/\d{2} \d{2}:\d{2})\n\n`)

	cityRe = regexp.MustCompile(`na cidade de (.*?)\.`)
	unitRe = regexp.MustCompile(`unidade (.*?)(?: em| na)`)
)

// clock is overridable in tests.
var clock = time.Now

// Normalize parses the free-text details block. Each event is
// "dd/mm hh:mm", blank line, status, blank line, details; blocks that do not
// follow this shape are dropped.
func Normalize(raw carrier.RawResult, taxID, invoiceNumber string) *models.StandardizedDeliveryData {
	block, ok := raw.(carrier.TextBlock)
	if !ok || strings.TrimSpace(block.Text) == "" {
		return nil
	}
	text := strings.ReplaceAll(block.Text, "\r\n", "\n")
	year := clock().Year()

	var history []models.TrackingEvent
	for _, b := range splitBlocks(text) {
		ts := carrier.ParseDayMonthTime(b.header, year)
		if ts == nil {
			continue
		}
		history = append(history, models.TrackingEvent{
			Timestamp: ts,
			Status:    b.status,
			Location:  location(b.details),
			Details:   b.details,
		})
	}
	history = carrier.Dedup(history)

	var forecast *time.Time
	if m := forecastRe.FindStringSubmatch(text); m != nil {
		forecast = carrier.ParseDate(m[1])
	}

	return &models.StandardizedDeliveryData{
		GeneralInfo: models.GeneralInfo{
			Carrier:           models.CarrierAccert,
			TrackingCode:      invoiceNumber,
			InvoiceNumber:     invoiceNumber,
			TaxID:             taxID,
			EstimatedDelivery: forecast,
			PostingDate:       carrier.PostingDate(history),
		},
		History: history,
	}
}

type textBlock struct {
	header, status, details string
}

// splitBlocks cuts text at every timestamp header that opens the text or
// follows a blank line.
func splitBlocks(text string) []textBlock {
	locs := headerRe.FindAllStringSubmatchIndex(text, -1)

	starts := make([][]int, 0, len(locs))
	for i, loc := range locs {
		if i == 0 || (loc[0] >= 2 && text[loc[0]-2:loc[0]] == "\n\n") {
			starts = append(starts, loc)
		}
	}

	out := make([]textBlock, 0, len(starts))
	for i, loc := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		body := strings.TrimRight(text[loc[1]:end], "\n ")
		statusEnd := strings.Index(body, "\n\n")
		if statusEnd < 0 {
			continue
		}
		status := strings.TrimSpace(body[:statusEnd])
		if status == "" {
			continue
		}
		out = append(out, textBlock{
			header:  text[loc[2]:loc[3]],
			status:  status,
			details: strings.TrimSpace(body[statusEnd+2:]),
		})
	}
	return out
}

func location(details string) *models.Location {
	m := cityRe.FindStringSubmatch(details)
	if m == nil {
		m = unitRe.FindStringSubmatch(details)
	}
	if m == nil {
		return nil
	}
	city := carrier.OptString(m[1])
	if city == nil {
		return nil
	}
	return &models.Location{City: city}
}
