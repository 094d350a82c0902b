package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/jedib0t/go-pretty/v6/table"
)

const (
	LabelDelivered  = "Entregue"
	LabelLate       = "Em atraso"
	LabelInProgress = "Em andamento"

	digestSubject = "Atualização de Entregas"
)

// Label classifies a delivery for the digest relative to today.
func Label(d models.Delivery, today time.Time) string {
	if d.Status == models.StatusDelivered {
		return LabelDelivered
	}
	if d.EstimatedDelivery != nil && d.EstimatedDelivery.Before(today) {
		return LabelLate
	}
	return LabelInProgress
}

type Row struct {
	DeliveryID        uint64
	InvoiceNumber     string
	TrackingCode      string
	Status            string
	Label             string
	EstimatedDelivery *time.Time
	Recipient         string
}

type Group struct {
	Carrier models.Carrier
	Rows    []Row
}

// Digest is one rendered notification covering every pending delivery.
type Digest struct {
	Subject     string
	GeneratedAt time.Time
	Groups      []Group
	Text        string
	HTML        string
}

func (d Digest) Lines() int {
	n := 0
	for _, g := range d.Groups {
		n += len(g.Rows)
	}
	return n
}

// Build groups the deliveries by carrier (carriers and invoices sorted) and
// renders both text and HTML bodies. One row per delivery.
func Build(deliveries []models.Delivery, now time.Time) Digest {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	byCarrier := map[models.Carrier][]Row{}
	for _, d := range deliveries {
		var recipient string
		if d.Recipient != nil {
			recipient = d.Recipient.Name
		}
		byCarrier[d.Carrier] = append(byCarrier[d.Carrier], Row{
			DeliveryID:        d.ID,
			InvoiceNumber:     d.InvoiceNumber,
			TrackingCode:      d.TrackingCode,
			Status:            d.Status,
			Label:             Label(d, today),
			EstimatedDelivery: d.EstimatedDelivery,
			Recipient:         recipient,
		})
	}

	digest := Digest{Subject: digestSubject, GeneratedAt: now}
	for c, rows := range byCarrier {
		sort.Slice(rows, func(i, j int) bool { return rows[i].InvoiceNumber < rows[j].InvoiceNumber })
		digest.Groups = append(digest.Groups, Group{Carrier: c, Rows: rows})
	}
	sort.Slice(digest.Groups, func(i, j int) bool { return digest.Groups[i].Carrier < digest.Groups[j].Carrier })

	digest.Text = render(digest, false)
	digest.HTML = render(digest, true)
	return digest
}

func groupTable(g Group) table.Writer {
	t := table.NewWriter()
	t.SetTitle(g.Carrier.DisplayName())
	t.AppendHeader(table.Row{"NF", "Código", "Status", "Situação", "Previsão", "Destinatário"})
	for _, r := range g.Rows {
		estimated := "-"
		if r.EstimatedDelivery != nil {
			estimated = r.EstimatedDelivery.Format("02/01/2006")
		}
		t.AppendRow(table.Row{r.InvoiceNumber, r.TrackingCode, r.Status, r.Label, estimated, r.Recipient})
	}
	t.SetStyle(table.StyleRounded)
	return t
}

func render(d Digest, html bool) string {
	var b strings.Builder
	stamp := d.GeneratedAt.Format("02/01/2006 15:04")
	if html {
		fmt.Fprintf(&b, "<h2>%s</h2>\n<p>%s</p>\n", d.Subject, stamp)
	} else {
		fmt.Fprintf(&b, "%s (%s)\n\n", d.Subject, stamp)
	}
	for _, g := range d.Groups {
		t := groupTable(g)
		if html {
			b.WriteString(t.RenderHTML())
		} else {
			b.WriteString(t.Render())
		}
		b.WriteString("\n")
	}
	return b.String()
}
