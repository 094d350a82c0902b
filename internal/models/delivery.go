package models

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrDeliveryNotFound = errors.New("delivery not found")
	// ErrInvalidInput помечает ошибки валидации запроса.
	ErrInvalidInput = errors.New("invalid input")
)

// Статусы доставки, которые выставляет сверка.
const (
	StatusDelivered = "delivered"
	StatusUnknown   = "unknown"
)

// Location: город и штат события; любой из них может отсутствовать.
type Location struct {
	City  *string `json:"city"`
	State *string `json:"state"`
}

// TrackingEvent: одно событие истории. Timestamp хранится как "настенное"
// время перевозчика с зоной UTC, без пересчёта часовых поясов.
type TrackingEvent struct {
	Timestamp *time.Time `json:"timestamp"`
	Status    string     `json:"status"`
	Location  *Location  `json:"location"`
	Details   string     `json:"details"`
}

// Key is the full-tuple identity used for deduplication and set comparison.
func (e TrackingEvent) Key() string {
	var b strings.Builder
	b.WriteString(e.Status)
	b.WriteByte(0)
	if e.Timestamp != nil {
		b.WriteString(e.Timestamp.UTC().Format("2006-01-02T15:04:05"))
	}
	b.WriteByte(0)
	if e.Location != nil {
		if e.Location.City != nil {
			b.WriteString(*e.Location.City)
		}
		b.WriteByte(0)
		if e.Location.State != nil {
			b.WriteString(*e.Location.State)
		}
	}
	b.WriteByte(0)
	b.WriteString(e.Details)
	return b.String()
}

type Party struct {
	Name  string `json:"name"`
	TaxID string `json:"taxId,omitempty"`
}

type GeneralInfo struct {
	Carrier           Carrier    `json:"carrier"`
	TrackingCode      string     `json:"trackingCode"`
	InvoiceNumber     string     `json:"invoiceNumber"`
	TaxID             string     `json:"taxId,omitempty"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery"`
	PostingDate       *time.Time `json:"postingDate"`
	Sender            *Party     `json:"sender,omitempty"`
	Recipient         *Party     `json:"recipient,omitempty"`
}

// StandardizedDeliveryData: канонический формат, который выдают все нормализаторы.
type StandardizedDeliveryData struct {
	GeneralInfo GeneralInfo     `json:"generalInfo"`
	History     []TrackingEvent `json:"history"`
	Error       *ErrorInfo      `json:"error"`
}

type Delivery struct {
	ID                uint64     `json:"id"`
	Carrier           Carrier    `json:"carrier"`
	InvoiceNumber     string     `json:"invoiceNumber"`
	TaxID             string     `json:"taxId"`
	TrackingCode      string     `json:"trackingCode"`
	Status            string     `json:"status"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
	PostingDate       *time.Time `json:"postingDate,omitempty"`
	Sender            *Party     `json:"sender,omitempty"`
	Recipient         *Party     `json:"recipient,omitempty"`
	LastCheckedAt     *time.Time `json:"lastCheckedAt,omitempty"`
	NextCheckAt       time.Time  `json:"nextCheckAt"`
	CheckFailCount    int32      `json:"checkFailCount"`
	LastError         *string    `json:"lastError,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`

	// Movements заполняется только там, где нужна сверка.
	Movements []Movement `json:"-"`
}

type Movement struct {
	ID         uint64    `json:"id"`
	DeliveryID uint64    `json:"deliveryId"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"createdAt"`
	TrackingEvent
}

// WatchInput registers a delivery for periodic polling.
type WatchInput struct {
	Carrier       Carrier `json:"carrier"`
	InvoiceNumber string  `json:"invoiceNumber"`
	TaxID         string  `json:"taxId"`
}

type PendingNotification struct {
	ID         uint64    `json:"id"`
	DeliveryID uint64    `json:"deliveryId"`
	CreatedAt  time.Time `json:"createdAt"`
	Delivery   Delivery  `json:"delivery"`

	// Version растёт при каждой новой мутации, свёрнутой в ту же запись.
	Version int32 `json:"version"`
}

// NotificationDigest is the persisted record of one sent digest.
type NotificationDigest struct {
	ID       uint64    `json:"id"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	Lines    int       `json:"lines"`
	Channels []string  `json:"channels"`
	SentAt   time.Time `json:"sentAt"`
}
