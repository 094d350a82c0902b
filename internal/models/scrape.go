package models

import (
	"time"

	"github.com/pkg/errors"
)

var ErrTaskNotFound = errors.New("scrape task not found")

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SearchQuery собирается один раз на запрос и дальше не меняется.
type SearchQuery struct {
	Carrier       Carrier      `json:"carrier"`
	TaxID         string       `json:"taxId"`
	InvoiceNumber string       `json:"invoiceNumber"`
	Credentials   *Credentials `json:"credentials,omitempty"`
}

type ErrorKind string

const (
	ErrorKindTimeout              ErrorKind = "timeout"
	ErrorKindException            ErrorKind = "exception"
	ErrorKindNotFound             ErrorKind = "not_found"
	ErrorKindNormalizationFailure ErrorKind = "normalization_failure"
)

type ErrorInfo struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *ErrorInfo) Error() string {
	return string(e.Kind) + ": " + e.Message
}

type ScrapeTaskStatus string

const (
	ScrapeTaskPending ScrapeTaskStatus = "PENDING"
	ScrapeTaskRunning ScrapeTaskStatus = "RUNNING"
	ScrapeTaskSuccess ScrapeTaskStatus = "SUCCESS"
	ScrapeTaskFailed  ScrapeTaskStatus = "FAILED"
)

// ScrapeTask: запись, которую клиент опрашивает после постановки скрейпа.
type ScrapeTask struct {
	ID            string           `json:"taskId"`
	Carrier       Carrier          `json:"carrier"`
	InvoiceNumber string           `json:"invoiceNumber"`
	Status        ScrapeTaskStatus `json:"status"`
	DeliveryID    *uint64          `json:"deliveryId,omitempty"`
	ErrorMessage  *string          `json:"errorMessage,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}
