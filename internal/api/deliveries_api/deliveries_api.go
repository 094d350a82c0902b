// Package deliveries_api is the public JSON API over chi.
package deliveries_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/BearBump/FreightTrack/internal/services/notify"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type DeliveriesService interface {
	Watch(ctx context.Context, items []models.WatchInput) ([]*models.Delivery, error)
	GetDeliveriesByIDs(ctx context.Context, ids []uint64) ([]*models.Delivery, error)
	ListMovements(ctx context.Context, deliveryID uint64, limit, offset int) ([]models.Movement, error)
	Refresh(ctx context.Context, deliveryID uint64) error
	ListDigests(ctx context.Context, limit int) ([]*models.NotificationDigest, error)
}

type ScrapeService interface {
	Submit(ctx context.Context, q models.SearchQuery) (*models.ScrapeTask, error)
	Status(ctx context.Context, taskID string) (*models.ScrapeTask, error)
}

type Notifier interface {
	Run(ctx context.Context) (notify.Result, error)
}

type DeliveriesAPI struct {
	deliveries DeliveriesService
	scrape     ScrapeService
	notifier   Notifier
}

func New(deliveries DeliveriesService, scrape ScrapeService, notifier Notifier) *DeliveriesAPI {
	return &DeliveriesAPI{deliveries: deliveries, scrape: scrape, notifier: notifier}
}

// Routes mounts the /v1 endpoints on r.
func (a *DeliveriesAPI) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/scrape", a.submitScrape)
		r.Get("/scrape/status/{taskID}", a.scrapeStatus)

		r.Post("/deliveries/watch", a.watch)
		r.Get("/deliveries", a.getDeliveries)
		r.Get("/deliveries/{id}/movements", a.listMovements)
		r.Post("/deliveries/{id}/refresh", a.refresh)

		r.Post("/notifications/send", a.sendNotifications)
		r.Get("/notifications/digests", a.listDigests)
	})
}

type scrapeRequest struct {
	Carrier       string              `json:"carrier"`
	InvoiceNumber string              `json:"invoiceNumber"`
	TaxID         string              `json:"taxId"`
	Credentials   *models.Credentials `json:"credentials,omitempty"`
}

type scrapeAccepted struct {
	TaskID string                  `json:"taskId"`
	Status models.ScrapeTaskStatus `json:"status"`
}

func (a *DeliveriesAPI) submitScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(models.ErrInvalidInput, "malformed json"))
		return
	}
	task, err := a.scrape.Submit(r.Context(), models.SearchQuery{
		Carrier:       models.Carrier(req.Carrier),
		InvoiceNumber: req.InvoiceNumber,
		TaxID:         req.TaxID,
		Credentials:   req.Credentials,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, scrapeAccepted{TaskID: task.ID, Status: task.Status})
}

func (a *DeliveriesAPI) scrapeStatus(w http.ResponseWriter, r *http.Request) {
	task, err := a.scrape.Status(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type watchRequest struct {
	Items []models.WatchInput `json:"items"`
}

type deliveriesResponse struct {
	Deliveries []*models.Delivery `json:"deliveries"`
}

func (a *DeliveriesAPI) watch(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(models.ErrInvalidInput, "malformed json"))
		return
	}
	ds, err := a.deliveries.Watch(r.Context(), req.Items)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deliveriesResponse{Deliveries: ds})
}

// getDeliveries: ?ids=1,2,3 (повторяющийся ids=1&ids=2 тоже допустим).
func (a *DeliveriesAPI) getDeliveries(w http.ResponseWriter, r *http.Request) {
	var ids []uint64
	for _, v := range r.URL.Query()["ids"] {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseUint(part, 10, 64)
			if err != nil {
				writeError(w, errors.Wrapf(models.ErrInvalidInput, "bad id %q", part))
				return
			}
			ids = append(ids, id)
		}
	}
	ds, err := a.deliveries.GetDeliveriesByIDs(r.Context(), ids)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deliveriesResponse{Deliveries: ds})
}

type movementsResponse struct {
	Movements []models.Movement `json:"movements"`
}

func (a *DeliveriesAPI) listMovements(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	movs, err := a.deliveries.ListMovements(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, movementsResponse{Movements: movs})
}

func (a *DeliveriesAPI) refresh(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.deliveries.Refresh(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"refreshed": true})
}

func (a *DeliveriesAPI) sendNotifications(w http.ResponseWriter, r *http.Request) {
	if a.notifier == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "notifications are not configured"})
		return
	}
	res, err := a.notifier.Run(r.Context())
	if err != nil {
		slog.Error("send notifications", "error", err.Error())
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type digestsResponse struct {
	Digests []*models.NotificationDigest `json:"digests"`
}

func (a *DeliveriesAPI) listDigests(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ds, err := a.deliveries.ListDigests(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, digestsResponse{Digests: ds})
}

func pathID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.Wrapf(models.ErrInvalidInput, "bad delivery id %q", raw)
	}
	return id, nil
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrUnknownCarrier):
		code = http.StatusBadRequest
	case errors.Is(err, models.ErrDeliveryNotFound), errors.Is(err, models.ErrTaskNotFound):
		code = http.StatusNotFound
	default:
		slog.Error("api request failed", "error", err.Error())
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
