package scrape

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/FreightTrack/internal/broker/messages"
	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/BearBump/FreightTrack/internal/services/reconcile"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type TaskRepository interface {
	CreateScrapeTask(ctx context.Context, task models.ScrapeTask) error
	UpdateScrapeTask(ctx context.Context, id string, status models.ScrapeTaskStatus, deliveryID *uint64, errMsg *string) error
	GetScrapeTask(ctx context.Context, id string) (*models.ScrapeTask, error)
}

type Scraper interface {
	Scrape(ctx context.Context, q models.SearchQuery) (*models.StandardizedDeliveryData, error)
}

type Reconciler interface {
	Apply(ctx context.Context, data *models.StandardizedDeliveryData) (reconcile.Result, error)
}

// Dispatcher hands a submitted task to whoever executes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg messages.ScrapeRequested) error
}

// Publisher announces reconciled deliveries; optional.
type Publisher interface {
	PublishDeliveryUpdated(ctx context.Context, msg messages.DeliveryUpdated) error
}

type Deps struct {
	Tasks      TaskRepository
	Scraper    Scraper
	Reconciler Reconciler
	Dispatcher Dispatcher
	Publisher  Publisher
}

type Service struct {
	tasks      TaskRepository
	scraper    Scraper
	reconciler Reconciler
	dispatcher Dispatcher
	publisher  Publisher
	now        func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		tasks:      d.Tasks,
		scraper:    d.Scraper,
		reconciler: d.Reconciler,
		dispatcher: d.Dispatcher,
		publisher:  d.Publisher,
		now:        time.Now,
	}
}

// SetDispatcher is used when the dispatcher itself needs the service, as the
// inline one does.
func (s *Service) SetDispatcher(d Dispatcher) { s.dispatcher = d }

func ValidateQuery(q models.SearchQuery) (models.SearchQuery, error) {
	c, err := models.ParseCarrier(string(q.Carrier))
	if err != nil {
		return q, err
	}
	q.Carrier = c
	q.InvoiceNumber = strings.TrimSpace(q.InvoiceNumber)
	q.TaxID = strings.TrimSpace(q.TaxID)
	if q.InvoiceNumber == "" {
		return q, errors.Wrap(models.ErrInvalidInput, "invoiceNumber is required")
	}
	if q.Credentials != nil && q.Credentials.Username == "" && q.Credentials.Password == "" {
		q.Credentials = nil
	}
	return q, nil
}

// Submit records a PENDING task and dispatches it. The scrape itself runs
// elsewhere; callers poll Status.
func (s *Service) Submit(ctx context.Context, q models.SearchQuery) (*models.ScrapeTask, error) {
	q, err := ValidateQuery(q)
	if err != nil {
		return nil, err
	}
	if s.dispatcher == nil {
		return nil, errors.New("scrape dispatcher is not configured")
	}

	now := s.now().UTC()
	task := models.ScrapeTask{
		ID:            uuid.NewString(),
		Carrier:       q.Carrier,
		InvoiceNumber: q.InvoiceNumber,
		Status:        models.ScrapeTaskPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.tasks.CreateScrapeTask(ctx, task); err != nil {
		return nil, errors.Wrap(err, "create scrape task")
	}

	err = s.dispatcher.Dispatch(ctx, messages.ScrapeRequested{
		TaskID:        task.ID,
		Carrier:       q.Carrier,
		InvoiceNumber: q.InvoiceNumber,
		TaxID:         q.TaxID,
		Credentials:   q.Credentials,
		RequestedAt:   now,
	})
	if err != nil {
		msg := "dispatch: " + err.Error()
		if uerr := s.tasks.UpdateScrapeTask(ctx, task.ID, models.ScrapeTaskFailed, nil, &msg); uerr != nil {
			slog.Error("mark task failed", "task_id", task.ID, "error", uerr.Error())
		}
		return nil, errors.Wrap(err, "dispatch scrape task")
	}

	slog.Info("scrape task submitted", "task_id", task.ID, "carrier", q.Carrier, "invoice", q.InvoiceNumber)
	return &task, nil
}

func (s *Service) Status(ctx context.Context, taskID string) (*models.ScrapeTask, error) {
	if taskID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "taskId is required")
	}
	return s.tasks.GetScrapeTask(ctx, taskID)
}

// Execute runs a dispatched task: RUNNING, then SUCCESS with the delivery id
// or FAILED with a readable message. The returned error is the scrape or
// reconcile failure; it is already recorded on the task.
func (s *Service) Execute(ctx context.Context, msg messages.ScrapeRequested) error {
	log := slog.With("task_id", msg.TaskID, "carrier", msg.Carrier, "invoice", msg.InvoiceNumber)

	if err := s.tasks.UpdateScrapeTask(ctx, msg.TaskID, models.ScrapeTaskRunning, nil, nil); err != nil {
		return errors.Wrap(err, "mark task running")
	}

	res, err := s.Track(ctx, msg.Query())
	// статус задачи пишем даже если ctx уже отменён
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err != nil {
		text := err.Error()
		if uerr := s.tasks.UpdateScrapeTask(writeCtx, msg.TaskID, models.ScrapeTaskFailed, nil, &text); uerr != nil {
			log.Error("mark task failed", "error", uerr.Error())
		}
		log.Warn("scrape task failed", "error", text)
		return err
	}

	id := res.DeliveryID
	if err := s.tasks.UpdateScrapeTask(writeCtx, msg.TaskID, models.ScrapeTaskSuccess, &id, nil); err != nil {
		return errors.Wrap(err, "mark task succeeded")
	}
	log.Info("scrape task done", "delivery_id", id, "created", res.Created, "changed", res.MovementsChanged)
	return nil
}

// Track scrapes q and reconciles the result. Nothing is written when the
// scrape or normalization fails.
func (s *Service) Track(ctx context.Context, q models.SearchQuery) (reconcile.Result, error) {
	data, err := s.scraper.Scrape(ctx, q)
	if err != nil {
		return reconcile.Result{}, err
	}
	res, err := s.reconciler.Apply(ctx, data)
	if err != nil {
		return reconcile.Result{}, errors.Wrap(err, "reconcile")
	}

	if s.publisher != nil {
		err := s.publisher.PublishDeliveryUpdated(ctx, messages.DeliveryUpdated{
			DeliveryID:       res.DeliveryID,
			Carrier:          q.Carrier,
			InvoiceNumber:    q.InvoiceNumber,
			Status:           res.Status,
			Created:          res.Created,
			MovementsChanged: res.MovementsChanged,
			CheckedAt:        s.now().UTC(),
		})
		if err != nil {
			// база уже обновлена; кэш API догонит по TTL
			slog.Warn("publish delivery updated", "delivery_id", res.DeliveryID, "error", err.Error())
		}
	}
	return res, nil
}
