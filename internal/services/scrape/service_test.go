package scrape

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/FreightTrack/internal/broker/messages"
	"github.com/BearBump/FreightTrack/internal/integrations/carrier"
	"github.com/BearBump/FreightTrack/internal/integrations/carrier/carriertest"
	"github.com/BearBump/FreightTrack/internal/integrations/carrier/jamef"
	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/BearBump/FreightTrack/internal/services/reconcile"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type mockTasks struct{ mock.Mock }

func (m *mockTasks) CreateScrapeTask(ctx context.Context, task models.ScrapeTask) error {
	return m.Called(ctx, task).Error(0)
}

func (m *mockTasks) UpdateScrapeTask(ctx context.Context, id string, status models.ScrapeTaskStatus, deliveryID *uint64, errMsg *string) error {
	return m.Called(ctx, id, status, deliveryID, errMsg).Error(0)
}

func (m *mockTasks) GetScrapeTask(ctx context.Context, id string) (*models.ScrapeTask, error) {
	args := m.Called(ctx, id)
	t, _ := args.Get(0).(*models.ScrapeTask)
	return t, args.Error(1)
}

type mockScraper struct{ mock.Mock }

func (m *mockScraper) Scrape(ctx context.Context, q models.SearchQuery) (*models.StandardizedDeliveryData, error) {
	args := m.Called(ctx, q)
	d, _ := args.Get(0).(*models.StandardizedDeliveryData)
	return d, args.Error(1)
}

type mockReconciler struct{ mock.Mock }

func (m *mockReconciler) Apply(ctx context.Context, data *models.StandardizedDeliveryData) (reconcile.Result, error) {
	args := m.Called(ctx, data)
	return args.Get(0).(reconcile.Result), args.Error(1)
}

type mockDispatcher struct{ mock.Mock }

func (m *mockDispatcher) Dispatch(ctx context.Context, msg messages.ScrapeRequested) error {
	return m.Called(ctx, msg).Error(0)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishDeliveryUpdated(ctx context.Context, msg messages.DeliveryUpdated) error {
	return m.Called(ctx, msg).Error(0)
}

type ServiceSuite struct {
	suite.Suite

	tasks      *mockTasks
	scraper    *mockScraper
	reconciler *mockReconciler
	dispatcher *mockDispatcher
	publisher  *mockPublisher
	svc        *Service
}

func (s *ServiceSuite) SetupTest() {
	s.tasks = &mockTasks{}
	s.scraper = &mockScraper{}
	s.reconciler = &mockReconciler{}
	s.dispatcher = &mockDispatcher{}
	s.publisher = &mockPublisher{}
	s.svc = NewService(Deps{
		Tasks: s.tasks, Scraper: s.scraper, Reconciler: s.reconciler,
		Dispatcher: s.dispatcher, Publisher: s.publisher,
	})
}

func (s *ServiceSuite) TestSubmit_CreatesPendingAndDispatches() {
	s.tasks.On("CreateScrapeTask", mock.Anything, mock.MatchedBy(func(t models.ScrapeTask) bool {
		return t.ID != "" && t.Status == models.ScrapeTaskPending && t.Carrier == models.CarrierJamef
	})).Return(nil).Once()
	s.dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(m messages.ScrapeRequested) bool {
		return m.InvoiceNumber == "1160274" && m.TaxID == "48.775.191/0001-90" && m.Credentials == nil
	})).Return(nil).Once()

	task, err := s.svc.Submit(context.Background(), models.SearchQuery{
		Carrier: "JAMEF", InvoiceNumber: " 1160274 ", TaxID: "48.775.191/0001-90",
		Credentials: &models.Credentials{},
	})
	s.Require().NoError(err)
	s.Require().Equal(models.ScrapeTaskPending, task.Status)
	s.tasks.AssertExpectations(s.T())
	s.dispatcher.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestSubmit_Validation() {
	_, err := s.svc.Submit(context.Background(), models.SearchQuery{Carrier: "correios", InvoiceNumber: "1"})
	s.Require().ErrorIs(err, ErrUnknownCarrier)

	_, err = s.svc.Submit(context.Background(), models.SearchQuery{Carrier: models.CarrierAccert})
	s.Require().Error(err)
	s.tasks.AssertNotCalled(s.T(), "CreateScrapeTask", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestSubmit_DispatchFailureMarksTaskFailed() {
	s.tasks.On("CreateScrapeTask", mock.Anything, mock.Anything).Return(nil).Once()
	s.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	s.tasks.On("UpdateScrapeTask", mock.Anything, mock.Anything, models.ScrapeTaskFailed, (*uint64)(nil), mock.Anything).Return(nil).Once()

	_, err := s.svc.Submit(context.Background(), models.SearchQuery{Carrier: models.CarrierAccert, InvoiceNumber: "1"})
	s.Require().Error(err)
	s.tasks.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestExecute_Success() {
	msg := messages.ScrapeRequested{TaskID: "t1", Carrier: models.CarrierAccert, InvoiceNumber: "1", TaxID: "2"}
	data := &models.StandardizedDeliveryData{GeneralInfo: models.GeneralInfo{Carrier: models.CarrierAccert, InvoiceNumber: "1"}}

	s.tasks.On("UpdateScrapeTask", mock.Anything, "t1", models.ScrapeTaskRunning, (*uint64)(nil), (*string)(nil)).Return(nil).Once()
	s.scraper.On("Scrape", mock.Anything, msg.Query()).Return(data, nil).Once()
	s.reconciler.On("Apply", mock.Anything, data).Return(reconcile.Result{DeliveryID: 42, Created: true, Status: "EM ROTA"}, nil).Once()
	s.publisher.On("PublishDeliveryUpdated", mock.Anything, mock.MatchedBy(func(m messages.DeliveryUpdated) bool {
		return m.DeliveryID == 42 && m.Created && m.Status == "EM ROTA"
	})).Return(nil).Once()
	s.tasks.On("UpdateScrapeTask", mock.Anything, "t1", models.ScrapeTaskSuccess, mock.MatchedBy(func(id *uint64) bool {
		return id != nil && *id == 42
	}), (*string)(nil)).Return(nil).Once()

	s.Require().NoError(s.svc.Execute(context.Background(), msg))
	s.tasks.AssertExpectations(s.T())
	s.publisher.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestExecute_ScrapeFailureRecordsMessage() {
	msg := messages.ScrapeRequested{TaskID: "t2", Carrier: models.CarrierBraspress, InvoiceNumber: "9"}
	info := &models.ErrorInfo{Kind: models.ErrorKindNotFound, Message: "shipment not found"}

	s.tasks.On("UpdateScrapeTask", mock.Anything, "t2", models.ScrapeTaskRunning, (*uint64)(nil), (*string)(nil)).Return(nil).Once()
	s.scraper.On("Scrape", mock.Anything, mock.Anything).Return(nil, info).Once()
	s.tasks.On("UpdateScrapeTask", mock.Anything, "t2", models.ScrapeTaskFailed, (*uint64)(nil), mock.MatchedBy(func(m *string) bool {
		return m != nil && *m == "not_found: shipment not found"
	})).Return(nil).Once()

	err := s.svc.Execute(context.Background(), msg)
	s.Require().ErrorIs(err, info)
	s.reconciler.AssertNotCalled(s.T(), "Apply", mock.Anything, mock.Anything)
	s.tasks.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestTrack_PublishFailureIsNotFatal() {
	data := &models.StandardizedDeliveryData{}
	s.scraper.On("Scrape", mock.Anything, mock.Anything).Return(data, nil).Once()
	s.reconciler.On("Apply", mock.Anything, data).Return(reconcile.Result{DeliveryID: 1}, nil).Once()
	s.publisher.On("PublishDeliveryUpdated", mock.Anything, mock.Anything).Return(errors.New("kafka down")).Once()

	res, err := s.svc.Track(context.Background(), query)
	s.Require().NoError(err)
	s.Require().Equal(uint64(1), res.DeliveryID)
}

func (s *ServiceSuite) TestStatus() {
	s.tasks.On("GetScrapeTask", mock.Anything, "missing").Return(nil, ErrTaskNotFound).Once()
	_, err := s.svc.Status(context.Background(), "missing")
	s.Require().ErrorIs(err, ErrTaskNotFound)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

// memRepo is just enough storage for reconciliation.
type memRepo struct {
	mu      sync.Mutex
	byKey   map[string]*models.Delivery
	pending map[uint64]bool
}

func (r *memRepo) GetDeliveryByKey(ctx context.Context, c models.Carrier, invoice string) (*models.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byKey[string(c)+"/"+invoice]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *memRepo) CreateDelivery(ctx context.Context, d models.Delivery, history []models.TrackingEvent, notify bool) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = uint64(len(r.byKey) + 1)
	for i, e := range history {
		d.Movements = append(d.Movements, models.Movement{DeliveryID: d.ID, Position: i, TrackingEvent: e})
	}
	r.byKey[string(d.Carrier)+"/"+d.InvoiceNumber] = &d
	r.pending[d.ID] = notify
	return d.ID, nil
}

func (r *memRepo) ReplaceMovements(ctx context.Context, d models.Delivery, history []models.TrackingEvent) error {
	return errors.New("unexpected replace")
}

const jamefHistory = "Histórico da carga\n\n" +
	"Data: 01/09/2025 10:15\n\nStatus: EM TRANSFERENCIA\n\nEstado origem: SP\n\nMunicípio origem: BARUERI\n\nEstado destino: MG\n\nMunicípio destino: BELO HORIZONTE\n\n" +
	"Data: 02/09/2025 08:05\n\nStatus: EM ROTA DE ENTREGA\n\nEstado origem: SP\n\nMunicípio origem: BARUERI\n\nEstado destino: MG\n\nMunicípio destino: CONTAGEM"

func jamefPortal() *carriertest.Page {
	invoiceInput := `input[placeholder="insira o n° da nota fiscal"]`
	taxIDInput := `input[placeholder="insira o CPF / CNPJ"]`
	search := carrier.TextXPath("button", "PESQUISAR")
	history := carrier.TextXPath("button", "Histórico")

	page := carriertest.NewPage()
	page.Show(invoiceInput, search)
	page.OnClick = func(p *carriertest.Page, sel string) {
		if sel != search {
			return
		}
		if _, ok := p.Filled[taxIDInput]; ok {
			p.Show(history)
			return
		}
		p.Show(taxIDInput)
	}
	page.Texts[".content"] = jamefHistory
	return page
}

func TestTrack_JamefEndToEnd(t *testing.T) {
	sess := &carriertest.Session{P: jamefPortal()}
	scrapers := Scrapers{Jamef: jamef.New(jamef.Config{})}
	orch := NewOrchestrator(scrapers, carriertest.Factory(sess), nil, fastRetry, time.Minute)
	repo := &memRepo{byKey: map[string]*models.Delivery{}, pending: map[uint64]bool{}}
	svc := NewService(Deps{Scraper: orch, Reconciler: reconcile.New(repo, nil)})

	res, err := svc.Track(context.Background(), models.SearchQuery{
		Carrier: models.CarrierJamef, TaxID: "48.775.191/0001-90", InvoiceNumber: "1160274",
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Equal(t, "EM ROTA DE ENTREGA", res.Status)
	require.Equal(t, 1, sess.Released())

	d, err := repo.GetDeliveryByKey(context.Background(), models.CarrierJamef, "1160274")
	require.NoError(t, err)
	require.Equal(t, res.DeliveryID, d.ID)
	require.Equal(t, "48.775.191/0001-90", d.TaxID)
	require.Len(t, d.Movements, 2)
	require.True(t, repo.pending[d.ID])
}

type execRecorder struct {
	done chan messages.ScrapeRequested
}

func (e *execRecorder) Execute(ctx context.Context, msg messages.ScrapeRequested) error {
	e.done <- msg
	return nil
}

func TestInlineDispatcher_RunsInBackground(t *testing.T) {
	rec := &execRecorder{done: make(chan messages.ScrapeRequested, 1)}
	d := NewInlineDispatcher(rec, 1)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Dispatch(ctx, messages.ScrapeRequested{TaskID: "t9"}))
	// отмена контекста запроса не должна прерывать задачу
	cancel()

	select {
	case msg := <-rec.done:
		require.Equal(t, "t9", msg.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not executed")
	}
}

type jsonPublisher struct {
	topic, key string
	v          any
}

func (p *jsonPublisher) PublishJSON(ctx context.Context, topic, key string, v any) error {
	p.topic, p.key, p.v = topic, key, v
	return nil
}

func TestKafkaDispatcher_KeysByCarrierAndInvoice(t *testing.T) {
	p := &jsonPublisher{}
	msg := messages.ScrapeRequested{TaskID: "t", Carrier: models.CarrierViaVerde, InvoiceNumber: "77"}
	require.NoError(t, NewKafkaDispatcher(p, "scrape.requested").Dispatch(context.Background(), msg))
	require.Equal(t, "scrape.requested", p.topic)
	require.Equal(t, "viaverde:77", p.key)
	require.Equal(t, msg, p.v)

	upd := messages.DeliveryUpdated{DeliveryID: 3, Carrier: models.CarrierAccert, InvoiceNumber: "5"}
	require.NoError(t, NewKafkaPublisher(p, "delivery.updated").PublishDeliveryUpdated(context.Background(), upd))
	require.Equal(t, "accert:5", p.key)
}
