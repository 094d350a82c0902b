package pgdelivery

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "freighttrack_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/freighttrack_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func str(s string) *string { return &s }

func at(s string) *time.Time {
	t, _ := time.Parse("2006-01-02 15:04", s)
	return &t
}

func TestPGDelivery_ReconcileFlow(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	history := []models.TrackingEvent{
		{Timestamp: at("2025-09-01 10:15"), Status: "EM TRANSFERENCIA", Location: &models.Location{City: str("BELO HORIZONTE"), State: str("MG")}, Details: "Origem: BARUERI"},
		{Timestamp: nil, Status: "AGUARDANDO"},
	}
	d := models.Delivery{
		Carrier: models.CarrierJamef, InvoiceNumber: "1160274", TaxID: "48.775.191/0001-90",
		TrackingCode: "1160274", Status: "AGUARDANDO",
		EstimatedDelivery: at("2025-09-05 00:00"),
		Sender:            &models.Party{Name: "ACME"},
	}
	id, err := st.CreateDelivery(ctx, d, history, true)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := st.GetDeliveryByKey(ctx, models.CarrierJamef, "1160274")
	require.NoError(t, err)
	require.Equal(t, id, got.ID)
	require.Equal(t, "ACME", got.Sender.Name)
	require.Nil(t, got.Recipient)
	require.Equal(t, *at("2025-09-05 00:00"), *got.EstimatedDelivery)
	require.Len(t, got.Movements, 2)
	// ключи событий после чтения из базы совпадают с исходными
	require.Equal(t, history[0].Key(), got.Movements[0].Key())
	require.Equal(t, history[1].Key(), got.Movements[1].Key())

	missing, err := st.GetDeliveryByKey(ctx, models.CarrierJamef, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)

	// повторная постановка в очередь не плодит записи
	d.ID = id
	history = append(history, models.TrackingEvent{Timestamp: at("2025-09-03 16:40"), Status: "ENTREGA REALIZADA"})
	d.Status = models.StatusDelivered
	require.NoError(t, st.ReplaceMovements(ctx, d, history))

	pending, err := st.ListPendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, id, pending[0].Delivery.ID)
	require.Equal(t, models.StatusDelivered, pending[0].Delivery.Status)

	movs, err := st.ListMovements(ctx, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, movs, 3)
	require.Equal(t, "ENTREGA REALIZADA", movs[2].Status)

	digestID, err := st.MarkNotified(ctx, pending, models.NotificationDigest{
		Subject: "s", Body: "b", Lines: 1, Channels: []string{"email"},
	})
	require.NoError(t, err)
	require.NotZero(t, digestID)

	pending, err = st.ListPendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	digests, err := st.ListDigests(ctx, 5)
	require.NoError(t, err)
	require.Len(t, digests, 1)
	require.Equal(t, []string{"email"}, digests[0].Channels)

	// после отправки новая мутация снова ставит доставку в очередь
	require.NoError(t, st.ReplaceMovements(ctx, d, history[:1]))
	pending, err = st.ListPendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.ErrorIs(t, st.ReplaceMovements(ctx, models.Delivery{ID: 9999}, history), models.ErrDeliveryNotFound)
}

func TestPGDelivery_MutationWhileSendingStaysPending(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	history := []models.TrackingEvent{{Timestamp: at("2025-09-01 10:15"), Status: "EM TRANSFERENCIA"}}
	d := models.Delivery{Carrier: models.CarrierAccert, InvoiceNumber: "77", Status: "EM TRANSFERENCIA"}
	id, err := st.CreateDelivery(ctx, d, history, true)
	require.NoError(t, err)

	listed, err := st.ListPendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, int32(1), listed[0].Version)

	// пока дайджест по снимку уходит, доставка меняется ещё раз
	d.ID = id
	d.Status = "EM ROTA"
	history = append(history, models.TrackingEvent{Timestamp: at("2025-09-02 08:00"), Status: "EM ROTA"})
	require.NoError(t, st.ReplaceMovements(ctx, d, history))

	_, err = st.MarkNotified(ctx, listed, models.NotificationDigest{Subject: "s", Body: "b", Lines: 1})
	require.NoError(t, err)

	pending, err := st.ListPendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, listed[0].ID, pending[0].ID)
	require.Equal(t, int32(2), pending[0].Version)
	require.Equal(t, "EM ROTA", pending[0].Delivery.Status)

	_, err = st.MarkNotified(ctx, pending, models.NotificationDigest{Subject: "s", Body: "b", Lines: 1})
	require.NoError(t, err)
	pending, err = st.ListPendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestPGDelivery_LongHistoryIsLoadedWhole(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	history := make([]models.TrackingEvent, 0, maxMovementsPage+1)
	for i := 0; i <= maxMovementsPage; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		history = append(history, models.TrackingEvent{Timestamp: &ts, Status: "EM TRANSFERENCIA"})
	}
	id, err := st.CreateDelivery(ctx, models.Delivery{
		Carrier: models.CarrierBraspress, InvoiceNumber: "501", Status: "EM TRANSFERENCIA",
	}, history, false)
	require.NoError(t, err)

	got, err := st.GetDeliveryByKey(ctx, models.CarrierBraspress, "501")
	require.NoError(t, err)
	require.Len(t, got.Movements, maxMovementsPage+1)
	require.Equal(t, history[maxMovementsPage].Key(), got.Movements[maxMovementsPage].Key())

	page, err := st.ListMovements(ctx, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, page, maxMovementsPage)

	tail, err := st.ListMovements(ctx, id, 10, maxMovementsPage)
	require.NoError(t, err)
	require.Len(t, tail, 1)
}

func TestPGDelivery_WatchAndClaim(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	created, err := st.WatchDeliveries(ctx, []models.WatchInput{
		{Carrier: models.CarrierAccert, InvoiceNumber: "A1"},
		{Carrier: models.CarrierBraspress, InvoiceNumber: "B2", TaxID: "123"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	require.Equal(t, models.StatusUnknown, created[0].Status)

	again, err := st.WatchDeliveries(ctx, []models.WatchInput{{Carrier: models.CarrierAccert, InvoiceNumber: "A1", TaxID: "999"}})
	require.NoError(t, err)
	require.Equal(t, created[0].ID, again[0].ID)
	require.Equal(t, "999", again[0].TaxID)

	_, err = st.db.Exec(ctx, `UPDATE deliveries SET next_check_at = now() - interval '1 minute' WHERE id = $1`, created[0].ID)
	require.NoError(t, err)
	_, err = st.db.Exec(ctx, `UPDATE deliveries SET next_check_at = now() + interval '1 hour' WHERE id = $1`, created[1].ID)
	require.NoError(t, err)

	now := time.Now().UTC()
	lease := 10 * time.Second
	due, err := st.ClaimDueDeliveries(ctx, now, 10, lease)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, created[0].ID, due[0].ID)
	require.WithinDuration(t, now.Add(lease), due[0].NextCheckAt, 2*time.Second)

	again2, err := st.ClaimDueDeliveries(ctx, now, 10, lease)
	require.NoError(t, err)
	require.Empty(t, again2)

	msg := "timeout: wait #cnpjOrCpf"
	require.NoError(t, st.ScheduleNextCheck(ctx, CheckResult{
		DeliveryID: created[0].ID, CheckedAt: now, NextCheckAt: now.Add(5 * time.Minute), Error: &msg,
	}))
	got, err := st.GetDeliveriesByIDs(ctx, []uint64{created[0].ID})
	require.NoError(t, err)
	require.Equal(t, int32(1), got[0].CheckFailCount)
	require.Equal(t, msg, *got[0].LastError)

	require.NoError(t, st.RefreshDelivery(ctx, created[1].ID))
	require.ErrorIs(t, st.RefreshDelivery(ctx, 424242), models.ErrDeliveryNotFound)
}

func TestPGDelivery_ScrapeTasks(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	task := models.ScrapeTask{
		ID: "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d", Carrier: models.CarrierJamef, InvoiceNumber: "1",
		Status: models.ScrapeTaskPending, CreatedAt: time.Now(),
	}
	require.NoError(t, st.CreateScrapeTask(ctx, task))
	require.NoError(t, st.UpdateScrapeTask(ctx, task.ID, models.ScrapeTaskRunning, nil, nil))

	msg := "not_found: shipment not found"
	require.NoError(t, st.UpdateScrapeTask(ctx, task.ID, models.ScrapeTaskFailed, nil, &msg))

	got, err := st.GetScrapeTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.ScrapeTaskFailed, got.Status)
	require.Equal(t, msg, *got.ErrorMessage)
	require.Nil(t, got.DeliveryID)

	_, err = st.GetScrapeTask(ctx, "missing")
	require.ErrorIs(t, err, models.ErrTaskNotFound)
	require.ErrorIs(t, st.UpdateScrapeTask(ctx, "missing", models.ScrapeTaskRunning, nil, nil), models.ErrTaskNotFound)
}
