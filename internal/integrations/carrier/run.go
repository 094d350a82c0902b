package carrier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/pkg/errors"
)

type ResponseStatus string

const (
	StatusSuccess ResponseStatus = "success"
	StatusFailure ResponseStatus = "failure"
)

// Response is the single outcome of one scrape attempt.
type Response struct {
	Status ResponseStatus    `json:"status"`
	Data   RawResult         `json:"data"`
	Error  *models.ErrorInfo `json:"error"`

	// Cause keeps the original error for retry decisions; not serialized.
	Cause error `json:"-"`
}

func (r Response) OK() bool { return r.Status == StatusSuccess }

const screenshotTimeout = 5 * time.Second

// Run owns the session lifecycle for one attempt: it acquires a session,
// runs the scraper, classifies any failure and always releases the session.
func Run(ctx context.Context, open SessionFactory, s Scraper, q models.SearchQuery, shots Screenshotter) (resp Response) {
	log := slog.With("carrier", s.Name(), "invoice", q.InvoiceNumber)

	sess, err := open(ctx)
	if err != nil {
		log.Error("browser session init failed", "error", err.Error())
		return Failure(err)
	}
	defer sess.Release()

	page := sess.Page()
	defer func() {
		if r := recover(); r != nil {
			resp = Failure(errors.Errorf("scraper panic: %v", r))
		}
		if !resp.OK() {
			log.Warn("scrape failed", "kind", resp.Error.Kind, "error", resp.Error.Message)
			if shots != nil && resp.Error.Kind != models.ErrorKindNotFound {
				capture(ctx, page, s.Name(), resp.Error.Kind, shots)
			}
		}
	}()

	raw, err := s.Scrape(ctx, page, q)
	if err != nil {
		return Failure(err)
	}
	if raw == nil {
		return Failure(errors.New("scraper returned no data"))
	}
	log.Info("scrape finished")
	return Response{Status: StatusSuccess, Data: raw}
}

// Failure converts err into a typed failure response.
func Failure(err error) Response {
	return Response{
		Status: StatusFailure,
		Error: &models.ErrorInfo{
			Kind:      Classify(err),
			Message:   err.Error(),
			Timestamp: time.Now().UTC(),
		},
		Cause: err,
	}
}

// Classify maps an error to its ErrorInfo kind.
func Classify(err error) models.ErrorKind {
	switch {
	case errors.Is(err, ErrNotFound):
		return models.ErrorKindNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrorKindTimeout
	default:
		return models.ErrorKindException
	}
}

func capture(ctx context.Context, page Page, name string, kind models.ErrorKind, shots Screenshotter) {
	// исходный ctx мог уже истечь, а снимок всё равно нужен
	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
	defer cancel()

	png, err := page.Screenshot(shotCtx)
	if err != nil {
		slog.Warn("screenshot failed", "carrier", name, "error", err.Error())
		return
	}
	if err := shots.Save(name, kind, png); err != nil {
		slog.Warn("save screenshot", "carrier", name, "error", err.Error())
	}
}

// ScreenshotName builds "<name>_<kind>_<YYYYmmdd_HHMMSS>.png".
func ScreenshotName(name string, kind models.ErrorKind, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s.png", name, kind, at.Format("20060102_150405"))
}
