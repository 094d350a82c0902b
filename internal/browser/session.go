// Package browser runs carrier scrapes in a headless Chrome driven over the
// DevTools protocol. Every session owns its own browser process.
package browser

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BearBump/FreightTrack/internal/integrations/carrier"
	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/pkg/errors"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36"
	DefaultWidth     = 1920
	DefaultHeight    = 1080

	launchTimeout = 30 * time.Second
)

type Options struct {
	Headless  bool
	UserAgent string
	Width     int
	Height    int
	// ExecPath: путь до chrome/chromium; пусто = искать в PATH.
	ExecPath string
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	return o
}

func (o Options) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", o.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(o.UserAgent),
		chromedp.WindowSize(o.Width, o.Height),
	)
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	return opts
}

// Session is one isolated browser process with a single tab.
type Session struct {
	page        *Page
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// Launch starts a browser and opens its tab. Any failure is reported as
// *carrier.BrowserInitError and leaves no process behind.
func Launch(ctx context.Context, opts Options) (*Session, error) {
	opts = opts.withDefaults()

	// браузер живёт до Release, а не до отмены ctx вызывающего
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts.allocatorOptions()...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	s := &Session{page: &Page{ctx: tabCtx}, cancelTab: cancelTab, cancelAlloc: cancelAlloc}

	startCtx, cancel := context.WithTimeout(ctx, launchTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		// первый Run на tabCtx запускает процесс
		errc <- chromedp.Run(tabCtx, network.Enable())
	}()

	var err error
	select {
	case err = <-errc:
	case <-startCtx.Done():
		err = startCtx.Err()
	}
	if err != nil {
		s.Release()
		return nil, &carrier.BrowserInitError{Err: err}
	}
	return s, nil
}

func (s *Session) Page() carrier.Page { return s.page }

// Release closes the tab and kills the browser. Safe to call twice.
func (s *Session) Release() {
	s.cancelTab()
	s.cancelAlloc()
}

// Factory adapts Launch to carrier.SessionFactory.
func Factory(opts Options) carrier.SessionFactory {
	return func(ctx context.Context) (carrier.Session, error) {
		s, err := Launch(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// ScreenshotDir stores failure screenshots as files in a directory.
type ScreenshotDir struct {
	Dir string
	now func() time.Time
}

func NewScreenshotDir(dir string) (*ScreenshotDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create screenshot dir")
	}
	return &ScreenshotDir{Dir: dir, now: time.Now}, nil
}

func (d *ScreenshotDir) Save(name string, kind models.ErrorKind, png []byte) error {
	now := d.now
	if now == nil {
		now = time.Now
	}
	path := filepath.Join(d.Dir, carrier.ScreenshotName(name, kind, now()))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return errors.Wrap(err, "write screenshot")
	}
	slog.Info("screenshot saved", "path", path)
	return nil
}
