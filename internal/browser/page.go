package browser

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/FreightTrack/internal/integrations/carrier"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/pkg/errors"
)

const waitAnyProbe = 250 * time.Millisecond

// dispatchClickJS fires the event sequence of a real pointer click at the
// element centre without scrolling.
const dispatchClickJS = `function () {
  const r = this.getBoundingClientRect();
  const init = {bubbles: true, cancelable: true, composed: true, view: window,
    clientX: r.left + r.width / 2, clientY: r.top + r.height / 2, button: 0};
  const pointer = (t) => this.dispatchEvent(new PointerEvent(t, Object.assign({pointerType: 'mouse', isPrimary: true}, init)));
  const mouse = (t) => this.dispatchEvent(new MouseEvent(t, init));
  pointer('pointerover'); pointer('pointerenter'); mouse('mouseover');
  pointer('pointerdown'); mouse('mousedown');
  pointer('pointerup'); mouse('mouseup');
  mouse('click');
}`

// Page implements carrier.Page on top of a chromedp tab. A Page returned by
// Frame scopes CSS queries to the iframe document; XPath queries are run as
// DOM searches, which already see same-origin frames.
type Page struct {
	ctx   context.Context
	frame *cdp.Node
}

func isXPath(sel string) bool {
	return strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(")
}

func (p *Page) query(sel string) []chromedp.QueryOption {
	if isXPath(sel) {
		return []chromedp.QueryOption{chromedp.BySearch}
	}
	opts := []chromedp.QueryOption{chromedp.ByQuery}
	if p.frame != nil {
		opts = append(opts, chromedp.FromNode(p.frame))
	}
	return opts
}

// bind derives a tab context that follows the caller's deadline and
// cancellation.
func (p *Page) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	var (
		tctx   context.Context
		cancel context.CancelFunc
	)
	if dl, ok := ctx.Deadline(); ok {
		tctx, cancel = context.WithDeadline(p.ctx, dl)
	} else {
		tctx, cancel = context.WithCancel(p.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}

func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	tctx, cancel := p.bind(ctx)
	defer cancel()
	err := chromedp.Run(tctx, actions...)
	if err != nil && ctx.Err() != nil {
		// для классификации важна причина со стороны вызывающего (таймаут шага)
		return ctx.Err()
	}
	return err
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	return errors.Wrapf(p.run(ctx, chromedp.Navigate(url)), "navigate %s", url)
}

func (p *Page) WaitVisible(ctx context.Context, sel string) error {
	return p.run(ctx, chromedp.WaitVisible(sel, p.query(sel)...))
}

func (p *Page) WaitAny(ctx context.Context, sels ...string) (int, error) {
	for {
		for i, sel := range sels {
			probe, cancel := context.WithTimeout(ctx, waitAnyProbe)
			err := p.run(probe, chromedp.WaitVisible(sel, p.query(sel)...))
			cancel()
			if err == nil {
				return i, nil
			}
			if ctx.Err() != nil {
				return -1, ctx.Err()
			}
		}
	}
}

func (p *Page) Fill(ctx context.Context, sel, value string) error {
	q := p.query(sel)
	return p.run(ctx, chromedp.Clear(sel, q...), chromedp.SendKeys(sel, value, q...))
}

func (p *Page) Type(ctx context.Context, sel, value string, keyDelay func() time.Duration) error {
	q := p.query(sel)
	if err := p.run(ctx, chromedp.Clear(sel, q...)); err != nil {
		return err
	}
	for _, r := range value {
		if err := p.run(ctx, chromedp.SendKeys(sel, string(r), q...)); err != nil {
			return err
		}
		if keyDelay == nil {
			continue
		}
		t := time.NewTimer(keyDelay())
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func (p *Page) Click(ctx context.Context, sel string) error {
	return p.run(ctx, chromedp.Click(sel, p.query(sel)...))
}

func (p *Page) DispatchClick(ctx context.Context, sel string) error {
	var nodes []*cdp.Node
	return p.run(ctx,
		chromedp.Nodes(sel, &nodes, p.query(sel)...),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if len(nodes) == 0 {
				return errors.Errorf("no node for %s", sel)
			}
			obj, err := dom.ResolveNode().WithBackendNodeID(nodes[0].BackendNodeID).Do(ctx)
			if err != nil {
				return errors.Wrap(err, "resolve node")
			}
			_, exc, err := runtime.CallFunctionOn(dispatchClickJS).WithObjectID(obj.ObjectID).Do(ctx)
			if err != nil {
				return errors.Wrap(err, "dispatch click")
			}
			if exc != nil {
				return errors.Errorf("dispatch click: %s", exc.Text)
			}
			return nil
		}),
	)
}

func (p *Page) ClickAwaitRequest(ctx context.Context, sel, urlPrefix string) error {
	tctx, cancel := p.bind(ctx)
	defer cancel()

	seen := make(chan struct{})
	var once sync.Once
	chromedp.ListenTarget(tctx, func(ev any) {
		if e, ok := ev.(*network.EventRequestWillBeSent); ok && strings.HasPrefix(e.Request.URL, urlPrefix) {
			once.Do(func() { close(seen) })
		}
	})

	if err := chromedp.Run(tctx, chromedp.Click(sel, p.query(sel)...)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	select {
	case <-seen:
		return nil
	case <-tctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrapf(tctx.Err(), "await request %s", urlPrefix)
	}
}

// WaitNetworkIdle returns once no tracked request has been in flight for
// quiet. Requests started before the call are not tracked.
func (p *Page) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	tctx, cancel := p.bind(ctx)
	defer cancel()

	var mu sync.Mutex
	inflight := map[network.RequestID]struct{}{}
	activity := make(chan struct{}, 1)
	chromedp.ListenTarget(tctx, func(ev any) {
		mu.Lock()
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			inflight[e.RequestID] = struct{}{}
		case *network.EventLoadingFinished:
			delete(inflight, e.RequestID)
		case *network.EventLoadingFailed:
			delete(inflight, e.RequestID)
		default:
			mu.Unlock()
			return
		}
		mu.Unlock()
		select {
		case activity <- struct{}{}:
		default:
		}
	})

	timer := time.NewTimer(quiet)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-activity:
			timer.Reset(quiet)
		case <-timer.C:
			mu.Lock()
			n := len(inflight)
			mu.Unlock()
			if n == 0 {
				return nil
			}
			timer.Reset(quiet)
		}
	}
}

func (p *Page) InnerText(ctx context.Context, sel string) (string, error) {
	var text string
	err := p.run(ctx, chromedp.Text(sel, &text, p.query(sel)...))
	return text, err
}

func (p *Page) OuterHTML(ctx context.Context, sel string) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML(sel, &html, p.query(sel)...))
	return html, err
}

// Evaluate always runs in the top-level document.
func (p *Page) Evaluate(ctx context.Context, script string, res any) error {
	if res == nil {
		var discard any
		res = &discard
	}
	return p.run(ctx, chromedp.Evaluate(script, res))
}

func (p *Page) AddInitScript(ctx context.Context, script string) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := cdppage.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		return err
	}))
}

func (p *Page) Frame(ctx context.Context, sel string) (carrier.Page, error) {
	var nodes []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(sel, &nodes, p.query(sel)...)); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, errors.Errorf("no frame for %s", sel)
	}
	return &Page{ctx: p.ctx, frame: nodes[0]}, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}
