// Package carriertest provides an in-memory carrier.Page for scraper tests.
package carriertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/FreightTrack/internal/integrations/carrier"
	"github.com/BearBump/FreightTrack/internal/models"
)

// Page is a scripted carrier.Page. Selectors listed in Visible, Texts or HTML
// are considered present; waiting for anything else times out immediately.
type Page struct {
	mu sync.Mutex

	Visible map[string]bool
	Texts   map[string]string
	HTML    map[string]string
	Frames  map[string]*Page

	// Fail injects an error for "<op> <selector>", e.g. "click #go".
	Fail map[string]error
	// FailTimes limits how many times a Fail entry fires (0 = always).
	FailTimes map[string]int

	// OnClick lets a test reveal new elements after a click.
	OnClick func(p *Page, sel string)

	Calls    []string
	Filled   map[string]string
	Scripts  []string
	Requests []string
}

func NewPage() *Page {
	return &Page{
		Visible:   map[string]bool{},
		Texts:     map[string]string{},
		HTML:      map[string]string{},
		Frames:    map[string]*Page{},
		Fail:      map[string]error{},
		FailTimes: map[string]int{},
		Filled:    map[string]string{},
	}
}

func (p *Page) record(op, sel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := op + " " + sel
	p.Calls = append(p.Calls, key)
	err, ok := p.Fail[key]
	if !ok {
		return nil
	}
	if n, limited := p.FailTimes[key]; limited {
		if n <= 0 {
			return nil
		}
		p.FailTimes[key] = n - 1
	}
	return err
}

func (p *Page) present(sel string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Visible[sel] {
		return true
	}
	if _, ok := p.Texts[sel]; ok {
		return true
	}
	_, ok := p.HTML[sel]
	return ok
}

// Show marks selectors as visible.
func (p *Page) Show(sels ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range sels {
		p.Visible[s] = true
	}
}

// Called reports whether "<op> <selector>" was invoked.
func (p *Page) Called(call string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.Calls {
		if c == call {
			return true
		}
	}
	return false
}

// Count returns how many times "<op> <selector>" was invoked.
func (p *Page) Count(call string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.Calls {
		if c == call {
			n++
		}
	}
	return n
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	return p.record("navigate", url)
}

func (p *Page) WaitVisible(ctx context.Context, sel string) error {
	if err := p.record("wait", sel); err != nil {
		return err
	}
	if !p.present(sel) {
		return context.DeadlineExceeded
	}
	return nil
}

func (p *Page) WaitAny(ctx context.Context, sels ...string) (int, error) {
	if err := p.record("waitany", strings.Join(sels, "|")); err != nil {
		return -1, err
	}
	for i, s := range sels {
		if p.present(s) {
			return i, nil
		}
	}
	return -1, context.DeadlineExceeded
}

func (p *Page) Fill(ctx context.Context, sel, value string) error {
	if err := p.record("fill", sel); err != nil {
		return err
	}
	p.mu.Lock()
	p.Filled[sel] = value
	p.mu.Unlock()
	return nil
}

func (p *Page) Type(ctx context.Context, sel, value string, keyDelay func() time.Duration) error {
	if err := p.record("type", sel); err != nil {
		return err
	}
	if keyDelay != nil {
		_ = keyDelay()
	}
	p.mu.Lock()
	p.Filled[sel] = value
	p.mu.Unlock()
	return nil
}

func (p *Page) click(op, sel string) error {
	if err := p.record(op, sel); err != nil {
		return err
	}
	if p.OnClick != nil {
		p.OnClick(p, sel)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, sel string) error {
	return p.click("click", sel)
}

func (p *Page) DispatchClick(ctx context.Context, sel string) error {
	return p.click("dispatch", sel)
}

func (p *Page) ClickAwaitRequest(ctx context.Context, sel, urlPrefix string) error {
	if err := p.click("click", sel); err != nil {
		return err
	}
	p.mu.Lock()
	p.Requests = append(p.Requests, urlPrefix)
	p.mu.Unlock()
	return nil
}

func (p *Page) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	return p.record("idle", "")
}

func (p *Page) InnerText(ctx context.Context, sel string) (string, error) {
	if err := p.record("text", sel); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.Texts[sel]
	if !ok {
		return "", fmt.Errorf("no text for %q", sel)
	}
	return t, nil
}

func (p *Page) OuterHTML(ctx context.Context, sel string) (string, error) {
	if err := p.record("html", sel); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.HTML[sel]
	if !ok {
		return "", fmt.Errorf("no html for %q", sel)
	}
	return h, nil
}

func (p *Page) Evaluate(ctx context.Context, script string, res any) error {
	p.mu.Lock()
	p.Scripts = append(p.Scripts, script)
	p.mu.Unlock()
	return p.record("eval", "")
}

func (p *Page) AddInitScript(ctx context.Context, script string) error {
	p.mu.Lock()
	p.Scripts = append(p.Scripts, script)
	p.mu.Unlock()
	return p.record("init", "")
}

func (p *Page) Frame(ctx context.Context, sel string) (carrier.Page, error) {
	if err := p.record("frame", sel); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.Frames[sel]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	return f, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.record("screenshot", ""); err != nil {
		return nil, err
	}
	return []byte("png"), nil
}

// Session wraps a Page and records whether it was released.
type Session struct {
	P        *Page
	mu       sync.Mutex
	released int
}

func (s *Session) Page() carrier.Page { return s.P }

func (s *Session) Release() {
	s.mu.Lock()
	s.released++
	s.mu.Unlock()
}

func (s *Session) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Factory always hands out the same session.
func Factory(s *Session) carrier.SessionFactory {
	return func(ctx context.Context) (carrier.Session, error) {
		return s, nil
	}
}

// Shots collects screenshots in memory.
type Shots struct {
	mu    sync.Mutex
	Saved []string
}

func (s *Shots) Save(name string, kind models.ErrorKind, png []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Saved = append(s.Saved, name+"_"+string(kind))
	return nil
}

func (s *Shots) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Saved)
}
