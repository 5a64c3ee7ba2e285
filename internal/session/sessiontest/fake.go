// Package sessiontest provides an in-memory browser that serves HTML
// fixtures per URL, for exercising extraction without Chromium.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"

	"github.com/loykin/catalogd/internal/session"
)

// ErrNotFound is returned when navigating to a URL the site does not serve.
var ErrNotFound = errors.New("net::ERR_NAME_NOT_RESOLVED")

// Site is a fake website: a URL to HTML map plus failure injection.
type Site struct {
	mu          sync.Mutex
	pages       map[string]string
	failures    map[string]int
	crashOn     map[string]bool
	afterSubmit string
	gate        chan struct{}
	submissions []map[string]string
	visits      []string
}

func NewSite() *Site {
	return &Site{pages: make(map[string]string), failures: make(map[string]int), crashOn: make(map[string]bool)}
}

// Handle serves html at url.
func (s *Site) Handle(url, html string) *Site {
	s.mu.Lock()
	s.pages[url] = html
	s.mu.Unlock()
	return s
}

// FailNext makes the next n navigations to url fail.
func (s *Site) FailNext(url string, n int) *Site {
	s.mu.Lock()
	s.failures[url] = n
	s.mu.Unlock()
	return s
}

// CrashOnWait makes the browser die while a page waits for selector. The
// wait then reports a timeout, the way a hung DevTools connection does.
func (s *Site) CrashOnWait(selector string) *Site {
	s.mu.Lock()
	s.crashOn[selector] = true
	s.mu.Unlock()
	return s
}

func (s *Site) crashes(selector string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crashOn[selector]
}

// AfterSubmit sets the page shown after a form submission.
func (s *Site) AfterSubmit(url string) *Site {
	s.mu.Lock()
	s.afterSubmit = url
	s.mu.Unlock()
	return s
}

// Hold blocks every navigation until Release is called.
func (s *Site) Hold() *Site {
	s.mu.Lock()
	s.gate = make(chan struct{})
	s.mu.Unlock()
	return s
}

// Release unblocks navigations held by Hold.
func (s *Site) Release() {
	s.mu.Lock()
	g := s.gate
	s.gate = nil
	s.mu.Unlock()
	if g != nil {
		close(g)
	}
}

// Submissions returns the field values of every submitted form, keyed by
// "selector#index".
func (s *Site) Submissions() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]string(nil), s.submissions...)
}

// Visits lists navigated URLs in order.
func (s *Site) Visits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visits...)
}

func (s *Site) fetch(ctx context.Context, url string) (string, error) {
	s.mu.Lock()
	g := s.gate
	s.mu.Unlock()
	if g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits = append(s.visits, url)
	if n := s.failures[url]; n > 0 {
		s.failures[url] = n - 1
		return "", fmt.Errorf("navigate %s: net::ERR_CONNECTION_RESET", url)
	}
	html, ok := s.pages[url]
	if !ok {
		return "", fmt.Errorf("navigate %s: %w", url, ErrNotFound)
	}
	return html, nil
}

// Launcher hands out fake browsers bound to Site.
type Launcher struct {
	Site *Site
	// FailLaunches makes that many Launch calls fail first.
	FailLaunches atomic.Int32
	// CloseErr is returned by every browser's Close.
	CloseErr error

	launches atomic.Int32
	mu       sync.Mutex
	browsers []*Browser
}

func (l *Launcher) Launch(ctx context.Context) (session.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.launches.Add(1)
	if l.FailLaunches.Load() > 0 {
		l.FailLaunches.Add(-1)
		return nil, errors.New("chromium: exec: no such file")
	}
	b := &Browser{site: l.Site, closeErr: l.CloseErr}
	b.alive.Store(true)
	l.mu.Lock()
	l.browsers = append(l.browsers, b)
	l.mu.Unlock()
	return b, nil
}

// Launches counts Launch calls, failed ones included.
func (l *Launcher) Launches() int { return int(l.launches.Load()) }

// Browsers returns every browser launched so far.
func (l *Launcher) Browsers() []*Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Browser(nil), l.browsers...)
}

// Browser is a fake browser process.
type Browser struct {
	site     *Site
	closeErr error
	alive    atomic.Bool
	closed   atomic.Bool
}

// Crash simulates the process dying.
func (b *Browser) Crash() { b.alive.Store(false) }

// Closed reports whether Close was called.
func (b *Browser) Closed() bool { return b.closed.Load() }

func (b *Browser) NewPage(ctx context.Context) (session.Page, error) {
	if !b.alive.Load() {
		return nil, errors.New("browser disconnected")
	}
	return &Page{b: b, inputs: make(map[string]string)}, nil
}

func (b *Browser) Alive(context.Context) bool { return b.alive.Load() && !b.closed.Load() }

func (b *Browser) Close() error {
	b.closed.Store(true)
	b.alive.Store(false)
	return b.closeErr
}

// Page is a fake tab.
type Page struct {
	b      *Browser
	mu     sync.Mutex
	url    string
	html   string
	inputs map[string]string
}

func (p *Page) live() error {
	if !p.b.alive.Load() {
		return errors.New("browser disconnected")
	}
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.live(); err != nil {
		return err
	}
	html, err := p.b.site.fetch(ctx, url)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.url, p.html = url, html
	p.mu.Unlock()
	return nil
}

func (p *Page) doc() (*goquery.Document, error) {
	p.mu.Lock()
	html := p.html
	p.mu.Unlock()
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// WaitFor does not actually wait: a selector absent from the current page
// fails at once as if the wait had timed out.
func (p *Page) WaitFor(ctx context.Context, selector string) error {
	if err := p.live(); err != nil {
		return err
	}
	if p.b.site.crashes(selector) {
		p.b.Crash()
		return fmt.Errorf("wait for %q: %w", selector, context.DeadlineExceeded)
	}
	d, err := p.doc()
	if err != nil {
		return err
	}
	if d.Find(selector).Length() == 0 {
		return fmt.Errorf("wait for %q: %w", selector, context.DeadlineExceeded)
	}
	return nil
}

func (p *Page) HTML(context.Context) (string, error) {
	if err := p.live(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *Page) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) check(selector string, index int) error {
	if err := p.live(); err != nil {
		return err
	}
	d, err := p.doc()
	if err != nil {
		return err
	}
	if n := d.Find(selector).Length(); index >= n {
		return fmt.Errorf("no element %d for %q (%d matches)", index, selector, n)
	}
	return nil
}

func (p *Page) Input(_ context.Context, selector string, index int, value string) error {
	if err := p.check(selector, index); err != nil {
		return err
	}
	p.mu.Lock()
	p.inputs[fmt.Sprintf("%s#%d", selector, index)] = value
	p.mu.Unlock()
	return nil
}

func (p *Page) Click(ctx context.Context, selector string, index int) error {
	if err := p.check(selector, index); err != nil {
		return err
	}
	return p.submit(ctx)
}

func (p *Page) Enter(ctx context.Context, selector string, index int) error {
	if err := p.check(selector, index); err != nil {
		return err
	}
	return p.submit(ctx)
}

func (p *Page) submit(ctx context.Context) error {
	p.mu.Lock()
	form := make(map[string]string, len(p.inputs))
	for k, v := range p.inputs {
		form[k] = v
	}
	p.mu.Unlock()

	s := p.b.site
	s.mu.Lock()
	s.submissions = append(s.submissions, form)
	next := s.afterSubmit
	s.mu.Unlock()
	if next != "" {
		return p.Navigate(ctx, next)
	}
	return nil
}

func (p *Page) WaitSettled(context.Context) error { return p.live() }

func (p *Page) Close() error { return nil }
