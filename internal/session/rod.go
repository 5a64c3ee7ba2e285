package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/shirou/gopsutil/v4/process"
)

// DefaultBlockedResources are sub-resource types never loaded by sessions.
var DefaultBlockedResources = []string{"stylesheet", "font", "media"}

// RodLauncher starts Chromium through go-rod's launcher.
type RodLauncher struct {
	Headless         bool
	Bin              string // browser binary; empty lets rod find or download one
	NoSandbox        bool
	UserAgent        string
	ViewportWidth    int
	ViewportHeight   int
	BlockedResources []string
	CloseTimeout     time.Duration
}

func (l RodLauncher) Launch(ctx context.Context) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ln := launcher.New().
		Headless(l.Headless).
		NoSandbox(l.NoSandbox).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("disable-extensions").
		Set("no-first-run").
		Set("disable-background-networking")
	if l.Bin != "" {
		ln = ln.Bin(l.Bin)
	}
	u, err := ln.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		ln.Kill()
		return nil, fmt.Errorf("connect %s: %w", u, err)
	}

	blocked := make(map[proto.NetworkResourceType]bool)
	kinds := l.BlockedResources
	if kinds == nil {
		kinds = DefaultBlockedResources
	}
	for _, k := range kinds {
		blocked[resourceType(k)] = true
	}
	closeTimeout := l.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = 5 * time.Second
	}
	return &rodBrowser{b: b, ln: ln, opts: l, blocked: blocked, closeTimeout: closeTimeout}, nil
}

// resourceType maps "stylesheet" to proto.NetworkResourceTypeStylesheet etc.
func resourceType(s string) proto.NetworkResourceType {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "xhr":
		return proto.NetworkResourceTypeXHR
	case "texttrack":
		return proto.NetworkResourceTypeTextTrack
	case "eventsource":
		return proto.NetworkResourceTypeEventSource
	case "websocket":
		return proto.NetworkResourceTypeWebSocket
	case "cspviolationreport":
		return proto.NetworkResourceTypeCSPViolationReport
	}
	if s == "" {
		return ""
	}
	return proto.NetworkResourceType(strings.ToUpper(s[:1]) + s[1:])
}

type rodBrowser struct {
	b            *rod.Browser
	ln           *launcher.Launcher
	opts         RodLauncher
	blocked      map[proto.NetworkResourceType]bool
	closeTimeout time.Duration

	mu      sync.Mutex
	routers []*rod.HijackRouter
}

func (rb *rodBrowser) NewPage(ctx context.Context) (Page, error) {
	p, err := rb.b.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	pc := p.Context(ctx)
	if rb.opts.UserAgent != "" {
		if err := pc.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: rb.opts.UserAgent}); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	}
	if rb.opts.ViewportWidth > 0 && rb.opts.ViewportHeight > 0 {
		if err := pc.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             rb.opts.ViewportWidth,
			Height:            rb.opts.ViewportHeight,
			DeviceScaleFactor: 1,
		}); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("set viewport: %w", err)
		}
	}

	var router *rod.HijackRouter
	if len(rb.blocked) > 0 {
		router = p.HijackRequests()
		router.MustAdd("*", func(h *rod.Hijack) {
			if rb.blocked[h.Request.Type()] {
				h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
			h.ContinueRequest(&proto.FetchContinueRequest{})
		})
		go router.Run()
		rb.mu.Lock()
		rb.routers = append(rb.routers, router)
		rb.mu.Unlock()
	}
	return &rodPage{p: p, router: router}, nil
}

func (rb *rodBrowser) Alive(ctx context.Context) bool {
	if pid := rb.ln.PID(); pid > 0 {
		if ok, err := process.PidExistsWithContext(ctx, int32(pid)); err == nil && !ok {
			return false
		}
	}
	_, err := proto.BrowserGetVersion{}.Call(rb.b.Context(ctx))
	return err == nil
}

func (rb *rodBrowser) Close() error {
	rb.mu.Lock()
	routers := rb.routers
	rb.routers = nil
	rb.mu.Unlock()
	for _, r := range routers {
		_ = r.Stop()
	}
	err := rb.b.Timeout(rb.closeTimeout).Close()
	rb.ln.Kill()
	rb.ln.Cleanup()
	return err
}

type rodPage struct {
	p      *rod.Page
	router *rod.HijackRouter
}

func (rp *rodPage) Navigate(ctx context.Context, url string) error {
	p := rp.p.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (rp *rodPage) WaitFor(ctx context.Context, selector string) error {
	_, err := rp.p.Context(ctx).Element(selector)
	return err
}

func (rp *rodPage) HTML(ctx context.Context) (string, error) {
	return rp.p.Context(ctx).HTML()
}

func (rp *rodPage) URL(ctx context.Context) (string, error) {
	info, err := rp.p.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (rp *rodPage) element(ctx context.Context, selector string, index int) (*rod.Element, error) {
	els, err := rp.p.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(els) {
		return nil, fmt.Errorf("no element %d for %q (%d matches)", index, selector, len(els))
	}
	return els[index], nil
}

func (rp *rodPage) Input(ctx context.Context, selector string, index int, value string) error {
	el, err := rp.element(ctx, selector, index)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(value)
}

func (rp *rodPage) Click(ctx context.Context, selector string, index int) error {
	el, err := rp.element(ctx, selector, index)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (rp *rodPage) Enter(ctx context.Context, selector string, index int) error {
	el, err := rp.element(ctx, selector, index)
	if err != nil {
		return err
	}
	return el.Type(input.Enter)
}

func (rp *rodPage) WaitSettled(ctx context.Context) error {
	return rp.p.Context(ctx).WaitStable(300 * time.Millisecond)
}

func (rp *rodPage) Close() error {
	if rp.router != nil {
		_ = rp.router.Stop()
	}
	return rp.p.Close()
}
