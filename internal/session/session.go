// Package session owns the headless browser sessions used by extraction
// runs: launching them, tracking the active set and closing them.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Launcher starts a browser automation process.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is one running browser process.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	// Alive checks the process; false means it is gone or unresponsive.
	Alive(ctx context.Context) bool
	Close() error
}

// Page is a tab driven by an extraction run. Elements are addressed by a CSS
// selector plus the index of the match in document order.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitFor(ctx context.Context, selector string) error
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Input(ctx context.Context, selector string, index int, value string) error
	Click(ctx context.Context, selector string, index int) error
	Enter(ctx context.Context, selector string, index int) error
	WaitSettled(ctx context.Context) error
	Close() error
}

// Session is a handle to one browser process registered with a Manager.
// It is claimed by at most one run and never reused.
type Session struct {
	id        string
	createdAt time.Time
	browser   Browser
	mgr       *Manager

	alive atomic.Bool

	mu    sync.Mutex
	owner string

	once     sync.Once
	closeErr error
	reason   string
	done     chan struct{}
	stop     context.CancelFunc
}

// Info is a point-in-time view of a session.
type Info struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Alive     bool      `json:"alive"`
	Owner     string    `json:"owner,omitempty"`
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) Alive() bool          { return s.alive.Load() }

func (s *Session) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

func (s *Session) Info() Info {
	return Info{ID: s.id, CreatedAt: s.createdAt, Alive: s.Alive(), Owner: s.Owner()}
}

// Claim records runID as the owner. A session can be claimed once.
func (s *Session) Claim(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != "" {
		return ErrOwned
	}
	if !s.alive.Load() {
		return ErrClosed
	}
	s.owner = runID
	return nil
}

// Done is closed when the session leaves the active set, whether through
// Close or because its browser disconnected.
func (s *Session) Done() <-chan struct{} { return s.done }

// Reason tells why the session ended ("closed", "disconnected"); empty while
// active.
func (s *Session) Reason() string {
	select {
	case <-s.done:
		return s.reason
	default:
		return ""
	}
}

// Check asks the browser right away instead of waiting for the next
// liveness poll, and ends the session when the browser does not answer.
func (s *Session) Check(ctx context.Context) bool {
	if !s.alive.Load() {
		return false
	}
	if s.browser.Alive(ctx) {
		return true
	}
	s.end("disconnected")
	return false
}

// NewPage opens a tab on the session's browser.
func (s *Session) NewPage(ctx context.Context) (Page, error) {
	if !s.alive.Load() {
		return nil, ErrClosed
	}
	return s.browser.NewPage(ctx)
}

// Close removes the session from the active set and closes the browser.
// It is idempotent and safe after a disconnect.
func (s *Session) Close() error {
	s.end("closed")
	if s.reason != "closed" {
		return nil
	}
	return s.closeErr
}

func (s *Session) end(reason string) {
	s.once.Do(func() {
		s.alive.Store(false)
		s.stop()
		s.mgr.remove(s)
		s.reason = reason
		s.closeErr = s.browser.Close()
		close(s.done)
	})
}
