package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/catalogd/internal/metrics"
)

// Config bounds the pool and the launch retry policy.
type Config struct {
	MaxSessions      int           // size of the active set (default 1)
	LaunchRetries    int           // extra attempts after a failed launch
	RetryInterval    time.Duration // delay between launch attempts (default 500ms)
	LivenessInterval time.Duration // liveness poll period (default 1s)
}

// Manager creates, tracks and force-closes sessions.
type Manager struct {
	launcher Launcher
	cfg      Config
	log      *slog.Logger

	mu      sync.RWMutex
	active  map[string]*Session
	pending int
	closed  bool
}

func NewManager(l Launcher, cfg Config, log *slog.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		launcher: l,
		cfg:      cfg,
		log:      log.With("component", "session"),
		active:   make(map[string]*Session),
	}
}

// Acquire launches a browser and registers it as a new active session.
// A full pool or exhausted launch retries yield *ResourceExhaustion; in the
// latter case it wraps the *LaunchError carrying the last cause.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if n := len(m.active) + m.pending; n >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, &ResourceExhaustion{Active: n, Limit: m.cfg.MaxSessions, Err: ErrPoolFull}
	}
	m.pending++
	m.mu.Unlock()

	b, err := m.launch(ctx)

	m.mu.Lock()
	m.pending--
	if err != nil {
		n := len(m.active)
		m.mu.Unlock()
		return nil, &ResourceExhaustion{Active: n, Limit: m.cfg.MaxSessions, Err: err}
	}
	if m.closed {
		m.mu.Unlock()
		_ = b.Close()
		return nil, ErrManagerClosed
	}
	// stop must be set before the session is visible to ReleaseAll
	wctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        uuid.NewString(),
		createdAt: time.Now().UTC(),
		browser:   b,
		mgr:       m,
		done:      make(chan struct{}),
		stop:      cancel,
	}
	s.alive.Store(true)
	m.active[s.id] = s
	n := len(m.active)
	m.mu.Unlock()

	metrics.SetActiveSessions(n)
	go newWatcher(s, m.cfg.LivenessInterval, m.log).run(wctx)
	m.log.Info("session acquired", "session_id", s.id, "active", n)
	return s, nil
}

func (m *Manager) launch(ctx context.Context) (Browser, error) {
	attempts, interval := retryParams(m.cfg)
	var lastErr error
	for i := 0; i <= attempts; i++ {
		b, err := m.launcher.Launch(ctx)
		if err == nil {
			return b, nil
		}
		lastErr = err
		metrics.IncLaunchFailure()
		m.log.Warn("browser launch failed", "attempt", i+1, "err", err)
		if i < attempts {
			t := time.NewTimer(interval)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, &LaunchError{Attempts: i + 1, Err: ctx.Err()}
			}
		}
	}
	return nil, &LaunchError{Attempts: attempts + 1, Err: lastErr}
}

// retryParams computes attempts and interval from the config.
func retryParams(cfg Config) (int, time.Duration) {
	attempts := cfg.LaunchRetries
	if attempts < 0 {
		attempts = 0
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return attempts, interval
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	_, ok := m.active[s.id]
	delete(m.active, s.id)
	n := len(m.active)
	m.mu.Unlock()
	if ok {
		metrics.SetActiveSessions(n)
	}
}

// ActiveCount returns the number of sessions in the active set.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Sessions lists active sessions, oldest first.
func (m *Manager) Sessions() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.active))
	for _, s := range m.active {
		out = append(out, s.Info())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ReleaseAll refuses further acquisitions and closes every active session
// concurrently. Close failures are logged. It returns after every close
// attempt has finished.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	m.closed = true
	list := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		list = append(list, s)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, s := range list {
		s := s
		g.Go(func() error {
			if err := s.Close(); err != nil {
				m.log.Warn("session close failed", "session_id", s.ID(), "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(list) > 0 {
		m.log.Info("sessions released", "count", len(list))
	}
}
