package history

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

const defaultSendTimeout = 5 * time.Second

// Recorder fans events out to every sink. Sink failures are logged and
// never reach the caller.
type Recorder struct {
	log     *slog.Logger
	timeout time.Duration

	mu    sync.RWMutex
	sinks []Sink
}

// NewRecorder returns a Recorder for sinks. A zero timeout means 5s per send.
func NewRecorder(log *slog.Logger, timeout time.Duration, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Recorder{log: log.With("component", "history"), timeout: timeout, sinks: append([]Sink(nil), sinks...)}
}

// Add appends sinks.
func (r *Recorder) Add(sinks ...Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, sinks...)
	r.mu.Unlock()
}

// Len returns the number of sinks.
func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

// Record sends e to each sink in turn. It is a no-op on a nil Recorder.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	r.mu.RLock()
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.RUnlock()
	for _, s := range sinks {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		if err := s.Send(sctx, e); err != nil {
			r.log.Warn("history send failed", "event", e.Type, "run", e.Run.ID, "err", err)
		}
		cancel()
	}
}

// Close closes every sink that implements io.Closer.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = nil
	r.mu.Unlock()
	var first error
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
