package session

import (
	"context"
	"log/slog"
	"time"
)

// watcher polls a session's browser and ends the session as soon as the
// browser stops answering, so the active set never holds dead entries.
type watcher struct {
	s        *Session
	interval time.Duration
	log      *slog.Logger
}

func newWatcher(s *Session, interval time.Duration, log *slog.Logger) *watcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &watcher{s: s, interval: interval, log: log}
}

func (w *watcher) run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		pctx, cancel := context.WithTimeout(ctx, w.interval)
		alive := w.s.browser.Alive(pctx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if !alive {
			w.log.Warn("session disconnected", "session_id", w.s.id, "owner", w.s.Owner())
			w.s.end("disconnected")
			return
		}
	}
}
