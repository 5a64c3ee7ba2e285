package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// task is one independently scheduled function with its own cron instance,
// so stopping one never depends on another.
type task struct {
	name     string
	schedule string
	fn       func(ctx context.Context)
	log      *slog.Logger

	mu          sync.Mutex
	cron        *cron.Cron
	entryID     cron.EntryID
	isScheduled bool
	ctx         context.Context
	cancel      context.CancelFunc
}

func newTask(name, schedule string, loc *time.Location, fn func(context.Context), log *slog.Logger) *task {
	return &task{
		name:     name,
		schedule: schedule,
		fn:       fn,
		log:      log.With("task", name),
		cron:     cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
	}
}

func (t *task) start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isScheduled {
		return nil
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	ctx := t.ctx
	id, err := t.cron.AddFunc(t.schedule, func() { t.fn(ctx) })
	if err != nil {
		t.cancel()
		return fmt.Errorf("failed to schedule %s: %w", t.name, err)
	}
	t.entryID = id
	t.isScheduled = true
	t.cron.Start()
	t.log.Info("task scheduled", "schedule", t.schedule, "next", t.nextLocked())
	return nil
}

// stop unschedules the task and waits up to timeout for a running tick.
func (t *task) stop(timeout time.Duration) error {
	t.mu.Lock()
	if !t.isScheduled {
		t.mu.Unlock()
		return nil
	}
	t.isScheduled = false
	t.cron.Remove(t.entryID)
	t.cancel()
	done := t.cron.Stop()
	t.mu.Unlock()

	select {
	case <-done.Done():
		t.log.Info("task stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("task %s: running tick did not finish within %s", t.name, timeout)
	}
}

func (t *task) next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextLocked()
}

func (t *task) nextLocked() time.Time {
	if !t.isScheduled {
		return time.Time{}
	}
	return t.cron.Entry(t.entryID).Next
}
