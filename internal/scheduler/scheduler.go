// Package scheduler runs the periodic extraction trigger and health tick.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/loykin/catalogd/internal/extractor"
	"github.com/loykin/catalogd/internal/health"
	"github.com/loykin/catalogd/internal/metrics"
)

const (
	TaskExtract = "extract"
	TaskHealth  = "health"
)

// Runs accepts run requests without blocking. TriggerIdle refuses while
// any run is in flight, however many slots are free.
type Runs interface {
	TriggerIdle(trigger extractor.Trigger) (runID string, err error)
}

// HealthLogger computes and logs a health snapshot.
type HealthLogger interface {
	Log(ctx context.Context) health.Snapshot
}

type Config struct {
	ExtractSchedule string // default "0 2 * * *"
	HealthSchedule  string // default "*/5 * * * *"
	Location        *time.Location
	StopTimeout     time.Duration // per task; default 5s
}

// Scheduler owns the two periodic tasks.
type Scheduler struct {
	cfg   Config
	runs  Runs
	hlth  HealthLogger
	log   *slog.Logger
	tasks []*task

	mu      sync.Mutex
	started bool

	fatalMu sync.Mutex
	onFatal func(error)
}

// New validates both schedules and prepares the tasks without starting them.
func New(cfg Config, runs Runs, hlth HealthLogger, log *slog.Logger) (*Scheduler, error) {
	if cfg.ExtractSchedule == "" {
		cfg.ExtractSchedule = "0 2 * * *"
	}
	if cfg.HealthSchedule == "" {
		cfg.HealthSchedule = "*/5 * * * *"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	for _, expr := range []string{cfg.ExtractSchedule, cfg.HealthSchedule} {
		if err := ValidateSchedule(expr); err != nil {
			return nil, err
		}
	}
	s := &Scheduler{cfg: cfg, runs: runs, hlth: hlth, log: log.With("component", "scheduler")}
	s.tasks = []*task{
		newTask(TaskExtract, cfg.ExtractSchedule, cfg.Location, s.guard(TaskExtract, s.extractTick), s.log),
		newTask(TaskHealth, cfg.HealthSchedule, cfg.Location, s.guard(TaskHealth, s.healthTick), s.log),
	}
	return s, nil
}

// OnFatal sets the hook called when a tick panics.
func (s *Scheduler) OnFatal(fn func(error)) {
	s.fatalMu.Lock()
	s.onFatal = fn
	s.fatalMu.Unlock()
}

// Start activates both tasks. Calling it again is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	for i, t := range s.tasks {
		if err := t.start(); err != nil {
			for _, prev := range s.tasks[:i] {
				_ = prev.stop(s.cfg.StopTimeout)
			}
			return err
		}
	}
	s.started = true
	s.log.Info("scheduler started")
	return nil
}

// Stop deactivates every task. A task that fails to stop is logged and the
// rest are still stopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	for _, t := range s.tasks {
		if err := t.stop(s.cfg.StopTimeout); err != nil {
			s.log.Warn("task stop failed", "task", t.name, "err", err)
		}
	}
	s.log.Info("scheduler stopped")
}

// Started reports whether the tasks are active.
func (s *Scheduler) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// NextRun returns the next extraction tick, or zero when stopped.
func (s *Scheduler) NextRun() time.Time {
	return s.tasks[0].next()
}

func (s *Scheduler) extractTick(context.Context) {
	id, err := s.runs.TriggerIdle(extractor.TriggerScheduled)
	if err != nil {
		metrics.IncSchedulerTick(TaskExtract, "skipped")
		s.log.Info("scheduled extraction skipped", "reason", err)
		return
	}
	metrics.IncSchedulerTick(TaskExtract, "started")
	s.log.Info("scheduled extraction started", "run_id", id)
}

func (s *Scheduler) healthTick(ctx context.Context) {
	s.hlth.Log(ctx)
	metrics.IncSchedulerTick(TaskHealth, "ok")
}

// guard turns a panic in a tick into a fatal report.
func (s *Scheduler) guard(name string, fn func(context.Context)) func(context.Context) {
	return func(ctx context.Context) {
		defer func() {
			if p := recover(); p != nil {
				metrics.IncSchedulerTick(name, "panic")
				s.log.Error("task panicked", "task", name, "panic", p, "stack", string(debug.Stack()))
				s.fatalMu.Lock()
				fatal := s.onFatal
				s.fatalMu.Unlock()
				if fatal != nil {
					fatal(fmt.Errorf("scheduler task %s panicked: %v", name, p))
				}
			}
		}()
		fn(ctx)
	}
}
