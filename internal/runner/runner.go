// Package runner queues extraction runs and executes them on a bounded
// number of slots.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/loykin/catalogd/internal/extractor"
	"github.com/loykin/catalogd/internal/history"
	"github.com/loykin/catalogd/internal/metrics"
	"github.com/loykin/catalogd/internal/product"
	"github.com/loykin/catalogd/internal/store"
)

var (
	// ErrStopped is the error recorded on runs abandoned by Stop.
	ErrStopped = errors.New("runner stopped")
	// ErrBusy refuses a run because the slots are taken.
	ErrBusy = errors.New("already running")
	// ErrDraining refuses a run because the runner is shutting down.
	ErrDraining = errors.New("shutting down")
	// ErrNoCheck is returned by Check when the executor cannot run checks.
	ErrNoCheck = errors.New("connectivity check not supported")
)

// Executor drives one run to a terminal state.
type Executor interface {
	Execute(ctx context.Context, run *extractor.Run) ([]product.Record, error)
}

// Checker is implemented by executors that can test connect and login
// without scraping.
type Checker interface {
	Check(ctx context.Context, run *extractor.Run) (extractor.CheckResult, error)
}

// Merger absorbs the records of a completed run.
type Merger interface {
	Merge(ctx context.Context, records []product.Record) store.MergeResult
}

type Config struct {
	Concurrency int // runs executing at once; default 1
	RecentRuns  int // summaries kept for lookup; default 50
}

// Counters are the run totals since start.
type Counters struct {
	Total      int64 `json:"total"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
}

// Stats is the runner state reported by /status.
type Stats struct {
	Counters
	Running        int                `json:"running"`
	LastRun        *extractor.Summary `json:"lastRun,omitempty"`
	LastExtraction *time.Time         `json:"lastExtraction,omitempty"`
	LastError      string             `json:"lastError,omitempty"`
}

// Runner accepts run requests without blocking and executes them from its
// own loop. A request is refused when every slot is taken.
type Runner struct {
	exec   Executor
	merger Merger
	hist   *history.Recorder
	log    *slog.Logger
	cfg    Config

	slots chan struct{}
	queue chan *extractor.Run
	stop  chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	accepting bool
	started   bool
	stopped   bool
	active    map[string]*extractor.Run
	last      *extractor.Run
	lastOK    time.Time
	lastErr   string
	inflight  sync.WaitGroup
	loopDone  chan struct{}
	onFatal   func(error)
	recent    *lru.Cache[string, *extractor.Run]
	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// New creates a runner. hist may be nil.
func New(exec Executor, merger Merger, hist *history.Recorder, cfg Config, log *slog.Logger) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.RecentRuns < 1 {
		cfg.RecentRuns = 50
	}
	if log == nil {
		log = slog.Default()
	}
	recent, _ := lru.New[string, *extractor.Run](cfg.RecentRuns)
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		exec:      exec,
		merger:    merger,
		hist:      hist,
		log:       log.With("component", "runner"),
		cfg:       cfg,
		slots:     make(chan struct{}, cfg.Concurrency),
		queue:     make(chan *extractor.Run, cfg.Concurrency),
		stop:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		baseCtx:   ctx,
		cancel:    cancel,
		accepting: true,
		active:    make(map[string]*extractor.Run),
		recent:    recent,
	}
}

// OnFatal sets the hook called when a run panics.
func (r *Runner) OnFatal(fn func(error)) {
	r.mu.Lock()
	r.onFatal = fn
	r.mu.Unlock()
}

// Start launches the consumer loop. Calling it again is a no-op.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true
	go r.loop()
}

func (r *Runner) loop() {
	defer close(r.loopDone)
	for {
		select {
		case run := <-r.queue:
			go r.execute(run)
		case <-r.stop:
			for {
				select {
				case run := <-r.queue:
					r.abandon(run)
				default:
					return
				}
			}
		}
	}
}

// Trigger requests a run. It never blocks: it fails with ErrDraining once
// draining has begun and with ErrBusy when every slot is taken.
func (r *Runner) Trigger(trigger extractor.Trigger) (runID string, err error) {
	return r.enqueue(trigger, false)
}

// TriggerIdle is Trigger restricted to an idle runner: it fails with ErrBusy
// while any run is queued or executing, whatever the slot count.
func (r *Runner) TriggerIdle(trigger extractor.Trigger) (runID string, err error) {
	return r.enqueue(trigger, true)
}

func (r *Runner) enqueue(trigger extractor.Trigger, idleOnly bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, err := r.reserve(trigger, idleOnly)
	if err != nil {
		return "", err
	}
	r.inflight.Add(1)
	// cannot block: queue capacity equals slot count
	r.queue <- run
	r.log.Info("run queued", "run_id", run.ID(), "trigger", trigger)
	return run.ID(), nil
}

// reserve takes a slot and registers a new run. Caller holds mu.
func (r *Runner) reserve(trigger extractor.Trigger, idleOnly bool) (*extractor.Run, error) {
	if !r.accepting {
		return nil, ErrDraining
	}
	if idleOnly && len(r.active) > 0 {
		return nil, ErrBusy
	}
	select {
	case r.slots <- struct{}{}:
	default:
		return nil, ErrBusy
	}
	run := extractor.NewRun(trigger)
	r.active[run.ID()] = run
	r.recent.Add(run.ID(), run)
	return run, nil
}

// Check runs a connectivity check on the caller's goroutine. It occupies a
// slot like any run, so it is refused while the slots are taken, and it is
// kept with the recent runs without touching the extraction counters.
func (r *Runner) Check(ctx context.Context) (res extractor.CheckResult, err error) {
	c, ok := r.exec.(Checker)
	if !ok {
		return res, ErrNoCheck
	}
	r.mu.Lock()
	run, rerr := r.reserve(extractor.TriggerTest, false)
	if rerr == nil {
		r.inflight.Add(1)
	}
	r.mu.Unlock()
	if rerr != nil {
		return res, rerr
	}
	defer r.release(run)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("check %s panicked: %v", run.ID(), p)
			r.log.Error("check panicked", "run_id", run.ID(), "panic", p, "stack", string(debug.Stack()))
			run.Abort(err)
			res = extractor.CheckResult{RunID: run.ID(), State: run.State()}
		}
	}()

	// Stop cancels a check like any executing run
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.baseCtx, cancel)
	defer stop()

	res, err = c.Check(ctx, run)
	r.log.Info("connectivity check finished", "run_id", run.ID(), "state", run.State(), "err", err)
	return res, err
}

// Busy reports whether any run is queued or executing.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active) > 0
}

func (r *Runner) execute(run *extractor.Run) {
	ctx := r.baseCtx
	log := r.log.With("run_id", run.ID())
	r.total.Add(1)
	r.hist.Record(ctx, r.event(history.EventRunStarted, run))

	defer r.release(run)
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("run %s panicked: %v", run.ID(), p)
			log.Error("run panicked", "panic", p, "stack", string(debug.Stack()))
			run.Abort(err)
			r.finishFailed(ctx, run, err)
			r.mu.Lock()
			fatal := r.onFatal
			r.mu.Unlock()
			if fatal != nil {
				fatal(err)
			}
		}
	}()

	records, err := r.exec.Execute(ctx, run)
	if err != nil {
		r.finishFailed(ctx, run, err)
		return
	}
	res := r.merger.Merge(ctx, records)
	run.SetMerge(res.Inserted, res.Skipped)
	r.succeeded.Add(1)
	r.mu.Lock()
	r.last = run
	r.lastOK = time.Now().UTC()
	r.mu.Unlock()
	metrics.ObserveRun(string(extractor.StatusCompleted), time.Since(run.StartedAt()).Seconds())
	r.hist.Record(ctx, r.event(history.EventRunCompleted, run))
	log.Info("run finished", "records", len(records), "inserted", res.Inserted,
		"replaced", res.Replaced, "skipped", res.Skipped)
}

func (r *Runner) finishFailed(ctx context.Context, run *extractor.Run, err error) {
	r.failed.Add(1)
	r.mu.Lock()
	r.last = run
	r.lastErr = err.Error()
	r.mu.Unlock()
	metrics.ObserveRun(string(extractor.StatusFailed), time.Since(run.StartedAt()).Seconds())
	r.hist.Record(ctx, r.event(history.EventRunFailed, run))
	r.log.Warn("run failed", "run_id", run.ID(), "kind", extractor.ErrorKind(err), "err", err)
}

// abandon fails a queued run that never started.
func (r *Runner) abandon(run *extractor.Run) {
	run.Abort(ErrStopped)
	r.total.Add(1)
	r.finishFailed(context.Background(), run, ErrStopped)
	r.release(run)
}

func (r *Runner) release(run *extractor.Run) {
	r.mu.Lock()
	delete(r.active, run.ID())
	r.mu.Unlock()
	<-r.slots
	r.inflight.Done()
}

func (r *Runner) event(t history.EventType, run *extractor.Run) history.Event {
	s := run.Summary()
	return history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Run: history.Run{
			ID:         s.ID,
			Trigger:    string(s.Trigger),
			State:      s.State.String(),
			Products:   s.Records,
			Inserted:   s.Inserted,
			Skipped:    s.Skipped,
			Error:      s.Error,
			ErrorKind:  s.ErrorKind,
			StartedAt:  s.StartedAt,
			DurationMS: s.DurationMS,
		},
	}
}

// Drain stops accepting runs and waits for queued and executing runs to
// finish or for ctx to end.
func (r *Runner) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.accepting = false
	n := len(r.active)
	r.mu.Unlock()
	if n > 0 {
		r.log.Info("draining runs", "in_flight", n)
	}
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain: %d run(s) still in flight: %w", r.running(), ctx.Err())
	}
}

// Stop cancels executing runs at their next step boundary and fails queued
// ones. It is safe to call more than once.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.accepting = false
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	r.cancel()
	close(r.stop)
	if started {
		<-r.loopDone
		return
	}
	for {
		select {
		case run := <-r.queue:
			r.abandon(run)
		default:
			return
		}
	}
}

func (r *Runner) running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Counters returns the run totals.
func (r *Runner) Counters() Counters {
	return Counters{Total: r.total.Load(), Successful: r.succeeded.Load(), Failed: r.failed.Load()}
}

// Stats returns counters plus the most recent outcome.
func (r *Runner) Stats() Stats {
	st := Stats{Counters: r.Counters()}
	r.mu.Lock()
	st.Running = len(r.active)
	last := r.last
	st.LastError = r.lastErr
	if !r.lastOK.IsZero() {
		t := r.lastOK
		st.LastExtraction = &t
	}
	r.mu.Unlock()
	if last != nil {
		s := last.Summary()
		st.LastRun = &s
	}
	return st
}

// Recent returns the retained run summaries, newest first.
func (r *Runner) Recent() []extractor.Summary {
	runs := r.recent.Values()
	slices.Reverse(runs)
	out := make([]extractor.Summary, 0, len(runs))
	for _, run := range runs {
		out = append(out, run.Summary())
	}
	return out
}

// Get returns the summary of a retained run.
func (r *Runner) Get(id string) (extractor.Summary, bool) {
	run, ok := r.recent.Peek(id)
	if !ok {
		return extractor.Summary{}, false
	}
	return run.Summary(), true
}
