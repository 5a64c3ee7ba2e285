// Package lifecycle sequences service startup and shutdown.
//
// Startup order: runner, HTTP listener, scheduler, signal handlers.
// Shutdown order: scheduler, in-flight runs, browser sessions, listener.
// Every shutdown step is independent: a failure is logged and the next step
// runs anyway. The sequence runs once; a safety timer forces exit when it
// does not complete in time.
package lifecycle

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/catalogd/internal/server"
)

// Scheduler is the periodic task owner.
type Scheduler interface {
	Start() error
	Stop()
	OnFatal(fn func(error))
}

// Runs is the run executor.
type Runs interface {
	Start()
	Drain(ctx context.Context) error
	Stop()
	OnFatal(fn func(error))
}

// Sessions force-closes every browser session.
type Sessions interface {
	ReleaseAll()
}

// Components are the parts the orchestrator starts and stops. Scheduler and
// OnShutdown may be nil.
type Components struct {
	Handler   http.Handler
	Scheduler Scheduler
	Runs      Runs
	Sessions  Sessions
	// OnShutdown runs first when shutdown begins.
	OnShutdown func()
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration // whole sequence; default 10s
	DrainTimeout    time.Duration // in-flight runs; default 5s
	TLS             *tls.Config   // nil serves plain HTTP
}

type Orchestrator struct {
	cfg  Config
	c    Components
	log  *slog.Logger
	exit func(int)

	srv     *http.Server
	ln      net.Listener
	sigCh   chan os.Signal
	started atomic.Bool

	shutting atomic.Bool
	done     chan struct{}

	mu   sync.Mutex
	code int
}

func New(cfg Config, c Components, log *slog.Logger) *Orchestrator {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg:  cfg,
		c:    c,
		log:  log.With("component", "lifecycle"),
		exit: os.Exit,
		done: make(chan struct{}),
	}
}

// SetExit replaces os.Exit for the forced-exit path.
func (o *Orchestrator) SetExit(fn func(int)) { o.exit = fn }

// Start brings the service up. On error everything already started is
// shut down again.
func (o *Orchestrator) Start() error {
	if !o.started.CompareAndSwap(false, true) {
		return errors.New("already started")
	}
	o.c.Runs.OnFatal(o.Fatal)
	o.c.Runs.Start()

	ln, err := net.Listen("tcp", o.cfg.Addr)
	if err != nil {
		o.failStart()
		return fmt.Errorf("listen %s: %w", o.cfg.Addr, err)
	}
	if o.cfg.TLS != nil {
		ln = tls.NewListener(ln, o.cfg.TLS)
	}
	o.ln = ln
	o.srv = server.NewServer(o.cfg.Addr, o.c.Handler)
	go o.serve()
	o.log.Info("http listener started", "addr", ln.Addr().String())

	if s := o.c.Scheduler; s != nil {
		s.OnFatal(o.Fatal)
		if err := s.Start(); err != nil {
			o.failStart()
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	o.sigCh = make(chan os.Signal, 2)
	signal.Notify(o.sigCh, shutdownSignals...)
	go o.watchSignals()
	return nil
}

func (o *Orchestrator) failStart() {
	o.setCode(1)
	o.Shutdown("startup failed")
}

func (o *Orchestrator) serve() {
	defer func() {
		if p := recover(); p != nil {
			o.log.Error("listener panic", "panic", p, "stack", string(debug.Stack()))
			o.Fatal(fmt.Errorf("listener panic: %v", p))
		}
	}()
	if err := o.srv.Serve(o.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		o.Fatal(fmt.Errorf("serve: %w", err))
	}
}

func (o *Orchestrator) watchSignals() {
	select {
	case sig := <-o.sigCh:
		o.log.Info("signal received", "signal", sig.String())
		o.Shutdown("signal " + sig.String())
	case <-o.done:
	}
}

// Addr is the bound listener address, empty before Start.
func (o *Orchestrator) Addr() string {
	if o.ln == nil {
		return ""
	}
	return o.ln.Addr().String()
}

// Fatal records an uncaught error and shuts down with exit code 1.
func (o *Orchestrator) Fatal(err error) {
	o.log.Error("fatal error, shutting down", "err", err)
	o.setCode(1)
	go o.Shutdown("fatal")
}

func (o *Orchestrator) setCode(c int) {
	o.mu.Lock()
	if c > o.code {
		o.code = c
	}
	o.mu.Unlock()
}

// Done is closed when the shutdown sequence has finished.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// ExitCode is 0 after a clean shutdown and 1 after a fatal error.
func (o *Orchestrator) ExitCode() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.code
}

// Run starts the service and blocks until it has shut down, either on a
// signal, a fatal error or ctx ending. It returns the exit code.
func (o *Orchestrator) Run(ctx context.Context) int {
	if err := o.Start(); err != nil {
		o.log.Error("startup failed", "err", err)
		if o.shutting.Load() {
			<-o.done
		}
		return 1
	}
	select {
	case <-ctx.Done():
		o.Shutdown("context done")
	case <-o.done:
	}
	<-o.done
	return o.ExitCode()
}

// Shutdown runs the shutdown sequence. It reports false when a shutdown
// had already begun; that call does nothing.
func (o *Orchestrator) Shutdown(reason string) bool {
	if !o.shutting.CompareAndSwap(false, true) {
		return false
	}
	start := time.Now()
	o.log.Info("shutdown started", "reason", reason)
	force := time.AfterFunc(o.cfg.ShutdownTimeout, func() {
		o.log.Error("shutdown timed out, forcing exit", "timeout", o.cfg.ShutdownTimeout)
		o.exit(1)
	})
	defer force.Stop()
	if o.sigCh != nil {
		signal.Stop(o.sigCh)
	}

	if fn := o.c.OnShutdown; fn != nil {
		o.step("mark shutting down", func() error { fn(); return nil })
	}
	if s := o.c.Scheduler; s != nil {
		o.step("stop scheduler", func() error { s.Stop(); return nil })
	}
	o.step("drain runs", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.DrainTimeout)
		defer cancel()
		err := o.c.Runs.Drain(ctx)
		o.c.Runs.Stop()
		return err
	})
	o.step("release sessions", func() error { o.c.Sessions.ReleaseAll(); return nil })
	if o.srv != nil {
		o.step("close listener", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), o.remaining(start))
			defer cancel()
			if err := o.srv.Shutdown(ctx); err != nil {
				_ = o.srv.Close()
				return err
			}
			return nil
		})
	}

	o.log.Info("shutdown complete", "duration", time.Since(start))
	close(o.done)
	return true
}

func (o *Orchestrator) remaining(start time.Time) time.Duration {
	d := o.cfg.ShutdownTimeout - time.Since(start)
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

// step runs fn, logging its error or panic without stopping the sequence.
func (o *Orchestrator) step(name string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			o.log.Error("shutdown step panicked", "step", name, "panic", p)
		}
	}()
	if err := fn(); err != nil {
		o.log.Warn("shutdown step failed", "step", name, "err", err)
		return
	}
	o.log.Debug("shutdown step done", "step", name)
}
