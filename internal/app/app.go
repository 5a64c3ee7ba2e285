// Package app builds the application context: every long-lived component,
// created once from the configuration and handed to the code that needs it.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/catalogd/internal/auth"
	"github.com/loykin/catalogd/internal/config"
	"github.com/loykin/catalogd/internal/extractor"
	"github.com/loykin/catalogd/internal/health"
	"github.com/loykin/catalogd/internal/history"
	hfactory "github.com/loykin/catalogd/internal/history/factory"
	"github.com/loykin/catalogd/internal/metrics"
	"github.com/loykin/catalogd/internal/runner"
	"github.com/loykin/catalogd/internal/scheduler"
	"github.com/loykin/catalogd/internal/server"
	"github.com/loykin/catalogd/internal/session"
	"github.com/loykin/catalogd/internal/store"
	sfactory "github.com/loykin/catalogd/internal/store/factory"
	tlsutil "github.com/loykin/catalogd/internal/tls"
)

// Options override pieces of the wiring, mostly for tests.
type Options struct {
	// Launcher replaces the Chromium launcher built from [browser].
	Launcher session.Launcher
	// Registerer receives the metrics; nil uses the default registry.
	Registerer prometheus.Registerer
	// Sinks are added to the history sinks built from [history].
	Sinks []history.Sink
	// WithoutScheduler skips the periodic tasks even when enabled.
	WithoutScheduler bool
}

// App is the application context.
type App struct {
	Config    config.Config
	Log       *slog.Logger
	Sessions  *session.Manager
	Extractor *extractor.Extractor
	Store     *store.Store
	History   *history.Recorder
	Runner    *runner.Runner
	Health    *health.Reporter
	Scheduler *scheduler.Scheduler // nil when scheduling is off
	Router    *server.Router
	TLS       *tls.Config // nil serves plain HTTP

	shuttingDown atomic.Bool
}

// New wires the components and hydrates the store from its backend. Nothing
// is started.
func New(ctx context.Context, cfg config.Config, log *slog.Logger, opts Options) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{Config: cfg, Log: log}

	if cfg.Metrics.Enabled {
		reg := opts.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		if err := metrics.Register(reg); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	tlsCfg, err := tlsutil.Setup(cfg.Server.TLS)
	if err != nil {
		return nil, fmt.Errorf("server tls: %w", err)
	}
	a.TLS = tlsCfg

	policy, err := store.ParsePolicy(cfg.Store.MergePolicy)
	if err != nil {
		return nil, err
	}
	var backend store.Backend
	if cfg.Store.DSN != "" {
		backend, err = sfactory.NewFromDSN(cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}
	a.Store = store.New(policy, backend, log)
	if err := a.Store.Load(ctx); err != nil {
		_ = a.Store.Close()
		return nil, err
	}

	a.History = history.NewRecorder(log, cfg.History.SendTimeout, opts.Sinks...)
	for _, dsn := range cfg.History.DSNs {
		sink, err := hfactory.NewSinkFromDSN(dsn)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("history sink %q: %w", dsn, err)
		}
		a.History.Add(sink)
	}

	launcher := opts.Launcher
	if launcher == nil {
		b := cfg.Browser
		launcher = session.RodLauncher{
			Headless:         b.Headless,
			Bin:              b.Bin,
			NoSandbox:        b.NoSandbox,
			UserAgent:        b.UserAgent,
			ViewportWidth:    b.ViewportWidth,
			ViewportHeight:   b.ViewportHeight,
			BlockedResources: b.BlockedResources,
			CloseTimeout:     b.CloseTimeout,
		}
	}
	a.Sessions = session.NewManager(launcher, session.Config{
		MaxSessions:      cfg.Browser.MaxSessions,
		LaunchRetries:    cfg.Browser.LaunchRetries,
		RetryInterval:    cfg.Browser.LaunchRetryInterval,
		LivenessInterval: cfg.Browser.LivenessInterval,
	}, log)

	a.Extractor = extractor.New(a.Sessions, extractor.Config{
		BaseURL:     cfg.Site.BaseURL,
		LoginURL:    cfg.Site.LoginURL(),
		CatalogURL:  cfg.Site.CatalogURL(),
		Username:    cfg.Site.Username,
		Password:    cfg.Site.Password,
		StepTimeout: cfg.Extract.StepTimeout,
		WaitTimeout: cfg.Extract.WaitTimeout,
		Retries:     cfg.Extract.StepRetries,
		RetryDelay:  cfg.Extract.RetryDelay,
	}, log)

	a.Runner = runner.New(a.Extractor, a.Store, a.History, runner.Config{
		Concurrency: cfg.Extract.Concurrency,
		RecentRuns:  cfg.Extract.RecentRuns,
	}, log)

	src := health.Sources{
		Sessions:     a.Sessions,
		Runs:         a.Runner,
		Products:     a.Store,
		ShuttingDown: a.ShuttingDown,
		NextRun:      a.nextRun,
	}
	a.Health = health.NewReporter(config.AppName, config.AppVersion, src, log)

	if cfg.Schedule.Enabled && !opts.WithoutScheduler {
		loc, err := scheduler.LoadLocation(cfg.Schedule.Timezone)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Scheduler, err = scheduler.New(scheduler.Config{
			ExtractSchedule: cfg.Schedule.ExtractCron,
			HealthSchedule:  cfg.Schedule.HealthCron,
			Location:        loc,
			StopTimeout:     cfg.Schedule.StopTimeout,
		}, a.Runner, a.Health, log)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	deps := server.Deps{
		Runs:    a.Runner,
		Catalog: a.Store,
		Health:  a.Health,
		Info: server.Info{
			App:            config.AppName,
			Version:        config.AppVersion,
			HasCredentials: cfg.Site.Username != "" && cfg.Site.Password != "",
			TargetSite:     cfg.Site.BaseURL,
			HeadlessMode:   cfg.Browser.Headless,
			MergePolicy:    string(policy),
			TLS:            a.TLS != nil,
		},
		Log: log,
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.Handler()
	}
	if cfg.Server.Auth.Enabled {
		svc, err := auth.NewService(cfg.Server.Auth)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("server auth: %w", err)
		}
		deps.Auth = auth.NewMiddleware(svc)
	}
	a.Router = server.NewRouter(deps, cfg.Server.BasePath)
	return a, nil
}

// SetShuttingDown flips the health status to shutting_down.
func (a *App) SetShuttingDown() { a.shuttingDown.Store(true) }

func (a *App) ShuttingDown() bool { return a.shuttingDown.Load() }

// RunOnce executes a single manual run in-process and waits for it.
func (a *App) RunOnce(ctx context.Context) (extractor.Summary, error) {
	a.Runner.Start()
	defer a.Runner.Stop()
	id, err := a.Runner.Trigger(extractor.TriggerManual)
	if err != nil {
		return extractor.Summary{}, fmt.Errorf("runner refused the run: %w", err)
	}
	if err := a.Runner.Drain(ctx); err != nil {
		return extractor.Summary{}, err
	}
	sum, _ := a.Runner.Get(id)
	if sum.Status == extractor.StatusFailed {
		return sum, fmt.Errorf("run %s failed: %s", sum.ID, sum.Error)
	}
	return sum, nil
}

// Check runs one connectivity check in-process.
func (a *App) Check(ctx context.Context) (extractor.CheckResult, error) {
	return a.Runner.Check(ctx)
}

// Close releases the sessions, the store backend and the history sinks.
func (a *App) Close() error {
	var errs []error
	if a.Sessions != nil {
		a.Sessions.ReleaseAll()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) nextRun() time.Time {
	if a.Scheduler == nil {
		return time.Time{}
	}
	return a.Scheduler.NextRun()
}
