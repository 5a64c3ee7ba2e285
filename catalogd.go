// Package catalogd embeds the B2B fashion catalog extractor: a headless
// browser pipeline that logs into a catalog site, scrapes the product listing
// into a deduplicated store and serves it over a JSON API.
package catalogd

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/loykin/catalogd/internal/app"
	"github.com/loykin/catalogd/internal/config"
	"github.com/loykin/catalogd/internal/extractor"
	"github.com/loykin/catalogd/internal/lifecycle"
	"github.com/loykin/catalogd/internal/metrics"
	"github.com/loykin/catalogd/internal/product"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Options = app.Options

// App is the wired application context.
type App = app.App

type Product = product.Record

type RunSummary = extractor.Summary

type Orchestrator = lifecycle.Orchestrator

func DefaultConfig() Config { return config.Default() }

// LoadConfig reads the TOML file at path (optional), dotenv files and the
// environment, then validates the result.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// New wires an App from cfg without starting anything.
func New(ctx context.Context, cfg Config, log *slog.Logger, opts Options) (*App, error) {
	return app.New(ctx, cfg, log, opts)
}

// Orchestrate prepares the startup and shutdown sequence for a.
func Orchestrate(a *App) *Orchestrator {
	comps := lifecycle.Components{
		Handler:    a.Router.Handler(),
		Runs:       a.Runner,
		Sessions:   a.Sessions,
		OnShutdown: a.SetShuttingDown,
	}
	if a.Scheduler != nil {
		comps.Scheduler = a.Scheduler
	}
	cfg := a.Config
	return lifecycle.New(lifecycle.Config{
		Addr:            cfg.Server.Addr(),
		ShutdownTimeout: cfg.Shutdown.Timeout,
		DrainTimeout:    cfg.Shutdown.DrainTimeout,
		TLS:             a.TLS,
	}, comps, a.Log)
}

// Serve runs a until a signal, a fatal error or ctx ends, and returns the
// process exit code.
func Serve(ctx context.Context, a *App) int { return Orchestrate(a).Run(ctx) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ParsePrice reads a display price such as "€1.299,00" or "$29.99".
func ParsePrice(s string) (decimal.Decimal, bool) { return product.ParsePrice(s) }
