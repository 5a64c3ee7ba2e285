// Package health computes the service health snapshot served by /status and
// logged by the periodic health tick.
package health

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/catalogd/internal/runner"
)

const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded" // the last run failed
	StatusShuttingDown = "shutting_down"
)

// Sessions reports the active session count.
type Sessions interface {
	ActiveCount() int
}

// Runs reports runner state.
type Runs interface {
	Stats() runner.Stats
}

// Products reports the catalog size.
type Products interface {
	Len() int
}

// Sources are the components a snapshot reads. Any may be nil.
type Sources struct {
	Sessions Sessions
	Runs     Runs
	Products Products
	NextRun  func() time.Time

	// ShuttingDown reports whether the process is stopping.
	ShuttingDown func() bool
}

// Memory is the process memory and CPU view.
type Memory struct {
	HeapAlloc  uint64  `json:"heapAlloc"`
	HeapSys    uint64  `json:"heapSys"`
	Sys        uint64  `json:"sys"`
	RSS        uint64  `json:"rss"`
	CPUPercent float64 `json:"cpuPercent"`
}

// Snapshot is a point-in-time view of the service.
type Snapshot struct {
	Status         string          `json:"status"`
	App            string          `json:"app"`
	Version        string          `json:"version"`
	Timestamp      time.Time       `json:"timestamp"`
	StartedAt      time.Time       `json:"startedAt"`
	Uptime         string          `json:"uptime"`
	UptimeSeconds  float64         `json:"uptimeSeconds"`
	ActiveSessions int             `json:"activeSessions"`
	IsRunning      bool            `json:"isRunning"`
	Runs           runner.Counters `json:"runs"`
	LastExtraction *time.Time      `json:"lastExtraction,omitempty"`
	LastError      string          `json:"lastError,omitempty"`
	Products       int             `json:"products"`
	NextRun        *time.Time      `json:"nextRun,omitempty"`
	Memory         Memory          `json:"memory"`
	Goroutines     int             `json:"goroutines"`
}

// Reporter builds snapshots for one process.
type Reporter struct {
	app     string
	version string
	src     Sources
	started time.Time
	proc    *process.Process
	log     *slog.Logger
}

func NewReporter(app, version string, src Sources, log *slog.Logger) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	r := &Reporter{
		app:     app,
		version: version,
		src:     src,
		started: time.Now().UTC(),
		log:     log.With("component", "health"),
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		r.proc = p
	} else {
		r.log.Debug("process handle unavailable", "err", err)
	}
	return r
}

// Snapshot never fails; unavailable figures are left zero.
func (r *Reporter) Snapshot(ctx context.Context) Snapshot {
	now := time.Now().UTC()
	up := now.Sub(r.started)
	s := Snapshot{
		Status:        StatusHealthy,
		App:           r.app,
		Version:       r.version,
		Timestamp:     now,
		StartedAt:     r.started,
		Uptime:        up.Truncate(time.Second).String(),
		UptimeSeconds: up.Seconds(),
		Goroutines:    runtime.NumGoroutine(),
	}
	if r.src.Sessions != nil {
		s.ActiveSessions = r.src.Sessions.ActiveCount()
	}
	if r.src.Runs != nil {
		st := r.src.Runs.Stats()
		s.Runs = st.Counters
		s.IsRunning = st.Running > 0
		s.LastExtraction = st.LastExtraction
		s.LastError = st.LastError
		if st.LastRun != nil && st.LastRun.Error != "" {
			s.Status = StatusDegraded
		}
	}
	if r.src.ShuttingDown != nil && r.src.ShuttingDown() {
		s.Status = StatusShuttingDown
	}
	if r.src.Products != nil {
		s.Products = r.src.Products.Len()
	}
	if r.src.NextRun != nil {
		if next := r.src.NextRun(); !next.IsZero() {
			next = next.UTC()
			s.NextRun = &next
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.Memory = Memory{HeapAlloc: ms.HeapAlloc, HeapSys: ms.HeapSys, Sys: ms.Sys}
	if r.proc != nil {
		if mi, err := r.proc.MemoryInfoWithContext(ctx); err == nil {
			s.Memory.RSS = mi.RSS
		}
		if cpu, err := r.proc.CPUPercentWithContext(ctx); err == nil {
			s.Memory.CPUPercent = cpu
		}
	}
	return s
}

// Log computes a snapshot and logs it.
func (r *Reporter) Log(ctx context.Context) Snapshot {
	s := r.Snapshot(ctx)
	r.log.Info("health",
		"status", s.Status,
		"uptime", s.Uptime,
		"active_sessions", s.ActiveSessions,
		"running", s.IsRunning,
		"runs_total", s.Runs.Total,
		"runs_ok", s.Runs.Successful,
		"runs_failed", s.Runs.Failed,
		"products", s.Products,
		"heap_mb", s.Memory.HeapAlloc/1024/1024,
		"rss_mb", s.Memory.RSS/1024/1024,
		"goroutines", s.Goroutines,
	)
	return s
}
