package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/catalogd/internal/auth"
	"github.com/loykin/catalogd/internal/extractor"
	"github.com/loykin/catalogd/internal/health"
	"github.com/loykin/catalogd/internal/runner"
	"github.com/loykin/catalogd/internal/store"
)

// Runs is the run control surface the API needs.
type Runs interface {
	Trigger(trigger extractor.Trigger) (runID string, err error)
	Check(ctx context.Context) (extractor.CheckResult, error)
	Stats() runner.Stats
	Recent() []extractor.Summary
	Get(id string) (extractor.Summary, bool)
}

// Catalog is the read side of the product store.
type Catalog interface {
	Query(q store.Query) store.Page
	Stats() store.Stats
}

// Health produces snapshots for /health and /status.
type Health interface {
	Snapshot(ctx context.Context) health.Snapshot
}

// Info is static configuration echoed by /status.
type Info struct {
	App            string
	Version        string
	HasCredentials bool
	TargetSite     string
	HeadlessMode   bool
	MergePolicy    string
	TLS            bool
}

// Deps are the components served by the router. Metrics and Auth may be
// nil; a nil Auth leaves /extract open.
type Deps struct {
	Runs    Runs
	Catalog Catalog
	Health  Health
	Metrics http.Handler
	Auth    *auth.Middleware
	Info    Info
	Log     *slog.Logger
}

// Router exposes the catalog API.
// Endpoints, all under basePath:
//
//	GET  /products   query: page, limit, search, category, brand
//	GET  /search     query: q, category, brand, sort, order
//	POST /extract    starts a run unless one is in flight
//	GET  /test       connects and logs in without scraping
//	POST /auth/token exchanges client credentials for a bearer token
//	GET  /status     application, data, resources and configuration
//	GET  /health     health snapshot
//	GET  /stats      catalog aggregates
//	GET  /runs       recent runs, newest first
//	GET  /runs/:id   one run
//	GET  /metrics    Prometheus exposition when enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	deps     Deps
	basePath string
	log      *slog.Logger
}

func NewRouter(deps Deps, basePath string) *Router {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Router{deps: deps, basePath: sanitizeBase(basePath), log: log}
}

// Endpoints lists the mounted routes as "METHOD path".
func (r *Router) Endpoints() []string {
	out := []string{
		"GET " + r.basePath + "/products",
		"GET " + r.basePath + "/search",
		"POST " + r.basePath + "/extract",
		"GET " + r.basePath + "/test",
		"GET " + r.basePath + "/status",
		"GET " + r.basePath + "/health",
		"GET " + r.basePath + "/stats",
		"GET " + r.basePath + "/runs",
		"GET " + r.basePath + "/runs/:id",
	}
	if r.deps.Auth.Enabled() {
		out = append(out, "POST "+r.basePath+"/auth/token")
	}
	if r.deps.Metrics != nil {
		out = append(out, "GET "+r.basePath+"/metrics")
	}
	return out
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.CustomRecovery(r.recovered), requestLogger(r.log), cors())
	g.GET("/", r.handleBanner)
	group := g.Group(r.basePath)
	if r.basePath != "" {
		group.GET("", r.handleBanner)
	}
	group.GET("/products", r.handleProducts)
	group.GET("/search", r.handleSearch)
	group.POST("/extract", r.deps.Auth.GinAuth(), r.handleExtract)
	group.GET("/test", r.deps.Auth.GinAuth(), r.handleTest)
	if r.deps.Auth.Enabled() {
		group.POST("/auth/token", r.handleToken)
	}
	group.GET("/status", r.handleStatus)
	group.GET("/health", r.handleHealth)
	group.GET("/stats", r.handleStats)
	group.GET("/runs", r.handleRuns)
	group.GET("/runs/:id", r.handleRun)
	if r.deps.Metrics != nil {
		group.GET("/metrics", gin.WrapH(r.deps.Metrics))
	}
	g.NoRoute(r.handleNotFound)
	return g
}

// NewServer wraps h in an http.Server with the service timeouts. The
// caller owns Serve and Shutdown.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (r *Router) recovered(c *gin.Context, err any) {
	r.log.Error("handler panic", "path", c.Request.URL.Path, "panic", err)
	writeJSON(c, http.StatusInternalServerError, errorResp{Error: "internal error"})
	c.Abort()
}
