package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/catalogd/internal/auth"
	"github.com/loykin/catalogd/internal/extractor"
	"github.com/loykin/catalogd/internal/health"
	"github.com/loykin/catalogd/internal/product"
	"github.com/loykin/catalogd/internal/runner"
	"github.com/loykin/catalogd/internal/store"
)

type errorResp struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type productsResp struct {
	Success        bool             `json:"success"`
	Count          int              `json:"count"`
	Total          int              `json:"total"`
	Page           int              `json:"page"`
	Limit          int              `json:"limit"`
	TotalPages     int              `json:"totalPages"`
	LastExtraction *time.Time       `json:"lastExtraction"`
	Data           []product.Record `json:"data"`
}

type searchResp struct {
	Success bool             `json:"success"`
	Count   int              `json:"count"`
	Query   string           `json:"query"`
	Sort    string           `json:"sort,omitempty"`
	Order   string           `json:"order"`
	Data    []product.Record `json:"data"`
}

type extractResp struct {
	Success           bool      `json:"success"`
	Message           string    `json:"message"`
	RunID             string    `json:"runId,omitempty"`
	ActiveExtractions int       `json:"activeExtractions,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

type testSteps struct {
	Connection extractor.StepResult `json:"connection"`
	Login      extractor.StepResult `json:"login"`
}

type testResp struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message,omitempty"`
	Error     string     `json:"error,omitempty"`
	RunID     string     `json:"runId,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Tests     *testSteps `json:"tests,omitempty"`
}

type application struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	StartTime time.Time `json:"startTime"`
	Uptime    string    `json:"uptime"`
}

type statusData struct {
	Products        int             `json:"products"`
	IsRunning       bool            `json:"isRunning"`
	LastExtraction  *time.Time      `json:"lastExtraction"`
	LastError       string          `json:"lastError,omitempty"`
	NextRun         *time.Time      `json:"nextRun,omitempty"`
	ExtractionStats runner.Counters `json:"extractionStats"`
}

type resources struct {
	ActiveSessions    int           `json:"activeSessions"`
	ActiveExtractions int           `json:"activeExtractions"`
	Goroutines        int           `json:"goroutines"`
	Memory            health.Memory `json:"memory"`
}

type configuration struct {
	HasCredentials bool   `json:"hasCredentials"`
	TargetSite     string `json:"targetSite"`
	HeadlessMode   bool   `json:"headlessMode"`
	MergePolicy    string `json:"mergePolicy,omitempty"`
	AuthRequired   bool   `json:"authRequired"`
	TLS            bool   `json:"tls"`
}

type statusResp struct {
	Success       bool          `json:"success"`
	Status        string        `json:"status"`
	Application   application   `json:"application"`
	Data          statusData    `json:"data"`
	Resources     resources     `json:"resources"`
	Configuration configuration `json:"configuration"`
}

type statsData struct {
	store.Stats
	LastExtraction *time.Time      `json:"lastExtraction"`
	Extractions    runner.Counters `json:"extractions"`
}

type statsResp struct {
	Success bool      `json:"success"`
	Data    statsData `json:"data"`
}

type runsResp struct {
	Success bool                `json:"success"`
	Count   int                 `json:"count"`
	Data    []extractor.Summary `json:"data"`
}

type runResp struct {
	Success bool              `json:"success"`
	Data    extractor.Summary `json:"data"`
}

type bannerResp struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}

type notFoundResp struct {
	Success            bool     `json:"success"`
	Error              string   `json:"error"`
	Path               string   `json:"path"`
	AvailableEndpoints []string `json:"availableEndpoints"`
}

func filterFrom(c *gin.Context, search string) store.Filter {
	return store.Filter{
		Search:   strings.TrimSpace(search),
		Category: strings.TrimSpace(c.Query("category")),
		Brand:    strings.TrimSpace(c.Query("brand")),
	}
}

func (r *Router) handleProducts(c *gin.Context) {
	page, ok := intQuery(c, "page", 1)
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "page must be a positive integer"})
		return
	}
	limit, ok := intQuery(c, "limit", 50)
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
		return
	}
	res := r.deps.Catalog.Query(store.Query{
		Filter: filterFrom(c, c.Query("search")),
		Page:   page,
		Limit:  limit,
	})
	writeJSON(c, http.StatusOK, productsResp{
		Success:        true,
		Count:          len(res.Items),
		Total:          res.Total,
		Page:           res.Page,
		Limit:          res.Limit,
		TotalPages:     res.TotalPages,
		LastExtraction: r.deps.Runs.Stats().LastExtraction,
		Data:           res.Items,
	})
}

func (r *Router) handleSearch(c *gin.Context) {
	sort := strings.TrimSpace(c.Query("sort"))
	if sort != "" && !store.ValidSort(sort) {
		writeJSON(c, http.StatusBadRequest, errorResp{
			Error: "unknown sort field " + sort + "; use one of " + strings.Join(store.SortFields(), ", "),
		})
		return
	}
	order := strings.ToLower(strings.TrimSpace(c.DefaultQuery("order", "asc")))
	if order != "asc" && order != "desc" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "order must be asc or desc"})
		return
	}
	q := c.Query("q")
	res := r.deps.Catalog.Query(store.Query{
		Filter: filterFrom(c, q),
		Sort:   sort,
		Desc:   order == "desc",
	})
	writeJSON(c, http.StatusOK, searchResp{
		Success: true,
		Count:   len(res.Items),
		Query:   q,
		Sort:    sort,
		Order:   order,
		Data:    res.Items,
	})
}

func (r *Router) handleExtract(c *gin.Context) {
	now := time.Now().UTC()
	id, err := r.deps.Runs.Trigger(extractor.TriggerAPI)
	switch {
	case err == nil:
		r.log.Info("extraction triggered", "run_id", id)
		writeJSON(c, http.StatusOK, extractResp{Success: true, Message: "extraction started", RunID: id, Timestamp: now})
	case errors.Is(err, runner.ErrBusy):
		writeJSON(c, http.StatusOK, extractResp{
			Success:           false,
			Message:           err.Error(),
			ActiveExtractions: r.deps.Runs.Stats().Running,
			Timestamp:         now,
		})
	default:
		writeJSON(c, http.StatusServiceUnavailable, extractResp{Success: false, Message: err.Error(), Timestamp: now})
	}
}

// handleTest answers once the check is over; it can take as long as a
// connect plus a login.
func (r *Router) handleTest(c *gin.Context) {
	res, err := r.deps.Runs.Check(c.Request.Context())
	now := time.Now().UTC()
	switch {
	case err == nil:
		writeJSON(c, http.StatusOK, testResp{
			Success:   true,
			RunID:     res.RunID,
			Timestamp: now,
			Tests:     &testSteps{Connection: res.Connection, Login: res.Login},
		})
	case errors.Is(err, runner.ErrBusy):
		writeJSON(c, http.StatusOK, testResp{Success: false, Message: err.Error(), Timestamp: now})
	case errors.Is(err, runner.ErrDraining):
		writeJSON(c, http.StatusServiceUnavailable, testResp{Success: false, Message: err.Error(), Timestamp: now})
	case errors.Is(err, runner.ErrNoCheck):
		writeJSON(c, http.StatusNotImplemented, testResp{Success: false, Error: err.Error(), Timestamp: now})
	default:
		r.log.Warn("connectivity check failed", "run_id", res.RunID, "err", err)
		writeJSON(c, http.StatusInternalServerError, testResp{
			Success:   false,
			Error:     err.Error(),
			RunID:     res.RunID,
			Timestamp: now,
			Tests:     &testSteps{Connection: res.Connection, Login: res.Login},
		})
	}
}

func (r *Router) handleStatus(c *gin.Context) {
	snap := r.deps.Health.Snapshot(c.Request.Context())
	info := r.deps.Info
	writeJSON(c, http.StatusOK, statusResp{
		Success: true,
		Status:  snap.Status,
		Application: application{
			Name:      snap.App,
			Version:   snap.Version,
			StartTime: snap.StartedAt,
			Uptime:    snap.Uptime,
		},
		Data: statusData{
			Products:        snap.Products,
			IsRunning:       snap.IsRunning,
			LastExtraction:  snap.LastExtraction,
			LastError:       snap.LastError,
			NextRun:         snap.NextRun,
			ExtractionStats: snap.Runs,
		},
		Resources: resources{
			ActiveSessions:    snap.ActiveSessions,
			ActiveExtractions: r.deps.Runs.Stats().Running,
			Goroutines:        snap.Goroutines,
			Memory:            snap.Memory,
		},
		Configuration: configuration{
			HasCredentials: info.HasCredentials,
			TargetSite:     info.TargetSite,
			HeadlessMode:   info.HeadlessMode,
			MergePolicy:    info.MergePolicy,
			AuthRequired:   r.deps.Auth.Enabled(),
			TLS:            info.TLS,
		},
	})
}

func (r *Router) handleHealth(c *gin.Context) {
	snap := r.deps.Health.Snapshot(c.Request.Context())
	code := http.StatusOK
	if snap.Status == health.StatusShuttingDown {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, snap)
}

func (r *Router) handleStats(c *gin.Context) {
	rs := r.deps.Runs.Stats()
	writeJSON(c, http.StatusOK, statsResp{
		Success: true,
		Data: statsData{
			Stats:          r.deps.Catalog.Stats(),
			LastExtraction: rs.LastExtraction,
			Extractions:    rs.Counters,
		},
	})
}

func (r *Router) handleRuns(c *gin.Context) {
	runs := r.deps.Runs.Recent()
	if runs == nil {
		runs = []extractor.Summary{}
	}
	writeJSON(c, http.StatusOK, runsResp{Success: true, Count: len(runs), Data: runs})
}

func (r *Router) handleRun(c *gin.Context) {
	id := c.Param("id")
	run, ok := r.deps.Runs.Get(id)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "run not found: " + id})
		return
	}
	writeJSON(c, http.StatusOK, runResp{Success: true, Data: run})
}

func (r *Router) handleBanner(c *gin.Context) {
	writeJSON(c, http.StatusOK, bannerResp{
		Name:      r.deps.Info.App,
		Version:   r.deps.Info.Version,
		Endpoints: r.Endpoints(),
	})
}

func (r *Router) handleNotFound(c *gin.Context) {
	writeJSON(c, http.StatusNotFound, notFoundResp{
		Error:              "endpoint not found",
		Path:               c.Request.URL.Path,
		AvailableEndpoints: r.Endpoints(),
	})
}

type tokenResp struct {
	Success bool `json:"success"`
	*auth.Token
}

func (r *Router) handleToken(c *gin.Context) {
	res, err := r.deps.Auth.Login(c.Request)
	if err != nil || !res.Success {
		writeJSON(c, http.StatusUnauthorized, errorResp{Error: "invalid client credentials"})
		return
	}
	r.log.Info("token issued", "client", res.ClientID, "expires", res.Token.ExpiresAt)
	writeJSON(c, http.StatusOK, tokenResp{Success: true, Token: res.Token})
}
