package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/catalogd/internal/extractor"
	"github.com/loykin/catalogd/internal/health"
	"github.com/loykin/catalogd/internal/product"
	"github.com/loykin/catalogd/internal/runner"
	"github.com/loykin/catalogd/internal/store"
)

// gatedExec blocks every run until release is closed.
type gatedExec struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (g *gatedExec) Execute(ctx context.Context, _ *extractor.Run) ([]product.Record, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, nil
}

func (g *gatedExec) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeHealth struct{ status string }

func (f fakeHealth) Snapshot(context.Context) health.Snapshot {
	st := f.status
	if st == "" {
		st = health.StatusHealthy
	}
	return health.Snapshot{Status: st, App: "B2B Fashion Extractor", Version: "2.0.0", Products: 3, ActiveSessions: 1}
}

type fixture struct {
	h      http.Handler
	store  *store.Store
	runs   *runner.Runner
	exec   *gatedExec
	router *Router
}

func rec(ref, name, brand, category, price string) product.Record {
	r := product.Record{Reference: ref, Name: name, Brand: brand, Category: category, InStock: true}
	r.SetPrices(decimal.RequireFromString(price), decimal.NullDecimal{})
	return r
}

func setup(t *testing.T, base string, hs fakeHealth) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := store.New(store.PolicyReplace, nil, nil)
	st.Merge(context.Background(), []product.Record{
		rec("R-1", "Linen Dress", "Aurora", "Dresses", "89"),
		rec("R-2", "Denim Jacket", "Borealis", "Jackets", "120.5"),
		rec("R-3", "Silk Scarf", "Aurora", "Accessories", "25"),
	})
	ex := &gatedExec{release: make(chan struct{})}
	rn := runner.New(ex, st, nil, runner.Config{}, nil)
	rn.Start()
	t.Cleanup(func() {
		select {
		case <-ex.release:
		default:
			close(ex.release)
		}
		rn.Stop()
	})
	r := NewRouter(Deps{
		Runs:    rn,
		Catalog: st,
		Health:  hs,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }),
		Info:    Info{App: "B2B Fashion Extractor", Version: "2.0.0", TargetSite: "https://b2bfashion.online", HeadlessMode: true},
	}, base)
	return &fixture{h: r.Handler(), store: st, runs: rn, exec: ex, router: r}
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, sanitizeBase(c.in), "sanitizeBase(%q)", c.in)
	}
}

func TestProductsPagination(t *testing.T) {
	f := setup(t, "/api", fakeHealth{})

	w := doReq(t, f.h, http.MethodGet, "/api/products")
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[productsResp](t, w)
	assert.True(t, all.Success)
	assert.Equal(t, 3, all.Count)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, 1, all.Page)
	assert.Equal(t, 50, all.Limit)
	assert.Equal(t, 1, all.TotalPages)
	assert.Equal(t, "R-1", all.Data[0].Reference)

	w = doReq(t, f.h, http.MethodGet, "/api/products?page=2&limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	p2 := decode[productsResp](t, w)
	assert.Equal(t, 1, p2.Count)
	assert.Equal(t, 2, p2.TotalPages)
	assert.Equal(t, "R-3", p2.Data[0].Reference)
}

func TestProductsFilters(t *testing.T) {
	f := setup(t, "/api", fakeHealth{})

	resp := decode[productsResp](t, doReq(t, f.h, http.MethodGet, "/api/products?brand=aurora"))
	assert.Equal(t, 2, resp.Total)

	resp = decode[productsResp](t, doReq(t, f.h, http.MethodGet, "/api/products?search=denim"))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "R-2", resp.Data[0].Reference)

	resp = decode[productsResp](t, doReq(t, f.h, http.MethodGet, "/api/products?category=Shoes"))
	assert.Equal(t, 0, resp.Total)
	assert.NotNil(t, resp.Data)
}

func TestProductsBadParams(t *testing.T) {
	f := setup(t, "/api", fakeHealth{})
	for _, q := range []string{"page=0", "page=x", "limit=-1", "limit=abc"} {
		w := doReq(t, f.h, http.MethodGet, "/api/products?"+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestSearchSortOrder(t *testing.T) {
	f := setup(t, "/api", fakeHealth{})

	w := doReq(t, f.h, http.MethodGet, "/api/search?sort=price&order=desc")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[searchResp](t, w)
	require.Len(t, resp.Data, 3)
	assert.Equal(t, []string{"R-2", "R-1", "R-3"}, []string{resp.Data[0].Reference, resp.Data[1].Reference, resp.Data[2].Reference})
	assert.Equal(t, "desc", resp.Order)

	resp = decode[searchResp](t, doReq(t, f.h, http.MethodGet, "/api/search?q=aurora&sort=name"))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "R-1", resp.Data[0].Reference)
	assert.Equal(t, "R-3", resp.Data[1].Reference)

	// repeated identical queries return identical bodies
	a := doReq(t, f.h, http.MethodGet, "/api/search?sort=brand").Body.String()
	b := doReq(t, f.h, http.MethodGet, "/api/search?sort=brand").Body.String()
	assert.Equal(t, a, b)
}

func TestSearchRejectsUnknownSortAndOrder(t *testing.T) {
	f := setup(t, "/api", fakeHealth{})
	w := doReq(t, f.h, http.MethodGet, "/api/search?sort=color")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[errorResp](t, w).Error, "color")

	w = doReq(t, f.h, http.MethodGet, "/api/search?order=up")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExtractTwiceStartsOneRun(t *testing.T) {
	f := setup(t, "/api", fakeHealth{})

	first := decode[extractResp](t, doReq(t, f.h, http.MethodPost, "/api/extract"))
	second := decode[extractResp](t, doReq(t, f.h, http.MethodPost, "/api/extract"))

	assert.True(t, first.Success)
	assert.NotEmpty(t, first.RunID)
	assert.False(t, second.Success)
	assert.Equal(t, "already running", second.Message)

	require.Eventually(t, func() bool { return f.exec.Calls() == 1 }, 2*time.Second, 10*time.Millisecond)
	close(f.exec.release)
	require.Eventually(t, func() bool { return !f.runs.Busy() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.exec.Calls())

	w := doReq(t, f.h, http.MethodGet, "/api/runs/"+first.RunID)
	require.Equal(t, http.StatusOK, w.Code)
	run := decode[runResp](t, w)
	assert.Equal(t, extractor.TriggerAPI, run.Data.Trigger)
}

func TestExtractWhileDraining(t *testing.T) {
	f := setup(t, "/api", fakeHealth{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.runs.Drain(ctx))

	w := doReq(t, f.h, http.MethodPost, "/api/extract")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, decode[extractResp](t, w).Success)
}

func TestStatusAndHealth(t *testing.T) {
	f := setup(t, "/api", fakeHealth{})

	w := doReq(t, f.h, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[statusResp](t, w)
	assert.True(t, st.Success)
	assert.Equal(t, "B2B Fashion Extractor", st.Application.Name)
	assert.Equal(t, 3, st.Data.Products)
	assert.Equal(t, 1, st.Resources.ActiveSessions)
	assert.Equal(t, "https://b2bfashion.online", st.Configuration.TargetSite)
	assert.True(t, st.Configuration.HeadlessMode)

	w = doReq(t, f.h, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, health.StatusHealthy, decode[health.Snapshot](t, w).Status)

	down := setup(t, "/api", fakeHealth{status: health.StatusShuttingDown})
	w = doReq(t, down.h, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStats(t *testing.T) {
	f := setup(t, "/api", fakeHealth{})
	w := doReq(t, f.h, http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			TotalProducts int            `json:"totalProducts"`
			ByBrand       map[string]int `json:"byBrand"`
			AveragePrice  float64        `json:"averagePrice"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 3, body.Data.TotalProducts)
	assert.Equal(t, 2, body.Data.ByBrand["Aurora"])
	assert.InDelta(t, 78.17, body.Data.AveragePrice, 0.001)
}

func TestRunsEmptyAndUnknown(t *testing.T) {
	f := setup(t, "/api", fakeHealth{})
	w := doReq(t, f.h, http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"count":0,"data":[]}`, w.Body.String())

	w = doReq(t, f.h, http.MethodGet, "/api/runs/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotFoundListsEndpoints(t *testing.T) {
	f := setup(t, "/v1", fakeHealth{})
	w := doReq(t, f.h, http.MethodGet, "/v1/missing")
	require.Equal(t, http.StatusNotFound, w.Code)
	nf := decode[notFoundResp](t, w)
	assert.False(t, nf.Success)
	assert.Equal(t, "/v1/missing", nf.Path)
	assert.Contains(t, nf.AvailableEndpoints, "POST /v1/extract")
	assert.Contains(t, nf.AvailableEndpoints, "GET /v1/metrics")

	// routes are only mounted under the base path
	w = doReq(t, f.h, http.MethodGet, "/api/products")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBannerMetricsAndCORS(t *testing.T) {
	f := setup(t, "api/", fakeHealth{})

	for _, p := range []string{"/", "/api"} {
		w := doReq(t, f.h, http.MethodGet, p)
		require.Equal(t, http.StatusOK, w.Code, p)
		b := decode[bannerResp](t, w)
		assert.Equal(t, "2.0.0", b.Version)
		assert.Equal(t, f.router.Endpoints(), b.Endpoints)
	}

	w := doReq(t, f.h, http.MethodGet, "/api/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# metrics")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = doReq(t, f.h, http.MethodOptions, "/api/products")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Deps{Catalog: panicCatalog{}, Runs: nil, Health: fakeHealth{}}, "/api")
	w := doReq(t, r.Handler(), http.MethodGet, "/api/stats")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

type panicCatalog struct{}

func (panicCatalog) Query(store.Query) store.Page { panic(fmt.Errorf("boom")) }
func (panicCatalog) Stats() store.Stats           { panic(fmt.Errorf("boom")) }

// stubRuns answers with fixed results.
type stubRuns struct {
	triggerErr error
	check      extractor.CheckResult
	checkErr   error
	checks     int
}

func (s *stubRuns) Trigger(extractor.Trigger) (string, error) {
	if s.triggerErr != nil {
		return "", s.triggerErr
	}
	return "run-1", nil
}

func (s *stubRuns) Check(context.Context) (extractor.CheckResult, error) {
	s.checks++
	return s.check, s.checkErr
}

func (s *stubRuns) Stats() runner.Stats                  { return runner.Stats{} }
func (s *stubRuns) Recent() []extractor.Summary          { return nil }
func (s *stubRuns) Get(string) (extractor.Summary, bool) { return extractor.Summary{}, false }

func stubRouter(runs *stubRuns) http.Handler {
	gin.SetMode(gin.TestMode)
	return NewRouter(Deps{Runs: runs, Catalog: store.New(store.PolicyReplace, nil, nil), Health: fakeHealth{}}, "/api").Handler()
}

func TestExtractRefusalFollowsTriggerReason(t *testing.T) {
	// the run that held the slot may finish before the response is written
	w := doReq(t, stubRouter(&stubRuns{triggerErr: runner.ErrBusy}), http.MethodPost, "/api/extract")
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[extractResp](t, w)
	assert.False(t, res.Success)
	assert.Equal(t, "already running", res.Message)

	w = doReq(t, stubRouter(&stubRuns{triggerErr: runner.ErrDraining}), http.MethodPost, "/api/extract")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "shutting down", decode[extractResp](t, w).Message)
}

func TestConnectivityCheckReportsSteps(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	runs := &stubRuns{check: extractor.CheckResult{
		RunID:      "run-9",
		State:      extractor.StateClosed,
		Connection: extractor.StepResult{Success: true, URL: "https://b2b.test/", At: at},
		Login:      extractor.StepResult{Success: true, URL: "https://b2b.test/account", At: at},
	}}
	w := doReq(t, stubRouter(runs), http.MethodGet, "/api/test")
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[testResp](t, w)
	assert.True(t, res.Success)
	assert.Equal(t, "run-9", res.RunID)
	require.NotNil(t, res.Tests)
	assert.True(t, res.Tests.Connection.Success)
	assert.Equal(t, "https://b2b.test/account", res.Tests.Login.URL)
	assert.Equal(t, 1, runs.checks)
}

func TestConnectivityCheckFailure(t *testing.T) {
	runs := &stubRuns{
		check: extractor.CheckResult{
			RunID:      "run-3",
			Connection: extractor.StepResult{Success: true},
			Login:      extractor.StepResult{Error: "login rejected"},
		},
		checkErr: fmt.Errorf("login rejected"),
	}
	w := doReq(t, stubRouter(runs), http.MethodGet, "/api/test")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	res := decode[testResp](t, w)
	assert.False(t, res.Success)
	assert.Equal(t, "login rejected", res.Error)
	require.NotNil(t, res.Tests)
	assert.True(t, res.Tests.Connection.Success)
	assert.False(t, res.Tests.Login.Success)
}

func TestConnectivityCheckRefusals(t *testing.T) {
	f := setup(t, "/api", fakeHealth{})

	// the runner's executor cannot check connectivity
	assert.Equal(t, http.StatusNotImplemented, doReq(t, f.h, http.MethodGet, "/api/test").Code)

	w := doReq(t, stubRouter(&stubRuns{checkErr: runner.ErrBusy}), http.MethodGet, "/api/test")
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[testResp](t, w)
	assert.False(t, res.Success)
	assert.Equal(t, "already running", res.Message)

	w = doReq(t, stubRouter(&stubRuns{checkErr: runner.ErrDraining}), http.MethodGet, "/api/test")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, f.router.Endpoints(), "GET /api/test")
}
