package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	// idempotent: calling again should be no-op
	require.NoError(t, Register(reg))
	assert.True(t, Enabled())

	ObserveRun("completed", 1.5)
	ObserveRun("failed", 0.2)
	IncStepRetry("connect")
	IncRunError("connection")
	SetActiveSessions(1)
	IncLaunchFailure()
	SetProducts(3)
	AddMerge(2, 1, 0)
	IncBackendError()
	IncSchedulerTick("extract", "skipped")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	wantNames := map[string]bool{
		"catalogd_extract_runs_total":             false,
		"catalogd_extract_run_duration_seconds":   false,
		"catalogd_extract_step_retries_total":     false,
		"catalogd_extract_run_errors_total":       false,
		"catalogd_sessions_active":                false,
		"catalogd_sessions_launch_failures_total": false,
		"catalogd_store_products":                 false,
		"catalogd_store_merge_total":              false,
		"catalogd_store_backend_errors_total":     false,
		"catalogd_scheduler_ticks_total":          false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}

	ts := httptest.NewServer(Handler())
	defer ts.Close()
	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), "catalogd_store_products 3"))
}
