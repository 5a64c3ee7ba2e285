package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/catalogd/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var receivedBody []byte
	var receivedURL string
	var receivedMethod string
	var contentType string

	// Create test server to mock OpenSearch
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"test","_index":"run-history","result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "run-history")
	event := history.Event{
		Type:       history.EventRunCompleted,
		OccurredAt: time.Now().UTC(),
		Run:        history.Run{ID: "os-run", Trigger: "api", State: "closed", Products: 3, Inserted: 3},
	}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	assert.Equal(t, http.MethodPut, receivedMethod)
	assert.Equal(t, "/run-history/_doc/os-run-run_completed", receivedURL)
	assert.Equal(t, "application/json", contentType)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(receivedBody, &doc))
	assert.Equal(t, "run_completed", doc["type"])
	run, ok := doc["run"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "os-run", run["id"])
	assert.EqualValues(t, 3, run["products"])
	_, hasErr := run["error"]
	assert.False(t, hasErr)
}

func TestOpenSearchSink_StatusErrors(t *testing.T) {
	sink := New("http://search.local:9200", "runs")
	httpmock.ActivateNonDefault(sink.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "http://search.local:9200/runs/_doc",
		httpmock.NewStringResponder(http.StatusBadRequest, `{"error":"mapper_parsing_exception"}`))

	err := sink.Send(context.Background(), history.Event{Type: history.EventRunFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestOpenSearchSink_TransportError(t *testing.T) {
	sink := New("http://search.local:9200", "runs")
	httpmock.ActivateNonDefault(sink.client)
	defer httpmock.DeactivateAndReset()
	// no responder registered: httpmock answers with a transport error

	err := sink.Send(context.Background(), history.Event{Type: history.EventRunStarted})
	assert.Error(t, err)
}

func TestOpenSearchSink_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := New(server.URL, "runs").Send(ctx, history.Event{Type: history.EventRunStarted})
	assert.Error(t, err)
}
