package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mana-sync-service/internal/metrics"
	"mana-sync-service/internal/store"
	"mana-sync-service/internal/sync"
)

type symbol struct {
	Code    string `json:"code"`
	English string `json:"english"`
}

func (s symbol) Key() string  { return s.Code }
func (s symbol) Content() any { return s }

type staticSource []sync.Record

func (s staticSource) Name() string { return "static" }

func (s staticSource) FetchCurrentRecords(context.Context) ([]sync.Record, error) {
	return s, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore, *sync.Manager) {
	t.Helper()
	st := store.NewMemoryStore()
	reg := prometheus.NewRegistry()

	o, err := sync.NewOrchestrator(sync.Options{
		Collection: "symbols",
		Source:     staticSource{symbol{"{W}", "one white mana"}, symbol{"{U}", "one blue mana"}},
		Store:      st,
		Metrics:    metrics.NewSyncMetrics(reg),
	})
	require.NoError(t, err)
	m, err := sync.NewManager(o)
	require.NoError(t, err)

	srv := httptest.NewServer(NewHandler(m, st, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Routes())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return srv, st, m
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthCheck(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestTriggerSyncWaitReturnsOutcome(t *testing.T) {
	srv, st, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/sync/trigger?collection=symbols&wait=true", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Outcomes []map[string]any `json:"outcomes"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Outcomes, 1)
	assert.Equal(t, "succeeded", body.Outcomes[0]["status"])
	assert.EqualValues(t, 2, body.Outcomes[0]["added"])

	local, err := st.LocalMap(context.Background(), "symbols")
	require.NoError(t, err)
	assert.Len(t, local, 2)
}

func TestTriggerSyncInBackground(t *testing.T) {
	srv, st, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/sync/trigger", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Eventually(t, func() bool {
		local, err := st.LocalMap(context.Background(), "symbols")
		return err == nil && len(local) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTriggerSyncUnknownCollection(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/sync/trigger?collection=planes", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusHistoryAndRecords(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/sync/trigger?wait=true", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/v1/sync/status")
	require.NoError(t, err)
	var status sync.ManagerStatus
	decode(t, resp, &status)
	assert.Equal(t, "idle", status.Status)
	require.Contains(t, status.Collections, "symbols")
	assert.Equal(t, sync.StateDone, status.Collections["symbols"].State)

	resp, err = http.Get(srv.URL + "/api/v1/sync/history?collection=symbols")
	require.NoError(t, err)
	var history struct {
		History []historyEntry `json:"history"`
	}
	decode(t, resp, &history)
	require.Len(t, history.History, 1)
	assert.Equal(t, "succeeded", history.History[0].Status)
	assert.Equal(t, 2, history.History[0].Added)
	assert.NotNil(t, history.History[0].CompletedAt)

	resp, err = http.Get(srv.URL + "/api/v1/collections/symbols/records?limit=1")
	require.NoError(t, err)
	var records struct {
		Collection string      `json:"collection"`
		Records    []store.Row `json:"records"`
	}
	decode(t, resp, &records)
	assert.Equal(t, "symbols", records.Collection)
	require.Len(t, records.Records, 1)
	assert.Equal(t, "{U}", records.Records[0].Key)
	assert.Len(t, records.Records[0].Fingerprint, 16)
}

func TestListRecordsRejectsBadPagination(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, q := range []string{"limit=0", "limit=abc", "limit=5000", "offset=-1"} {
		resp, err := http.Get(srv.URL + "/api/v1/collections/symbols/records?" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}

	resp, err := http.Get(srv.URL + "/api/v1/collections/planes/records")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/sync/trigger?wait=true", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTriggerSyncAfterShutdown(t *testing.T) {
	srv, _, m := newTestServer(t)
	require.NoError(t, m.Shutdown(context.Background()))

	resp, err := http.Post(srv.URL+"/api/v1/sync/trigger?collection=symbols", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
