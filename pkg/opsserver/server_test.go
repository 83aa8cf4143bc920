package opsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mergepilot/pkg/metrics"
	"mergepilot/pkg/persistence"
	"mergepilot/pkg/pipeline"
)

func newTestServer(t *testing.T) (*Server, *persistence.Store) {
	t.Helper()
	db, err := persistence.InitializeDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := persistence.NewStore(db)
	return NewServer(db, store, []string{"deploy", "smoke-test", "rollback"}, nil), store
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestDeployments(t *testing.T) {
	server, store := newTestServer(t)

	prNumber := 42
	phase := pipeline.PhaseCompleted
	_, err := store.Upsert(context.Background(), "dep-1", pipeline.StatusPatch{
		PRNumber: &prNumber,
		Phase:    &phase,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/deployments?pr=42", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []*pipeline.DeploymentStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, pipeline.PhaseCompleted, statuses[0].Phase)

	// Unknown PR returns an empty list, not an error.
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/deployments?pr=99", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestDeploymentsBadRequest(t *testing.T) {
	server, _ := newTestServer(t)

	for _, target := range []string{"/api/deployments", "/api/deployments?pr=zero", "/api/deployments?pr=-1"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestQueues(t *testing.T) {
	server, _ := newTestServer(t)

	queue := persistence.NewQueue[pipeline.DeployTask](server.db, "deploy")
	require.NoError(t, queue.Enqueue(context.Background(), pipeline.DeployTask{DeploymentID: "d1"}, 0))
	require.NoError(t, queue.Enqueue(context.Background(), pipeline.DeployTask{DeploymentID: "d2"}, 0))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queues", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var depths map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &depths))
	assert.Equal(t, 2, depths["deploy"])
	assert.Equal(t, 0, depths["rollback"])
}

// fakePrometheus answers instant-query requests with a single-sample vector
// whose value depends on the queried deployment phase.
func fakePrometheus(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		query := r.Form.Get("query")

		value := "0"
		switch {
		case strings.Contains(query, `phase="completed"`):
			value = "8"
		case strings.Contains(query, `phase="failed"`):
			value = "2"
		case strings.Contains(query, "mergepilot_merges_total"):
			value = "6"
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","data":{"resultType":"vector","result":[{"metric":{"strategy":"squash"},"value":[1693400000,%q]}]}}`, value)
	}))
}

func TestMetricsSummary(t *testing.T) {
	prom := fakePrometheus(t)
	t.Cleanup(prom.Close)
	query, err := metrics.NewQueryService(prom.URL)
	require.NoError(t, err)

	db, err := persistence.InitializeDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	server := NewServer(db, persistence.NewStore(db), nil, query)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics?environment=staging", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Deployments      metrics.DeploymentMetrics `json:"deployments"`
		MergesByStrategy map[string]int64          `json:"merges_by_strategy"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "staging", body.Deployments.Environment)
	assert.Equal(t, int64(8), body.Deployments.Completed)
	assert.Equal(t, int64(2), body.Deployments.Failed)
	assert.InDelta(t, 0.8, body.Deployments.SuccessRate, 0.001)
	assert.Equal(t, int64(6), body.MergesByStrategy["squash"])

	// Missing environment is a client error.
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsSummaryWithoutQueryService(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics?environment=staging", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t)

	for _, target := range []string{"/healthz", "/api/deployments?pr=1", "/api/queues", "/api/metrics?environment=staging"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, target)
	}
}
