package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStubQueryService backs a QueryService with a fake Prometheus instant
// query endpoint; answer maps each PromQL query to one sample.
func newStubQueryService(t *testing.T, answer func(query string) (labels map[string]string, value string)) *QueryService {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		labels, value := answer(r.Form.Get("query"))
		if labels == nil {
			labels = map[string]string{}
		}
		encoded, err := json.Marshal(labels)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","data":{"resultType":"vector","result":[{"metric":%s,"value":[1693400000,%q]}]}}`,
			encoded, value)
	}))
	t.Cleanup(srv.Close)

	service, err := NewQueryService(srv.URL)
	require.NoError(t, err)
	return service
}

func TestGetDeploymentMetrics(t *testing.T) {
	service := newStubQueryService(t, func(query string) (map[string]string, string) {
		assert.Contains(t, query, `environment="production"`)
		switch {
		case strings.Contains(query, `phase="queued"`):
			return nil, "10"
		case strings.Contains(query, `phase="completed"`):
			return nil, "6"
		case strings.Contains(query, `phase="failed"`):
			return nil, "2"
		case strings.Contains(query, `phase="rollback_initiated"`):
			return nil, "1"
		default:
			t.Errorf("unexpected query: %s", query)
			return nil, "0"
		}
	})

	metrics, err := service.GetDeploymentMetrics(context.Background(), "production")

	require.NoError(t, err)
	assert.Equal(t, int64(10), metrics.Queued)
	assert.Equal(t, int64(6), metrics.Completed)
	assert.Equal(t, int64(2), metrics.Failed)
	assert.Equal(t, int64(1), metrics.Rollbacks)
	assert.InDelta(t, 0.75, metrics.SuccessRate, 0.001)
}

func TestGetMergesByStrategy(t *testing.T) {
	service := newStubQueryService(t, func(query string) (map[string]string, string) {
		assert.Contains(t, query, "mergepilot_merges_total")
		return map[string]string{"strategy": "rebase"}, "4"
	})

	counts, err := service.GetMergesByStrategy(context.Background())

	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"rebase": 4}, counts)
}
