package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveEvaluation(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(registry)

	recorder.ObserveEvaluation(true, nil, 50*time.Millisecond)
	recorder.ObserveEvaluation(false, []string{"CI checks must succeed", "Merge conflicts must be resolved"}, 20*time.Millisecond)
	recorder.ObserveEvaluation(false, []string{"CI checks must succeed"}, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.evaluationsTotal.WithLabelValues("mergeable")))
	assert.Equal(t, 2.0, testutil.ToFloat64(recorder.evaluationsTotal.WithLabelValues("blocked")))
	assert.Equal(t, 2.0, testutil.ToFloat64(recorder.blockersTotal.WithLabelValues("CI checks must succeed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.blockersTotal.WithLabelValues("Merge conflicts must be resolved")))
}

func TestCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(registry)

	recorder.IncMerge("squash")
	recorder.IncMerge("squash")
	recorder.IncMerge("rebase")
	recorder.IncDeploymentPhase("completed", "staging")
	recorder.IncHostRetry("get_pull_request")
	recorder.IncNotification(true)
	recorder.IncNotification(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(recorder.mergesTotal.WithLabelValues("squash")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.mergesTotal.WithLabelValues("rebase")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.deploymentPhases.WithLabelValues("completed", "staging")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.hostRetriesTotal.WithLabelValues("get_pull_request")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.notificationsTotal.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.notificationsTotal.WithLabelValues("failed")))
}
