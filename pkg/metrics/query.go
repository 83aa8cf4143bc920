package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// DeploymentMetrics represents aggregated deployment counters for one
// environment.
type DeploymentMetrics struct {
	Environment string  `json:"environment"`
	Queued      int64   `json:"queued"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Rollbacks   int64   `json:"rollbacks"`
	SuccessRate float64 `json:"success_rate"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetDeploymentMetrics retrieves aggregated deployment counters for an
// environment, with the success rate computed over terminal outcomes.
func (q *QueryService) GetDeploymentMetrics(ctx context.Context, environment string) (*DeploymentMetrics, error) {
	metrics := &DeploymentMetrics{Environment: environment}

	var err error
	if metrics.Queued, err = q.sumPhase(ctx, environment, "queued"); err != nil {
		return nil, err
	}
	if metrics.Completed, err = q.sumPhase(ctx, environment, "completed"); err != nil {
		return nil, err
	}
	if metrics.Failed, err = q.sumPhase(ctx, environment, "failed"); err != nil {
		return nil, err
	}
	if metrics.Rollbacks, err = q.sumPhase(ctx, environment, "rollback_initiated"); err != nil {
		return nil, err
	}

	if total := metrics.Completed + metrics.Failed; total > 0 {
		metrics.SuccessRate = float64(metrics.Completed) / float64(total)
	}
	return metrics, nil
}

func (q *QueryService) sumPhase(ctx context.Context, environment, phase string) (int64, error) {
	query := fmt.Sprintf(`sum(mergepilot_deployment_phases_total{environment=%q, phase=%q})`, environment, phase)
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to query %s deployments: %w", phase, err)
	}

	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}

// GetMergesByStrategy retrieves merge counts broken down by strategy.
func (q *QueryService) GetMergesByStrategy(ctx context.Context) (map[string]int64, error) {
	result, _, err := q.queryAPI.Query(ctx, `sum by (strategy) (mergepilot_merges_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query merges by strategy: %w", err)
	}

	counts := make(map[string]int64)
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if strategy, ok := sample.Metric["strategy"]; ok {
				counts[string(strategy)] = int64(sample.Value)
			}
		}
	}
	return counts, nil
}

// GetTopBlockers retrieves blocker counts, most frequent first.
func (q *QueryService) GetTopBlockers(ctx context.Context) (map[string]int64, error) {
	result, _, err := q.queryAPI.Query(ctx, `sum by (blocker) (mergepilot_blockers_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query blockers: %w", err)
	}

	counts := make(map[string]int64)
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if blocker, ok := sample.Metric["blocker"]; ok {
				counts[string(blocker)] = int64(sample.Value)
			}
		}
	}
	return counts, nil
}
