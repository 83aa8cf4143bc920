package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mergepilot/pkg/decision"
	"mergepilot/pkg/pipeline"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
host:
  base_url: https://api.github.com
  owner: acme
  repo: widgets
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultRetryAttempts, cfg.Host.RetryAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Host.RetryBaseDelay)
	assert.Equal(t, DefaultPageSize, cfg.Host.PageSize)
	assert.Equal(t, "squash", cfg.Engine.DefaultStrategy)
	require.NotNil(t, cfg.Engine.PreferSquashForMultipleCommits)
	assert.True(t, *cfg.Engine.PreferSquashForMultipleCommits)
	require.NotNil(t, cfg.Engine.PreferRebaseForLinearHistory)
	assert.True(t, *cfg.Engine.PreferRebaseForLinearHistory)
	assert.Equal(t, "staging", cfg.Pipeline.Environment)
	assert.Equal(t, []string{"completed", "failed", "rollback_failed"}, cfg.Pipeline.NotifyOn)
	assert.Equal(t, DefaultDBPath, cfg.Storage.DBPath)
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("TEST_HOST_TOKEN", "tok-secret")
	path := writeConfig(t, `
host:
  base_url: https://api.github.com
  owner: acme
  repo: widgets
  token: ${TEST_HOST_TOKEN}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-secret", cfg.Host.Token)
}

func TestLoadFullDocument(t *testing.T) {
	path := writeConfig(t, `
host:
  base_url: https://api.github.com
  owner: acme
  repo: widgets
  retry_attempts: 5
engine:
  default_strategy: squash
  prefer_rebase_for_linear_history: true
  quality_threshold: 80
pipeline:
  environment: production
  notify_on: [failed]
  stream_status: true
  deploy_deadline: 5m
notifications:
  - name: ops
    url: https://hooks.example.com/ops
storage:
  db_path: /var/lib/mergepilot/state.db
metrics:
  prometheus_url: http://prometheus:9090
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Host.RetryAttempts)
	assert.Equal(t, "squash", cfg.Engine.DefaultStrategy)
	require.NotNil(t, cfg.Engine.PreferRebaseForLinearHistory)
	assert.True(t, *cfg.Engine.PreferRebaseForLinearHistory)
	assert.Equal(t, 80.0, cfg.Engine.QualityThreshold)
	assert.Equal(t, "production", cfg.Pipeline.Environment)
	assert.True(t, cfg.Pipeline.StreamStatus)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.DeployDeadline)
	assert.Equal(t, []pipeline.Phase{pipeline.PhaseFailed}, cfg.NotifyPhases())
	require.Len(t, cfg.Notifications, 1)
	assert.Equal(t, "ops", cfg.Notifications[0].Name)
}

// TestEngineSettingsDriveStrategySelection feeds a default-configured file
// through the same path the binary uses and checks the engine behaves per
// the documented strategy defaults.
func TestEngineSettingsDriveStrategySelection(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
host:
  base_url: https://api.github.com
  owner: acme
  repo: widgets
`))
	require.NoError(t, err)

	engine := decision.NewEngine(ptrTo(cfg.EngineSettings()))

	// A healthy two-commit PR squashes by default.
	result := engine.Evaluate(decision.MergeConditions{
		CIStatus:    "success",
		CommitCount: 2,
	})
	require.True(t, result.CanMerge)
	assert.Equal(t, decision.StrategySquash, result.Strategy)

	// Linear-history branches rebase by default.
	result = engine.Evaluate(decision.MergeConditions{
		CIStatus:             "success",
		CommitCount:          1,
		RequireLinearHistory: true,
	})
	require.True(t, result.CanMerge)
	assert.Equal(t, decision.StrategyRebase, result.Strategy)
}

func TestEngineSettingsKeepExplicitFalse(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
engine:
  default_strategy: merge
  prefer_squash_for_multiple_commits: false
`))
	require.NoError(t, err)

	settings := cfg.EngineSettings()
	assert.False(t, settings.PreferSquashForMultipleCommits, "an explicit false must survive defaulting")
	assert.True(t, settings.PreferRebaseForLinearHistory)

	engine := decision.NewEngine(&settings)
	result := engine.Evaluate(decision.MergeConditions{
		CIStatus:    "success",
		CommitCount: 2,
	})
	require.True(t, result.CanMerge)
	assert.Equal(t, decision.StrategyMerge, result.Strategy)
}

func ptrTo[T any](v T) *T { return &v }

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "missing owner",
			content: `
host:
  base_url: https://api.github.com
  repo: widgets
`,
		},
		{
			name: "bad strategy",
			content: `
engine:
  default_strategy: fast-forward
`,
		},
		{
			name: "threshold out of range",
			content: `
engine:
  quality_threshold: 150
`,
		},
		{
			name: "unknown notify phase",
			content: `
pipeline:
  notify_on: [exploded]
`,
		},
		{
			name: "channel without url",
			content: `
notifications:
  - name: ops
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}
