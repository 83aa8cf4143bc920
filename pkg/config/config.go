// Package config provides configuration loading, validation, and defaults
// for the merge orchestration system.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"mergepilot/pkg/decision"
	"mergepilot/pkg/pipeline"
)

// Defaults applied when the file leaves a value unset.
const (
	DefaultEnvironment   = "staging"
	DefaultStrategy      = "squash"
	DefaultRetryAttempts = 3
	DefaultPageSize      = 100
	DefaultDBPath        = "mergepilot.db"
	DefaultEventLogDir   = "logs"
)

// HostConfig configures the VCS host API client.
type HostConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Owner          string        `yaml:"owner"`
	Repo           string        `yaml:"repo"`
	Token          string        `yaml:"token"` // supports ${ENV_VAR} expansion
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
	PageSize       int           `yaml:"page_size"`
}

// EngineConfig configures merge decision defaults. The prefer flags are
// pointers so an explicit `false` in the file survives defaulting; unset
// means true.
type EngineConfig struct {
	DefaultStrategy                string  `yaml:"default_strategy"`
	PreferSquashForMultipleCommits *bool   `yaml:"prefer_squash_for_multiple_commits"`
	PreferRebaseForLinearHistory   *bool   `yaml:"prefer_rebase_for_linear_history"`
	QualityThreshold               float64 `yaml:"quality_threshold"`
}

// PipelineConfig configures the deployment pipeline.
type PipelineConfig struct {
	Environment      string        `yaml:"environment"`
	NotifyOn         []string      `yaml:"notify_on"`
	StreamStatus     bool          `yaml:"stream_status"`
	DeployDeadline   time.Duration `yaml:"deploy_deadline"`
	SmokeDeadline    time.Duration `yaml:"smoke_deadline"`
	RollbackDeadline time.Duration `yaml:"rollback_deadline"`
}

// StorageConfig configures persistence paths.
type StorageConfig struct {
	DBPath      string `yaml:"db_path"`
	EventLogDir string `yaml:"event_log_dir"`
}

// MetricsConfig configures the Prometheus integration.
type MetricsConfig struct {
	PrometheusURL string `yaml:"prometheus_url"`
}

// Config is the root configuration document.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Config struct {
	Host          HostConfig         `yaml:"host"`
	Engine        EngineConfig       `yaml:"engine"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Notifications []pipeline.Channel `yaml:"notifications"`
	Storage       StorageConfig      `yaml:"storage"`
	Metrics       MetricsConfig      `yaml:"metrics"`
}

// Load reads, expands, and validates a YAML config file. Environment
// variable references like ${GITHUB_TOKEN} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Host.RetryAttempts <= 0 {
		c.Host.RetryAttempts = DefaultRetryAttempts
	}
	if c.Host.RetryBaseDelay <= 0 {
		c.Host.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.Host.RetryMaxDelay <= 0 {
		c.Host.RetryMaxDelay = 10 * time.Second
	}
	if c.Host.PageSize <= 0 {
		c.Host.PageSize = DefaultPageSize
	}
	if c.Engine.DefaultStrategy == "" {
		c.Engine.DefaultStrategy = DefaultStrategy
	}
	if c.Engine.PreferSquashForMultipleCommits == nil {
		c.Engine.PreferSquashForMultipleCommits = truePtr()
	}
	if c.Engine.PreferRebaseForLinearHistory == nil {
		c.Engine.PreferRebaseForLinearHistory = truePtr()
	}
	if c.Pipeline.Environment == "" {
		c.Pipeline.Environment = DefaultEnvironment
	}
	if c.Pipeline.NotifyOn == nil {
		for _, phase := range pipeline.DefaultNotifyOn() {
			c.Pipeline.NotifyOn = append(c.Pipeline.NotifyOn, string(phase))
		}
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = DefaultDBPath
	}
	if c.Storage.EventLogDir == "" {
		c.Storage.EventLogDir = DefaultEventLogDir
	}
}

// Validate checks cross-field consistency. Host credentials are only
// required when a host is configured at all, so offline evaluation works
// without them.
func (c *Config) Validate() error {
	if c.Host.BaseURL != "" {
		if c.Host.Owner == "" {
			return fmt.Errorf("host.owner is required when host.base_url is set")
		}
		if c.Host.Repo == "" {
			return fmt.Errorf("host.repo is required when host.base_url is set")
		}
	}

	switch c.Engine.DefaultStrategy {
	case "merge", "squash", "rebase":
	default:
		return fmt.Errorf("engine.default_strategy must be merge, squash, or rebase, got %q", c.Engine.DefaultStrategy)
	}

	if c.Engine.QualityThreshold < 0 || c.Engine.QualityThreshold > 100 {
		return fmt.Errorf("engine.quality_threshold must be between 0 and 100, got %v", c.Engine.QualityThreshold)
	}

	for _, name := range c.Pipeline.NotifyOn {
		if !pipeline.Phase(name).Valid() {
			return fmt.Errorf("pipeline.notify_on contains unknown phase %q", name)
		}
	}

	for i := range c.Notifications {
		if c.Notifications[i].URL == "" {
			return fmt.Errorf("notification channel %q has no URL", c.Notifications[i].Name)
		}
	}
	return nil
}

// NotifyPhases converts the configured phase names to typed phases.
func (c *Config) NotifyPhases() []pipeline.Phase {
	phases := make([]pipeline.Phase, 0, len(c.Pipeline.NotifyOn))
	for _, name := range c.Pipeline.NotifyOn {
		phases = append(phases, pipeline.Phase(name))
	}
	return phases
}

// EngineSettings converts the engine section into the decision engine's
// configuration. Meaningful only after ApplyDefaults; Load takes care of
// that.
func (c *Config) EngineSettings() decision.Config {
	settings := decision.Config{
		DefaultStrategy: decision.Strategy(c.Engine.DefaultStrategy),
	}
	if c.Engine.PreferSquashForMultipleCommits != nil {
		settings.PreferSquashForMultipleCommits = *c.Engine.PreferSquashForMultipleCommits
	}
	if c.Engine.PreferRebaseForLinearHistory != nil {
		settings.PreferRebaseForLinearHistory = *c.Engine.PreferRebaseForLinearHistory
	}
	return settings
}

func truePtr() *bool {
	v := true
	return &v
}
