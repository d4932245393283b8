// Package config loads the orchestrator configuration from a YAML file
// with environment overrides and code defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// OrchestratorConfig carries the run-level knobs.
type OrchestratorConfig struct {
	MaxCycles          int           `mapstructure:"max_cycles"`
	PerRoundDeadline   time.Duration `mapstructure:"per_round_deadline"`
	OverallDeadline    time.Duration `mapstructure:"overall_deadline"`
	MaxConcurrency     int           `mapstructure:"max_concurrency"`
	RelevanceThreshold float64       `mapstructure:"relevance_threshold"`
	MaxFanoutPerCycle  int           `mapstructure:"max_fanout_per_cycle"`
}

// ResilienceConfig carries retry and breaker knobs shared by all
// sources.
type ResilienceConfig struct {
	MaxAttempts             int           `mapstructure:"max_attempts"`
	BackoffBase             time.Duration `mapstructure:"backoff_base"`
	BackoffMax              time.Duration `mapstructure:"backoff_max"`
	BreakerFailureThreshold int           `mapstructure:"breaker_failure_threshold"`
	BreakerCooldown         time.Duration `mapstructure:"breaker_cooldown"`
}

// SourceConfig carries per-source settings.
type SourceConfig struct {
	RateRPS float64 `mapstructure:"rate_rps"`
	Burst   int     `mapstructure:"burst"`
	// Endpoint is transport-specific: an MCP server command line or
	// a streamable HTTP URL, depending on Transport.
	Endpoint  string `mapstructure:"endpoint"`
	Transport string `mapstructure:"transport"`
}

// LLMConfig configures the planner/synthesizer service.
type LLMConfig struct {
	ServiceURL string        `mapstructure:"service_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// StorageConfig configures the optional persistence backends.
type StorageConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	CheckpointTTL time.Duration `mapstructure:"checkpoint_ttl"`
	HistoryPath   string        `mapstructure:"history_path"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Config is the root configuration.
type Config struct {
	Orchestrator OrchestratorConfig      `mapstructure:"orchestrator"`
	Resilience   ResilienceConfig        `mapstructure:"resilience"`
	Sources      map[string]SourceConfig `mapstructure:"sources"`
	LLM          LLMConfig               `mapstructure:"llm"`
	Storage      StorageConfig           `mapstructure:"storage"`
	Metrics      MetricsConfig           `mapstructure:"metrics"`
}

// Load reads the config file at path (optional; empty path uses
// defaults and env only). Environment variables override file values
// with the QUARRY_ prefix, e.g. QUARRY_ORCHESTRATOR_MAX_CYCLES.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("QUARRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("orchestrator.max_cycles", 3)
	v.SetDefault("orchestrator.per_round_deadline", "60s")
	v.SetDefault("orchestrator.overall_deadline", "300s")
	v.SetDefault("orchestrator.max_concurrency", 8)
	v.SetDefault("orchestrator.relevance_threshold", 0.25)
	v.SetDefault("orchestrator.max_fanout_per_cycle", 12)

	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.backoff_base", "500ms")
	v.SetDefault("resilience.backoff_max", "30s")
	v.SetDefault("resilience.breaker_failure_threshold", 5)
	v.SetDefault("resilience.breaker_cooldown", "30s")

	v.SetDefault("llm.service_url", "http://localhost:8000")
	v.SetDefault("llm.timeout", "60s")

	v.SetDefault("storage.checkpoint_ttl", "24h")
	v.SetDefault("storage.history_path", "quarry.db")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 2112)
}

func (c *Config) validate() error {
	if c.Orchestrator.MaxCycles < 1 {
		return fmt.Errorf("orchestrator.max_cycles must be >= 1, got %d", c.Orchestrator.MaxCycles)
	}
	if c.Orchestrator.RelevanceThreshold < 0 || c.Orchestrator.RelevanceThreshold > 1 {
		return fmt.Errorf("orchestrator.relevance_threshold must be in [0,1], got %f", c.Orchestrator.RelevanceThreshold)
	}
	if c.Resilience.MaxAttempts < 1 {
		return fmt.Errorf("resilience.max_attempts must be >= 1, got %d", c.Resilience.MaxAttempts)
	}
	if c.Resilience.BreakerFailureThreshold < 1 {
		return fmt.Errorf("resilience.breaker_failure_threshold must be >= 1, got %d", c.Resilience.BreakerFailureThreshold)
	}
	return nil
}
