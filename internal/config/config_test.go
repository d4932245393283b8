package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quarry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Orchestrator.MaxCycles)
	assert.Equal(t, 60*time.Second, cfg.Orchestrator.PerRoundDeadline)
	assert.Equal(t, 300*time.Second, cfg.Orchestrator.OverallDeadline)
	assert.Equal(t, 8, cfg.Orchestrator.MaxConcurrency)
	assert.Equal(t, 0.25, cfg.Orchestrator.RelevanceThreshold)

	assert.Equal(t, 3, cfg.Resilience.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Resilience.BackoffBase)
	assert.Equal(t, 5, cfg.Resilience.BreakerFailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Resilience.BreakerCooldown)

	assert.Equal(t, "http://localhost:8000", cfg.LLM.ServiceURL)
	assert.Equal(t, 24*time.Hour, cfg.Storage.CheckpointTTL)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
orchestrator:
  max_cycles: 5
  per_round_deadline: 30s
  relevance_threshold: 0.5
resilience:
  breaker_failure_threshold: 2
sources:
  jira:
    rate_rps: 4
    burst: 8
    endpoint: "python -m jira_mcp_server"
    transport: command
  perforce:
    rate_rps: 2
    endpoint: "python -m perforce_mcp_server"
    transport: command
llm:
  service_url: "http://llm.internal:9000"
storage:
  redis_addr: "localhost:6379"
  history_path: "/var/lib/quarry/history.db"
metrics:
  enabled: true
  port: 9100
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Orchestrator.MaxCycles)
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.PerRoundDeadline)
	assert.Equal(t, 0.5, cfg.Orchestrator.RelevanceThreshold)
	// Defaults survive for keys the file omits.
	assert.Equal(t, 8, cfg.Orchestrator.MaxConcurrency)
	assert.Equal(t, 2, cfg.Resilience.BreakerFailureThreshold)

	require.Len(t, cfg.Sources, 2)
	jira := cfg.Sources["jira"]
	assert.Equal(t, 4.0, jira.RateRPS)
	assert.Equal(t, 8, jira.Burst)
	assert.Equal(t, "command", jira.Transport)

	assert.Equal(t, "http://llm.internal:9000", cfg.LLM.ServiceURL)
	assert.Equal(t, "localhost:6379", cfg.Storage.RedisAddr)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9100, cfg.Metrics.Port)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
orchestrator:
  max_cycles: 5
`)
	t.Setenv("QUARRY_ORCHESTRATOR_MAX_CYCLES", "7")
	t.Setenv("QUARRY_LLM_SERVICE_URL", "http://override:8000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Orchestrator.MaxCycles)
	assert.Equal(t, "http://override:8000", cfg.LLM.ServiceURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero cycles", "orchestrator:\n  max_cycles: 0\n"},
		{"threshold above one", "orchestrator:\n  relevance_threshold: 1.5\n"},
		{"zero attempts", "resilience:\n  max_attempts: 0\n"},
		{"zero breaker threshold", "resilience:\n  breaker_failure_threshold: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}
