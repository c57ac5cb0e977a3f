package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Reasoning defaults
	assert.Equal(t, 0.85, cfg.Reasoning.SufficientThreshold)
	assert.Equal(t, 0.2, cfg.Reasoning.NoMatchConfidence)
	assert.Equal(t, 5, cfg.Reasoning.Rules.FailedCheckouts)

	// LLM defaults
	assert.True(t, cfg.LLM.Enabled)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "phi3:mini", cfg.LLM.Model)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)

	// Policy defaults
	assert.Equal(t, 0.5, cfg.Policy.LowConfidence)
	assert.Equal(t, 0.6, cfg.Policy.MediumConfidence)
	assert.Equal(t, 0.75, cfg.Policy.HighConfidence)
	assert.Contains(t, cfg.Policy.CodeDefect, "payment_gateway_timeout")
	assert.Contains(t, cfg.Policy.CustomerActionable, "webhook_auth_failure")

	assert.Equal(t, "jsonl", cfg.Memory.Backend)
	assert.Equal(t, 30, cfg.Trend.Window)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Empty(t, cfg.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantError bool
		errorMsg  string
	}{
		{
			name:      "valid default config",
			modifyFn:  func(cfg *Config) {},
			wantError: false,
		},
		{
			name: "llm disabled skips provider checks",
			modifyFn: func(cfg *Config) {
				cfg.LLM.Enabled = false
				cfg.LLM.Provider = ""
				cfg.LLM.BaseURL = ""
			},
			wantError: false,
		},
		{
			name:      "zero interval",
			modifyFn:  func(cfg *Config) { cfg.Pipeline.Interval = 0 },
			wantError: true,
			errorMsg:  "interval must be positive",
		},
		{
			name:      "sufficient threshold out of range",
			modifyFn:  func(cfg *Config) { cfg.Reasoning.SufficientThreshold = 1.5 },
			wantError: true,
			errorMsg:  "must be within [0,1]",
		},
		{
			name:      "no-match confidence above sufficient",
			modifyFn:  func(cfg *Config) { cfg.Reasoning.NoMatchConfidence = 0.9 },
			wantError: true,
			errorMsg:  "must be below sufficient_threshold",
		},
		{
			name:      "invalid LLM provider",
			modifyFn:  func(cfg *Config) { cfg.LLM.Provider = "invalid" },
			wantError: true,
			errorMsg:  "invalid provider",
		},
		{
			name:      "invalid base url",
			modifyFn:  func(cfg *Config) { cfg.LLM.BaseURL = "localhost" },
			wantError: true,
			errorMsg:  "invalid base_url",
		},
		{
			name:      "missing model",
			modifyFn:  func(cfg *Config) { cfg.LLM.Model = " " },
			wantError: true,
			errorMsg:  "model is required",
		},
		{
			name: "policy thresholds out of order",
			modifyFn: func(cfg *Config) {
				cfg.Policy.LowConfidence = 0.7
				cfg.Policy.MediumConfidence = 0.6
			},
			wantError: true,
			errorMsg:  "low <= medium <= high",
		},
		{
			name: "overlapping cause sets",
			modifyFn: func(cfg *Config) {
				cfg.Policy.CodeDefect = append(cfg.Policy.CodeDefect, "webhook_auth_failure")
			},
			wantError: true,
			errorMsg:  "cannot be both",
		},
		{
			name:      "invalid memory backend",
			modifyFn:  func(cfg *Config) { cfg.Memory.Backend = "postgres" },
			wantError: true,
			errorMsg:  "invalid backend",
		},
		{
			name: "missing sqlite path",
			modifyFn: func(cfg *Config) {
				cfg.Memory.Backend = "sqlite"
				cfg.Memory.SQLitePath = ""
			},
			wantError: true,
			errorMsg:  "sqlite_path is required",
		},
		{
			name:      "trend window too small",
			modifyFn:  func(cfg *Config) { cfg.Trend.Window = 1 },
			wantError: true,
			errorMsg:  "window must be at least 2",
		},
		{
			name:      "invalid log level",
			modifyFn:  func(cfg *Config) { cfg.Logging.Level = "invalid" },
			wantError: true,
			errorMsg:  "invalid log level",
		},
		{
			name:      "invalid log format",
			modifyFn:  func(cfg *Config) { cfg.Logging.Format = "invalid" },
			wantError: true,
			errorMsg:  "invalid log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			errs := cfg.Validate()

			if !tt.wantError {
				assert.Empty(t, errs, "expected no validation errors but got: %v", errs)
				return
			}
			require.NotEmpty(t, errs, "expected validation errors but got none")
			found := false
			for _, err := range errs {
				if strings.Contains(err.Error(), tt.errorMsg) {
					found = true
					break
				}
			}
			assert.True(t, found, "expected error message containing '%s', got: %v", tt.errorMsg, errs)
		})
	}
}

func TestConfigManagerLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "triage.yaml")
	configContent := `
pipeline:
  interval: 10s
  halt_on_persistence_error: true

llm:
  model: "llama3"
  timeout: 5s

policy:
  high_confidence: 0.8
  code_defect:
    - payment_gateway_timeout

memory:
  backend: sqlite
  sqlite_path: /tmp/triage.db

logging:
  level: "debug"
  format: "text"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	require.NotNil(t, cfg)

	assert.Equal(t, 10*time.Second, cfg.Pipeline.Interval)
	assert.True(t, cfg.Pipeline.HaltOnPersistenceError)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 0.8, cfg.Policy.HighConfidence)
	assert.Equal(t, []string{"payment_gateway_timeout"}, cfg.Policy.CodeDefect)
	assert.Equal(t, "sqlite", cfg.Memory.Backend)
	assert.Equal(t, "/tmp/triage.db", cfg.Memory.SQLitePath)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep defaults.
	assert.Equal(t, 0.5, cfg.Policy.LowConfidence)
	assert.Equal(t, 30, cfg.Trend.Window)
	assert.NoError(t, mgr.Validate(ctx))
}

func TestConfigManagerEnvironmentOverrides(t *testing.T) {
	t.Setenv("TRIAGE_LLM_MODEL", "mistral")
	t.Setenv("TRIAGE_MEMORY_BACKEND", "sqlite")
	t.Setenv("OLLAMA_HOST", "ollama.internal:11434")

	configPath := filepath.Join(t.TempDir(), "triage.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("llm:\n  model: phi3:mini\n"), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	cfg := mgr.Get(ctx)

	assert.Equal(t, "mistral", cfg.LLM.Model, "model should be overridden by environment variable")
	assert.Equal(t, "sqlite", cfg.Memory.Backend)
	assert.Equal(t, "http://ollama.internal:11434", cfg.LLM.BaseURL)
}

func TestConfigManagerMissingFile(t *testing.T) {
	mgr, err := NewConfigManager(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	require.NotNil(t, cfg)
	assert.Equal(t, DefaultConfig().Policy, cfg.Policy)
}

func TestConfigManagerValidation(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "triage.yaml")
	configContent := `
memory:
  backend: "etcd"

logging:
  level: "loud"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	err = mgr.Validate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "memory.backend")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestConfigManagerReload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "triage.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("policy:\n  low_confidence: 0.4\n"), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	assert.Equal(t, 0.4, mgr.Get(ctx).Policy.LowConfidence)

	require.NoError(t, os.WriteFile(configPath, []byte("policy:\n  low_confidence: 0.3\n"), 0644))
	require.NoError(t, mgr.Reload(ctx))
	assert.Equal(t, 0.3, mgr.Get(ctx).Policy.LowConfidence)
}
