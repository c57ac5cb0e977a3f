package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	mu         sync.RWMutex
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
	watchOnce  sync.Once
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("TRIAGE")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// A missing config file is fine, defaults + env vars apply.
	if err := m.readConfigFile(); err != nil {
		return err
	}

	cfg, err := m.unmarshalConfig()
	if err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	m.applyEnvOverrides(cfg)
	m.set(cfg)
	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	return joinValidation(m.Get(ctx).Validate())
}

// Watch watches the config file and emits every reloaded configuration
// that passes validation. Invalid edits are dropped and the previous
// configuration stays in effect.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.watchOnce.Do(func() {
		if m.viper == nil {
			return
		}
		m.viper.OnConfigChange(func(e fsnotify.Event) {
			cfg, err := m.unmarshalConfig()
			if err != nil {
				return
			}
			m.applyEnvOverrides(cfg)
			if len(cfg.Validate()) > 0 {
				return
			}
			m.set(cfg)
			select {
			case m.watchChan <- *cfg:
			default:
				// Consumer has not drained the previous update; it will Get the latest.
			}
		})
		m.viper.WatchConfig()
	})
	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.readConfigFile(); err != nil {
		return err
	}
	cfg, err := m.unmarshalConfig()
	if err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	m.applyEnvOverrides(cfg)
	m.set(cfg)
	return nil
}

func (m *viperConfigManager) set(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

func (m *viperConfigManager) readConfigFile() error {
	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	d := DefaultConfig()

	// Pipeline defaults
	m.viper.SetDefault("pipeline.interval", d.Pipeline.Interval)
	m.viper.SetDefault("pipeline.signals_path", d.Pipeline.SignalsPath)
	m.viper.SetDefault("pipeline.append_retries", d.Pipeline.AppendRetries)
	m.viper.SetDefault("pipeline.append_retry_backoff", d.Pipeline.AppendRetryBackoff)
	m.viper.SetDefault("pipeline.halt_on_persistence_error", d.Pipeline.HaltOnPersistenceError)

	// Reasoning defaults
	m.viper.SetDefault("reasoning.sufficient_threshold", d.Reasoning.SufficientThreshold)
	m.viper.SetDefault("reasoning.ambiguity_margin", d.Reasoning.AmbiguityMargin)
	m.viper.SetDefault("reasoning.no_match_confidence", d.Reasoning.NoMatchConfidence)
	m.viper.SetDefault("reasoning.disagreement_penalty", d.Reasoning.DisagreementPenalty)
	m.viper.SetDefault("reasoning.rules.failed_checkouts", d.Reasoning.Rules.FailedCheckouts)
	m.viper.SetDefault("reasoning.rules.webhook_auth_errors", d.Reasoning.Rules.WebhookAuthErrors)
	m.viper.SetDefault("reasoning.rules.frontend_mismatches", d.Reasoning.Rules.FrontendMismatches)
	m.viper.SetDefault("reasoning.rules.unknown_errors", d.Reasoning.Rules.UnknownErrors)

	// LLM defaults
	m.viper.SetDefault("llm.enabled", d.LLM.Enabled)
	m.viper.SetDefault("llm.provider", d.LLM.Provider)
	m.viper.SetDefault("llm.base_url", d.LLM.BaseURL)
	m.viper.SetDefault("llm.model", d.LLM.Model)
	m.viper.SetDefault("llm.timeout", d.LLM.Timeout)
	m.viper.SetDefault("llm.requests_per_minute", d.LLM.RequestsPerMinute)

	// Policy defaults
	m.viper.SetDefault("policy.low_confidence", d.Policy.LowConfidence)
	m.viper.SetDefault("policy.medium_confidence", d.Policy.MediumConfidence)
	m.viper.SetDefault("policy.high_confidence", d.Policy.HighConfidence)
	m.viper.SetDefault("policy.customer_actionable", d.Policy.CustomerActionable)
	m.viper.SetDefault("policy.code_defect", d.Policy.CodeDefect)
	m.viper.SetDefault("policy.recurrence_lookback", d.Policy.RecurrenceLookback)
	m.viper.SetDefault("policy.recurrence_min", d.Policy.RecurrenceMin)

	// Memory defaults
	m.viper.SetDefault("memory.backend", d.Memory.Backend)
	m.viper.SetDefault("memory.log_path", d.Memory.LogPath)
	m.viper.SetDefault("memory.sqlite_path", d.Memory.SQLitePath)

	m.viper.SetDefault("approvals.sqlite_path", d.Approvals.SQLitePath)
	m.viper.SetDefault("actions.guidance_dir", d.Actions.GuidanceDir)

	// Trend defaults
	m.viper.SetDefault("trend.window", d.Trend.Window)
	m.viper.SetDefault("trend.stable_band", d.Trend.StableBand)

	// Logging defaults
	m.viper.SetDefault("logging.level", d.Logging.Level)
	m.viper.SetDefault("logging.format", d.Logging.Format)
	m.viper.SetDefault("logging.app_log_path", d.Logging.AppLogPath)
	m.viper.SetDefault("logging.audit_path", d.Logging.AuditPath)
	m.viper.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", d.Logging.Compress)

	m.viper.SetDefault("metrics.textfile_path", d.Metrics.TextfilePath)
}

// unmarshalConfig reads viper state into a fresh Config.
func (m *viperConfigManager) unmarshalConfig() (*Config, error) {
	cfg := &Config{}

	// Pipeline
	cfg.Pipeline.Interval = m.viper.GetDuration("pipeline.interval")
	cfg.Pipeline.SignalsPath = m.viper.GetString("pipeline.signals_path")
	cfg.Pipeline.AppendRetries = m.viper.GetInt("pipeline.append_retries")
	cfg.Pipeline.AppendRetryBackoff = m.viper.GetDuration("pipeline.append_retry_backoff")
	cfg.Pipeline.HaltOnPersistenceError = m.viper.GetBool("pipeline.halt_on_persistence_error")

	// Reasoning
	cfg.Reasoning.SufficientThreshold = m.viper.GetFloat64("reasoning.sufficient_threshold")
	cfg.Reasoning.AmbiguityMargin = m.viper.GetFloat64("reasoning.ambiguity_margin")
	cfg.Reasoning.NoMatchConfidence = m.viper.GetFloat64("reasoning.no_match_confidence")
	cfg.Reasoning.DisagreementPenalty = m.viper.GetFloat64("reasoning.disagreement_penalty")
	cfg.Reasoning.Rules.FailedCheckouts = m.viper.GetInt("reasoning.rules.failed_checkouts")
	cfg.Reasoning.Rules.WebhookAuthErrors = m.viper.GetInt("reasoning.rules.webhook_auth_errors")
	cfg.Reasoning.Rules.FrontendMismatches = m.viper.GetInt("reasoning.rules.frontend_mismatches")
	cfg.Reasoning.Rules.UnknownErrors = m.viper.GetInt("reasoning.rules.unknown_errors")

	// LLM
	cfg.LLM.Enabled = m.viper.GetBool("llm.enabled")
	cfg.LLM.Provider = m.viper.GetString("llm.provider")
	cfg.LLM.BaseURL = m.viper.GetString("llm.base_url")
	cfg.LLM.Model = m.viper.GetString("llm.model")
	cfg.LLM.Timeout = m.viper.GetDuration("llm.timeout")
	cfg.LLM.RequestsPerMinute = m.viper.GetFloat64("llm.requests_per_minute")

	// Policy
	cfg.Policy.LowConfidence = m.viper.GetFloat64("policy.low_confidence")
	cfg.Policy.MediumConfidence = m.viper.GetFloat64("policy.medium_confidence")
	cfg.Policy.HighConfidence = m.viper.GetFloat64("policy.high_confidence")
	cfg.Policy.CustomerActionable = m.viper.GetStringSlice("policy.customer_actionable")
	cfg.Policy.CodeDefect = m.viper.GetStringSlice("policy.code_defect")
	cfg.Policy.RecurrenceLookback = m.viper.GetInt("policy.recurrence_lookback")
	cfg.Policy.RecurrenceMin = m.viper.GetInt("policy.recurrence_min")

	// Memory
	cfg.Memory.Backend = m.viper.GetString("memory.backend")
	cfg.Memory.LogPath = m.viper.GetString("memory.log_path")
	cfg.Memory.SQLitePath = m.viper.GetString("memory.sqlite_path")

	cfg.Approvals.SQLitePath = m.viper.GetString("approvals.sqlite_path")
	cfg.Actions.GuidanceDir = m.viper.GetString("actions.guidance_dir")

	// Trend
	cfg.Trend.Window = m.viper.GetInt("trend.window")
	cfg.Trend.StableBand = m.viper.GetFloat64("trend.stable_band")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.AppLogPath = m.viper.GetString("logging.app_log_path")
	cfg.Logging.AuditPath = m.viper.GetString("logging.audit_path")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.Compress = m.viper.GetBool("logging.compress")

	cfg.Metrics.TextfilePath = m.viper.GetString("metrics.textfile_path")

	return cfg, nil
}

// applyEnvOverrides applies the conventional non-prefixed environment variables.
func (m *viperConfigManager) applyEnvOverrides(cfg *Config) {
	// Same variable the ollama CLI honours.
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
			host = "http://" + host
		}
		cfg.LLM.BaseURL = host
	}
}

func joinValidation(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}
