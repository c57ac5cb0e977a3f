package config

import (
	"context"
	"time"
)

// Package config provides configuration management for kubilitics-triage.
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (TRIAGE_* prefix, "." replaced by "_")
//   2. YAML config file (default: /etc/kubilitics/triage.yaml)
//   3. Built-in defaults
//
// Main Configuration Sections:
//
//   1. Pipeline   - polling interval, append retries, halt behaviour
//   2. Reasoning  - sufficient / ambiguity thresholds, rule thresholds
//   3. LLM        - model reasoner backend (Ollama), timeout, rate limit
//   4. Policy     - confidence thresholds, cause sets, recurrence lookback
//   5. Memory     - incident log backend and paths
//   6. Approvals  - pending-approvals register database
//   7. Actions    - side-effect output locations
//   8. Trend      - learning-trend window
//   9. Logging    - level, format, rotation, audit trail path
//  10. Metrics    - prometheus textfile export
//
// Only the policy section is hot-reloaded by Watch; everything else takes
// effect on restart.

// Config contains all configuration fields.
type Config struct {
	Pipeline  PipelineConfig
	Reasoning ReasoningConfig
	LLM       LLMConfig
	Policy    PolicyConfig
	Memory    MemoryConfig
	Approvals ApprovalsConfig
	Actions   ActionsConfig
	Trend     TrendConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
}

// PipelineConfig controls the polling loop.
type PipelineConfig struct {
	Interval               time.Duration
	SignalsPath            string
	AppendRetries          int
	AppendRetryBackoff     time.Duration
	HaltOnPersistenceError bool
}

// RuleThresholds are the count thresholds used by the deterministic rules.
type RuleThresholds struct {
	FailedCheckouts    int
	WebhookAuthErrors  int
	FrontendMismatches int
	UnknownErrors      int
}

// ReasoningConfig controls the hybrid reasoning engine.
type ReasoningConfig struct {
	SufficientThreshold float64
	AmbiguityMargin     float64
	NoMatchConfidence   float64
	DisagreementPenalty float64
	Rules               RuleThresholds
}

// LLMConfig configures the model reasoner client.
type LLMConfig struct {
	Enabled           bool
	Provider          string
	BaseURL           string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute float64
}

// PolicyConfig configures the decision layer.
type PolicyConfig struct {
	LowConfidence      float64
	MediumConfidence   float64
	HighConfidence     float64
	CustomerActionable []string
	CodeDefect         []string
	RecurrenceLookback int
	RecurrenceMin      int
}

// MemoryConfig configures the incident memory store.
type MemoryConfig struct {
	Backend    string // "jsonl" | "sqlite"
	LogPath    string
	SQLitePath string
}

// ApprovalsConfig configures the pending-approvals register.
type ApprovalsConfig struct {
	SQLitePath string
}

// ActionsConfig configures side-effect outputs.
type ActionsConfig struct {
	GuidanceDir string
}

// TrendConfig configures learning-trend aggregation.
type TrendConfig struct {
	Window     int
	StableBand float64
}

// LoggingConfig configures application and audit logging.
type LoggingConfig struct {
	Level      string
	Format     string
	AppLogPath string
	AuditPath  string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// MetricsConfig configures prometheus textfile export.
type MetricsConfig struct {
	TextfilePath string
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches the config file and emits reloaded configurations.
	Watch(ctx context.Context) <-chan Config

	// Reload re-reads the config file and environment.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with the default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/kubilitics/triage.yaml")
}
