package config

import "time"

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Pipeline defaults
	cfg.Pipeline.Interval = 5 * time.Second
	cfg.Pipeline.SignalsPath = "signals.json"
	cfg.Pipeline.AppendRetries = 3
	cfg.Pipeline.AppendRetryBackoff = 200 * time.Millisecond
	cfg.Pipeline.HaltOnPersistenceError = false

	// Reasoning defaults
	cfg.Reasoning.SufficientThreshold = 0.85
	cfg.Reasoning.AmbiguityMargin = 0.05
	cfg.Reasoning.NoMatchConfidence = 0.2
	cfg.Reasoning.DisagreementPenalty = 0.85
	cfg.Reasoning.Rules = RuleThresholds{
		FailedCheckouts:    5,
		WebhookAuthErrors:  3,
		FrontendMismatches: 3,
		UnknownErrors:      10,
	}

	// LLM defaults
	cfg.LLM.Enabled = true
	cfg.LLM.Provider = "ollama"
	cfg.LLM.BaseURL = "http://localhost:11434"
	cfg.LLM.Model = "phi3:mini"
	cfg.LLM.Timeout = 30 * time.Second
	cfg.LLM.RequestsPerMinute = 30

	// Policy defaults
	cfg.Policy.LowConfidence = 0.5
	cfg.Policy.MediumConfidence = 0.6
	cfg.Policy.HighConfidence = 0.75
	cfg.Policy.CustomerActionable = []string{
		"migration_misconfiguration",
		"webhook_auth_failure",
		"frontend_backend_mismatch",
	}
	cfg.Policy.CodeDefect = []string{
		"payment_gateway_timeout",
		"platform_regression",
	}
	cfg.Policy.RecurrenceLookback = 10
	cfg.Policy.RecurrenceMin = 2

	// Memory defaults
	cfg.Memory.Backend = "jsonl"
	cfg.Memory.LogPath = "/var/lib/kubilitics/triage/incidents.jsonl"
	cfg.Memory.SQLitePath = "/var/lib/kubilitics/triage/triage.db"

	// Approvals defaults
	cfg.Approvals.SQLitePath = "/var/lib/kubilitics/triage/triage.db"

	// Actions defaults
	cfg.Actions.GuidanceDir = "/var/lib/kubilitics/triage/guidance"

	// Trend defaults
	cfg.Trend.Window = 30
	cfg.Trend.StableBand = 0.05

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.AppLogPath = "logs/triage.log"
	cfg.Logging.AuditPath = "logs/audit.log"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true

	// Metrics defaults
	cfg.Metrics.TextfilePath = ""

	return cfg
}
