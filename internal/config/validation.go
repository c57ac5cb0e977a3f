package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Pipeline
	if c.Pipeline.Interval <= 0 {
		add("pipeline.interval", "interval must be positive, got %s", c.Pipeline.Interval)
	}
	if c.Pipeline.AppendRetries < 0 {
		add("pipeline.append_retries", "append_retries cannot be negative, got %d", c.Pipeline.AppendRetries)
	}

	// Reasoning
	checkUnit := func(field string, v float64) {
		if v < 0 || v > 1 {
			add(field, "must be within [0,1], got %g", v)
		}
	}
	checkUnit("reasoning.sufficient_threshold", c.Reasoning.SufficientThreshold)
	checkUnit("reasoning.ambiguity_margin", c.Reasoning.AmbiguityMargin)
	checkUnit("reasoning.no_match_confidence", c.Reasoning.NoMatchConfidence)
	checkUnit("reasoning.disagreement_penalty", c.Reasoning.DisagreementPenalty)
	if c.Reasoning.NoMatchConfidence >= c.Reasoning.SufficientThreshold {
		add("reasoning.no_match_confidence", "no_match_confidence (%g) must be below sufficient_threshold (%g)",
			c.Reasoning.NoMatchConfidence, c.Reasoning.SufficientThreshold)
	}
	r := c.Reasoning.Rules
	if r.FailedCheckouts < 1 || r.WebhookAuthErrors < 1 || r.FrontendMismatches < 1 || r.UnknownErrors < 1 {
		add("reasoning.rules", "rule thresholds must be at least 1")
	}

	// LLM
	if c.LLM.Enabled {
		if c.LLM.Provider != "ollama" {
			add("llm.provider", "invalid provider %q (supported: ollama)", c.LLM.Provider)
		}
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("llm.base_url", "invalid base_url %q", c.LLM.BaseURL)
		}
		if strings.TrimSpace(c.LLM.Model) == "" {
			add("llm.model", "model is required when llm is enabled")
		}
		if c.LLM.Timeout <= 0 {
			add("llm.timeout", "timeout must be positive, got %s", c.LLM.Timeout)
		}
		if c.LLM.RequestsPerMinute < 0 {
			add("llm.requests_per_minute", "requests_per_minute cannot be negative")
		}
	}

	// Policy
	checkUnit("policy.low_confidence", c.Policy.LowConfidence)
	checkUnit("policy.medium_confidence", c.Policy.MediumConfidence)
	checkUnit("policy.high_confidence", c.Policy.HighConfidence)
	if c.Policy.LowConfidence > c.Policy.MediumConfidence || c.Policy.MediumConfidence > c.Policy.HighConfidence {
		add("policy", "thresholds must satisfy low <= medium <= high (got %g, %g, %g)",
			c.Policy.LowConfidence, c.Policy.MediumConfidence, c.Policy.HighConfidence)
	}
	actionable := make(map[string]bool, len(c.Policy.CustomerActionable))
	for _, cause := range c.Policy.CustomerActionable {
		actionable[cause] = true
	}
	for _, cause := range c.Policy.CodeDefect {
		if actionable[cause] {
			add("policy.code_defect", "cause %q cannot be both customer_actionable and code_defect", cause)
		}
	}
	if c.Policy.RecurrenceLookback < 0 {
		add("policy.recurrence_lookback", "recurrence_lookback cannot be negative")
	}
	if c.Policy.RecurrenceMin < 1 {
		add("policy.recurrence_min", "recurrence_min must be at least 1, got %d", c.Policy.RecurrenceMin)
	}

	// Memory
	switch c.Memory.Backend {
	case "jsonl":
		if c.Memory.LogPath == "" {
			add("memory.log_path", "log_path is required when backend is jsonl")
		}
	case "sqlite":
		if c.Memory.SQLitePath == "" {
			add("memory.sqlite_path", "sqlite_path is required when backend is sqlite")
		}
	default:
		add("memory.backend", "invalid backend %q (must be jsonl or sqlite)", c.Memory.Backend)
	}

	if c.Approvals.SQLitePath == "" {
		add("approvals.sqlite_path", "sqlite_path is required")
	}
	if c.Actions.GuidanceDir == "" {
		add("actions.guidance_dir", "guidance_dir is required")
	}

	// Trend
	if c.Trend.Window < 2 {
		add("trend.window", "window must be at least 2, got %d", c.Trend.Window)
	}
	checkUnit("trend.stable_band", c.Trend.StableBand)

	// Logging
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "invalid log level %q (must be debug, info, warn or error)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		add("logging.format", "invalid log format %q (must be json or text)", c.Logging.Format)
	}

	return errs
}
