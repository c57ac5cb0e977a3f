// Package rules holds the ordered deterministic rule set evaluated before
// any model escalation.
package rules

import (
	"fmt"
	"sort"

	"github.com/kubilitics/kubilitics-triage/internal/config"
	"github.com/kubilitics/kubilitics-triage/internal/models"
)

// Rule inspects an observation and produces a hypothesis when it matches.
type Rule interface {
	// ID returns a unique identifier for this rule.
	ID() string

	// Match reports whether this rule applies to the observation.
	Match(obs *models.Observation) bool

	// Hypothesis builds the rule's hypothesis. Only valid after Match.
	Hypothesis(obs *models.Observation) models.Hypothesis
}

// Causes produced by the default rule set.
const (
	CausePaymentGatewayTimeout   = "payment_gateway_timeout"
	CauseMigrationMisconfig      = "migration_misconfiguration"
	CauseWebhookAuthFailure      = "webhook_auth_failure"
	CauseFrontendBackendMismatch = "frontend_backend_mismatch"
	CausePlatformRegression      = "platform_regression"
)

// Error types and anomaly types the rules look for.
const (
	ErrorWebhook401          = "webhook_401"
	ErrorFrontendMismatch    = "frontend_state_mismatch"
	ErrorUnknown             = "unknown"
	AnomalyCheckoutSpike     = "checkout_failure_spike"
	AnomalyWebhookAuthFailed = "webhook_auth_failure"
)

type rule struct {
	id          string
	cause       string
	confidence  float64
	match       func(*models.Observation) bool
	explanation func(*models.Observation) string
}

func (r *rule) ID() string                         { return r.id }
func (r *rule) Match(obs *models.Observation) bool { return r.match(obs) }

func (r *rule) Hypothesis(obs *models.Observation) models.Hypothesis {
	return models.Hypothesis{
		Cause:       r.cause,
		Explanation: r.explanation(obs),
		Confidence:  r.confidence,
		Source:      models.SourceRule,
		RuleID:      r.id,
	}
}

// Default returns the rule set in evaluation order. Confidence grows with
// the number of independent conditions a rule checks.
func Default(th config.RuleThresholds) []Rule {
	spike := func(obs *models.Observation) bool {
		return obs.HasAnomaly(AnomalyCheckoutSpike, models.SeverityHigh, models.SeverityCritical)
	}

	return []Rule{
		&rule{
			id:         "checkout_spike_gateway",
			cause:      CausePaymentGatewayTimeout,
			confidence: 0.90,
			match: func(obs *models.Observation) bool {
				return spike(obs) && obs.FailedCheckouts >= th.FailedCheckouts
			},
			explanation: func(obs *models.Observation) string {
				return fmt.Sprintf("%d failed checkouts with a severe checkout failure spike point at the payment gateway", obs.FailedCheckouts)
			},
		},
		&rule{
			id:         "checkout_failures_post_migration",
			cause:      CauseMigrationMisconfig,
			confidence: 0.80,
			match: func(obs *models.Observation) bool {
				return obs.FailedCheckouts >= th.FailedCheckouts && !spike(obs)
			},
			explanation: func(obs *models.Observation) string {
				return fmt.Sprintf("High number of checkout failures (%d) detected after migration", obs.FailedCheckouts)
			},
		},
		&rule{
			id:         "webhook_auth",
			cause:      CauseWebhookAuthFailure,
			confidence: 0.70,
			match: func(obs *models.Observation) bool {
				return obs.ErrorTypes[ErrorWebhook401] >= th.WebhookAuthErrors || obs.HasAnomaly(AnomalyWebhookAuthFailed)
			},
			explanation: func(obs *models.Observation) string {
				return fmt.Sprintf("Repeated webhook authentication failures detected (%d webhook_401 errors)", obs.ErrorTypes[ErrorWebhook401])
			},
		},
		&rule{
			id:         "frontend_mismatch",
			cause:      CauseFrontendBackendMismatch,
			confidence: 0.65,
			match: func(obs *models.Observation) bool {
				return obs.ErrorTypes[ErrorFrontendMismatch] >= th.FrontendMismatches
			},
			explanation: func(obs *models.Observation) string {
				return fmt.Sprintf("Frontend and backend states are inconsistent (%d mismatches)", obs.ErrorTypes[ErrorFrontendMismatch])
			},
		},
		&rule{
			id:         "unknown_error_flood",
			cause:      CausePlatformRegression,
			confidence: 0.60,
			match: func(obs *models.Observation) bool {
				return obs.ErrorTypes[ErrorUnknown] >= th.UnknownErrors
			},
			explanation: func(obs *models.Observation) string {
				return fmt.Sprintf("High volume of unknown errors (%d) suggests a platform regression", obs.ErrorTypes[ErrorUnknown])
			},
		},
	}
}

// Evaluate runs every rule against obs and returns the matching hypotheses
// ranked by confidence, descending. Ties keep rule order.
func Evaluate(set []Rule, obs *models.Observation) []models.Hypothesis {
	var out []models.Hypothesis
	for _, r := range set {
		if r.Match(obs) {
			out = append(out, r.Hypothesis(obs))
		}
	}
	Rank(out)
	return out
}

// Rank sorts hypotheses by confidence, descending, keeping input order on ties.
func Rank(hs []models.Hypothesis) {
	sort.SliceStable(hs, func(i, j int) bool { return hs[i].Confidence > hs[j].Confidence })
}
