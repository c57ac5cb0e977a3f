package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-triage/internal/config"
	"github.com/kubilitics/kubilitics-triage/internal/memory/incident"
	"github.com/kubilitics/kubilitics-triage/internal/models"
)

type fakeHistory struct {
	incidents []models.Incident
	err       error
	filters   []incident.Filter
}

func (f *fakeHistory) Query(_ context.Context, filter incident.Filter) ([]models.Incident, error) {
	f.filters = append(f.filters, filter)
	return f.incidents, f.err
}

func reasoning(cause string, conf float64) models.Reasoning {
	r := models.Reasoning{Mode: models.ModeDeterministic, Confidence: conf, Hypotheses: []models.Hypothesis{}}
	if cause != "" {
		r.Hypotheses = append(r.Hypotheses, models.Hypothesis{Cause: cause, Confidence: conf})
	}
	return r
}

func pastIncident(cause string) models.Incident {
	return models.Incident{Reasoning: reasoning(cause, 0.8)}
}

func types(ds []models.Decision) []models.DecisionType {
	out := make([]models.DecisionType, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Type)
	}
	return out
}

func newLayer() DecisionLayer {
	return New(config.DefaultConfig().Policy, nil, nil)
}

func TestEvaluate_EscalatesCodeDefect(t *testing.T) {
	ds := newLayer().Evaluate(reasoning("payment_gateway_timeout", 0.9), nil)

	require.Len(t, ds, 1)
	assert.Equal(t, models.DecisionEscalateEngineering, ds[0].Type)
	assert.True(t, ds[0].RequiresHumanApproval)
	assert.Equal(t, models.RiskHigh, ds[0].Risk)
	assert.Equal(t, models.SeverityHigh, ds[0].Severity)
}

func TestEvaluate_LowConfidenceMonitors(t *testing.T) {
	ds := newLayer().Evaluate(reasoning("", 0.2), nil)

	require.Len(t, ds, 1)
	assert.Equal(t, models.DecisionMonitorOnly, ds[0].Type)
	assert.False(t, ds[0].RequiresHumanApproval)
	assert.Equal(t, models.RiskLow, ds[0].Risk)
}

func TestEvaluate_Rules(t *testing.T) {
	tests := []struct {
		name     string
		r        models.Reasoning
		history  []models.Incident
		expected []models.DecisionType
	}{
		{
			name:     "customer actionable at medium confidence",
			r:        reasoning("webhook_auth_failure", 0.7),
			expected: []models.DecisionType{models.DecisionSupportGuidance},
		},
		{
			name:     "customer actionable below medium falls to default",
			r:        reasoning("webhook_auth_failure", 0.55),
			expected: []models.DecisionType{models.DecisionMonitorOnly},
		},
		{
			name:     "code defect below high confidence",
			r:        reasoning("platform_regression", 0.6),
			expected: []models.DecisionType{models.DecisionMonitorOnly},
		},
		{
			name:     "low confidence with actionable cause only monitors",
			r:        reasoning("migration_misconfiguration", 0.4),
			expected: []models.DecisionType{models.DecisionMonitorOnly},
		},
		{
			name: "recurrence adds documentation suggestion",
			r:    reasoning("migration_misconfiguration", 0.8),
			history: []models.Incident{
				pastIncident("migration_misconfiguration"),
				pastIncident("webhook_auth_failure"),
				pastIncident("migration_misconfiguration"),
			},
			expected: []models.DecisionType{models.DecisionSupportGuidance, models.DecisionDocumentationUpdate},
		},
		{
			name:     "single prior occurrence is not recurrence",
			r:        reasoning("migration_misconfiguration", 0.8),
			history:  []models.Incident{pastIncident("migration_misconfiguration")},
			expected: []models.DecisionType{models.DecisionSupportGuidance},
		},
		{
			name: "escalate and document together",
			r:    reasoning("payment_gateway_timeout", 0.9),
			history: []models.Incident{
				pastIncident("payment_gateway_timeout"),
				pastIncident("payment_gateway_timeout"),
			},
			expected: []models.DecisionType{models.DecisionEscalateEngineering, models.DecisionDocumentationUpdate},
		},
		{
			name:     "unknown cause above thresholds",
			r:        reasoning("cdn_outage", 0.95),
			expected: []models.DecisionType{models.DecisionMonitorOnly},
		},
	}

	layer := newLayer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, types(layer.Evaluate(tt.r, tt.history)))
		})
	}
}

func TestEvaluate_RecurrenceRespectsLookback(t *testing.T) {
	cfg := config.DefaultConfig().Policy
	cfg.RecurrenceLookback = 2
	layer := New(cfg, nil, nil)

	history := []models.Incident{
		pastIncident("migration_misconfiguration"),
		pastIncident("migration_misconfiguration"),
		pastIncident("webhook_auth_failure"),
		pastIncident("webhook_auth_failure"),
	}
	ds := layer.Evaluate(reasoning("migration_misconfiguration", 0.8), history)
	assert.Equal(t, []models.DecisionType{models.DecisionSupportGuidance}, types(ds))
}

func TestEvaluate_LowSignalConfidenceBlocksAutoActions(t *testing.T) {
	r := reasoning("webhook_auth_failure", 0.7)
	r.SignalConfidence = 0.5

	ds := newLayer().Evaluate(r, nil)

	require.Equal(t, []models.DecisionType{models.DecisionBlockAutoActions, models.DecisionSupportGuidance}, types(ds))
	for _, d := range ds {
		assert.True(t, d.RequiresHumanApproval, d.Type)
	}
	assert.Equal(t, models.RiskHigh, RiskLevel(ds))
}

func TestEvaluate_FullSignalConfidenceDoesNotBlock(t *testing.T) {
	r := reasoning("webhook_auth_failure", 0.7)
	r.SignalConfidence = 1.0
	ds := newLayer().Evaluate(r, nil)
	assert.Equal(t, []models.DecisionType{models.DecisionSupportGuidance}, types(ds))
	assert.False(t, ds[0].RequiresHumanApproval)
}

func TestEvaluate_IsPure(t *testing.T) {
	layer := newLayer()
	r := reasoning("payment_gateway_timeout", 0.9)
	history := []models.Incident{pastIncident("payment_gateway_timeout"), pastIncident("payment_gateway_timeout")}

	first := layer.Evaluate(r, history)
	second := layer.Evaluate(r, history)
	assert.Equal(t, first, second)
	assert.Equal(t, reasoning("payment_gateway_timeout", 0.9), r, "input must not be mutated")
}

func TestGate_NonWhitelistedRequiresApproval(t *testing.T) {
	ds := gate([]models.Decision{
		{Type: models.DecisionDocumentationUpdate},
		{Type: models.DecisionType("rollback_deploy")},
		{Type: models.DecisionMonitorOnly},
	})

	assert.True(t, ds[0].RequiresHumanApproval)
	assert.True(t, ds[1].RequiresHumanApproval)
	assert.Equal(t, models.RiskHigh, ds[1].Risk)
	assert.False(t, ds[2].RequiresHumanApproval)
}

func TestRiskLevel(t *testing.T) {
	assert.Equal(t, models.RiskLow, RiskLevel(nil))
	assert.Equal(t, models.RiskLow, RiskLevel([]models.Decision{{Type: models.DecisionMonitorOnly}}))
	assert.Equal(t, models.RiskMedium, RiskLevel([]models.Decision{
		{Type: models.DecisionSupportGuidance},
		{Type: models.DecisionDocumentationUpdate},
	}))
	assert.Equal(t, models.RiskHigh, RiskLevel([]models.Decision{{Type: models.DecisionEscalateEngineering}}))
}

func TestDecide_ReadsHistory(t *testing.T) {
	h := &fakeHistory{incidents: []models.Incident{
		pastIncident("webhook_auth_failure"),
		pastIncident("webhook_auth_failure"),
	}}
	layer := New(config.DefaultConfig().Policy, h, nil)

	ds, err := layer.Decide(context.Background(), reasoning("webhook_auth_failure", 0.7))
	require.NoError(t, err)
	assert.Equal(t, []models.DecisionType{models.DecisionSupportGuidance, models.DecisionDocumentationUpdate}, types(ds))
	require.Len(t, h.filters, 1)
	assert.Equal(t, 10, h.filters[0].Last)
}

func TestDecide_HistoryError(t *testing.T) {
	h := &fakeHistory{err: errors.New("disk gone")}
	layer := New(config.DefaultConfig().Policy, h, nil)

	_, err := layer.Decide(context.Background(), reasoning("webhook_auth_failure", 0.7))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestFollow_AppliesPolicyUpdates(t *testing.T) {
	layer := newLayer()
	r := reasoning("platform_regression", 0.65)
	assert.Equal(t, []models.DecisionType{models.DecisionMonitorOnly}, types(layer.Evaluate(r, nil)))

	ch := make(chan config.Config, 1)
	updated := *config.DefaultConfig()
	updated.Policy.HighConfidence = 0.6
	ch <- updated
	close(ch)

	layer.Follow(context.Background(), ch)

	assert.Equal(t, []models.DecisionType{models.DecisionEscalateEngineering}, types(layer.Evaluate(r, nil)))
}
