package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-triage/internal/config"
	"github.com/kubilitics/kubilitics-triage/internal/models"
)

func defaultRules() []Rule {
	return Default(config.DefaultConfig().Reasoning.Rules)
}

func TestRuleIDsUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range defaultRules() {
		assert.False(t, seen[r.ID()], "duplicate rule id %s", r.ID())
		seen[r.ID()] = true
	}
	assert.Len(t, seen, 5)
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		obs        models.Observation
		wantCauses []string
		wantConf   []float64
	}{
		{
			name: "checkout spike points at gateway only",
			obs: models.Observation{
				TicketCount: 40, ErrorCount: 12, FailedCheckouts: 8,
				Anomalies: []models.Anomaly{{Type: AnomalyCheckoutSpike, Severity: models.SeverityHigh}},
			},
			wantCauses: []string{CausePaymentGatewayTimeout},
			wantConf:   []float64{0.9},
		},
		{
			name:       "checkout failures without spike",
			obs:        models.Observation{FailedCheckouts: 6},
			wantCauses: []string{CauseMigrationMisconfig},
			wantConf:   []float64{0.8},
		},
		{
			name: "low severity spike does not implicate gateway",
			obs: models.Observation{
				FailedCheckouts: 6,
				Anomalies:       []models.Anomaly{{Type: AnomalyCheckoutSpike, Severity: models.SeverityLow}},
			},
			wantCauses: []string{CauseMigrationMisconfig},
			wantConf:   []float64{0.8},
		},
		{
			name:       "webhook errors",
			obs:        models.Observation{ErrorTypes: map[string]int{ErrorWebhook401: 6}},
			wantCauses: []string{CauseWebhookAuthFailure},
			wantConf:   []float64{0.7},
		},
		{
			name: "webhook anomaly alone",
			obs: models.Observation{
				Anomalies: []models.Anomaly{{Type: AnomalyWebhookAuthFailed, Severity: models.SeverityMedium}},
			},
			wantCauses: []string{CauseWebhookAuthFailure},
			wantConf:   []float64{0.7},
		},
		{
			name: "ranked descending across rules",
			obs: models.Observation{
				FailedCheckouts: 5,
				ErrorTypes: map[string]int{
					ErrorUnknown:          12,
					ErrorFrontendMismatch: 3,
					ErrorWebhook401:       3,
				},
			},
			wantCauses: []string{CauseMigrationMisconfig, CauseWebhookAuthFailure, CauseFrontendBackendMismatch, CausePlatformRegression},
			wantConf:   []float64{0.8, 0.7, 0.65, 0.6},
		},
		{
			name: "below thresholds",
			obs: models.Observation{
				TicketCount: 2, FailedCheckouts: 4,
				ErrorTypes: map[string]int{ErrorWebhook401: 2, ErrorUnknown: 9},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(defaultRules(), &tt.obs)
			require.Len(t, got, len(tt.wantCauses))
			for i, h := range got {
				assert.Equal(t, tt.wantCauses[i], h.Cause)
				assert.InDelta(t, tt.wantConf[i], h.Confidence, 1e-9)
				assert.Equal(t, models.SourceRule, h.Source)
				assert.NotEmpty(t, h.RuleID)
				assert.NotEmpty(t, h.Explanation)
			}
		})
	}
}

func TestThresholdsConfigurable(t *testing.T) {
	th := config.DefaultConfig().Reasoning.Rules
	th.FailedCheckouts = 2

	got := Evaluate(Default(th), &models.Observation{FailedCheckouts: 3})
	require.Len(t, got, 1)
	assert.Equal(t, CauseMigrationMisconfig, got[0].Cause)
}

func TestRankStable(t *testing.T) {
	hs := []models.Hypothesis{
		{Cause: "a", Confidence: 0.5},
		{Cause: "b", Confidence: 0.7},
		{Cause: "c", Confidence: 0.5},
	}
	Rank(hs)
	assert.Equal(t, []string{"b", "a", "c"}, []string{hs[0].Cause, hs[1].Cause, hs[2].Cause})
}
