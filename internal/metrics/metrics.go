package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every triage collector. It is separate from the default
// registry so the textfile export contains only triage series.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// Triage pipeline metrics
var (
	// Pipeline metrics
	IncidentsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_triage_incidents_total",
			Help: "Total number of incidents recorded",
		},
		[]string{"risk_level"},
	)

	PipelineDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kubilitics_triage_pipeline_duration_seconds",
			Help:    "Duration of one Reason-Decide-Act-Append run",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	ObservationsSkipped = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "kubilitics_triage_observations_skipped_total",
			Help: "Observations skipped as malformed",
		},
	)

	PersistenceErrors = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "kubilitics_triage_persistence_errors_total",
			Help: "Incidents that could not be appended after retries",
		},
	)

	// Reasoning metrics
	ReasoningTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_triage_reasoning_total",
			Help: "Reasoning results by mode and whether the fallback path was used",
		},
		[]string{"mode", "fallback"},
	)

	ReasoningConfidence = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kubilitics_triage_reasoning_confidence",
			Help:    "Overall reasoning confidence",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)

	// LLM metrics
	LLMRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_triage_llm_requests_total",
			Help: "Total number of model reasoner requests",
		},
		[]string{"provider", "model", "status"},
	)

	LLMRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubilitics_triage_llm_request_duration_seconds",
			Help:    "Model reasoner request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"provider", "model"},
	)

	// Decision and action metrics
	DecisionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_triage_decisions_total",
			Help: "Decisions emitted by the policy layer",
		},
		[]string{"type", "requires_approval"},
	)

	ActionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_triage_actions_total",
			Help: "Dispatcher action records by action and status",
		},
		[]string{"action", "status"},
	)

	PolicyViolations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_triage_policy_violations_total",
			Help: "Auto-execution attempts refused by the whitelist",
		},
		[]string{"decision_type"},
	)

	ApprovalsResolved = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_triage_approvals_resolved_total",
			Help: "Pending approvals resolved by a human",
		},
		[]string{"outcome"},
	)
)

// WriteTextfile writes the current state of Registry to path in the
// node-exporter textfile format. An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	return prometheus.WriteToTextfile(path, Registry)
}
