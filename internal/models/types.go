package models

// Package models defines the core data types that flow through the triage
// pipeline: Observation → Reasoning → Decision → ActionRecord, folded into a
// single Incident per run.

import (
	"fmt"
	"time"
)

// Severity levels accepted on anomalies.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var validSeverities = map[string]bool{
	SeverityLow:      true,
	SeverityMedium:   true,
	SeverityHigh:     true,
	SeverityCritical: true,
}

// Anomaly is a surface-level signal detected during normalization.
type Anomaly struct {
	Type      string `json:"type"`
	Severity  string `json:"severity"`
	Count     int    `json:"count,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

// Observation is a normalized snapshot of operational signals for one tick.
type Observation struct {
	ObservationID   int64          `json:"observation_id"`
	Timestamp       time.Time      `json:"timestamp"`
	TicketCount     int            `json:"ticket_count"`
	ErrorCount      int            `json:"error_count"`
	FailedCheckouts int            `json:"failed_checkouts"`
	ErrorTypes      map[string]int `json:"error_types,omitempty"`
	MigrationStages map[string]int `json:"migration_stages,omitempty"`
	Anomalies       []Anomaly      `json:"anomalies"`

	// SignalConfidence is the source's estimate of signal coverage in (0,1].
	// Zero means the source did not estimate it.
	SignalConfidence float64 `json:"signal_confidence,omitempty"`
}

// Validate checks the fields the reasoning engine relies on. It does not
// re-derive counts; the source is trusted for those.
func (o *Observation) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: observation is nil", ErrMalformedObservation)
	}
	if o.TicketCount < 0 || o.ErrorCount < 0 || o.FailedCheckouts < 0 {
		return fmt.Errorf("%w: counts must be non-negative (tickets=%d errors=%d failed_checkouts=%d)",
			ErrMalformedObservation, o.TicketCount, o.ErrorCount, o.FailedCheckouts)
	}
	if o.SignalConfidence < 0 || o.SignalConfidence > 1 {
		return fmt.Errorf("%w: signal_confidence %g outside [0,1]", ErrMalformedObservation, o.SignalConfidence)
	}
	for i, a := range o.Anomalies {
		if a.Type == "" {
			return fmt.Errorf("%w: anomaly[%d] has no type", ErrMalformedObservation, i)
		}
		if !validSeverities[a.Severity] {
			return fmt.Errorf("%w: anomaly[%d] has invalid severity %q", ErrMalformedObservation, i, a.Severity)
		}
	}
	return nil
}

// HasAnomaly reports whether an anomaly of the given type is present with a
// severity in the given set. An empty set matches any severity.
func (o *Observation) HasAnomaly(anomalyType string, severities ...string) bool {
	for _, a := range o.Anomalies {
		if a.Type != anomalyType {
			continue
		}
		if len(severities) == 0 {
			return true
		}
		for _, s := range severities {
			if a.Severity == s {
				return true
			}
		}
	}
	return false
}

// HypothesisSource identifies which reasoning path produced a hypothesis.
type HypothesisSource string

const (
	SourceRule  HypothesisSource = "rule"
	SourceModel HypothesisSource = "model"
)

// Hypothesis is a candidate root cause.
type Hypothesis struct {
	Cause       string           `json:"cause"`
	Explanation string           `json:"explanation,omitempty"`
	Confidence  float64          `json:"confidence"`
	Source      HypothesisSource `json:"source,omitempty"`
	RuleID      string           `json:"rule_id,omitempty"`
}

// Reasoning is the output of the hybrid reasoning engine.
type Reasoning struct {
	Mode        ReasoningMode `json:"reasoning_mode"`
	Hypotheses  []Hypothesis  `json:"hypotheses"`
	Assumptions []string      `json:"assumptions"`
	Unknowns    []string      `json:"unknowns"`
	Confidence  float64       `json:"confidence"`

	// SignalConfidence is copied from the observation so the policy layer can
	// gate on input quality without seeing the observation itself.
	SignalConfidence float64 `json:"signal_confidence,omitempty"`
}

// Top returns the highest ranked hypothesis, if any.
func (r *Reasoning) Top() (Hypothesis, bool) {
	if r == nil || len(r.Hypotheses) == 0 {
		return Hypothesis{}, false
	}
	return r.Hypotheses[0], true
}

// Decision is a policy outcome for a single reasoning result.
type Decision struct {
	Type                  DecisionType `json:"type"`
	Reason                string       `json:"reason,omitempty"`
	Severity              string       `json:"severity,omitempty"`
	Risk                  string       `json:"risk"`
	RequiresHumanApproval bool         `json:"requires_human_approval"`
}

// ActionRecord is the dispatcher's record of what happened to one decision.
type ActionRecord struct {
	Action       ActionType   `json:"action"`
	Status       ActionStatus `json:"status"`
	DecisionType DecisionType `json:"decision_type"`
	ApprovalID   string       `json:"approval_id,omitempty"`
	Detail       string       `json:"detail,omitempty"`
}

// DecisionSet wraps decisions as stored on an Incident.
type DecisionSet struct {
	Decisions []Decision `json:"decisions"`
}

// ActionSet wraps action records as stored on an Incident.
type ActionSet struct {
	ActionsTaken []ActionRecord `json:"actions_taken"`
}

// Incident is one full Observe→Reason→Decide→Act cycle. Immutable once
// appended to the memory store.
type Incident struct {
	IncidentID  string      `json:"incident_id"`
	Timestamp   float64     `json:"timestamp"`
	Observation Observation `json:"observation"`
	Reasoning   Reasoning   `json:"reasoning"`
	Decision    DecisionSet `json:"decision"`
	Action      ActionSet   `json:"action"`
	RiskLevel   string      `json:"risk_level"`
	DurationMs  int64       `json:"duration_ms"`
}

// Time returns the incident timestamp as a time.Time.
func (i *Incident) Time() time.Time {
	sec := int64(i.Timestamp)
	nsec := int64((i.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// TopCause returns the cause of the top hypothesis or "" when there is none.
func (i *Incident) TopCause() string {
	if h, ok := i.Reasoning.Top(); ok {
		return h.Cause
	}
	return ""
}

// HasDecision reports whether the incident carries a decision of the given type.
func (i *Incident) HasDecision(t DecisionType) bool {
	for _, d := range i.Decision.Decisions {
		if d.Type == t {
			return true
		}
	}
	return false
}

// EpochSeconds converts t to fractional epoch seconds.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
