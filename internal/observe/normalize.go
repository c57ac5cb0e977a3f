// Package observe turns raw operational signals into the normalized
// Observation consumed by the reasoning engine. It counts and flags surface
// anomalies; it never interprets causes.
package observe

import (
	"sort"
	"time"

	"github.com/kubilitics/kubilitics-triage/internal/models"
)

// RawSignals is one snapshot of collected signals. Unknown fields are kept
// out of the way by the decoder.
type RawSignals struct {
	Tickets         []Ticket         `json:"tickets"`
	Errors          []ErrorEvent     `json:"errors"`
	Checkouts       []Checkout       `json:"checkouts"`
	Webhooks        []Webhook        `json:"webhooks"`
	MigrationStates []MigrationState `json:"migration_states"`
}

// Ticket is a merchant support ticket.
type Ticket struct {
	TicketID   string `json:"ticket_id"`
	MerchantID string `json:"merchant_id"`
	Issue      string `json:"issue"`
	Message    string `json:"message"`
}

// ErrorEvent is one logged platform error.
type ErrorEvent struct {
	Type       string `json:"type"`
	MerchantID string `json:"merchant_id"`
	Service    string `json:"service"`
}

// Checkout is one checkout attempt.
type Checkout struct {
	Status string `json:"status"`
}

// Webhook is one webhook delivery.
type Webhook struct {
	StatusCode int    `json:"status_code"`
	Topic      string `json:"topic"`
}

// MigrationState is a merchant's migration progress.
type MigrationState struct {
	MerchantID string `json:"merchant_id"`
	Stage      string `json:"stage"`
}

// Thresholds for surface anomaly detection.
const (
	repeatedErrorMin   = 5
	spikeMinFailures   = 5
	spikeHighRatio     = 0.5
	spikeCriticalRatio = 0.8
	webhookAuthMin     = 3

	// Each empty source lowers signal confidence by this much.
	missingSourcePenalty = 0.1
	minSignalConfidence  = 0.5
)

// Normalize builds an Observation from raw signals. id and ts are supplied
// by the caller so the result is a pure function of its inputs.
func Normalize(id int64, ts time.Time, raw RawSignals) models.Observation {
	obs := models.Observation{
		ObservationID: id,
		Timestamp:     ts.UTC(),
		TicketCount:   len(raw.Tickets),
		ErrorCount:    len(raw.Errors),
		ErrorTypes:    make(map[string]int),
		Anomalies:     []models.Anomaly{},
	}

	for _, e := range raw.Errors {
		t := e.Type
		if t == "" {
			t = "unknown"
		}
		obs.ErrorTypes[t]++
	}
	for _, c := range raw.Checkouts {
		if c.Status == "failed" {
			obs.FailedCheckouts++
		}
	}
	if len(raw.MigrationStates) > 0 {
		obs.MigrationStages = make(map[string]int)
		for _, m := range raw.MigrationStates {
			stage := m.Stage
			if stage == "" {
				stage = "unknown"
			}
			obs.MigrationStages[stage]++
		}
	}

	obs.Anomalies = detectAnomalies(&obs, raw)
	obs.SignalConfidence = signalConfidence(raw)
	return obs
}

func detectAnomalies(obs *models.Observation, raw RawSignals) []models.Anomaly {
	anomalies := []models.Anomaly{}

	if obs.FailedCheckouts > 0 {
		anomalies = append(anomalies, models.Anomaly{
			Type:     "checkout_failures",
			Severity: models.SeverityHigh,
			Count:    obs.FailedCheckouts,
		})
	}
	if len(raw.Checkouts) > 0 && obs.FailedCheckouts >= spikeMinFailures {
		ratio := float64(obs.FailedCheckouts) / float64(len(raw.Checkouts))
		severity := ""
		switch {
		case ratio >= spikeCriticalRatio:
			severity = models.SeverityCritical
		case ratio >= spikeHighRatio:
			severity = models.SeverityHigh
		}
		if severity != "" {
			anomalies = append(anomalies, models.Anomaly{
				Type:     "checkout_failure_spike",
				Severity: severity,
				Count:    obs.FailedCheckouts,
			})
		}
	}

	unauthorized := 0
	for _, w := range raw.Webhooks {
		if w.StatusCode == 401 {
			unauthorized++
		}
	}
	if unauthorized >= webhookAuthMin {
		anomalies = append(anomalies, models.Anomaly{
			Type:     "webhook_auth_failure",
			Severity: models.SeverityMedium,
			Count:    unauthorized,
		})
	}

	types := make([]string, 0, len(obs.ErrorTypes))
	for t := range obs.ErrorTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		if n := obs.ErrorTypes[t]; n >= repeatedErrorMin {
			anomalies = append(anomalies, models.Anomaly{
				Type:      "repeated_error",
				Severity:  models.SeverityMedium,
				Count:     n,
				ErrorType: t,
			})
		}
	}
	return anomalies
}

// signalConfidence lowers coverage for every empty signal source.
func signalConfidence(raw RawSignals) float64 {
	missing := 0
	for _, n := range []int{len(raw.Tickets), len(raw.Errors), len(raw.Checkouts), len(raw.Webhooks), len(raw.MigrationStates)} {
		if n == 0 {
			missing++
		}
	}
	return max(1.0-float64(missing)*missingSourcePenalty, minSignalConfidence)
}
