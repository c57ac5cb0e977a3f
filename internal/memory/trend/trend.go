// Package trend derives learning insights from the incident sequence. All
// values are computed at read time; nothing is stored.
package trend

import (
	"sort"

	"github.com/kubilitics/kubilitics-triage/internal/models"
)

// Direction classifies the change in average confidence.
type Direction string

const (
	Improving Direction = "improving"
	Declining Direction = "declining"
	Stable    Direction = "stable"
)

// Options controls the aggregation window.
type Options struct {
	// Window is the number of most recent incidents split into an older
	// and a recent half.
	Window int

	// StableBand is the absolute delta within which the trend is stable.
	StableBand float64
}

// ConfidenceTrend compares the two halves of the window.
type ConfidenceTrend struct {
	RecentAvg float64   `json:"recent_avg"`
	OlderAvg  float64   `json:"older_avg"`
	Delta     float64   `json:"delta"`
	Direction Direction `json:"direction"`
}

// CauseCount is one entry of the cause tally.
type CauseCount struct {
	Cause string `json:"cause"`
	Count int    `json:"count"`
}

// Insights is the aggregated view over the stored incidents.
type Insights struct {
	Total          int                          `json:"total"`
	Confidence     ConfidenceTrend              `json:"confidence"`
	DominantCause  string                       `json:"dominant_cause,omitempty"`
	CauseCounts    []CauseCount                 `json:"cause_counts"`
	EscalationRate float64                      `json:"escalation_rate"`
	ModeUsage      map[models.ReasoningMode]int `json:"mode_usage"`
}

// Compute aggregates incidents, which must be in insertion order.
//
// The confidence trend uses the most recent Window incidents; the newer half
// is "recent". Cause tally, escalation rate and mode usage cover the full
// sequence. Every hypothesis counts toward the tally, not only the top one.
func Compute(incidents []models.Incident, opts Options) Insights {
	out := Insights{
		Total:       len(incidents),
		CauseCounts: []CauseCount{},
		ModeUsage:   make(map[models.ReasoningMode]int),
		Confidence:  confidenceTrend(incidents, opts),
	}

	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	escalations := 0
	for i := range incidents {
		inc := &incidents[i]
		for _, h := range inc.Reasoning.Hypotheses {
			if _, ok := firstSeen[h.Cause]; !ok {
				firstSeen[h.Cause] = len(firstSeen)
			}
			counts[h.Cause]++
		}
		if inc.HasDecision(models.DecisionEscalateEngineering) {
			escalations++
		}
		out.ModeUsage[inc.Reasoning.Mode]++
	}

	for cause, n := range counts {
		out.CauseCounts = append(out.CauseCounts, CauseCount{Cause: cause, Count: n})
	}
	// Most frequent first; ties go to the cause seen first.
	sort.Slice(out.CauseCounts, func(i, j int) bool {
		a, b := out.CauseCounts[i], out.CauseCounts[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return firstSeen[a.Cause] < firstSeen[b.Cause]
	})
	if len(out.CauseCounts) > 0 {
		out.DominantCause = out.CauseCounts[0].Cause
	}

	if len(incidents) > 0 {
		out.EscalationRate = float64(escalations) / float64(len(incidents))
	}
	return out
}

func confidenceTrend(incidents []models.Incident, opts Options) ConfidenceTrend {
	window := incidents
	if opts.Window > 0 && len(window) > opts.Window {
		window = window[len(window)-opts.Window:]
	}
	if len(window) < 2 {
		t := ConfidenceTrend{Direction: Stable}
		if len(window) == 1 {
			t.RecentAvg = window[0].Reasoning.Confidence
			t.OlderAvg = t.RecentAvg
		}
		return t
	}

	// With an odd count the extra incident goes to the older half.
	split := len(window) - len(window)/2
	older, recent := window[:split], window[split:]

	t := ConfidenceTrend{RecentAvg: avg(recent), OlderAvg: avg(older)}
	t.Delta = t.RecentAvg - t.OlderAvg
	switch {
	case t.Delta > opts.StableBand:
		t.Direction = Improving
	case t.Delta < -opts.StableBand:
		t.Direction = Declining
	default:
		t.Direction = Stable
	}
	return t
}

func avg(incs []models.Incident) float64 {
	if len(incs) == 0 {
		return 0
	}
	sum := 0.0
	for i := range incs {
		sum += incs[i].Reasoning.Confidence
	}
	return sum / float64(len(incs))
}
