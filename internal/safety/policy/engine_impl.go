package policy

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-triage/internal/config"
	"github.com/kubilitics/kubilitics-triage/internal/memory/incident"
	"github.com/kubilitics/kubilitics-triage/internal/metrics"
	"github.com/kubilitics/kubilitics-triage/internal/models"
)

// ─── Threshold snapshot ───────────────────────────────────────────────────────

type snapshot struct {
	cfg        config.PolicyConfig
	actionable map[string]bool
	defect     map[string]bool
}

func newSnapshot(cfg config.PolicyConfig) *snapshot {
	s := &snapshot{
		cfg:        cfg,
		actionable: make(map[string]bool, len(cfg.CustomerActionable)),
		defect:     make(map[string]bool, len(cfg.CodeDefect)),
	}
	for _, c := range cfg.CustomerActionable {
		s.actionable[c] = true
	}
	for _, c := range cfg.CodeDefect {
		s.defect[c] = true
	}
	return s
}

// ─── Risk table ───────────────────────────────────────────────────────────────

var riskTable = map[models.DecisionType]string{
	models.DecisionMonitorOnly:         models.RiskLow,
	models.DecisionSupportGuidance:     models.RiskLow,
	models.DecisionDocumentationUpdate: models.RiskMedium,
	models.DecisionEscalateEngineering: models.RiskHigh,
	models.DecisionBlockAutoActions:    models.RiskHigh,
}

// RiskFor returns the risk class of a decision type. Unknown types are high.
func RiskFor(t models.DecisionType) string {
	if r, ok := riskTable[t]; ok {
		return r
	}
	return models.RiskHigh
}

var riskRank = map[string]int{models.RiskLow: 0, models.RiskMedium: 1, models.RiskHigh: 2}

// RiskLevel returns the highest risk among decisions, low when empty.
func RiskLevel(decisions []models.Decision) string {
	level := models.RiskLow
	for _, d := range decisions {
		r := d.Risk
		if r == "" {
			r = RiskFor(d.Type)
		}
		if riskRank[r] > riskRank[level] {
			level = r
		}
	}
	return level
}

// ─── decisionLayer ────────────────────────────────────────────────────────────

type decisionLayer struct {
	snap    atomic.Pointer[snapshot]
	history History
	logger  *zap.Logger
}

// New creates the decision layer. history may be nil, in which case the
// recurrence rule never fires.
func New(cfg config.PolicyConfig, history History, logger *zap.Logger) DecisionLayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &decisionLayer{history: history, logger: logger.Named("policy")}
	l.snap.Store(newSnapshot(cfg))
	return l
}

func (l *decisionLayer) Update(cfg config.PolicyConfig) {
	l.snap.Store(newSnapshot(cfg))
	l.logger.Info("policy thresholds updated",
		zap.Float64("low_confidence", cfg.LowConfidence),
		zap.Float64("medium_confidence", cfg.MediumConfidence),
		zap.Float64("high_confidence", cfg.HighConfidence))
}

func (l *decisionLayer) Follow(ctx context.Context, ch <-chan config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			l.Update(cfg.Policy)
		}
	}
}

func (l *decisionLayer) Decide(ctx context.Context, reasoning models.Reasoning) ([]models.Decision, error) {
	s := l.snap.Load()

	var history []models.Incident
	if l.history != nil && s.cfg.RecurrenceLookback > 0 {
		var err error
		history, err = l.history.Query(ctx, incident.Filter{Last: s.cfg.RecurrenceLookback})
		if err != nil {
			return nil, fmt.Errorf("read incident history: %w", err)
		}
	}

	decisions := evaluate(s, reasoning, history)
	for _, d := range decisions {
		metrics.DecisionsTotal.WithLabelValues(string(d.Type), strconv.FormatBool(d.RequiresHumanApproval)).Inc()
	}
	return decisions, nil
}

func (l *decisionLayer) Evaluate(reasoning models.Reasoning, history []models.Incident) []models.Decision {
	return evaluate(l.snap.Load(), reasoning, history)
}

func evaluate(s *snapshot, r models.Reasoning, history []models.Incident) []models.Decision {
	cfg := s.cfg
	var out []models.Decision
	add := func(t models.DecisionType, approval bool, reason string) *models.Decision {
		out = append(out, models.Decision{Type: t, Reason: reason, RequiresHumanApproval: approval})
		return &out[len(out)-1]
	}

	blocked := r.SignalConfidence > 0 && r.SignalConfidence < SignalConfidenceFloor
	if blocked {
		add(models.DecisionBlockAutoActions, true,
			fmt.Sprintf("low observation confidence (%.2f), automatic actions blocked", r.SignalConfidence))
	}

	if r.Confidence < cfg.LowConfidence {
		add(models.DecisionMonitorOnly, false,
			fmt.Sprintf("confidence %.2f below %.2f, monitoring for changes", r.Confidence, cfg.LowConfidence))
	}

	top, hasTop := r.Top()
	if hasTop {
		if s.actionable[top.Cause] && r.Confidence >= cfg.MediumConfidence {
			add(models.DecisionSupportGuidance, blocked,
				fmt.Sprintf("%s is customer actionable, prepare merchant guidance", top.Cause))
		}
		if s.defect[top.Cause] && r.Confidence >= cfg.HighConfidence {
			d := add(models.DecisionEscalateEngineering, true,
				fmt.Sprintf("%s indicates a code or infrastructure defect", top.Cause))
			d.Severity = models.SeverityHigh
		}
		if n := occurrences(top.Cause, history, cfg.RecurrenceLookback); cfg.RecurrenceMin > 0 && n >= cfg.RecurrenceMin {
			add(models.DecisionDocumentationUpdate, true,
				fmt.Sprintf("%s recurred in %d of the last %d incidents", top.Cause, n, min(len(history), cfg.RecurrenceLookback)))
		}
	}

	if len(out) == 0 {
		add(models.DecisionMonitorOnly, false, "root cause unclear, monitoring for changes")
	}

	return gate(out)
}

// occurrences counts incidents among the last lookback whose top cause is cause.
func occurrences(cause string, history []models.Incident, lookback int) int {
	if lookback <= 0 {
		return 0
	}
	if len(history) > lookback {
		history = history[len(history)-lookback:]
	}
	n := 0
	for i := range history {
		if history[i].TopCause() == cause {
			n++
		}
	}
	return n
}

// gate forces approval on every decision outside the whitelist and fills in
// risk.
func gate(decisions []models.Decision) []models.Decision {
	for i := range decisions {
		d := &decisions[i]
		if _, ok := models.AutoExecutable(d.Type); !ok {
			d.RequiresHumanApproval = true
		}
		d.Risk = RiskFor(d.Type)
	}
	return decisions
}
