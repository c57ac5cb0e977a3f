package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-triage/internal/config"
	"github.com/kubilitics/kubilitics-triage/internal/metrics"
	"github.com/kubilitics/kubilitics-triage/internal/models"
	"github.com/kubilitics/kubilitics-triage/internal/reasoning/prompt"
	"github.com/kubilitics/kubilitics-triage/internal/reasoning/rules"
)

// reasoningEngine implements ReasoningEngine.
type reasoningEngine struct {
	cfg          config.ReasoningConfig
	rules        []rules.Rule
	model        ModelReasoner
	modelTimeout time.Duration
	logger       *zap.Logger
}

// New creates a reasoning engine. A nil model disables escalation; the
// engine then always returns the deterministic result.
func New(cfg config.ReasoningConfig, model ModelReasoner, modelTimeout time.Duration, logger *zap.Logger) ReasoningEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &reasoningEngine{
		cfg:          cfg,
		rules:        rules.Default(cfg.Rules),
		model:        model,
		modelTimeout: modelTimeout,
		logger:       logger.Named("reasoning"),
	}
}

// Deterministic returns the rule-only result. It is a pure function of obs.
func (e *reasoningEngine) Deterministic(obs *models.Observation) models.Reasoning {
	hs := rules.Evaluate(e.rules, obs)
	conf := e.cfg.NoMatchConfidence
	if len(hs) > 0 {
		conf = hs[0].Confidence
	} else {
		hs = []models.Hypothesis{}
	}
	return models.Reasoning{
		Mode:             models.ModeDeterministic,
		Hypotheses:       hs,
		Assumptions:      []string{BaseAssumption},
		Unknowns:         []string{},
		Confidence:       conf,
		SignalConfidence: obs.SignalConfidence,
	}
}

// Reason implements ReasoningEngine.
func (e *reasoningEngine) Reason(ctx context.Context, obs *models.Observation) models.Reasoning {
	return e.Analyze(ctx, obs).Reasoning
}

// Analyze implements ReasoningEngine.
func (e *reasoningEngine) Analyze(ctx context.Context, obs *models.Observation) Outcome {
	det := e.Deterministic(obs)

	reason := e.escalationReason(det)
	if reason == "" {
		return e.finish(Outcome{Reasoning: det})
	}
	out := Outcome{Escalated: true, EscalationReason: reason}

	if e.model == nil {
		det.Unknowns = append(det.Unknowns, DisabledNote)
		out.Reasoning = det
		return e.finish(out)
	}

	parsed, err := e.callModel(ctx, obs, det.Hypotheses)
	if err != nil {
		e.logger.Warn("model reasoning failed, using deterministic fallback",
			zap.Int64("observation_id", obs.ObservationID),
			zap.String("escalation_reason", reason),
			zap.Error(err))
		fb := clone(det)
		fb.Unknowns = append(fb.Unknowns, FallbackNote)
		out.Reasoning = fb
		out.ModelErr = err
		return e.finish(out)
	}

	out.Reasoning = e.merge(det, parsed)
	e.logger.Debug("model reasoning merged",
		zap.Int64("observation_id", obs.ObservationID),
		zap.String("mode", string(out.Reasoning.Mode)),
		zap.Float64("confidence", out.Reasoning.Confidence))
	return e.finish(out)
}

// escalationReason returns why det is insufficient, or "" when it stands.
func (e *reasoningEngine) escalationReason(det models.Reasoning) string {
	if len(det.Hypotheses) == 0 {
		return "no rule matched"
	}
	top := det.Hypotheses[0]
	if top.Confidence < e.cfg.SufficientThreshold {
		return fmt.Sprintf("top confidence %.2f below sufficient threshold %.2f", top.Confidence, e.cfg.SufficientThreshold)
	}
	for _, h := range det.Hypotheses[1:] {
		if h.Cause != top.Cause && top.Confidence-h.Confidence <= e.cfg.AmbiguityMargin {
			return fmt.Sprintf("ambiguous between %s and %s", top.Cause, h.Cause)
		}
	}
	return ""
}

func (e *reasoningEngine) callModel(ctx context.Context, obs *models.Observation, partial []models.Hypothesis) (parsedResponse, error) {
	text, err := prompt.Render(obs, partial)
	if err != nil {
		return parsedResponse{}, err
	}

	if e.modelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.modelTimeout)
		defer cancel()
	}

	raw, err := e.model.Generate(ctx, text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, models.ErrReasoningBackend) {
			err = fmt.Errorf("%w: %w", models.ErrReasoningBackend, err)
		}
		return parsedResponse{}, err
	}
	return parseModelResponse(raw)
}

// merge folds the deterministic result into the model's. Model hypotheses
// rank first; rule hypotheses for other causes follow as evidence.
func (e *reasoningEngine) merge(det models.Reasoning, parsed parsedResponse) models.Reasoning {
	modelHs := append([]models.Hypothesis(nil), parsed.Hypotheses...)
	rules.Rank(modelHs)

	index := make(map[string]int, len(modelHs))
	for i, h := range modelHs {
		if _, seen := index[h.Cause]; !seen {
			index[h.Cause] = i
		}
	}

	var corroborations []string
	var ruleHs []models.Hypothesis
	for _, h := range det.Hypotheses {
		if i, ok := index[h.Cause]; ok {
			if modelHs[i].RuleID == "" {
				modelHs[i].RuleID = h.RuleID
			}
			corroborations = append(corroborations, fmt.Sprintf("rule %s corroborates %s", h.RuleID, h.Cause))
			continue
		}
		ruleHs = append(ruleHs, h)
	}

	merged := append(modelHs, ruleHs...)

	mode := models.ModeLLM
	if len(det.Hypotheses) > 0 {
		mode = models.ModeHybrid
	}

	conf := merged[0].Confidence
	if len(det.Hypotheses) > 0 && modelHs[0].Cause != det.Hypotheses[0].Cause {
		conf *= e.cfg.DisagreementPenalty
	}

	assumptions := dedupe(append(append(append([]string{}, det.Assumptions...), parsed.Assumptions...), corroborations...))
	unknowns := dedupe(append([]string{}, parsed.Unknowns...))

	return models.Reasoning{
		Mode:             mode,
		Hypotheses:       merged,
		Assumptions:      assumptions,
		Unknowns:         unknowns,
		Confidence:       clamp(conf),
		SignalConfidence: det.SignalConfidence,
	}
}

func (e *reasoningEngine) finish(out Outcome) Outcome {
	metrics.ReasoningTotal.WithLabelValues(string(out.Reasoning.Mode), strconv.FormatBool(out.Fallback())).Inc()
	metrics.ReasoningConfidence.Observe(out.Reasoning.Confidence)
	return out
}

func clone(r models.Reasoning) models.Reasoning {
	r.Hypotheses = append([]models.Hypothesis{}, r.Hypotheses...)
	r.Assumptions = append([]string{}, r.Assumptions...)
	r.Unknowns = append([]string{}, r.Unknowns...)
	return r
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
