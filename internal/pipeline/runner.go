// Package pipeline runs Observe → Reason → Decide → Act → Append, once per
// tick. Exactly one pipeline run is in flight at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-triage/internal/audit"
	"github.com/kubilitics/kubilitics-triage/internal/config"
	"github.com/kubilitics/kubilitics-triage/internal/memory/incident"
	"github.com/kubilitics/kubilitics-triage/internal/metrics"
	"github.com/kubilitics/kubilitics-triage/internal/models"
	"github.com/kubilitics/kubilitics-triage/internal/observe"
	"github.com/kubilitics/kubilitics-triage/internal/reasoning/engine"
	"github.com/kubilitics/kubilitics-triage/internal/safety/dispatch"
	"github.com/kubilitics/kubilitics-triage/internal/safety/policy"
)

// Deps are the collaborators of a Runner.
type Deps struct {
	Source     observe.Source
	Engine     engine.ReasoningEngine
	Policy     policy.DecisionLayer
	Dispatcher dispatch.Dispatcher
	Store      incident.Store
	Audit      audit.Logger
	Logger     *zap.Logger
}

// Runner executes pipeline runs.
type Runner struct {
	cfg         config.PipelineConfig
	metricsPath string
	deps        Deps
	logger      *zap.Logger
	newID       func() string
	now         func() time.Time
}

// New creates a runner. metricsPath, when set, receives a textfile metrics
// export after every tick.
func New(cfg config.PipelineConfig, metricsPath string, deps Deps) *Runner {
	if deps.Audit == nil {
		deps.Audit = audit.NewNop()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:         cfg,
		metricsPath: metricsPath,
		deps:        deps,
		logger:      logger.Named("pipeline"),
		newID:       uuid.NewString,
		now:         time.Now,
	}
}

// RunOnce processes one observation and appends the resulting incident.
//
// A malformed observation returns an error wrapping
// models.ErrMalformedObservation and records nothing. A failed append,
// after retries, returns an error wrapping models.ErrPersistence.
func (r *Runner) RunOnce(ctx context.Context, obs *models.Observation) (*models.Incident, error) {
	if err := obs.Validate(); err != nil {
		metrics.ObservationsSkipped.Inc()
		_ = r.deps.Audit.Log(ctx, audit.NewEvent(audit.EventObservationSkipped).
			WithResult(audit.ResultFailure).
			WithError(err, "malformed_observation"))
		return nil, err
	}

	start := r.now()
	id := r.newID()
	ctx = audit.WithCorrelationID(ctx, id)
	log := r.logger.With(zap.String("incident_id", id), zap.Int64("observation_id", obs.ObservationID))

	// Reason
	outcome := r.deps.Engine.Analyze(ctx, obs)
	reasoning := outcome.Reasoning
	if outcome.Fallback() {
		_ = r.deps.Audit.LogReasoningFallback(ctx, id, outcome.ModelErr)
	}
	log.Debug("reasoning complete",
		zap.String("mode", string(reasoning.Mode)),
		zap.Float64("confidence", reasoning.Confidence),
		zap.Bool("escalated", outcome.Escalated),
		zap.String("escalation_reason", outcome.EscalationReason))

	// Decide
	decisions, err := r.deps.Policy.Decide(ctx, reasoning)
	if err != nil {
		log.Warn("policy history unavailable, deciding without recurrence", zap.Error(err))
		decisions = r.deps.Policy.Evaluate(reasoning, nil)
	}

	// Act
	records, err := r.deps.Dispatcher.Act(ctx, id, decisions)
	if err != nil {
		log.Error("dispatch incomplete", zap.Error(err))
	}

	inc := &models.Incident{
		IncidentID:  id,
		Timestamp:   models.EpochSeconds(start),
		Observation: *obs,
		Reasoning:   reasoning,
		Decision:    models.DecisionSet{Decisions: decisions},
		Action:      models.ActionSet{ActionsTaken: records},
		RiskLevel:   policy.RiskLevel(decisions),
	}
	inc.DurationMs = r.now().Sub(start).Milliseconds()

	// Append
	if err := r.append(ctx, inc); err != nil {
		metrics.PersistenceErrors.Inc()
		_ = r.deps.Audit.Log(ctx, audit.NewEvent(audit.EventIncidentPersistError).
			WithIncident(id).
			WithResult(audit.ResultFailure).
			WithError(err, "persistence"))
		return inc, err
	}

	metrics.IncidentsTotal.WithLabelValues(inc.RiskLevel).Inc()
	metrics.PipelineDuration.Observe(r.now().Sub(start).Seconds())
	_ = r.deps.Audit.LogIncidentRecorded(ctx, id, inc.RiskLevel)
	log.Info("incident recorded",
		zap.String("top_cause", inc.TopCause()),
		zap.String("risk_level", inc.RiskLevel),
		zap.Int("decisions", len(decisions)),
		zap.Int64("duration_ms", inc.DurationMs))
	return inc, nil
}

// append retries transient failures with exponential backoff. Duplicate ids
// and closed stores are not retried.
func (r *Runner) append(ctx context.Context, inc *models.Incident) error {
	b := backoff.NewExponentialBackOff()
	if r.cfg.AppendRetryBackoff > 0 {
		b.InitialInterval = r.cfg.AppendRetryBackoff
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(r.cfg.AppendRetries, 0))), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := r.deps.Store.Append(ctx, inc)
		if err == nil {
			return nil
		}
		if errors.Is(err, incident.ErrDuplicateIncident) || errors.Is(err, incident.ErrClosed) {
			return backoff.Permanent(err)
		}
		r.logger.Warn("incident append failed",
			zap.String("incident_id", inc.IncidentID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}, bo)
	if err != nil && !errors.Is(err, models.ErrPersistence) {
		err = fmt.Errorf("%w: %w", models.ErrPersistence, err)
	}
	return err
}

// Tick pulls one observation from the source and runs it. Only persistence
// failures are returned, and only when halt_on_persistence_error is set.
func (r *Runner) Tick(ctx context.Context) error {
	defer r.writeMetrics()

	obs, err := r.deps.Source.Next(ctx)
	switch {
	case errors.Is(err, observe.ErrNoSignals):
		r.logger.Debug("no signals yet", zap.Error(err))
		return nil
	case errors.Is(err, models.ErrMalformedObservation):
		metrics.ObservationsSkipped.Inc()
		r.logger.Warn("skipping malformed observation", zap.Error(err))
		return nil
	case err != nil:
		r.logger.Warn("observation source failed", zap.Error(err))
		return nil
	}

	_, err = r.RunOnce(ctx, obs)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrMalformedObservation):
		r.logger.Warn("skipping malformed observation", zap.Error(err))
		return nil
	default:
		r.logger.Error("incident not recorded", zap.Error(err))
		if r.cfg.HaltOnPersistenceError {
			return err
		}
		return nil
	}
}

// Run ticks every pipeline interval until ctx is done. The first tick runs
// immediately.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("pipeline started", zap.Duration("interval", r.cfg.Interval))
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := r.Tick(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			r.logger.Info("pipeline stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runner) writeMetrics() {
	if err := metrics.WriteTextfile(r.metricsPath); err != nil {
		r.logger.Warn("metrics export failed", zap.String("path", r.metricsPath), zap.Error(err))
	}
}
