package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-triage/internal/audit"
	"github.com/kubilitics/kubilitics-triage/internal/metrics"
	"github.com/kubilitics/kubilitics-triage/internal/models"
	"github.com/kubilitics/kubilitics-triage/internal/safety/approval"
)

// Package dispatch provides the Action Dispatcher.
//
// Dispatch flow for each decision:
//
//   requires_human_approval=true
//      → submit to the pending-approvals register
//      → record pending_approval (never executed here)
//
//   requires_human_approval=false
//      → whitelisted type: run the executor, record executed (failed if the
//        side effect errored)
//      → anything else: record rejected, audit safety.policy_violation
//
// The whitelist lives in models and is the only route to execution.

// Executor performs the side effect of one whitelisted action.
type Executor interface {
	// Execute returns a short detail (message or artifact path).
	Execute(ctx context.Context, incidentID string, d models.Decision) (string, error)
}

// Dispatcher executes whitelisted decisions and defers the rest.
type Dispatcher interface {
	// Act dispatches every decision and returns one record per decision in
	// the same order. The error reports register failures; the records are
	// complete regardless.
	Act(ctx context.Context, incidentID string, decisions []models.Decision) ([]models.ActionRecord, error)
}

type dispatcher struct {
	executors map[models.ActionType]Executor
	register  approval.Register
	audit     audit.Logger
	logger    *zap.Logger
}

// New creates a dispatcher. executors is keyed by whitelisted action; an
// executor for a non-whitelisted action is never called.
func New(executors map[models.ActionType]Executor, register approval.Register, auditLog audit.Logger, logger *zap.Logger) Dispatcher {
	if auditLog == nil {
		auditLog = audit.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &dispatcher{
		executors: executors,
		register:  register,
		audit:     auditLog,
		logger:    logger.Named("dispatch"),
	}
}

func (d *dispatcher) Act(ctx context.Context, incidentID string, decisions []models.Decision) ([]models.ActionRecord, error) {
	records := make([]models.ActionRecord, 0, len(decisions))
	var errs []error
	for _, dec := range decisions {
		var (
			rec models.ActionRecord
			err error
		)
		if dec.RequiresHumanApproval {
			rec, err = d.hold(ctx, incidentID, dec)
		} else {
			rec = d.execute(ctx, incidentID, dec)
		}
		if err != nil {
			errs = append(errs, err)
		}
		metrics.ActionsTotal.WithLabelValues(string(rec.Action), string(rec.Status)).Inc()
		records = append(records, rec)
	}
	return records, errors.Join(errs...)
}

// hold records a decision for human sign-off.
func (d *dispatcher) hold(ctx context.Context, incidentID string, dec models.Decision) (models.ActionRecord, error) {
	rec := models.ActionRecord{
		Action:       models.ActionFor(dec.Type),
		Status:       models.StatusPendingApproval,
		DecisionType: dec.Type,
	}
	if d.register == nil {
		rec.Detail = "approval register unavailable"
		return rec, fmt.Errorf("submit %s for %s: no approval register", dec.Type, incidentID)
	}

	id, err := d.register.Submit(ctx, incidentID, dec)
	if err != nil {
		d.logger.Error("failed to register pending approval",
			zap.String("incident_id", incidentID),
			zap.String("decision_type", string(dec.Type)),
			zap.Error(err))
		rec.Detail = "approval register unavailable"
		return rec, err
	}
	rec.ApprovalID = id

	if err := d.audit.LogActionPending(ctx, incidentID, string(rec.Action), id); err != nil {
		d.logger.Warn("audit write failed", zap.Error(err))
	}
	d.logger.Info("decision awaiting approval",
		zap.String("incident_id", incidentID),
		zap.String("action", string(rec.Action)),
		zap.String("approval_id", id))
	return rec, nil
}

// execute runs a decision marked for automatic execution. Only whitelisted
// types reach an executor.
func (d *dispatcher) execute(ctx context.Context, incidentID string, dec models.Decision) models.ActionRecord {
	action, ok := models.AutoExecutable(dec.Type)
	if !ok {
		return d.reject(ctx, incidentID, dec)
	}

	rec := models.ActionRecord{Action: action, DecisionType: dec.Type}
	exec, ok := d.executors[action]
	if !ok {
		rec.Status = models.StatusFailed
		rec.Detail = "no executor configured"
		d.logger.Error("no executor for whitelisted action", zap.String("action", string(action)))
		return rec
	}

	detail, err := exec.Execute(ctx, incidentID, dec)
	if err != nil {
		rec.Status = models.StatusFailed
		rec.Detail = err.Error()
		d.logger.Error("action failed",
			zap.String("incident_id", incidentID),
			zap.String("action", string(action)),
			zap.Error(err))
		_ = d.audit.Log(ctx, audit.NewEvent(audit.EventActionFailed).
			WithIncident(incidentID).
			WithAction(string(action)).
			WithResult(audit.ResultFailure).
			WithError(err, "action_failed"))
		return rec
	}

	rec.Status = models.StatusExecuted
	rec.Detail = detail
	if err := d.audit.LogActionExecuted(ctx, incidentID, string(action)); err != nil {
		d.logger.Warn("audit write failed", zap.Error(err))
	}
	d.logger.Info("action executed",
		zap.String("incident_id", incidentID),
		zap.String("action", string(action)),
		zap.String("detail", detail))
	return rec
}

func (d *dispatcher) reject(ctx context.Context, incidentID string, dec models.Decision) models.ActionRecord {
	reason := fmt.Sprintf("%s: %s is not in the auto-execution whitelist", models.ErrPolicyViolation, dec.Type)

	metrics.PolicyViolations.WithLabelValues(string(dec.Type)).Inc()
	if err := d.audit.LogSafetyViolation(ctx, incidentID, string(dec.Type), reason); err != nil {
		d.logger.Warn("audit write failed", zap.Error(err))
	}
	d.logger.Warn("rejected auto-execution of non-whitelisted decision",
		zap.String("incident_id", incidentID),
		zap.String("decision_type", string(dec.Type)))

	return models.ActionRecord{
		Action:       models.ActionFor(dec.Type),
		Status:       models.StatusRejected,
		DecisionType: dec.Type,
		Detail:       reason,
	}
}
