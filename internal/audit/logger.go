package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kubilitics/kubilitics-triage/internal/config"
	"github.com/kubilitics/kubilitics-triage/internal/logging"
)

// Logger records safety-relevant events to the audit trail.
type Logger interface {
	// Log writes an audit event.
	Log(ctx context.Context, event *Event) error

	LogIncidentRecorded(ctx context.Context, incidentID, riskLevel string) error
	LogReasoningFallback(ctx context.Context, incidentID string, cause error) error
	LogActionExecuted(ctx context.Context, incidentID, action string) error
	LogActionPending(ctx context.Context, incidentID, action, approvalID string) error
	LogApprovalResolved(ctx context.Context, approvalID, action, user string, approved bool) error
	LogSafetyViolation(ctx context.Context, incidentID, decisionType, reason string) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// auditLogger writes one JSON line per event, unbuffered: a crash must not
// lose safety events already reported as logged.
type auditLogger struct {
	zl     *zap.Logger
	closer func() error
	mu     sync.Mutex
}

// NewLogger creates the audit logger. Audit entries are always written at
// INFO level regardless of the application log level.
func NewLogger(cfg config.LoggingConfig) (Logger, error) {
	if cfg.AuditPath == "" {
		return nil, fmt.Errorf("audit path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.AuditPath), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	rotator := logging.Rotator(cfg.AuditPath, cfg)
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(logging.EncoderConfig()),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)
	return &auditLogger{zl: zap.New(core), closer: rotator.Close}, nil
}

// NewNop returns a Logger that discards every event.
func NewNop() Logger {
	return &auditLogger{zl: zap.NewNop(), closer: func() error { return nil }}
}

// Log writes an audit event. A missing correlation id is taken from ctx.
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event == nil {
		return nil
	}
	if event.CorrelationID == "" {
		event.CorrelationID = CorrelationID(ctx)
	}

	fields := []zap.Field{
		zap.Time("event_time", event.Timestamp),
		zap.String("event_type", string(event.Type)),
		zap.String("result", string(event.Result)),
	}
	str := func(key, v string) {
		if v != "" {
			fields = append(fields, zap.String(key, v))
		}
	}
	str("correlation_id", event.CorrelationID)
	str("incident_id", event.IncidentID)
	str("approval_id", event.ApprovalID)
	str("decision_type", event.DecisionType)
	str("action", event.Action)
	str("operator", event.Operator)
	str("error", event.Error)
	str("error_code", event.ErrorCode)
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl.Info(event.Message, fields...)
	return nil
}

func (l *auditLogger) LogIncidentRecorded(ctx context.Context, incidentID, riskLevel string) error {
	return l.Log(ctx, NewEvent(EventIncidentRecorded).
		WithIncident(incidentID).
		WithResult(ResultSuccess).
		WithMetadata("risk_level", riskLevel).
		WithMessage("incident recorded"))
}

func (l *auditLogger) LogReasoningFallback(ctx context.Context, incidentID string, cause error) error {
	return l.Log(ctx, NewEvent(EventReasoningFallback).
		WithIncident(incidentID).
		WithError(cause, "reasoning_backend").
		WithMessage("model reasoner unavailable, deterministic fallback used"))
}

func (l *auditLogger) LogActionExecuted(ctx context.Context, incidentID, action string) error {
	return l.Log(ctx, NewEvent(EventActionExecuted).
		WithIncident(incidentID).
		WithAction(action).
		WithResult(ResultSuccess).
		WithMessage(fmt.Sprintf("%s executed", action)))
}

func (l *auditLogger) LogActionPending(ctx context.Context, incidentID, action, approvalID string) error {
	return l.Log(ctx, NewEvent(EventActionPendingApproval).
		WithIncident(incidentID).
		WithApproval(approvalID).
		WithAction(action).
		WithResult(ResultPending).
		WithMessage(fmt.Sprintf("%s awaiting human approval", action)))
}

// LogApprovalResolved records a human approve or reject. The approval id is
// the correlation id because resolution happens outside any pipeline run.
func (l *auditLogger) LogApprovalResolved(ctx context.Context, approvalID, action, user string, approved bool) error {
	t, result, verb := EventActionApproved, ResultSuccess, "approved"
	if !approved {
		t, result, verb = EventActionRejected, ResultDenied, "rejected"
	}
	event := NewEvent(t).
		WithApproval(approvalID).
		WithAction(action).
		WithOperator(user).
		WithResult(result).
		WithMessage(fmt.Sprintf("%s %s by %s", action, verb, user))
	event.CorrelationID = approvalID
	return l.Log(ctx, event)
}

// LogSafetyViolation records an auto-execution attempt outside the whitelist.
func (l *auditLogger) LogSafetyViolation(ctx context.Context, incidentID, decisionType, reason string) error {
	return l.Log(ctx, NewEvent(EventSafetyPolicyViolation).
		WithIncident(incidentID).
		WithDecision(decisionType).
		WithResult(ResultDenied).
		WithMetadata("rule", "auto_execution_whitelist").
		WithMessage(reason))
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.zl.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	_ = l.Sync()
	return l.closer()
}

type correlationKey struct{}

// CorrelationID extracts correlation ID from context
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}
