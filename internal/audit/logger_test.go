package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kubilitics/kubilitics-triage/internal/config"
)

func newTestLogger(t *testing.T) (Logger, string) {
	t.Helper()
	cfg := config.DefaultConfig().Logging
	cfg.AuditPath = filepath.Join(t.TempDir(), "audit", "audit.log")
	cfg.Compress = false

	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger, cfg.AuditPath
}

func readLog(t *testing.T, logger Logger, path string) string {
	t.Helper()
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}
	return string(content)
}

func TestNewLoggerRequiresPath(t *testing.T) {
	cfg := config.DefaultConfig().Logging
	cfg.AuditPath = ""

	if _, err := NewLogger(cfg); err == nil {
		t.Fatal("Expected error for empty audit path")
	}
}

func TestLogEvent(t *testing.T) {
	logger, path := newTestLogger(t)

	event := NewEvent(EventConfigLoaded).
		WithIncident("test-123").
		WithOperator("test-user").
		WithResult(ResultSuccess)
	if err := logger.Log(context.Background(), event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	logContent := readLog(t, logger, path)
	for _, want := range []string{"test-123", "config.loaded", "test-user"} {
		if !strings.Contains(logContent, want) {
			t.Errorf("Log does not contain %q", want)
		}
	}
}

func TestCorrelationIDFromContext(t *testing.T) {
	logger, path := newTestLogger(t)

	ctx := WithCorrelationID(context.Background(), "ctx-789")
	if got := CorrelationID(ctx); got != "ctx-789" {
		t.Fatalf("CorrelationID = %q", got)
	}
	if err := logger.Log(ctx, NewEvent(EventObservationSkipped)); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	if !strings.Contains(readLog(t, logger, path), "ctx-789") {
		t.Error("Log does not contain context correlation ID")
	}
}

func TestLogActionLifecycle(t *testing.T) {
	logger, path := newTestLogger(t)
	ctx := context.Background()

	if err := logger.LogActionExecuted(ctx, "inc-1", "monitoring"); err != nil {
		t.Fatalf("LogActionExecuted failed: %v", err)
	}
	if err := logger.LogActionPending(ctx, "inc-1", "engineering_escalation_created", "appr-1"); err != nil {
		t.Fatalf("LogActionPending failed: %v", err)
	}
	if err := logger.LogApprovalResolved(ctx, "appr-1", "engineering_escalation_created", "oncall", true); err != nil {
		t.Fatalf("LogApprovalResolved failed: %v", err)
	}
	if err := logger.LogApprovalResolved(ctx, "appr-2", "documentation_update_drafted", "oncall", false); err != nil {
		t.Fatalf("LogApprovalResolved failed: %v", err)
	}

	logContent := readLog(t, logger, path)
	for _, want := range []string{"action.executed", "action.pending_approval", "appr-1", "action.approved", "action.rejected", "oncall"} {
		if !strings.Contains(logContent, want) {
			t.Errorf("Log does not contain %q", want)
		}
	}
}

func TestLogSafetyViolation(t *testing.T) {
	logger, path := newTestLogger(t)

	if err := logger.LogSafetyViolation(context.Background(), "inc-2", "escalate_engineering", "not whitelisted"); err != nil {
		t.Fatalf("LogSafetyViolation failed: %v", err)
	}

	logContent := readLog(t, logger, path)
	for _, want := range []string{"safety.policy_violation", "escalate_engineering", "denied"} {
		if !strings.Contains(logContent, want) {
			t.Errorf("Log does not contain %q", want)
		}
	}
}

func TestLogReasoningFallback(t *testing.T) {
	logger, path := newTestLogger(t)

	if err := logger.LogReasoningFallback(context.Background(), "inc-3", errors.New("connection refused")); err != nil {
		t.Fatalf("LogReasoningFallback failed: %v", err)
	}

	logContent := readLog(t, logger, path)
	if !strings.Contains(logContent, "reasoning.fallback") || !strings.Contains(logContent, "connection refused") {
		t.Errorf("unexpected log content: %s", logContent)
	}
}

func TestEventWithError(t *testing.T) {
	event := NewEvent(EventIncidentPersistError).WithError(errors.New("disk full"), "persistence")
	if event.Result != ResultFailure {
		t.Errorf("Expected failure result, got %s", event.Result)
	}
	if event.ErrorCode != "persistence" {
		t.Errorf("Expected error code persistence, got %s", event.ErrorCode)
	}

	unchanged := NewEvent(EventIncidentRecorded).WithError(nil, "ignored")
	if unchanged.Result != ResultPending || unchanged.Error != "" {
		t.Error("nil error must not change the event")
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNop()
	if err := logger.LogIncidentRecorded(context.Background(), "inc", "low"); err != nil {
		t.Fatalf("nop logger returned error: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
