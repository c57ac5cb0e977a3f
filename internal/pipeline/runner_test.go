package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-triage/internal/config"
	"github.com/kubilitics/kubilitics-triage/internal/db"
	"github.com/kubilitics/kubilitics-triage/internal/memory/incident"
	"github.com/kubilitics/kubilitics-triage/internal/models"
	"github.com/kubilitics/kubilitics-triage/internal/observe"
	"github.com/kubilitics/kubilitics-triage/internal/reasoning/engine"
	"github.com/kubilitics/kubilitics-triage/internal/safety/approval"
	"github.com/kubilitics/kubilitics-triage/internal/safety/dispatch"
	"github.com/kubilitics/kubilitics-triage/internal/safety/policy"
)

type downModel struct{}

func (downModel) Generate(context.Context, string) (json.RawMessage, error) {
	return nil, fmt.Errorf("%w: connection refused", models.ErrReasoningBackend)
}

// flakyStore fails the first n appends, then delegates.
type flakyStore struct {
	incident.Store
	mu       sync.Mutex
	failures int
	attempts int
}

func (f *flakyStore) Append(ctx context.Context, inc *models.Incident) error {
	f.mu.Lock()
	f.attempts++
	fail := f.attempts <= f.failures
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: disk busy", models.ErrPersistence)
	}
	return f.Store.Append(ctx, inc)
}

type harness struct {
	runner   *Runner
	store    incident.Store
	register approval.Register
	monitor  *dispatch.MonitoringExecutor
}

func newHarness(t *testing.T, src observe.Source, wrap func(incident.Store) incident.Store) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Pipeline.Interval = 10 * time.Millisecond
	cfg.Pipeline.AppendRetryBackoff = time.Millisecond

	store, err := incident.OpenJSONL(filepath.Join(dir, "incidents.jsonl"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	var s incident.Store = store
	if wrap != nil {
		s = wrap(store)
	}

	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	register := approval.NewRegister(conn, nil, nil)

	monitor := dispatch.NewMonitoringExecutor()
	guidance := dispatch.NewGuidanceExecutor(filepath.Join(dir, "guidance"))

	r := New(cfg.Pipeline, "", Deps{
		Source:     src,
		Engine:     engine.New(cfg.Reasoning, downModel{}, time.Second, nil),
		Policy:     policy.New(cfg.Policy, s, nil),
		Dispatcher: dispatch.New(dispatch.DefaultExecutors(monitor, guidance), register, nil, nil),
		Store:      s,
	})
	return &harness{runner: r, store: s, register: register, monitor: monitor}
}

func gatewayObservation() *models.Observation {
	return &models.Observation{
		TicketCount:     40,
		ErrorCount:      12,
		FailedCheckouts: 8,
		Anomalies:       []models.Anomaly{{Type: "checkout_failure_spike", Severity: models.SeverityHigh}},
	}
}

func quietObservation() *models.Observation {
	return &models.Observation{
		TicketCount: 2,
		ErrorCount:  1,
		Anomalies:   []models.Anomaly{{Type: "ticket_volume", Severity: models.SeverityLow}},
	}
}

func TestRunOnce_GatewayTimeoutEscalates(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	inc, err := h.runner.RunOnce(ctx, gatewayObservation())
	require.NoError(t, err)

	assert.Equal(t, models.ModeDeterministic, inc.Reasoning.Mode)
	assert.Equal(t, 0.9, inc.Reasoning.Confidence)
	require.Len(t, inc.Reasoning.Hypotheses, 1)
	assert.Equal(t, "payment_gateway_timeout", inc.Reasoning.Hypotheses[0].Cause)

	require.Len(t, inc.Decision.Decisions, 1)
	assert.Equal(t, models.DecisionEscalateEngineering, inc.Decision.Decisions[0].Type)
	assert.True(t, inc.Decision.Decisions[0].RequiresHumanApproval)

	require.Len(t, inc.Action.ActionsTaken, 1)
	rec := inc.Action.ActionsTaken[0]
	assert.Equal(t, models.ActionEngineeringEscalation, rec.Action)
	assert.Equal(t, models.StatusPendingApproval, rec.Status)
	assert.Equal(t, models.RiskHigh, inc.RiskLevel)

	pa, err := h.register.Get(ctx, rec.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, inc.IncidentID, pa.IncidentID)

	stored, err := h.store.Query(ctx, incident.Filter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, inc.IncidentID, stored[0].IncidentID)
}

func TestRunOnce_BackendDownMonitors(t *testing.T) {
	h := newHarness(t, nil, nil)

	inc, err := h.runner.RunOnce(context.Background(), quietObservation())
	require.NoError(t, err)

	assert.Equal(t, models.ModeDeterministic, inc.Reasoning.Mode)
	assert.Equal(t, 0.2, inc.Reasoning.Confidence)
	assert.Equal(t, []string{engine.FallbackNote}, inc.Reasoning.Unknowns)

	require.Len(t, inc.Decision.Decisions, 1)
	assert.Equal(t, models.DecisionMonitorOnly, inc.Decision.Decisions[0].Type)
	assert.False(t, inc.Decision.Decisions[0].RequiresHumanApproval)

	require.Len(t, inc.Action.ActionsTaken, 1)
	assert.Equal(t, models.ActionMonitoring, inc.Action.ActionsTaken[0].Action)
	assert.Equal(t, models.StatusExecuted, inc.Action.ActionsTaken[0].Status)
	assert.True(t, h.monitor.Monitoring().Active)
	assert.Equal(t, models.RiskLow, inc.RiskLevel)
}

func TestRunOnce_RecurrenceUsesStoredHistory(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	var last *models.Incident
	for i := 0; i < 3; i++ {
		inc, err := h.runner.RunOnce(ctx, gatewayObservation())
		require.NoError(t, err)
		last = inc
	}

	var types []models.DecisionType
	for _, d := range last.Decision.Decisions {
		types = append(types, d.Type)
	}
	assert.Equal(t, []models.DecisionType{models.DecisionEscalateEngineering, models.DecisionDocumentationUpdate}, types)

	pending, err := h.register.List(ctx, approval.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 4, "three escalations and one documentation suggestion")
}

func TestRunOnce_MalformedObservationRecordsNothing(t *testing.T) {
	h := newHarness(t, nil, nil)
	obs := quietObservation()
	obs.FailedCheckouts = -1

	inc, err := h.runner.RunOnce(context.Background(), obs)
	assert.Nil(t, inc)
	assert.ErrorIs(t, err, models.ErrMalformedObservation)

	stored, err := h.store.Query(context.Background(), incident.Filter{})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRunOnce_AppendRetriesTransientFailures(t *testing.T) {
	var flaky *flakyStore
	h := newHarness(t, nil, func(s incident.Store) incident.Store {
		flaky = &flakyStore{Store: s, failures: 2}
		return flaky
	})

	_, err := h.runner.RunOnce(context.Background(), quietObservation())
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.attempts)
}

func TestRunOnce_AppendGivesUp(t *testing.T) {
	var flaky *flakyStore
	h := newHarness(t, nil, func(s incident.Store) incident.Store {
		flaky = &flakyStore{Store: s, failures: 100}
		return flaky
	})

	inc, err := h.runner.RunOnce(context.Background(), quietObservation())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.NotNil(t, inc, "the unrecorded incident is returned for diagnostics")
	assert.Equal(t, 4, flaky.attempts, "one attempt plus three retries")
}

func TestTick_HaltsOnPersistenceErrorWhenConfigured(t *testing.T) {
	h := newHarness(t, observe.StaticSource{Observation: *quietObservation()}, func(s incident.Store) incident.Store {
		return &flakyStore{Store: s, failures: 100}
	})

	assert.NoError(t, h.runner.Tick(context.Background()), "default keeps running")

	h.runner.cfg.HaltOnPersistenceError = true
	err := h.runner.Tick(context.Background())
	assert.ErrorIs(t, err, models.ErrPersistence)
}

func TestTick_SkipsMalformedAndMissingSignals(t *testing.T) {
	bad := *quietObservation()
	bad.Anomalies = []models.Anomaly{{Type: "x", Severity: "extreme"}}

	h := newHarness(t, observe.StaticSource{Observation: bad}, nil)
	assert.NoError(t, h.runner.Tick(context.Background()))

	h = newHarness(t, observe.NewFileSource(filepath.Join(t.TempDir(), "missing.json")), nil)
	assert.NoError(t, h.runner.Tick(context.Background()))

	stored, err := h.store.Query(context.Background(), incident.Filter{})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	h := newHarness(t, observe.StaticSource{Observation: *quietObservation()}, nil)
	ch, cancelSub := h.store.Subscribe(16)
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.runner.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatal("pipeline did not record incidents")
		}
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}

	stored, err := h.store.Query(context.Background(), incident.Filter{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(stored), 3)
	for i := 1; i < len(stored); i++ {
		assert.LessOrEqual(t, stored[i-1].Timestamp, stored[i].Timestamp, "insertion order is chronological")
	}
}

func TestRunOnce_PolicyHistoryFailureDegrades(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NoError(t, h.store.Close())

	// Closed store: history read fails, append fails without retry.
	inc, err := h.runner.RunOnce(context.Background(), gatewayObservation())
	require.Error(t, err)
	assert.True(t, errors.Is(err, incident.ErrClosed))
	require.NotNil(t, inc)
	assert.Equal(t, models.DecisionEscalateEngineering, inc.Decision.Decisions[0].Type)
}
