package cli

// Component wiring shared by the triage commands.
//
// Every command loads config, opens the audit trail, the incident memory and
// the approvals register. Commands that run the pipeline additionally build
// the reasoning engine, decision layer and dispatcher on top.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-triage/internal/audit"
	"github.com/kubilitics/kubilitics-triage/internal/config"
	"github.com/kubilitics/kubilitics-triage/internal/db"
	"github.com/kubilitics/kubilitics-triage/internal/llm/provider/ollama"
	"github.com/kubilitics/kubilitics-triage/internal/logging"
	"github.com/kubilitics/kubilitics-triage/internal/memory/incident"
	"github.com/kubilitics/kubilitics-triage/internal/observe"
	"github.com/kubilitics/kubilitics-triage/internal/pipeline"
	"github.com/kubilitics/kubilitics-triage/internal/reasoning/engine"
	"github.com/kubilitics/kubilitics-triage/internal/safety/approval"
	"github.com/kubilitics/kubilitics-triage/internal/safety/dispatch"
	"github.com/kubilitics/kubilitics-triage/internal/safety/policy"
)

type runtime struct {
	mgr      config.ConfigManager
	cfg      *config.Config
	logger   *zap.Logger
	audit    audit.Logger
	store    incident.Store
	register approval.Register
	closers  []func() error
}

// ─── Open / Close ─────────────────────────────────────────────────────────────

func (a *app) open(ctx context.Context) (rt *runtime, err error) {
	mgr, err := config.NewConfigManager(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("create config manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, err
	}
	cfg := mgr.Get(ctx)

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	rt = &runtime{mgr: mgr, cfg: cfg, logger: logger}
	rt.closers = append(rt.closers, func() error {
		_ = logger.Sync()
		return nil
	})
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	rt.audit, err = audit.NewLogger(cfg.Logging)
	if err != nil {
		return rt, fmt.Errorf("create audit logger: %w", err)
	}
	rt.closers = append(rt.closers, rt.audit.Close)

	conn, err := db.Open(cfg.Approvals.SQLitePath)
	if err != nil {
		return rt, fmt.Errorf("open approvals database: %w", err)
	}
	rt.closers = append(rt.closers, conn.Close)
	rt.register = approval.NewRegister(conn, rt.audit, logger)

	rt.store, err = openStore(cfg, conn, logger)
	if err != nil {
		return rt, fmt.Errorf("open incident memory: %w", err)
	}
	rt.closers = append(rt.closers, rt.store.Close)

	_ = rt.audit.Log(ctx, audit.NewEvent(audit.EventConfigLoaded).
		WithResult(audit.ResultSuccess).
		WithMetadata("config_path", a.configPath).
		WithMetadata("memory_backend", cfg.Memory.Backend).
		WithMetadata("llm_enabled", cfg.LLM.Enabled))
	return rt, nil
}

// openStore shares the approvals connection when both live in one database
// file, since a second handle would contend for the same write lock.
func openStore(cfg *config.Config, conn *sql.DB, logger *zap.Logger) (incident.Store, error) {
	if cfg.Memory.Backend == "sqlite" && samePath(cfg.Memory.SQLitePath, cfg.Approvals.SQLitePath) {
		return incident.NewSQLite(conn, false, logger), nil
	}
	return incident.Open(cfg.Memory, logger)
}

func samePath(a, b string) bool {
	if a == ":memory:" || b == ":memory:" {
		return false
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// ─── Pipeline ─────────────────────────────────────────────────────────────────

func (rt *runtime) pipeline(source observe.Source) (*pipeline.Runner, policy.DecisionLayer, error) {
	cfg := rt.cfg

	var model engine.ModelReasoner
	if cfg.LLM.Enabled {
		client, err := ollama.NewClient(ollama.Config{
			BaseURL:           cfg.LLM.BaseURL,
			Model:             cfg.LLM.Model,
			Timeout:           cfg.LLM.Timeout,
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		}, rt.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create model client: %w", err)
		}
		model = client
	}

	reasoner := engine.New(cfg.Reasoning, model, cfg.LLM.Timeout, rt.logger)
	layer := policy.New(cfg.Policy, rt.store, rt.logger)
	executors := dispatch.DefaultExecutors(
		dispatch.NewMonitoringExecutor(),
		dispatch.NewGuidanceExecutor(cfg.Actions.GuidanceDir),
	)
	dispatcher := dispatch.New(executors, rt.register, rt.audit, rt.logger)

	runner := pipeline.New(cfg.Pipeline, cfg.Metrics.TextfilePath, pipeline.Deps{
		Source:     source,
		Engine:     reasoner,
		Policy:     layer,
		Dispatcher: dispatcher,
		Store:      rt.store,
		Audit:      rt.audit,
		Logger:     rt.logger,
	})
	return runner, layer, nil
}
