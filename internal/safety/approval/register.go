package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-triage/internal/audit"
	"github.com/kubilitics/kubilitics-triage/internal/metrics"
	"github.com/kubilitics/kubilitics-triage/internal/models"
)

// Package approval provides the pending-approvals register.
//
// Every decision that requires human sign-off is submitted here by the
// dispatcher. The register is separate from the append-only incident log
// because its rows change state exactly once: pending → approved | rejected.
// Resolution is a conditional UPDATE on status='pending', so concurrent or
// repeated resolutions apply at most once.

// Status is the lifecycle state of a pending approval.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

var (
	// ErrNotFound is returned for an unknown approval id.
	ErrNotFound = errors.New("approval not found")

	// ErrAlreadyResolved is returned when an approval is no longer pending.
	ErrAlreadyResolved = errors.New("approval already resolved")
)

// PendingApproval is one decision awaiting human sign-off.
type PendingApproval struct {
	ID           string              `json:"id"`
	IncidentID   string              `json:"incident_id"`
	DecisionType models.DecisionType `json:"decision_type"`
	Action       models.ActionType   `json:"action"`
	Reason       string              `json:"reason,omitempty"`
	Risk         string              `json:"risk"`
	Status       Status              `json:"status"`
	ResolvedBy   string              `json:"resolved_by,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	ResolvedAt   *time.Time          `json:"resolved_at,omitempty"`
}

// Register defines the pending-approvals register.
type Register interface {
	// Submit records a pending approval and returns its id.
	Submit(ctx context.Context, incidentID string, d models.Decision) (string, error)

	// Get returns one approval.
	Get(ctx context.Context, id string) (*PendingApproval, error)

	// List returns approvals with the given status, oldest first. An empty
	// status lists everything.
	List(ctx context.Context, status Status) ([]*PendingApproval, error)

	// Approve resolves a pending approval as approved.
	Approve(ctx context.Context, id, by string) error

	// Reject resolves a pending approval as rejected.
	Reject(ctx context.Context, id, by string) error
}

type sqliteRegister struct {
	db     *sql.DB
	audit  audit.Logger
	logger *zap.Logger
	now    func() time.Time
}

// NewRegister creates a register over a database opened with db.Open.
func NewRegister(conn *sql.DB, auditLog audit.Logger, logger *zap.Logger) Register {
	if auditLog == nil {
		auditLog = audit.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &sqliteRegister{db: conn, audit: auditLog, logger: logger.Named("approvals"), now: time.Now}
}

func (r *sqliteRegister) Submit(ctx context.Context, incidentID string, d models.Decision) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_approvals (id, incident_id, decision_type, action, reason, risk, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, incidentID, string(d.Type), string(models.ActionFor(d.Type)), d.Reason, d.Risk,
		string(StatusPending), r.now().UTC())
	if err != nil {
		return "", fmt.Errorf("submit approval for %s: %w", d.Type, err)
	}
	return id, nil
}

func (r *sqliteRegister) Get(ctx context.Context, id string) (*PendingApproval, error) {
	row := r.db.QueryRowContext(ctx, selectApproval+` WHERE id = ?`, id)
	pa, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get approval %s: %w", id, err)
	}
	return pa, nil
}

func (r *sqliteRegister) List(ctx context.Context, status Status) ([]*PendingApproval, error) {
	query := selectApproval
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []*PendingApproval
	for rows.Next() {
		pa, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, pa)
	}
	return out, rows.Err()
}

func (r *sqliteRegister) Approve(ctx context.Context, id, by string) error {
	return r.resolve(ctx, id, by, StatusApproved)
}

func (r *sqliteRegister) Reject(ctx context.Context, id, by string) error {
	return r.resolve(ctx, id, by, StatusRejected)
}

func (r *sqliteRegister) resolve(ctx context.Context, id, by string, to Status) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_approvals
		SET status = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		string(to), by, r.now().UTC(), id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("resolve approval %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve approval %s: %w", id, err)
	}
	if n == 0 {
		pa, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, id, pa.Status)
	}

	pa, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	metrics.ApprovalsResolved.WithLabelValues(string(to)).Inc()
	if err := r.audit.LogApprovalResolved(ctx, id, string(pa.Action), by, to == StatusApproved); err != nil {
		r.logger.Warn("audit write failed", zap.String("approval_id", id), zap.Error(err))
	}
	r.logger.Info("approval resolved",
		zap.String("approval_id", id),
		zap.String("incident_id", pa.IncidentID),
		zap.String("status", string(to)),
		zap.String("by", by))
	return nil
}

const selectApproval = `
	SELECT id, incident_id, decision_type, action, reason, risk, status, resolved_by, created_at, resolved_at
	FROM pending_approvals`

type scanner interface {
	Scan(dest ...any) error
}

func scanApproval(s scanner) (*PendingApproval, error) {
	var (
		pa         PendingApproval
		decision   string
		action     string
		status     string
		resolvedAt sql.NullTime
	)
	if err := s.Scan(&pa.ID, &pa.IncidentID, &decision, &action, &pa.Reason, &pa.Risk,
		&status, &pa.ResolvedBy, &pa.CreatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	pa.DecisionType = models.DecisionType(decision)
	pa.Action = models.ActionType(action)
	pa.Status = Status(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		pa.ResolvedAt = &t
	}
	return &pa, nil
}
