package incident

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-triage/internal/models"
)

// sqliteStore keeps incidents in the incidents table. Ordering is by seq;
// the schema's triggers abort any UPDATE or DELETE.
type sqliteStore struct {
	db     *sql.DB
	ownsDB bool
	closed atomic.Bool
	hub    *hub
	logger *zap.Logger
}

// NewSQLite wraps an opened database (see db.Open). When ownsDB is true
// Close also closes conn.
func NewSQLite(conn *sql.DB, ownsDB bool, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &sqliteStore{db: conn, ownsDB: ownsDB, hub: newHub(), logger: logger.Named("incident-db")}
}

func (s *sqliteStore) Append(ctx context.Context, inc *models.Incident) error {
	if err := validate(inc); err != nil {
		return err
	}
	if s.closed.Load() {
		return fmt.Errorf("%w: %w", models.ErrPersistence, ErrClosed)
	}

	payload, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("%w: encode incident %s: %w", models.ErrPersistence, inc.IncidentID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", models.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM incidents WHERE incident_id = ?`, inc.IncidentID).Scan(&exists); err != nil {
		return fmt.Errorf("%w: check incident %s: %w", models.ErrPersistence, inc.IncidentID, err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %w: %s", models.ErrPersistence, ErrDuplicateIncident, inc.IncidentID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO incidents (incident_id, timestamp, top_cause, confidence, mode, risk_level, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inc.IncidentID, inc.Timestamp, inc.TopCause(), inc.Reasoning.Confidence,
		string(inc.Reasoning.Mode), inc.RiskLevel, string(payload))
	if err != nil {
		return fmt.Errorf("%w: insert incident %s: %w", models.ErrPersistence, inc.IncidentID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit incident %s: %w", models.ErrPersistence, inc.IncidentID, err)
	}

	s.hub.publish(*inc)
	return nil
}

func (s *sqliteStore) Query(ctx context.Context, filter Filter) ([]models.Incident, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	query := `SELECT payload FROM incidents`
	var args []any
	if !filter.Since.IsZero() {
		query += ` WHERE timestamp >= ?`
		args = append(args, models.EpochSeconds(filter.Since))
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []models.Incident
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		var inc models.Incident
		if err := json.Unmarshal([]byte(payload), &inc); err != nil {
			s.logger.Warn("skipping undecodable incident row", zap.Error(err))
			continue
		}
		if filter.Match(&inc) {
			out = append(out, inc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return tail(out, filter.Last), nil
}

func (s *sqliteStore) Subscribe(buffer int) (<-chan models.Incident, func()) {
	return s.hub.subscribe(buffer)
}

func (s *sqliteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.hub.close()
	if s.ownsDB {
		if err := s.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			return err
		}
	}
	return nil
}
