package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-triage/internal/config"
	"github.com/kubilitics/kubilitics-triage/internal/db"
	"github.com/kubilitics/kubilitics-triage/internal/models"
)

// Package incident provides the Incident Memory Store.
//
// The store is an ordered, append-only sequence of Incidents. Insertion order
// is chronological order and is the basis for trend computation.
//
// Guarantees:
//   - Append is atomic: an Incident is fully recorded or not at all
//   - Recorded Incidents are never rewritten or removed
//   - Readers never observe a half-written Incident
//   - Incident ids are unique
//
// Backends:
//   - jsonl:  one JSON object per line, O_APPEND + fsync per record
//   - sqlite: incidents table, one transaction per record, triggers abort
//             any UPDATE or DELETE
//
// Subscribers receive every Incident appended after they subscribe. Delivery
// is non-blocking; a slow subscriber misses notifications and catches up by
// calling Query.

var (
	// ErrDuplicateIncident is returned when an incident id was already recorded.
	ErrDuplicateIncident = errors.New("duplicate incident id")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("incident store closed")
)

// Filter selects incidents on Query. The zero Filter selects everything.
type Filter struct {
	// Cause keeps incidents with any hypothesis for this cause.
	Cause string

	// MinConfidence is applied to the matching hypothesis when Cause is
	// set, otherwise to the overall reasoning confidence.
	MinConfidence float64

	// Since keeps incidents at or after this time.
	Since time.Time

	// Last keeps only the most recent N matches. Zero means no limit.
	Last int
}

// Store is the Incident Memory Store.
type Store interface {
	// Append durably records inc. Errors wrap models.ErrPersistence.
	Append(ctx context.Context, inc *models.Incident) error

	// Query returns matching incidents in insertion order.
	Query(ctx context.Context, filter Filter) ([]models.Incident, error)

	// Subscribe returns a channel of newly appended incidents and a cancel
	// func that closes it.
	Subscribe(buffer int) (<-chan models.Incident, func())

	// Close releases the backend. Subscriber channels are closed.
	Close() error
}

// Open opens the backend selected by cfg.
func Open(cfg config.MemoryConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "jsonl":
		return OpenJSONL(cfg.LogPath, logger)
	case "sqlite":
		conn, err := db.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open incident database: %w", err)
		}
		return NewSQLite(conn, true, logger), nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}

// Match reports whether inc satisfies the cause, confidence and time parts
// of f. Last is applied by the caller over the ordered result.
func (f Filter) Match(inc *models.Incident) bool {
	if !f.Since.IsZero() && inc.Time().Before(f.Since) {
		return false
	}
	if f.Cause == "" {
		return inc.Reasoning.Confidence >= f.MinConfidence
	}
	for _, h := range inc.Reasoning.Hypotheses {
		if h.Cause == f.Cause && h.Confidence >= f.MinConfidence {
			return true
		}
	}
	return false
}

// tail trims incs to the last n entries when n > 0.
func tail(incs []models.Incident, n int) []models.Incident {
	if n > 0 && len(incs) > n {
		return incs[len(incs)-n:]
	}
	return incs
}

func validate(inc *models.Incident) error {
	if inc == nil {
		return fmt.Errorf("%w: nil incident", models.ErrPersistence)
	}
	if inc.IncidentID == "" {
		return fmt.Errorf("%w: incident has no id", models.ErrPersistence)
	}
	return nil
}
