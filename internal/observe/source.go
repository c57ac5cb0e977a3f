package observe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/kubilitics/kubilitics-triage/internal/models"
)

// ErrNoSignals is returned when the signals file does not exist yet. The
// pipeline treats it as an idle tick.
var ErrNoSignals = errors.New("no signals available")

// Source supplies one Observation per pipeline tick.
type Source interface {
	Next(ctx context.Context) (*models.Observation, error)
}

// FileSource re-reads a JSON file on every tick. The file holds either raw
// signals (tickets, errors, checkouts, ...) or an already-normalized
// observation (recognized by ticket_count).
type FileSource struct {
	path   string
	nextID atomic.Int64
	now    func() time.Time
}

// NewFileSource reads signals from path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, now: time.Now}
}

func (s *FileSource) Next(ctx context.Context) (*models.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoSignals, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("read signals: %w", err)
	}
	return s.decode(data)
}

func (s *FileSource) decode(data []byte) (*models.Observation, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrMalformedObservation, err)
	}

	id := s.nextID.Add(1)
	if _, normalized := probe["ticket_count"]; normalized {
		var obs models.Observation
		if err := json.Unmarshal(data, &obs); err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrMalformedObservation, err)
		}
		if obs.ObservationID == 0 {
			obs.ObservationID = id
		}
		if obs.Timestamp.IsZero() {
			obs.Timestamp = s.now().UTC()
		}
		if obs.Anomalies == nil {
			obs.Anomalies = []models.Anomaly{}
		}
		return &obs, nil
	}

	var raw RawSignals
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrMalformedObservation, err)
	}
	obs := Normalize(id, s.now(), raw)
	return &obs, nil
}

// StaticSource returns the same observation on every call. It backs the
// one-shot CLI path and tests.
type StaticSource struct {
	Observation models.Observation
}

func (s StaticSource) Next(ctx context.Context) (*models.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	obs := s.Observation
	return &obs, nil
}
