package incident

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-triage/internal/models"
)

// jsonlStore keeps one JSON object per line. Existing bytes are never
// rewritten; a torn tail is terminated with a newline and then skipped by
// readers as an undecodable line.
type jsonlStore struct {
	mu     sync.Mutex // serializes appends
	path   string
	file   *os.File
	ids    map[string]struct{}
	torn   bool // last write may have been partial
	closed atomic.Bool
	hub    *hub
	logger *zap.Logger
}

// OpenJSONL opens or creates the incident log at path.
func OpenJSONL(path string, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create incident log directory: %w", err)
	}

	s := &jsonlStore{
		path:   path,
		ids:    make(map[string]struct{}),
		hub:    newHub(),
		logger: logger.Named("incident-log"),
	}

	incs, terminated, err := s.scan()
	if err != nil {
		return nil, err
	}
	for _, inc := range incs {
		s.ids[inc.IncidentID] = struct{}{}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open incident log: %w", err)
	}
	s.file = f

	if !terminated {
		s.logger.Warn("incident log has an unterminated tail line, terminating it", zap.String("path", path))
		if _, err := f.Write([]byte{'\n'}); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("%w: terminate torn tail: %w", models.ErrPersistence, err)
		}
	}

	s.logger.Info("incident log opened", zap.String("path", path), zap.Int("incidents", len(incs)))
	return s, nil
}

func (s *jsonlStore) Append(ctx context.Context, inc *models.Incident) error {
	if err := validate(inc); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", models.ErrPersistence, err)
	}

	line, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("%w: encode incident %s: %w", models.ErrPersistence, inc.IncidentID, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return fmt.Errorf("%w: %w", models.ErrPersistence, ErrClosed)
	}
	if _, dup := s.ids[inc.IncidentID]; dup {
		return fmt.Errorf("%w: %w: %s", models.ErrPersistence, ErrDuplicateIncident, inc.IncidentID)
	}
	if s.torn {
		line = append([]byte{'\n'}, line...)
	}

	if _, err := s.file.Write(line); err != nil {
		s.torn = true
		return fmt.Errorf("%w: write incident %s: %w", models.ErrPersistence, inc.IncidentID, err)
	}
	if err := s.file.Sync(); err != nil {
		s.torn = true
		return fmt.Errorf("%w: sync incident %s: %w", models.ErrPersistence, inc.IncidentID, err)
	}
	s.torn = false
	s.ids[inc.IncidentID] = struct{}{}

	s.hub.publish(*inc)
	return nil
}

func (s *jsonlStore) Query(ctx context.Context, filter Filter) ([]models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	incs, _, err := s.scan()
	if err != nil {
		return nil, err
	}
	out := incs[:0]
	for i := range incs {
		if filter.Match(&incs[i]) {
			out = append(out, incs[i])
		}
	}
	return tail(out, filter.Last), nil
}

func (s *jsonlStore) Subscribe(buffer int) (<-chan models.Incident, func()) {
	return s.hub.subscribe(buffer)
}

func (s *jsonlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil
	}
	s.closed.Store(true)
	s.hub.close()
	return s.file.Close()
}

// scan reads every complete line of the log. terminated is false when the
// file ends in a partial line, which is not returned.
func (s *jsonlStore) scan() (incs []models.Incident, terminated bool, err error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open incident log: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	lineNo := 0
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// An unterminated tail is a write in progress or a torn record.
			return incs, len(line) == 0, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("read incident log: %w", err)
		}
		lineNo++

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var inc models.Incident
		if err := json.Unmarshal(line, &inc); err != nil {
			s.logger.Debug("skipping undecodable incident line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		incs = append(incs, inc)
	}
}
