package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kubilitics/kubilitics-triage/internal/models"
)

// MonitoringState is the monitoring flag flipped by monitor_only.
type MonitoringState struct {
	Active     bool      `json:"active"`
	Since      time.Time `json:"since"`
	IncidentID string    `json:"incident_id"`
	Reason     string    `json:"reason,omitempty"`
}

// MonitoringExecutor raises the monitoring flag.
type MonitoringExecutor struct {
	mu    sync.RWMutex
	state MonitoringState
	now   func() time.Time
}

// NewMonitoringExecutor creates a lowered monitoring flag.
func NewMonitoringExecutor() *MonitoringExecutor {
	return &MonitoringExecutor{now: time.Now}
}

func (m *MonitoringExecutor) Execute(_ context.Context, incidentID string, d models.Decision) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = MonitoringState{Active: true, Since: m.now().UTC(), IncidentID: incidentID, Reason: d.Reason}
	return "monitoring flag raised", nil
}

// Monitoring returns the current flag.
func (m *MonitoringExecutor) Monitoring() MonitoringState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GuidanceExecutor writes a merchant guidance checklist per incident.
type GuidanceExecutor struct {
	dir string
	now func() time.Time
}

// NewGuidanceExecutor writes checklists under dir.
func NewGuidanceExecutor(dir string) *GuidanceExecutor {
	return &GuidanceExecutor{dir: dir, now: time.Now}
}

var guidanceSteps = []struct {
	title string
	items []string
}{
	{"Migration checklist", []string{
		"Confirm every migration stage completed and none is stuck in progress",
		"Compare product, price and shipping settings against the pre-migration export",
		"Re-run checkout end to end with a test order",
	}},
	{"Webhook verification", []string{
		"Check the webhook endpoint URL points at the new platform",
		"Rotate the webhook signing secret and update it on the receiving side",
		"Replay one recent event and confirm a 2xx response",
	}},
	{"API credential validation", []string{
		"Verify API keys were regenerated after migration",
		"Confirm the payment gateway credentials match the live environment",
		"Check token scopes cover checkout and order endpoints",
	}},
}

// Execute writes <dir>/<incident>-guidance.md. The file is written to a
// temp name and renamed so readers never see a partial checklist.
func (g *GuidanceExecutor) Execute(_ context.Context, incidentID string, d models.Decision) (string, error) {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("create guidance directory: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Merchant guidance for incident %s\n\n", incidentID)
	fmt.Fprintf(&b, "Prepared: %s\n\n", g.now().UTC().Format(time.RFC3339))
	if d.Reason != "" {
		fmt.Fprintf(&b, "Why: %s\n\n", d.Reason)
	}
	for _, section := range guidanceSteps {
		fmt.Fprintf(&b, "## %s\n\n", section.title)
		for _, item := range section.items {
			fmt.Fprintf(&b, "- [ ] %s\n", item)
		}
		b.WriteString("\n")
	}

	path := filepath.Join(g.dir, fmt.Sprintf("%s-guidance.md", incidentID))
	tmp, err := os.CreateTemp(g.dir, ".guidance-*")
	if err != nil {
		return "", fmt.Errorf("create guidance file: %w", err)
	}
	if _, err := tmp.WriteString(b.String()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write guidance file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close guidance file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("publish guidance file: %w", err)
	}
	return path, nil
}

// DefaultExecutors wires the two whitelisted actions.
func DefaultExecutors(monitor *MonitoringExecutor, guidance *GuidanceExecutor) map[models.ActionType]Executor {
	return map[models.ActionType]Executor{
		models.ActionMonitoring:              monitor,
		models.ActionSupportGuidancePrepared: guidance,
	}
}
