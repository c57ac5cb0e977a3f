package policy

import (
	"context"

	"github.com/kubilitics/kubilitics-triage/internal/config"
	"github.com/kubilitics/kubilitics-triage/internal/memory/incident"
	"github.com/kubilitics/kubilitics-triage/internal/models"
)

// Package policy provides the Policy Decision Layer.
//
// The decision layer turns a Reasoning result into zero or more Decisions,
// each tagged with a risk class and an approval requirement. It never
// performs side effects; the dispatcher does that.
//
// Rules (applied in order, several may fire):
//
//   1. Signal quality gate
//      - 0 < signal_confidence < 0.6 → block_auto_actions (approval required)
//      - While blocked, support_guidance is also held for approval
//
//   2. Low confidence
//      - confidence < low_confidence → monitor_only
//
//   3. Customer actionable
//      - top cause in customer_actionable and confidence >= medium_confidence
//        → support_guidance
//
//   4. Code or infra defect
//      - top cause in code_defect and confidence >= high_confidence
//        → escalate_engineering (always approval required)
//
//   5. Recurrence
//      - top cause seen in >= recurrence_min of the last recurrence_lookback
//        incidents → documentation_update_suggestion
//
//   6. Default
//      - nothing fired → monitor_only ("root cause unclear")
//
// Final safety gate: any decision type outside the dispatcher whitelist is
// forced to requires_human_approval=true. Unknown types are never
// auto-executable.

// SignalConfidenceFloor is the observation coverage below which automatic
// actions are blocked.
const SignalConfidenceFloor = 0.6

// History reads prior incidents for the recurrence rule. incident.Store
// satisfies it.
type History interface {
	Query(ctx context.Context, filter incident.Filter) ([]models.Incident, error)
}

// DecisionLayer defines the policy interface.
type DecisionLayer interface {
	// Decide reads recent history and evaluates reasoning against the
	// current thresholds.
	Decide(ctx context.Context, reasoning models.Reasoning) ([]models.Decision, error)

	// Evaluate is the pure core: the same inputs always yield the same
	// decisions. history is ordered oldest first.
	Evaluate(reasoning models.Reasoning, history []models.Incident) []models.Decision

	// Update swaps the thresholds and cause sets atomically.
	Update(cfg config.PolicyConfig)

	// Follow applies the policy section of every config received on ch
	// until ch closes or ctx is done.
	Follow(ctx context.Context, ch <-chan config.Config)
}
