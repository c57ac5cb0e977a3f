package engine

import (
	"context"
	"encoding/json"

	"github.com/kubilitics/kubilitics-triage/internal/models"
)

// Package engine provides the Hybrid Reasoning Engine.
//
// Reasoning flow for one observation:
//
//   1. Deterministic rules
//      - Evaluate the ordered rule set, one hypothesis per matching rule
//      - Rank by confidence, descending
//
//   2. Sufficiency check
//      - Top confidence >= sufficient threshold and not ambiguous
//        → return immediately (reasoning_mode=deterministic)
//      - Ambiguous: another cause within the ambiguity margin of the top
//
//   3. Escalation to the model reasoner (bounded by a timeout)
//      - Prompt = observation summary + partial rule hypotheses
//      - Model hypotheses rank first, rule hypotheses follow as evidence
//      - reasoning_mode=hybrid, or llm when no rule matched
//      - Overall confidence = top merged confidence, down-weighted when the
//        model and the rules disagree on the top cause
//
//   4. Fallback
//      - Any model failure (timeout, unreachable, malformed output) returns
//        the step 1 result unchanged plus an unknowns entry
//
// Reason never returns an error and never blocks past the model timeout.

// FallbackNote is appended to unknowns when the model path failed.
const FallbackNote = "reasoning backend unavailable, used fallback"

// DisabledNote is appended to unknowns when escalation was warranted but the
// model reasoner is disabled by configuration.
const DisabledNote = "model reasoning disabled"

// BaseAssumption is carried by every deterministic result.
const BaseAssumption = "observed signals accurately reflect system behavior"

// ModelReasoner is the model reasoner client boundary. ollama.Client
// satisfies it.
type ModelReasoner interface {
	Generate(ctx context.Context, prompt string) (json.RawMessage, error)
}

// ReasoningEngine produces a Reasoning for every observation.
type ReasoningEngine interface {
	// Reason returns the reasoning result. It never fails.
	Reason(ctx context.Context, obs *models.Observation) models.Reasoning

	// Analyze is Reason plus diagnostics about the path taken.
	Analyze(ctx context.Context, obs *models.Observation) Outcome

	// Deterministic returns the rule-only result with no escalation.
	Deterministic(obs *models.Observation) models.Reasoning
}

// Outcome describes how a Reasoning was produced.
type Outcome struct {
	Reasoning models.Reasoning

	// Escalated is true when the rules were insufficient or ambiguous.
	Escalated bool

	// EscalationReason explains why, when Escalated.
	EscalationReason string

	// ModelErr is the model failure that triggered the fallback, if any.
	ModelErr error
}

// Fallback reports whether the deterministic fallback was used.
func (o Outcome) Fallback() bool { return o.ModelErr != nil }
