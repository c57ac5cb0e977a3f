package models

// ReasoningMode identifies which strategy produced a Reasoning result.
type ReasoningMode string

const (
	ModeDeterministic ReasoningMode = "deterministic"
	ModeLLM           ReasoningMode = "llm"
	ModeHybrid        ReasoningMode = "hybrid"
)

// Known reports whether m is one of the defined modes.
func (m ReasoningMode) Known() bool {
	switch m {
	case ModeDeterministic, ModeLLM, ModeHybrid:
		return true
	}
	return false
}

// DecisionType is the closed set of policy outcomes.
type DecisionType string

const (
	DecisionMonitorOnly         DecisionType = "monitor_only"
	DecisionSupportGuidance     DecisionType = "support_guidance"
	DecisionEscalateEngineering DecisionType = "escalate_engineering"
	DecisionDocumentationUpdate DecisionType = "documentation_update_suggestion"
	DecisionBlockAutoActions    DecisionType = "block_auto_actions"
)

// Known reports whether t is a defined decision type.
func (t DecisionType) Known() bool {
	_, ok := recordTable[t]
	return ok
}

// ActionType is the closed set of dispatcher actions.
type ActionType string

const (
	ActionMonitoring                 ActionType = "monitoring"
	ActionSupportGuidancePrepared    ActionType = "support_guidance_prepared"
	ActionEngineeringEscalation      ActionType = "engineering_escalation_created"
	ActionDocumentationUpdateDrafted ActionType = "documentation_update_drafted"
	ActionAutoActionsBlocked         ActionType = "auto_actions_blocked"
	ActionUnrecognized               ActionType = "unrecognized_decision"
)

// ActionStatus is the outcome of dispatching a decision.
type ActionStatus string

const (
	StatusExecuted        ActionStatus = "executed"
	StatusPendingApproval ActionStatus = "pending_approval"
	StatusRejected        ActionStatus = "rejected"
	StatusFailed          ActionStatus = "failed"
)

// Risk levels attached to decisions.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// whitelist is the fixed set of decision types that may execute without
// human approval, and the action each one performs.
var whitelist = map[DecisionType]ActionType{
	DecisionMonitorOnly:     ActionMonitoring,
	DecisionSupportGuidance: ActionSupportGuidancePrepared,
}

// recordTable maps every known decision type to the action name recorded for
// it, executed or not.
var recordTable = map[DecisionType]ActionType{
	DecisionMonitorOnly:         ActionMonitoring,
	DecisionSupportGuidance:     ActionSupportGuidancePrepared,
	DecisionEscalateEngineering: ActionEngineeringEscalation,
	DecisionDocumentationUpdate: ActionDocumentationUpdateDrafted,
	DecisionBlockAutoActions:    ActionAutoActionsBlocked,
}

// AutoExecutable returns the whitelisted action for t. ok is false for every
// type outside the whitelist, including unknown ones.
func AutoExecutable(t DecisionType) (ActionType, bool) {
	a, ok := whitelist[t]
	return a, ok
}

// ActionFor returns the action name recorded for a decision type.
func ActionFor(t DecisionType) ActionType {
	if a, ok := recordTable[t]; ok {
		return a
	}
	return ActionUnrecognized
}

// Whitelist returns a copy of the auto-executable table.
func Whitelist() map[DecisionType]ActionType {
	out := make(map[DecisionType]ActionType, len(whitelist))
	for k, v := range whitelist {
		out[k] = v
	}
	return out
}
