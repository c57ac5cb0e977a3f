package audit

import "time"

// EventType names an audited occurrence. The prefix groups events by the
// pipeline stage that emits them.
type EventType string

const (
	EventIncidentRecorded     EventType = "incident.recorded"
	EventIncidentPersistError EventType = "incident.persist_failed"
	EventObservationSkipped   EventType = "observation.skipped"

	EventReasoningFallback EventType = "reasoning.fallback"

	EventActionExecuted        EventType = "action.executed"
	EventActionFailed          EventType = "action.failed"
	EventActionPendingApproval EventType = "action.pending_approval"
	EventActionApproved        EventType = "action.approved"
	EventActionRejected        EventType = "action.rejected"

	EventSafetyPolicyViolation EventType = "safety.policy_violation"

	EventConfigLoaded EventType = "config.loaded"
)

// Result is the outcome recorded with an event.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPending Result = "pending"
	ResultDenied  Result = "denied"
)

// Event is one audit trail entry. IncidentID and ApprovalID tie the entry to
// the incident log and the approvals register.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Type          EventType `json:"event_type"`
	Result        Result    `json:"result"`

	IncidentID   string `json:"incident_id,omitempty"`
	ApprovalID   string `json:"approval_id,omitempty"`
	DecisionType string `json:"decision_type,omitempty"`
	Action       string `json:"action,omitempty"`
	Operator     string `json:"operator,omitempty"`

	Message  string         `json:"message,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewEvent starts a pending event stamped with the current time.
func NewEvent(t EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		Type:      t,
		Result:    ResultPending,
	}
}

// WithIncident ties the event to an incident. The incident id doubles as the
// correlation id unless one is already set.
func (e *Event) WithIncident(id string) *Event {
	e.IncidentID = id
	if e.CorrelationID == "" {
		e.CorrelationID = id
	}
	return e
}

func (e *Event) WithApproval(id string) *Event {
	e.ApprovalID = id
	return e
}

func (e *Event) WithDecision(decisionType string) *Event {
	e.DecisionType = decisionType
	return e
}

func (e *Event) WithAction(action string) *Event {
	e.Action = action
	return e
}

// WithOperator records the human who resolved an approval.
func (e *Event) WithOperator(name string) *Event {
	e.Operator = name
	return e
}

func (e *Event) WithMessage(msg string) *Event {
	e.Message = msg
	return e
}

func (e *Event) WithResult(r Result) *Event {
	e.Result = r
	return e
}

// WithError records err and marks the event failed. A nil err is ignored.
func (e *Event) WithError(err error, code string) *Event {
	if err != nil {
		e.Error = err.Error()
		e.ErrorCode = code
		e.Result = ResultFailure
	}
	return e
}

func (e *Event) WithMetadata(key string, value any) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}
