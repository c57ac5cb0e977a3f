package models

import "errors"

// Error taxonomy shared across the pipeline.
var (
	// ErrReasoningBackend is a model backend failure. Always recovered by the
	// deterministic fallback, never surfaced as a pipeline failure.
	ErrReasoningBackend = errors.New("reasoning backend error")

	// ErrMalformedObservation skips the tick; no incident is recorded.
	ErrMalformedObservation = errors.New("malformed observation")

	// ErrPersistence is a failure to append an incident. Fatal for the tick.
	ErrPersistence = errors.New("incident persistence error")

	// ErrPolicyViolation is an attempt to auto-execute a non-whitelisted action.
	ErrPolicyViolation = errors.New("policy violation")
)
