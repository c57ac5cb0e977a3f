package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kubilitics/kubilitics-triage/internal/models"
)

// ErrMalformedResponse is a model reply with no usable hypothesis.
var ErrMalformedResponse = errors.New("malformed model response")

// defaultModelConfidence applies when neither the hypothesis nor the
// response carries a usable confidence.
const defaultModelConfidence = 0.5

// modelResponse accepts any superset of the documented fields; each field
// is decoded leniently on its own.
type modelResponse struct {
	Hypotheses  json.RawMessage `json:"hypotheses"`
	Assumptions json.RawMessage `json:"assumptions"`
	Unknowns    json.RawMessage `json:"unknowns"`
	Confidence  json.RawMessage `json:"confidence"`
}

type parsedResponse struct {
	Hypotheses  []models.Hypothesis
	Assumptions []string
	Unknowns    []string
}

// parseModelResponse normalizes a model reply. Hypotheses may be objects or
// bare strings; notes may be strings or objects.
func parseModelResponse(raw json.RawMessage) (parsedResponse, error) {
	var resp modelResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return parsedResponse{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	respConf, ok := number(resp.Confidence)
	if !ok {
		respConf = defaultModelConfidence
	}
	respConf = clamp(respConf)

	var out parsedResponse
	for _, item := range array(resp.Hypotheses) {
		if h, ok := hypothesis(item, respConf); ok {
			out.Hypotheses = append(out.Hypotheses, h)
		}
	}
	if len(out.Hypotheses) == 0 {
		return parsedResponse{}, fmt.Errorf("%w: no usable hypotheses", ErrMalformedResponse)
	}
	for _, item := range array(resp.Assumptions) {
		if s := note(item); s != "" {
			out.Assumptions = append(out.Assumptions, s)
		}
	}
	for _, item := range array(resp.Unknowns) {
		if s := note(item); s != "" {
			out.Unknowns = append(out.Unknowns, s)
		}
	}
	return out, nil
}

func hypothesis(raw json.RawMessage, fallbackConf float64) (models.Hypothesis, bool) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		cause := normalizeCause(s)
		if cause == "" {
			return models.Hypothesis{}, false
		}
		return models.Hypothesis{Cause: cause, Confidence: fallbackConf, Source: models.SourceModel}, true
	}

	var obj struct {
		Cause       string          `json:"cause"`
		Explanation json.RawMessage `json:"explanation"`
		Confidence  json.RawMessage `json:"confidence"`
	}
	if json.Unmarshal(raw, &obj) != nil {
		return models.Hypothesis{}, false
	}
	cause := normalizeCause(obj.Cause)
	if cause == "" {
		return models.Hypothesis{}, false
	}
	conf, ok := number(obj.Confidence)
	if !ok {
		conf = fallbackConf
	}
	return models.Hypothesis{
		Cause:       cause,
		Explanation: note(obj.Explanation),
		Confidence:  clamp(conf),
		Source:      models.SourceModel,
	}, true
}

// note flattens a string-or-object note into a string.
func note(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) == nil {
		for _, key := range []string{"description", "explanation", "justification", "question"} {
			if v, ok := obj[key]; ok {
				if s := note(v); s != "" {
					return s
				}
			}
		}
	}
	var compact bytes.Buffer
	if json.Compact(&compact, raw) == nil {
		return compact.String()
	}
	return strings.TrimSpace(string(raw))
}

// array returns the elements of a JSON array, or nil for anything else.
func array(raw json.RawMessage) []json.RawMessage {
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return nil
	}
	return items
}

// number accepts a JSON number or a numeric string.
func number(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return f, !math.IsNaN(f)
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if _, err := fmt.Sscanf(strings.TrimSpace(s), "%g", &f); err == nil && !math.IsNaN(f) {
			return f, true
		}
	}
	return 0, false
}

func clamp(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// normalizeCause maps free-form causes onto snake_case identifiers so model
// and rule causes compare equal.
func normalizeCause(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_", "/", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}
