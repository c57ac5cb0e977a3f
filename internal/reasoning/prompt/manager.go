// Package prompt renders the structured prompt sent to the model reasoner:
// an observation summary plus the partial rule-based hypotheses.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/kubilitics/kubilitics-triage/internal/models"
)

var analysis = template.Must(template.New("analysis").Parse(analysisTemplate))

type namedCount struct {
	Name  string
	Count int
}

type analysisData struct {
	System     string
	Schema     string
	Obs        *models.Observation
	ErrorTypes []namedCount
	Stages     []namedCount
	Partial    []models.Hypothesis
}

// Render builds the analysis prompt. The output is a pure function of its
// inputs: map-valued fields are emitted in sorted key order.
func Render(obs *models.Observation, partial []models.Hypothesis) (string, error) {
	if obs == nil {
		return "", fmt.Errorf("render prompt: nil observation")
	}
	var b strings.Builder
	err := analysis.Execute(&b, analysisData{
		System:     systemContract,
		Schema:     responseSchema,
		Obs:        obs,
		ErrorTypes: sortedCounts(obs.ErrorTypes),
		Stages:     sortedCounts(obs.MigrationStages),
		Partial:    partial,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}

func sortedCounts(m map[string]int) []namedCount {
	if len(m) == 0 {
		return nil
	}
	out := make([]namedCount, 0, len(m))
	for k, v := range m {
		out = append(out, namedCount{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
