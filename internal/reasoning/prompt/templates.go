package prompt

// ─── System contract ──────────────────────────────────────────────────────────

const systemContract = `You are an automated incident analysis system for e-commerce platform migrations.

STRICT RULES:
- Return VALID JSON ONLY
- Do NOT add nested objects
- Do NOT add justification fields
- Follow the schema EXACTLY
- Causes are snake_case identifiers (for example payment_gateway_timeout)`

const responseSchema = `{
  "hypotheses": [
    {
      "cause": "<snake_case_string>",
      "explanation": "<short string>",
      "confidence": <number between 0 and 1>
    }
  ],
  "assumptions": ["<string>"],
  "unknowns": ["<string>"],
  "confidence": <number between 0 and 1>
}`

// ─── Analysis template ────────────────────────────────────────────────────────

const analysisTemplate = `{{.System}}

SCHEMA:
{{.Schema}}

DATA:
Stats:
- ticket_count: {{.Obs.TicketCount}}
- error_count: {{.Obs.ErrorCount}}
- failed_checkouts: {{.Obs.FailedCheckouts}}
{{- if .ErrorTypes}}
Error types:
{{- range .ErrorTypes}}
- {{.Name}}: {{.Count}}
{{- end}}
{{- end}}
{{- if .Stages}}
Migration stages:
{{- range .Stages}}
- {{.Name}}: {{.Count}}
{{- end}}
{{- end}}
Anomalies:
{{- if .Obs.Anomalies}}
{{- range .Obs.Anomalies}}
- type={{.Type}} severity={{.Severity}}{{if .Count}} count={{.Count}}{{end}}{{if .ErrorType}} error_type={{.ErrorType}}{{end}}
{{- end}}
{{- else}}
- none
{{- end}}

RULE-BASED CANDIDATES (may be incomplete or ambiguous):
{{- if .Partial}}
{{- range .Partial}}
- cause={{.Cause}} confidence={{printf "%.2f" .Confidence}}{{if .Explanation}} ({{.Explanation}}){{end}}
{{- end}}
{{- else}}
- none matched
{{- end}}

Confirm, refine or replace the candidates. Return JSON ONLY.`
