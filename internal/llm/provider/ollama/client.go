// Package ollama is the model reasoner client: a stateless request/response
// wrapper around a local Ollama /api/generate endpoint that returns the
// model's JSON object or a typed failure.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kubilitics/kubilitics-triage/internal/metrics"
	"github.com/kubilitics/kubilitics-triage/internal/models"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "phi3:mini"
	DefaultTimeout = 30 * time.Second

	providerName = "ollama"
)

// Failure modes. Every error returned by Generate also matches
// models.ErrReasoningBackend.
var (
	ErrEmptyResponse = errors.New("model returned empty response")
	ErrInvalidJSON   = errors.New("model returned invalid JSON")
	ErrUnavailable   = errors.New("model backend unavailable")
)

// StatusError is a non-2xx reply from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama API error (status %d): %s", e.Code, e.Body)
}

// Config configures a Client.
type Config struct {
	BaseURL           string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute float64 // <= 0 disables rate limiting
}

// Client calls a local Ollama instance.
type Client struct {
	model   string
	http    *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewClient creates a client. It does not contact the backend.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60)
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(1).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{
		model:   cfg.Model,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("ollama"),
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Generate sends prompt and returns the JSON object the model produced.
// The caller bounds the call with ctx.
func (c *Client) Generate(ctx context.Context, prompt string) (json.RawMessage, error) {
	start := time.Now()
	out, err := c.generate(ctx, prompt)

	status := "success"
	if err != nil {
		status = "error"
		c.logger.Warn("generate failed", zap.String("model", c.model), zap.Error(err))
	}
	metrics.LLMRequestsTotal.WithLabelValues(providerName, c.model, status).Inc()
	metrics.LLMRequestDuration.WithLabelValues(providerName, c.model).Observe(time.Since(start).Seconds())
	return out, err
}

func (c *Client) generate(ctx context.Context, prompt string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %w", models.ErrReasoningBackend, err)
	}

	var out generateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(generateRequest{
			Model:   c.model,
			Prompt:  prompt,
			Stream:  false,
			Format:  "json",
			Options: map[string]any{"temperature": 0},
		}).
		SetResult(&out).
		Post("/api/generate")
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", models.ErrReasoningBackend, ErrUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %w", models.ErrReasoningBackend,
			&StatusError{Code: resp.StatusCode(), Body: truncate(resp.String(), 512)})
	}

	text := strings.TrimSpace(out.Response)
	if text == "" {
		return nil, fmt.Errorf("%w: %w", models.ErrReasoningBackend, ErrEmptyResponse)
	}

	obj := extractJSONObject(text)
	if !json.Valid([]byte(obj)) || !strings.HasPrefix(obj, "{") {
		return nil, fmt.Errorf("%w: %w: %s", models.ErrReasoningBackend, ErrInvalidJSON, truncate(text, 256))
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(obj)); err != nil {
		return nil, fmt.Errorf("%w: %w: %w", models.ErrReasoningBackend, ErrInvalidJSON, err)
	}
	return json.RawMessage(compact.Bytes()), nil
}

// Ping checks that the backend answers.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/api/tags")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if resp.IsError() {
		return &StatusError{Code: resp.StatusCode(), Body: truncate(resp.String(), 256)}
	}
	return nil
}

// extractJSONObject strips markdown fences and any prose around the
// outermost {...} block.
func extractJSONObject(text string) string {
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
