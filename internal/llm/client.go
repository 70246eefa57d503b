// Package llm is an optional enrichment client for one-line anomaly
// summaries. It speaks the OpenAI-compatible chat completions API and
// is strictly best-effort: any failure falls back to deterministic text.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client calls an OpenAI-compatible endpoint. A nil or disabled client
// returns the fallback unchanged.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates an enrichment client. Enrichment is active only
// when apiKey is non-empty.
func NewClient(baseURL, apiKey, model string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// Enabled reports whether enrichment calls will be attempted.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// EnrichSummary asks the model for a one-sentence restatement of an
// anomaly summary. On any error, or when disabled, it returns fallback.
func (c *Client) EnrichSummary(ctx context.Context, prompt, fallback string) string {
	if !c.Enabled() {
		return fallback
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You summarize building telemetry anomalies in one short sentence for an operations dashboard."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.2,
		MaxTokens:   120,
	})
	if err != nil {
		return fallback
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fallback
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("llm enrichment skipped", "error", err)
		return fallback
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("llm enrichment skipped", "status", resp.StatusCode)
		return fallback
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fallback
	}
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Choices) == 0 {
		return fallback
	}
	content := parsed.Choices[0].Message.Content
	if content == "" {
		return fallback
	}
	return content
}
