// Package llmprovider wraps the text-completion endpoint the engine
// hands exactly one inference call per batch.
package llmprovider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrEmptyCompletion signals the provider returned no usable content.
// The batch stays unacknowledged so the next inbound message retries
// with the same accumulated context.
var ErrEmptyCompletion = errors.New("llmprovider: empty completion")

// Completer is the engine's view of the inference provider.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Client implements Completer against an OpenAI-compatible completion
// endpoint.
type Client struct {
	httpClient *resty.Client
	model      string
}

// NewClient creates a Resty-backed completion client.
func NewClient(baseURL, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 75 * time.Second
	}
	return &Client{
		httpClient: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetTimeout(timeout),
		model: model,
	}
}

type completionRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type completionResponse struct {
	Content []contentFragment `json:"content"`
}

type contentFragment struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Complete runs one inference call. Responses arrive as ordered text
// fragments which are concatenated as-is: no separator, no
// deduplication, order preserved.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	var completion completionResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(completionRequest{Model: c.model, Prompt: prompt}).
		SetResult(&completion).
		Post("/v1/completions")
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}

	if resp.IsError() {
		return "", fmt.Errorf("completion api error: %d %s", resp.StatusCode(), resp.String())
	}

	var sb strings.Builder
	for _, fragment := range completion.Content {
		if fragment.Type != "" && fragment.Type != "text" {
			continue
		}
		sb.WriteString(fragment.Text)
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

var _ Completer = (*Client)(nil)
