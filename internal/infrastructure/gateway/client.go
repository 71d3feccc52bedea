// Package gateway wraps the WhatsApp-compatible send API the engine
// dispatches replies through.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// SendResult carries the provider's acknowledgement of a sent message.
type SendResult struct {
	ProviderMessageID string `json:"message_id"`
}

// Sender is the engine's view of the messaging gateway.
type Sender interface {
	Send(ctx context.Context, to, text string) (*SendResult, error)
}

// StatusError is an HTTP-level failure from the gateway, surfaced
// distinctly from transport errors so retry policy can tell them apart.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Body)
}

// Client implements Sender over a Resty-backed HTTP client.
type Client struct {
	httpClient *resty.Client
}

// NewClient creates the gateway client.
func NewClient(baseURL, token string) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second)
	if token != "" {
		httpClient.SetAuthToken(token)
	}
	return &Client{httpClient: httpClient}
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// Send posts one text message. A non-2xx response becomes a StatusError;
// network failures are returned as-is.
func (c *Client) Send(ctx context.Context, to, text string) (*SendResult, error) {
	var result SendResult
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(sendRequest{To: to, Text: text}).
		SetResult(&result).
		Post("/v1/messages")
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	if resp.IsError() {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return &result, nil
}

var _ Sender = (*Client)(nil)
