package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"HeadlineBot/internal/ports"
)

const compoundPath = "/sentiment"

// Client talks to an external sentiment service that returns a compound polarity score.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.SentimentFunc = (*Client)(nil)

// NewClient creates a reusable HTTP client. A timeout <= 0 falls back to 15s.
func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

// Compound sends the text for scoring and returns the service's compound value clamped to [-1, 1].
func (c *Client) Compound(ctx context.Context, text string) (float64, error) {
	if c.endpoint == "" {
		return 0, errors.New("sentiment endpoint is not configured")
	}

	var resp struct {
		Compound *float64 `json:"compound"`
	}
	if err := c.post(ctx, compoundPath, map[string]any{"text": text}, &resp); err != nil {
		return 0, err
	}
	if resp.Compound == nil {
		return 0, errors.New("sentiment response has no compound score")
	}

	return max(-1, min(1, *resp.Compound)), nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("decode response: %w", err)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return nil
}
