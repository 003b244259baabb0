// Package memoryclient is a best-effort, timeout-bounded HTTP client over
// the long-term memory service. The service itself is a black box: the
// core only needs Put (persist a turn) and Query (fetch relevant snippets).
package memoryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout          = 3 * time.Second
	defaultMaxResponseBytes = int64(1 << 20)
)

// Config configures the memory-service client.
type Config struct {
	BaseURL          string
	Timeout          time.Duration
	MaxResponseBytes int64
	HTTPClient       *http.Client
}

// Client wraps the memory service's REST API.
type Client struct {
	baseURL  string
	client   *http.Client
	maxBytes int64
}

// New creates a memory-service client. BaseURL is required; everything else
// defaults.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("memoryclient: base_url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("memoryclient: invalid base_url")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}

	return &Client{baseURL: baseURL, client: client, maxBytes: maxBytes}, nil
}

// Snippet is one memory hit returned by Query.
type Snippet struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Query fetches memory snippets relevant to text for a channel. Callers
// should treat any error as "no memory available" — this client never
// panics or retries, matching C4's never-fail assembly policy.
func (c *Client) Query(ctx context.Context, channelID, text string, limit int) ([]Snippet, error) {
	reqBody, err := json.Marshal(map[string]any{
		"channel_id": channelID,
		"text":       text,
		"limit":      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("memoryclient: encode query: %w", err)
	}
	data, err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/query", reqBody)
	if err != nil {
		return nil, err
	}
	var out struct {
		Snippets []Snippet `json:"snippets"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("memoryclient: decode query response: %w", err)
	}
	return out.Snippets, nil
}

// Put persists one turn of conversation for later recall. Fire-and-forget
// from the caller's perspective: failures are logged upstream, never
// propagated into the response path.
func (c *Client) Put(ctx context.Context, channelID, role, text string) error {
	reqBody, err := json.Marshal(map[string]any{
		"channel_id": channelID,
		"role":       role,
		"text":       text,
	})
	if err != nil {
		return fmt.Errorf("memoryclient: encode put: %w", err)
	}
	_, err = c.doJSON(ctx, http.MethodPost, c.baseURL+"/put", reqBody)
	return err
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("memoryclient: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("memoryclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("memoryclient: read response: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("memoryclient: response too large")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("memoryclient: %s", msg)
	}
	return json.RawMessage(data), nil
}
