// Package knowledgeclient is a best-effort, timeout-bounded HTTP client over
// a knowledge-base lookup service. Like memoryclient, the service itself is
// an opaque collaborator: the core only needs one relevant snippet for the
// current request text.
package knowledgeclient

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

// Config configures the knowledge-base client.
type Config struct {
	BaseURL          string
	Timeout          time.Duration
	MaxResponseBytes int64
	HTTPClient       *http.Client
}

// Client wraps a knowledge-base lookup HTTP API. It satisfies
// contextasm.KnowledgeSource.
type Client struct {
	baseURL  string
	client   *http.Client
	maxBytes int64
}

// New creates a knowledge-base client. BaseURL is required; everything else
// defaults.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("knowledgeclient: base_url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("knowledgeclient: invalid base_url")
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

// Snippet fetches the single most relevant knowledge-base passage for text
// in channelID's context. It satisfies contextasm.KnowledgeSource; the
// assembler treats any returned error as "nothing available".
func (c *Client) Snippet(ctx context.Context, channelID, text string) (string, error) {
	reqBody, err := json.Marshal(map[string]any{
		"channel_id": channelID,
		"text":       text,
	})
	if err != nil {
		return "", fmt.Errorf("knowledgeclient: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/lookup", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("knowledgeclient: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("knowledgeclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("knowledgeclient: read response: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return "", fmt.Errorf("knowledgeclient: response too large")
	}
	if resp.StatusCode == http.StatusNoContent {
		return "", nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return "", fmt.Errorf("knowledgeclient: %s", msg)
	}

	var out struct {
		Snippet string `json:"snippet"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("knowledgeclient: decode response: %w", err)
	}
	return out.Snippet, nil
}
