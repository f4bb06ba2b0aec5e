// Package publisher provides create/update operations against the
// external document workspace, with bounded retry on transient
// failures. Grounded on original_source/agent/llm.py's
// shape_and_publish_report tool-call boundary and tools.py's
// notion_create_page.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// defaultRetryDelays are the fixed backoff delays for transient
// failures (spec.md §4.4: "up to 3 attempts with delays 2s, 5s, 10s").
var defaultRetryDelays = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}

// Client talks to the external workspace's page API.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	retryDelays []time.Duration
}

// New builds a Publisher client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		retryDelays: defaultRetryDelays,
	}
}

// Page is the result of a create/update call.
type Page struct {
	ID  string
	URL string
}

// retryableError marks whether an error should trigger another attempt
// (5xx or network/timeout only; never 4xx, per spec.md §4.4).
type retryableError struct {
	err         error
	statusCode  int
	isRetryable bool
}

func (e *retryableError) Error() string { return e.err.Error() }

// CreatePage creates a new workspace page. Retries transient failures
// up to 3 attempts with delays 2s/5s/10s.
func (c *Client) CreatePage(ctx context.Context, title, bodyMarkdown, parentID string) (Page, error) {
	payload := map[string]any{
		"pages": []map[string]any{
			{"properties": map[string]any{"title": title}, "content": bodyMarkdown},
		},
	}
	if parentID != "" {
		payload["parent"] = map[string]any{"page_id": parentID}
	}
	return c.doWithRetry(ctx, http.MethodPost, "/pages", payload)
}

// UpdatePage updates an existing page's properties and/or content.
func (c *Client) UpdatePage(ctx context.Context, pageID string, properties map[string]any, content string) (Page, error) {
	payload := map[string]any{}
	if properties != nil {
		payload["properties"] = properties
	}
	if content != "" {
		payload["content"] = content
	}
	return c.doWithRetry(ctx, http.MethodPatch, "/pages/"+pageID, payload)
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, payload map[string]any) (Page, error) {
	var lastErr error
	attempts := append([]time.Duration{0}, c.retryDelays...)

	for i, delay := range attempts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return Page{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		page, err := c.do(ctx, method, path, payload)
		if err == nil {
			return page, nil
		}

		rerr, ok := err.(*retryableError)
		if !ok || !rerr.isRetryable {
			return Page{}, err
		}
		lastErr = err
	}
	return Page{}, fmt.Errorf("publisher: exhausted retries: %w", lastErr)
}

func (c *Client) do(ctx context.Context, method, path string, payload map[string]any) (Page, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Page{}, fmt.Errorf("publisher: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("publisher: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Page{}, &retryableError{err: fmt.Errorf("publisher: %w", err), isRetryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Page{}, &retryableError{
			err:         fmt.Errorf("publisher: server error %d", resp.StatusCode),
			statusCode:  resp.StatusCode,
			isRetryable: true,
		}
	}
	if resp.StatusCode >= 400 {
		return Page{}, &retryableError{
			err:         fmt.Errorf("publisher: client error %d", resp.StatusCode),
			statusCode:  resp.StatusCode,
			isRetryable: false,
		}
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return Page{}, fmt.Errorf("publisher: decode response: %w", err)
	}
	return extractPage(data), nil
}

// extractPage unwraps varied SDK response shapes to find a url, or
// synthesizes a deterministic fallback from the id, grounded on
// llm.py's shape_and_publish_report URL-resolution fallback.
func extractPage(data map[string]any) Page {
	var p Page
	for _, key := range []string{"url", "page_url", "public_url"} {
		if v, ok := data[key].(string); ok && v != "" {
			p.URL = v
			break
		}
	}
	if id, ok := data["id"].(string); ok {
		p.ID = id
	}
	if p.URL == "" && p.ID != "" {
		p.URL = "https://notion.so/" + strings.ReplaceAll(p.ID, "-", "")
	}
	return p
}
