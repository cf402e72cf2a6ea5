package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mercator-hq/packlimit/pkg/limits"
	"mercator-hq/packlimit/pkg/server"
)

// Client calls the HTTP API of a running packlimit server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for addr, which may be a URL or a host:port.
func NewClient(addr, token string, timeout time.Duration) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// List returns the cached limiters.
func (c *Client) List(ctx context.Context) ([]limits.ListEntry, error) {
	var out []limits.ListEntry
	if _, err := c.do(ctx, http.MethodGet, "/v1/limits", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Replenish replenishes the selected limiters and returns how many.
func (c *Client) Replenish(ctx context.Context, body server.ReplenishBody) (int, error) {
	var out server.ReplenishResponse
	if _, err := c.do(ctx, http.MethodPost, "/v1/replenish", body, &out); err != nil {
		return 0, err
	}
	return out.Replenished, nil
}

// Acquire consumes one permit for key. A denial is not an error.
func (c *Client) Acquire(ctx context.Context, key string) (server.AcquireResponse, error) {
	var out server.AcquireResponse
	_, err := c.do(ctx, http.MethodPost, "/v1/acquire", server.AcquireRequest{Key: key}, &out, http.StatusTooManyRequests)
	return out, err
}

// Reload asks the server to reload its policy.
func (c *Client) Reload(ctx context.Context) (server.ReloadResponse, error) {
	var out server.ReloadResponse
	_, err := c.do(ctx, http.MethodPost, "/v1/reload", nil, &out)
	return out, err
}

// do sends a JSON request and decodes a JSON answer into out. Status codes
// in accept are decoded like 200.
func (c *Client) do(ctx context.Context, method, path string, in, out any, accept ...int) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	for _, code := range accept {
		ok = ok || resp.StatusCode == code
	}
	if !ok {
		var e server.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
