// Package bridge talks to the execution agent, the external HTTP service
// that performs device-level automation. Catalog fetches and invocations
// never fail hard: failures come back as empty catalogs or failed results
// so a chat turn stays servable.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/valet/pkg/models"
)

// Error strings surfaced in failed results. Clients display these verbatim,
// and "Timeout" is the caller's only way to tell the two apart.
const (
	ResultTimeout     = "Timeout"
	ResultUnreachable = "unreachable"
)

const defaultTimeout = 30 * time.Second

// Client is the execution-agent HTTP client.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds a single tool invocation.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger.With("component", "bridge")
		}
	}
}

// NewClient creates a client for the execution agent at baseURL. The token
// is sent as a bearer credential on every request.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
		logger:     slog.Default().With("component", "bridge"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tools fetches the current tool catalog. Any failure (network, auth,
// status, decode) yields an empty catalog: a transient fetch failure must
// not take down an otherwise servable turn.
func (c *Client) Tools(ctx context.Context) []models.Tool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tools", nil)
	if err != nil {
		return nil
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("tool catalog fetch failed", "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("tool catalog fetch failed", "status", resp.StatusCode)
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}

	// Both {"tools": [...]} and a bare array are accepted.
	var wrapper struct {
		Tools []models.Tool `json:"tools"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Tools != nil {
		return wrapper.Tools
	}
	var list []models.Tool
	if err := json.Unmarshal(data, &list); err == nil {
		return list
	}
	c.logger.Warn("tool catalog decode failed")
	return nil
}

// Execute invokes a named tool with arguments, bounded by the configured
// timeout. A timed-out call reports "Timeout", any other transport failure
// "unreachable"; there is no automatic retry.
func (c *Client) Execute(ctx context.Context, tool string, args map[string]any) *models.ToolResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal(map[string]any{"tool": tool, "args": args})
	if err != nil {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return &models.ToolResult{Success: false, Error: ResultUnreachable}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.logger.Warn("tool invocation timed out", "tool", tool)
			return &models.ToolResult{Success: false, Error: ResultTimeout}
		}
		c.logger.Warn("tool invocation failed", "tool", tool, "error", err)
		return &models.ToolResult{Success: false, Error: ResultUnreachable}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &models.ToolResult{Success: false, Error: ResultUnreachable}
	}

	var raw struct {
		Success bool            `json:"success"`
		Result  json.RawMessage `json:"result"`
		Error   string          `json:"error"`
		Image   string          `json:"image"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		c.logger.Warn("tool response decode failed", "tool", tool, "status", resp.StatusCode)
		return &models.ToolResult{Success: false, Error: ResultUnreachable}
	}
	return &models.ToolResult{
		Success: raw.Success,
		Result:  flatten(raw.Result),
		Error:   raw.Error,
		Image:   raw.Image,
	}
}

// Health probes the agent. Used by the connectivity monitor only.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	for _, path := range []string{"/healthz", "/health"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			continue
		}
		c.authorize(req)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
	}
	return false
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue) && ue.Timeout()
}

// flatten renders a result payload as display text: JSON strings unquote,
// anything else keeps its JSON form.
func flatten(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return string(raw)
}
