// Package client talks to the remote agent service over its REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agent-console/internal/types"
)

const DefaultBaseURL = "http://localhost:8000/api/agents"

// ErrSessionNotFound is returned by GetSession when the service does not know
// the id. Malformed ids are rejected with 422 by the service and map here too.
var ErrSessionNotFound = errors.New("session not found")

// APIError is a non-2xx response from the service.
type APIError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Detail)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// IsTransient reports whether err is worth retrying: network failures,
// timeouts and 5xx/429 responses. Not-found and other 4xx are not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrSessionNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  "agent-console",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) StartSession(ctx context.Context, req types.StartSessionRequest) (*types.Session, error) {
	var session types.Session
	if err := c.do(ctx, "start session", http.MethodPost, "/sessions/start", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var session types.Session
	err := c.do(ctx, "get session", http.MethodGet, "/sessions/"+url.PathEscape(id), nil, &session)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) &&
			(apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusUnprocessableEntity) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, err
	}
	return &session, nil
}

func (c *Client) ContinueSession(ctx context.Context, id, message string) (*types.Session, error) {
	var session types.Session
	path := "/sessions/" + url.PathEscape(id) + "/continue"
	if err := c.do(ctx, "continue session", http.MethodPost, path, types.ContinueRequest{Message: message}, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) ApproveDecision(ctx context.Context, sessionID, decisionID string, approved bool) (*types.Session, error) {
	var session types.Session
	path := "/sessions/" + url.PathEscape(sessionID) + "/decisions/" + url.PathEscape(decisionID) + "/approve"
	if err := c.do(ctx, "approve decision", http.MethodPost, path, types.ApproveRequest{Approved: approved}, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) ListTools(ctx context.Context, category string) ([]types.ToolInfo, error) {
	path := "/tools"
	if category != "" {
		path += "?" + url.Values{"category": []string{category}}.Encode()
	}
	var tools []types.ToolInfo
	if err := c.do(ctx, "list tools", http.MethodGet, path, nil, &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Detail: errorDetail(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

// errorDetail extracts FastAPI's {"detail": ...} body. Validation errors
// carry a list of objects with a "msg" field.
func errorDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return strings.TrimSpace(string(body))
	}
	var text string
	if err := json.Unmarshal(payload.Detail, &text); err == nil {
		return text
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, item := range items {
			if item.Msg != "" {
				msgs = append(msgs, item.Msg)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	return string(payload.Detail)
}
