// Package provider holds the HTTP plumbing shared by the identity and payment
// verifiers: a JSON client with bearer auth and bounded calls, a normalized
// error taxonomy, and a circuit-breaker guard.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every provider call.
const DefaultTimeout = 10 * time.Second

const maxResponseBytes = 1 << 20

// Client calls a JSON provider API rooted at a base URL.
type Client struct {
	id         string
	baseURL    string
	secret     string
	timeout    time.Duration
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// NewClient creates a client identified by id in errors and logs.
func NewClient(id, baseURL, secret string, opts ...ClientOption) *Client {
	c := &Client{
		id:         id,
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the provider identifier.
func (c *Client) ID() string { return c.id }

// Do sends in (when non-nil) as the JSON body of method path and decodes a 200
// response into out. Every other outcome is an *Error.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return Fail(c.id, KindLocal, "encode request", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return Fail(c.id, KindLocal, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.transportError(err)
	}
	return parseResponse(c.id, resp.StatusCode, raw, out)
}

func (c *Client) transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return Fail(c.id, KindTimeout, fmt.Sprintf("no response within %s", c.timeout), err)
	}
	return Fail(c.id, KindOutage, "request failed", err)
}

func parseResponse(id string, status int, body []byte, out any) error {
	switch {
	case status == http.StatusOK:
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Fail(id, KindAuth, fmt.Sprintf("status %d", status), nil)
	case status == http.StatusNotFound:
		return Fail(id, KindNotFound, "status 404", nil)
	case status == http.StatusTooManyRequests:
		return Fail(id, KindRateLimit, "status 429", nil)
	case status >= 500:
		return Fail(id, KindOutage, fmt.Sprintf("status %d", status), nil)
	default:
		return Fail(id, KindBadData, fmt.Sprintf("unexpected status %d", status), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return Fail(id, KindBadData, "decode response", err)
	}
	return nil
}
