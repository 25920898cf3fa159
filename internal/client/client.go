// Package client talks to a running toastd over its HTTP API. The send and
// status commands use it.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/toastd/toastd/internal/logging"
)

var log = logging.L("client")

// maxReply caps how much of a response body is read.
const maxReply = 1 << 20

// Retry is the backoff schedule for transient failures: transport errors,
// 429 and 502..504. A 500 is final because the server already decided the
// notification failed and a replay would show a duplicate.
type Retry struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
	// Jitter randomizes each wait by up to this fraction either way.
	Jitter float64
}

func DefaultRetry() Retry {
	return Retry{Attempts: 4, Base: 500 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.3}
}

// wait returns the pause before retry n, counting from 1.
func (r Retry) wait(n int) time.Duration {
	d := r.Base
	for i := 1; i < n && d < r.Max; i++ {
		d *= 2
	}
	if d > r.Max {
		d = r.Max
	}
	if r.Jitter > 0 {
		d += time.Duration(float64(d) * r.Jitter * (2*rand.Float64() - 1))
	}
	return max(d, 0)
}

type Client struct {
	BaseURL  string
	Username string
	Password string
	HTTP     *http.Client
	Retry    Retry
}

// New returns a client for the server at baseURL. Credentials are sent only
// when both are set.
func New(baseURL, username, password string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Username: username,
		Password: password,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		Retry:    DefaultRetry(),
	}
}

// Reply is a fully read server response.
type Reply struct {
	Status int
	Header http.Header
	Body   []byte
}

// StatusError reports that the last attempt ended in a retryable status. The
// Reply returned alongside it holds that response.
type StatusError struct {
	Status int
	Path   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: giving up after status %d %s", e.Path, e.Status, http.StatusText(e.Status))
}

// Notify posts an encoded /notify body.
func (c *Client) Notify(ctx context.Context, body []byte, contentType string) (Reply, error) {
	return c.do(ctx, http.MethodPost, "/notify", body, contentType)
}

// Health fetches /healthz.
func (c *Client) Health(ctx context.Context) (Reply, error) {
	return c.do(ctx, http.MethodGet, "/healthz", nil, "")
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string) (Reply, error) {
	attempts := max(c.Retry.Attempts, 1)
	var last Reply
	var lastErr error
	var hint time.Duration

	for n := 0; n < attempts; n++ {
		if n > 0 {
			wait := c.Retry.wait(n)
			if hint > 0 {
				wait = min(hint, c.Retry.Max)
			}
			log.Debug("retrying", "path", path, "attempt", n, "wait", wait)
			select {
			case <-ctx.Done():
				return Reply{}, ctx.Err()
			case <-time.After(wait):
			}
		}

		reply, err := c.once(ctx, method, path, body, contentType)
		if err != nil {
			lastErr = err
			hint = 0
			continue
		}
		if !retryable(reply.Status) {
			return reply, nil
		}
		last = reply
		hint = retryAfter(reply.Header.Get("Retry-After"))
		lastErr = &StatusError{Status: reply.Status, Path: path}
	}

	log.Warn("request failed", "method", method, "path", path, "attempts", attempts, logging.KeyError, lastErr)
	return last, lastErr
}

func (c *Client) once(ctx context.Context, method, path string, body []byte, contentType string) (Reply, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return Reply{}, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Username != "" && c.Password != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Reply{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReply))
	if err != nil {
		return Reply{}, err
	}
	return Reply{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func retryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
