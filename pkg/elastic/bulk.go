// Package elastic talks to the Elasticsearch _bulk endpoint.
package elastic

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
	"syscall"
	"time"

	"golang.org/x/time/rate"
)

const contentTypeNDJSON = "application/x-ndjson"

// Client posts newline-delimited bulk payloads.
type Client struct {
	bulkURL string
	http    *http.Client
	limiter *rate.Limiter
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// BaseURL is the cluster root, e.g. http://127.0.0.1:9200.
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond throttles bulk requests; zero disables throttling.
	RequestsPerSecond float64
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

func NewClient(opts ClientOptions) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid elastic url %q: %w", opts.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid elastic url %q: scheme and host required", opts.BaseURL)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/_bulk"

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Client{
		bulkURL: base.String(),
		http:    hc,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Bulk sends payload in one request. A non-2xx answer is a *StatusError.
func (c *Client) Bulk(ctx context.Context, payload []byte) (*BulkResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.bulkURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build bulk request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeNDJSON)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bulk request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read bulk response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	var out BulkResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}
	return &out, nil
}

// StatusError is a bulk request the cluster answered with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bulk request failed with status %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports connection and timeout failures, the only errors
// worth resending the same payload for.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
