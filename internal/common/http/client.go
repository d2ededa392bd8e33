// internal/common/http/client.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "legal-rag-workers/internal/common/errors"
)

// Options configures a Client. Zero RequestsPerSecond disables limiting.
type Options struct {
	Service           string
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client posts JSON to a single upstream service and classifies failures
// into the pipeline error taxonomy.
type Client struct {
	httpClient *http.Client
	service    string
	baseURL    string
	apiKey     string
	timeout    time.Duration
	limiter    *rate.Limiter
}

func NewClient(opts Options) *Client {
	c := &Client{
		// no client-level timeout; every call carries its own context deadline
		httpClient: &http.Client{},
		service:    opts.Service,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		timeout:    opts.Timeout,
	}
	if c.service == "" {
		c.service = "http"
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// Service returns the upstream name used in error details.
func (c *Client) Service() string {
	return c.service
}

// PostJSON sends body to baseURL+path and decodes a 200 response into out.
//
// 429, 5xx and transport errors are UPSTREAM_UNAVAILABLE, an expired deadline
// is UPSTREAM_TIMEOUT, any other status is INTERNAL_ERROR and an undecodable
// body is MALFORMED_OUTPUT.
func (c *Client) PostJSON(ctx context.Context, path string, body, out interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return c.contextError(ctx, err)
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.NewInternalError(fmt.Errorf("encode %s request: %w", c.service, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apperrors.NewInternalError(fmt.Errorf("build %s request: %w", c.service, err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.contextError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return apperrors.NewUpstreamUnavailableError(c.service, statusErr).
				WithMetadata("status", resp.StatusCode)
		}
		return apperrors.NewInternalError(fmt.Errorf("%s %s", c.service, statusErr))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return c.contextError(ctx, err)
		}
		return apperrors.NewMalformedOutputError(c.service, fmt.Sprintf("decode response: %v", err))
	}
	return nil
}

func (c *Client) contextError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.NewUpstreamTimeoutError(c.service, err)
	}
	return apperrors.NewUpstreamUnavailableError(c.service, err)
}
