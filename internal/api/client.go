// Package api is the shared HTTP client for the operations backend. All
// requests are resolved against a single base URL and sent through the
// transport supplied at construction, which is where authentication and
// telemetry are attached.
package api

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

	"github.com/chinmina/opsdesk/internal/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Response bodies larger than this are truncated.
const maxResponseBytes = 10 << 20 // 10 MB

type Client struct {
	baseURL *url.URL
	client  *http.Client
	limiter *rate.Limiter
}

// New creates a client for the configured base URL that sends requests
// through transport. A nil transport uses http.DefaultTransport.
func New(cfg config.APIConfig, transport http.RoundTripper) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not parse API base URL: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("API base URL must be absolute: %s", cfg.BaseURL)
	}

	if transport == nil {
		transport = http.DefaultTransport
	}

	c := &Client{
		baseURL: base,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout(),
		},
	}

	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestBurst)
	}

	return c, nil
}

// BaseURL returns a copy of the URL requests are resolved against.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Resolve returns the absolute URL for path with params merged into any query
// already present. Absolute paths are used as-is.
func (c *Client) Resolve(path string, params url.Values) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid request path %q: %w", path, err)
	}

	var target *url.URL
	if ref.IsAbs() {
		target = ref
	} else {
		target = c.baseURL.JoinPath(ref.Path)
		target.RawQuery = ref.RawQuery
	}

	if len(params) > 0 {
		query := target.Query()
		for k, vs := range params {
			for _, v := range vs {
				query.Add(k, v)
			}
		}
		target.RawQuery = query.Encode()
	}

	return target.String(), nil
}

func (c *Client) Get(ctx context.Context, path string, params url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, params)
}

func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body, nil)
}

func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body, nil)
}

func (c *Client) Delete(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, body, nil)
}

// Do sends a request and reads the complete response. A body that is not
// already []byte or json.RawMessage is encoded as JSON. Responses outside the
// 2xx range are returned as a *StatusError alongside the response.
func (c *Client) Do(ctx context.Context, method, path string, body any, params url.Values) (*Response, error) {
	target, err := c.Resolve(path, params)
	if err != nil {
		return nil, err
	}

	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create API request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).
			Str("method", method).
			Str("url", target).
			Msg("api request failed")
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	contents, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s %s: %w", method, path, err)
	}

	log.Ctx(ctx).Debug().
		Str("method", method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("api request")

	response := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       contents,
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return response, newStatusError(resp.StatusCode, contents)
	}

	return response, nil
}

func encodeBody(body any) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return bytes.NewReader(b), nil
	case json.RawMessage:
		return bytes.NewReader(b), nil
	case string:
		return strings.NewReader(b), nil
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		return bytes.NewReader(encoded), nil
	}
}
