// Package rest implements the market provider contract over a JSON REST
// gateway, the shape exposed by the broker-side bridge the daemon normally
// ingests from.
package rest

import (
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
	defaultHTTPTimeout      = 10 * time.Second
	defaultMaxRetries       = 3
	defaultRetryBackoffBase = 150 * time.Millisecond
)

// Client wraps access to the market data gateway. Requests retry on
// transport and 5xx failures with exponential backoff; decode failures are
// terminal.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	apiKey      string
	accessToken string
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMaxRetries adjusts the retry budget.
func WithMaxRetries(max int) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
	}
}

// WithCredentials sets the API key and access token headers.
func WithCredentials(apiKey, accessToken string) Option {
	return func(c *Client) {
		c.apiKey = apiKey
		c.accessToken = accessToken
	}
}

// NewClient constructs a gateway client for the given base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("rest: base URL required")
	}
	client := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client, nil
}

// getJSON issues a GET against path and decodes the response into result.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, result interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	backoff := defaultRetryBackoffBase
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("rest: build request: %w", err)
		}
		httpReq.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("X-Api-Key", c.apiKey)
		}
		if c.accessToken != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = fmt.Errorf("rest: read response: %w", readErr)
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				if result != nil {
					if err := json.Unmarshal(body, result); err != nil {
						return fmt.Errorf("rest: decode %s: %w", path, err)
					}
				}
				return nil
			case resp.StatusCode >= 400 && resp.StatusCode < 500:
				// Client errors never succeed on retry.
				return fmt.Errorf("rest: %s: http status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
			default:
				lastErr = fmt.Errorf("rest: %s: http status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
			}
		}

		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("rest: %s: request failed without error detail", path)
}
