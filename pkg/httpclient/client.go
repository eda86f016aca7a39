package httpclient

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"
)

// Config controls timeouts and retry behavior for outbound HTTP calls.
type Config struct {
	Timeout       time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

// DefaultConfig returns conservative defaults for service-to-service calls.
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		MaxRetries:    3,
		RetryInterval: 100 * time.Millisecond,
	}
}

// Client is an HTTP client with bounded retries for transient failures.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

// New creates a retrying HTTP client.
func New(cfg Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}
}

// Do executes the request, retrying on network errors and 5xx responses with
// exponential backoff and jitter. Requests with a body must set GetBody so the
// body can be replayed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.RetryInterval * time.Duration(1<<(attempt-1))
			backoff += time.Duration(rand.Int63n(int64(c.cfg.RetryInterval)))
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(backoff):
			}

			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("replay request body: %w", err)
				}
				req.Body = body
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 && attempt < c.cfg.MaxRetries {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

// HTTPDoer is the minimal client interface consumed by downstream clients.
// Satisfied by *Client and *CircuitBreakerClient.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ HTTPDoer = (*Client)(nil)

// Ping issues a GET against the given URL and reports non-2xx as an error.
// Used by health checks on downstream dependencies.
func Ping(ctx context.Context, doer HTTPDoer, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := doer.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ping %s: status %d", url, resp.StatusCode)
	}
	return nil
}
