// Package edgehealth implements the Edge Health Client (spec.md §4.8):
// a small HTTP client for the edge's internal health and remediation
// endpoints. Every call has a safe, non-propagating default failure
// mode — this client is a diagnostic convenience, never a dependency
// the rest of the Forge blocks on.
package edgehealth

import (
	"context"
	"net/http"
	"time"
)

// Timeout is the fixed per-call timeout spec.md §4.8 requires.
const Timeout = 5 * time.Second

// Status is the result of a health check. IsReachable defaults to
// false on any failure, per spec.md §4.8's safe-default contract.
type Status struct {
	IsReachable bool
	StatusCode  int
}

// Client talks to the edge's internal endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a Client targeting baseURL (e.g. "http://127.0.0.1:6000").
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: Timeout},
	}
}

// Health calls GET /internal/health. On any error, returns a
// non-reachable Status; there is no Go error return, so callers read
// Status.IsReachable to decide edge health.
func (c *Client) Health(ctx context.Context) Status {
	return c.call(ctx, http.MethodGet, "/internal/health")
}

// ResetCircuit calls POST /internal/circuit-reset.
func (c *Client) ResetCircuit(ctx context.Context) Status {
	return c.call(ctx, http.MethodPost, "/internal/circuit-reset")
}

// ClearGeoCache calls POST /internal/geo-cache/clear.
func (c *Client) ClearGeoCache(ctx context.Context) Status {
	return c.call(ctx, http.MethodPost, "/internal/geo-cache/clear")
}

func (c *Client) call(ctx context.Context, method, path string) Status {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return Status{IsReachable: false}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{IsReachable: false}
	}
	defer resp.Body.Close()

	return Status{IsReachable: resp.StatusCode < 500, StatusCode: resp.StatusCode}
}
