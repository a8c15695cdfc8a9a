// Package provider defines the contract every platform adapter implements and
// the shared HTTP plumbing the adapters fetch with.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ndg/pr-dashboard/src/internal/model"
)

// Closed items are only shown while their last update is inside this window.
const RecentWindow = 48 * time.Hour

// MaxRecentSources caps how many repos/groups a single adapter consults for
// recently-closed items, to keep request volume bounded.
const MaxRecentSources = 10

// Result is a tagged adapter outcome. OK distinguishes "fetched fine, possibly
// nothing there" from "the listing itself failed"; an unconfigured adapter is
// OK with a reason, not an error.
type Result struct {
	OK     bool
	Reason string
	Items  []model.ReviewItem
}

// NotConfigured marks an adapter that has nothing to fetch.
func NotConfigured() Result {
	return Result{OK: true, Reason: "not configured"}
}

// Failed marks a listing-level failure. Items already gathered are discarded;
// per-item degradation happens inside the adapters instead.
func Failed(reason string) Result {
	return Result{OK: false, Reason: reason}
}

// Succeeded wraps fetched items.
func Succeeded(items []model.ReviewItem) Result {
	return Result{OK: true, Items: items}
}

// Provider is one platform adapter. Both listings are best-effort: per-item
// and per-repo failures degrade to missing items rather than failing the call.
type Provider interface {
	Platform() model.Platform
	ListOpen(ctx context.Context) Result
	ListRecentlyClosed(ctx context.Context) Result
}

// Client is a minimal JSON-over-HTTP helper shared by the adapters. Headers
// are applied to every request, so auth is set once at construction.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
}

// NewClient builds a client with the given request timeout and fixed headers.
func NewClient(timeout time.Duration, headers map[string]string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		headers:    headers,
	}
}

// GetJSON fetches url and decodes the 2xx response body into out. Non-2xx
// statuses are errors; callers decide whether that fails the listing or just
// one item.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	resp, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode response: %w", url, err)
	}
	return nil
}

// GetJSONHeader is GetJSON but also returns a response header, for providers
// that paginate via headers.
func (c *Client) GetJSONHeader(ctx context.Context, url, header string, out any) (string, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return "", fmt.Errorf("GET %s: decode response: %w", url, err)
	}
	return resp.Header.Get(header), nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	return resp, nil
}
