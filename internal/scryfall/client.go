// Package scryfall fetches the symbol catalog and card searches from the
// Scryfall API and exposes them as sync sources.
package scryfall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"mana-sync-service/internal/config"
	"mana-sync-service/internal/sync"
)

const (
	sourceName      = "scryfall"
	maxResponseSize = 32 << 20
	maxPages        = 2000
)

// APIError is the error object Scryfall returns with non-2xx responses.
type APIError struct {
	Object  string `json:"object"`
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Details string `json:"details"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Details)
	}
	return e.Code
}

type listResponse[T any] struct {
	Object     string `json:"object"`
	HasMore    bool   `json:"has_more"`
	NextPage   string `json:"next_page"`
	TotalCards int    `json:"total_cards"`
	Data       []T    `json:"data"`
}

type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
}

func NewClient(cfg config.SourceConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: timeout,
				MaxIdleConns:          10,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// fetchList follows a paginated list starting at url and returns every item.
func fetchList[T any](ctx context.Context, c *Client, url string) ([]T, error) {
	var items []T
	for page := 0; url != ""; page++ {
		if page >= maxPages {
			return nil, malformed(fmt.Errorf("list did not terminate after %d pages", maxPages))
		}

		var resp listResponse[T]
		if err := c.getJSON(ctx, url, &resp); err != nil {
			return nil, err
		}
		if resp.Object != "list" {
			return nil, malformed(fmt.Errorf("expected list object, got %q", resp.Object))
		}
		items = append(items, resp.Data...)

		url = ""
		if resp.HasMore {
			if resp.NextPage == "" {
				return nil, malformed(errors.New("has_more set without next_page"))
			}
			url = resp.NextPage
		}
	}
	return items, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &sync.FetchError{Source: sourceName, Reason: sync.FetchConnectivity, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &sync.FetchError{Source: sourceName, Reason: sync.FetchConnectivity, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &sync.FetchError{Source: sourceName, Reason: sync.FetchConnectivity, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &sync.FetchError{Source: sourceName, Reason: sync.FetchConnectivity, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var cause error = fmt.Errorf("unexpected status %s", resp.Status)
		apiErr := &APIError{}
		if json.Unmarshal(body, apiErr) == nil && apiErr.Object == "error" {
			cause = apiErr
		}
		return &sync.FetchError{
			Source:     sourceName,
			Reason:     sync.StatusReason(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        cause,
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return malformed(fmt.Errorf("decode %s: %w", url, err))
	}
	return nil
}

func malformed(err error) error {
	return &sync.FetchError{Source: sourceName, Reason: sync.FetchMalformed, Err: err}
}
