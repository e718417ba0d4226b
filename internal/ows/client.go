// Package ows implements the client for the Goszakup OWS V3 procurement data
// API. The API exposes cursor-paginated REST endpoints, a GraphQL endpoint,
// and a journal of changed objects; every call carries a bearer token.
package ows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/tender-radar/radar-cli/internal/resilience"
)

// Options configures the API client.
type Options struct {
	BaseURL        string
	Token          string
	RateLimitDelay time.Duration // fixed delay between consecutive calls
	MaxRetries     int
	Timeout        time.Duration
}

// Client talks to the OWS V3 API with rate limiting and bounded retry.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// Page is one page of REST results. NextCursor is the full resumable URL of
// the next page ("" at end of data); it can be persisted and later passed
// back to FetchPage verbatim to resume exactly where consumption left off.
type Page struct {
	Items      []map[string]any
	NextCursor string
}

// JournalEntry is one change record from the journal feed.
type JournalEntry struct {
	EntityType string
	EntityID   string
	Action     string // "U" = update (default), "D" = delete
}

// New creates a Client with the given options.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RateLimitDelay == 0 {
		opts.RateLimitDelay = 500 * time.Millisecond
	}

	retry := resilience.DefaultRetryConfig()
	if opts.MaxRetries > 0 {
		retry.MaxAttempts = opts.MaxRetries
	}
	retry.OnRetry = resilience.RetryLogger("ows", "request")

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Every(opts.RateLimitDelay), 1),
		retry:   retry,
	}
}

// FetchPage fetches one page. pageRef is either an endpoint path (e.g.
// "/v3/trd-buy") for the first page, or a cursor previously returned in
// Page.NextCursor.
func (c *Client) FetchPage(ctx context.Context, pageRef string) (*Page, error) {
	pageURL := pageRef
	if !strings.HasPrefix(pageRef, "http") {
		pageURL = c.baseURL + pageRef
	}

	body, err := c.get(ctx, pageURL)
	if err != nil {
		return nil, eris.Wrapf(err, "ows: fetch page %s", pageRef)
	}

	var resp struct {
		Items    []map[string]any `json:"items"`
		NextPage string           `json:"next_page"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrapf(err, "ows: decode page %s", pageRef)
	}

	page := &Page{Items: resp.Items}
	if resp.NextPage != "" {
		page.NextCursor = c.baseURL + resp.NextPage
	}
	return page, nil
}

// FetchByID fetches a single object. A 404 is an expected absence and
// returns (nil, nil) rather than an error.
func (c *Client) FetchByID(ctx context.Context, endpoint, id string) (map[string]any, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s%s/%s", c.baseURL, endpoint, id))
	if err != nil {
		var se *resilience.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "ows: fetch %s/%s", endpoint, id)
	}

	var item map[string]any
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, eris.Wrapf(err, "ows: decode %s/%s", endpoint, id)
	}
	return item, nil
}

// FetchJournal walks the change journal for the date range to completion and
// returns every entry.
func (c *Client) FetchJournal(ctx context.Context, dateFrom, dateTo string) ([]JournalEntry, error) {
	params := url.Values{}
	params.Set("date_from", dateFrom)
	params.Set("date_to", dateTo)
	pageRef := "/v3/journal?" + params.Encode()

	var entries []JournalEntry
	for pageRef != "" {
		page, err := c.FetchPage(ctx, pageRef)
		if err != nil {
			return nil, eris.Wrapf(err, "ows: journal %s..%s", dateFrom, dateTo)
		}
		for _, item := range page.Items {
			entries = append(entries, parseJournalEntry(item))
		}
		pageRef = page.NextCursor
	}
	return entries, nil
}

// parseJournalEntry tolerates the two field namings the journal feed uses.
func parseJournalEntry(item map[string]any) JournalEntry {
	e := JournalEntry{Action: "U"}
	if v, ok := item["entity_type"].(string); ok && v != "" {
		e.EntityType = v
	} else if v, ok := item["object_type"].(string); ok {
		e.EntityType = v
	}
	e.EntityID = stringField(item, "entity_id")
	if e.EntityID == "" {
		e.EntityID = stringField(item, "object_id")
	}
	if v, ok := item["action"].(string); ok && v != "" {
		e.Action = v
	}
	return e
}

func stringField(item map[string]any, key string) string {
	switch v := item[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

// get performs one rate-limited GET with bounded retry on transient failures.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		c.setHeaders(req)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, resilience.NewStatusError(resp.StatusCode, rawURL)
		}

		return io.ReadAll(resp.Body)
	})
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}
