// Package webex implements the platform Source contract against the Webex
// REST API.
package webex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/chatvault/chatvault/internal/platform"
)

const (
	defaultBaseURL  = "https://webexapis.com/v1"
	defaultPageSize = 1000
	defaultTimeout  = 30 * time.Second
	maxRetries      = 5
	maxBackoff      = 60 * time.Second
)

// Client fetches room messages from the Webex API. Webex pages newest to
// oldest: the continuation cursor is the created timestamp of the oldest
// item seen, passed back as the `before` query parameter.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	baseURL    string
	token      string
	pageSize   int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for API operations.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithBaseURL overrides the API base URL (used in tests).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithPageSize overrides the per-request max item count.
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithRateLimit overrides the request rate limit in queries per second.
func WithRateLimit(qps float64) ClientOption {
	return func(c *Client) {
		if qps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(qps), int(qps)+1)
		}
	}
}

// NewClient creates a Webex client using the given bearer token. Obtaining
// and refreshing the token is the caller's concern.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
		logger:     slog.Default(),
		baseURL:    defaultBaseURL,
		token:      token,
		pageSize:   defaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Platform returns the cache path key for this source.
func (c *Client) Platform() string { return "webex" }

// Threading reports native threading: Webex parentId points directly at
// the thread root.
func (c *Client) Threading() platform.ThreadingMode { return platform.ThreadingNative }

// webexMessage is the wire shape of one room message.
type webexMessage struct {
	ID          string   `json:"id"`
	RoomID      string   `json:"roomId"`
	ParentID    string   `json:"parentId"`
	PersonID    string   `json:"personId"`
	PersonEmail string   `json:"personEmail"`
	Text        string   `json:"text"`
	Files       []string `json:"files"`
	Created     string   `json:"created"`
}

type listMessagesResponse struct {
	Items []webexMessage `json:"items"`
}

// Fetch returns one page of the window. An empty cursor starts paging at
// the window's own end instant, never at "now". A full page always yields a
// next cursor; only a partial page, or paging past the window start,
// exhausts the window.
func (c *Client) Fetch(ctx context.Context, conversationID string, windowStart, windowEnd time.Time, cursor string) (*platform.Page, error) {
	before := windowEnd.UTC().Format(time.RFC3339)
	if cursor != "" {
		before = cursor
	}

	params := url.Values{}
	params.Set("roomId", conversationID)
	params.Set("max", strconv.Itoa(c.pageSize))
	params.Set("before", before)

	body, err := c.get(ctx, "/messages?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp listMessagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse messages response: %w", err)
	}

	page := &platform.Page{}
	var oldest time.Time
	for _, item := range resp.Items {
		created, err := parseCreated(item.Created)
		if err != nil {
			c.logger.Warn("skipping message with unparseable timestamp",
				"id", item.ID, "created", item.Created)
			continue
		}
		if oldest.IsZero() || created.Before(oldest) {
			oldest = created
		}
		// Pages near the boundary spill past the window; clamp here.
		if created.Before(windowStart) || !created.Before(windowEnd) {
			continue
		}
		if item.Text == "" && len(item.Files) == 0 {
			continue
		}
		page.Messages = append(page.Messages, platform.Message{
			ID:             item.ID,
			ConversationID: item.RoomID,
			Author:         platform.Author{ID: item.PersonID, Name: item.PersonEmail},
			Timestamp:      created,
			Text:           item.Text,
			Images:         item.Files,
			ParentID:       item.ParentID,
		})
	}

	if len(resp.Items) == c.pageSize && !oldest.IsZero() && oldest.After(windowStart) {
		page.NextCursor = oldest.UTC().Format(time.RFC3339)
	}
	return page, nil
}

// parseCreated parses a Webex created timestamp. Timestamps without an
// offset are treated as UTC.
func parseCreated(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02T15:04:05.999", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// get performs a GET with rate limiting and retries. 429 and 5xx responses
// retry with exponential backoff; auth and client errors fail immediately.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	reqURL := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt)
			c.logger.Debug("retrying request",
				"attempt", attempt, "backoff", backoff, "path", path)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited (429)")
			if wait := retryAfter(resp); wait > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(wait):
				}
			}
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
			continue
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, fmt.Errorf("unauthorized (401): check the configured token")
		default:
			return nil, fmt.Errorf("request failed (%d): %s", resp.StatusCode, string(body))
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// calculateBackoff returns exponential backoff with full jitter.
func calculateBackoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > maxBackoff {
		base = maxBackoff
	}
	return time.Duration(rand.Float64() * float64(base))
}
