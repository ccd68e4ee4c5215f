// Package source implements the upstream rate feed client.
//
// The upstream site hands out a rotating access token embedded in the landing
// page HTML; the data endpoint only answers POSTs carrying that token. The
// client owns the token cache and the refresh-once retry policy.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrTokenExtraction means the landing page no longer matches the
	// expected script pattern. Not retryable within one attempt; a retry
	// re-fetches the page fresh.
	ErrTokenExtraction = errors.New("source: token extraction failed")

	// ErrSourceUnavailable means both the primary fetch and the one retry
	// failed. The token cache is left empty afterwards.
	ErrSourceUnavailable = errors.New("source: upstream unavailable")
)

// tokenRegex matches the embedded script that initiates the data POST,
// tolerating both quoting styles: post('/json', {param: "..."}) and
// post("/json", {param: '...'}).
var tokenRegex = regexp.MustCompile(`\.post\(\s*['"]/json['"]\s*,\s*\{\s*param\s*:\s*['"]([^'"]+)['"]`)

// Clock is the upstream's own timestamp (Jalali calendar, source-local).
type Clock struct {
	Year, Month, Day, Hour, Minute int
	Valid                          bool
}

// Snapshot is one immutable copy of the upstream rates.
type Snapshot struct {
	Values    map[string]float64
	Clock     Clock
	FetchedAt time.Time
}

type Options struct {
	HomeURL     string
	DataURL     string
	TokenMaxAge time.Duration
	HTTPTimeout time.Duration
	UserAgent   string
}

type Client struct {
	homeURL     string
	dataURL     string
	tokenMaxAge time.Duration
	userAgent   string

	http   *http.Client
	logger zerolog.Logger

	mu      sync.Mutex
	token   string
	tokenAt time.Time

	// Coalesces concurrent landing-page extractions into one upstream hit.
	refresh singleflight.Group
}

func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.TokenMaxAge <= 0 {
		opts.TokenMaxAge = 10 * time.Minute
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 12 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (compatible; ratewatch/1.0)"
	}
	return &Client{
		homeURL:     opts.HomeURL,
		dataURL:     opts.DataURL,
		tokenMaxAge: opts.TokenMaxAge,
		userAgent:   opts.UserAgent,
		http:        &http.Client{Timeout: opts.HTTPTimeout},
		logger:      logger.With().Str("component", "source").Logger(),
	}
}

// Fetch returns the current snapshot, refreshing the token and retrying the
// whole sequence once on failure. On the second failure the token cache is
// emptied so the next call re-extracts from scratch.
func (c *Client) Fetch(ctx context.Context) (Snapshot, error) {
	snap, err := c.fetchOnce(ctx)
	if err == nil {
		return snap, nil
	}

	c.invalidateToken()
	c.logger.Warn().Err(err).Msg("fetch failed, retrying with fresh token")

	snap, err2 := c.fetchOnce(ctx)
	if err2 != nil {
		c.invalidateToken()
		return Snapshot{}, fmt.Errorf("%w: %v (after retry: %v)", ErrSourceUnavailable, err, err2)
	}
	return snap, nil
}

func (c *Client) fetchOnce(ctx context.Context) (Snapshot, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	body, err := c.postForm(ctx, url.Values{"param": {token}})
	if err != nil {
		return Snapshot{}, err
	}

	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Snapshot{}, fmt.Errorf("non-object response: %w", err)
	}
	if truthy(raw["reset"]) {
		return Snapshot{}, errors.New("upstream requested token refresh")
	}

	// The data call proved the token is still live; refresh its age even
	// though the value did not change.
	c.mu.Lock()
	c.tokenAt = time.Now()
	c.mu.Unlock()

	return buildSnapshot(raw), nil
}

func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Since(c.tokenAt) < c.tokenMaxAge {
		t := c.token
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	v, err, _ := c.refresh.Do("token", func() (any, error) {
		return c.extractToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) extractToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.homeURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("landing page status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", err
	}

	m := tokenRegex.FindSubmatch(b)
	if len(m) < 2 {
		return "", ErrTokenExtraction
	}
	token := string(m[1])

	c.mu.Lock()
	c.token = token
	c.tokenAt = time.Now()
	c.mu.Unlock()

	c.logger.Debug().Msg("extracted fresh token")
	return token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenAt = time.Time{}
	c.mu.Unlock()
}

func (c *Client) postForm(ctx context.Context, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.dataURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

var clockKeys = []string{"year", "month", "day", "hour", "minute"}

func buildSnapshot(raw map[string]any) Snapshot {
	values := make(map[string]float64, len(raw))
	for k, v := range raw {
		if f, ok := coerceFloat(v); ok {
			values[k] = f
		}
	}

	var clk Clock
	parts := make([]int, 0, len(clockKeys))
	for _, k := range clockKeys {
		f, ok := values[k]
		if !ok {
			break
		}
		parts = append(parts, int(f))
		delete(values, k)
	}
	if len(parts) == len(clockKeys) {
		clk = Clock{Year: parts[0], Month: parts[1], Day: parts[2], Hour: parts[3], Minute: parts[4], Valid: true}
	}

	return Snapshot{Values: values, Clock: clk, FetchedAt: time.Now()}
}

// coerceFloat normalizes numeric-looking values: json numbers, floats, and
// optionally comma-grouped decimal strings. Anything else is skipped.
func coerceFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err == nil {
			return f, true
		}
	case float64:
		return t, true
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", ""))
		if s == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "0" && !strings.EqualFold(t, "false")
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case float64:
		return t != 0
	}
	return true
}

// TokenCached reports whether a token is currently cached and fresh.
// Exposed for the health/status surface.
func (c *Client) TokenCached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != "" && time.Since(c.tokenAt) < c.tokenMaxAge
}
