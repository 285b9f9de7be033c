// Package marketplace fetches sold-listing search results from the upstream
// marketplace and extracts raw listings from the returned markup.
package marketplace

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"boxtracker/internal/metrics"
)

const (
	DefaultMaxAttempts  = 5
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 8 << 20
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type Config struct {
	Endpoint       string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	UserAgent      string
	MaxBodyBytes   int64
	UseProxies     bool
}

// Client posts search terms to the upstream endpoint, rotating through the proxy
// pool on failure.
type Client struct {
	direct       *http.Client
	viaProxy     []*http.Client
	pool         *Pool
	endpoint     string
	userAgent    string
	maxBodyBytes int64
	useProxies   bool

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

// NewClient creates a client. pool may be nil or empty, in which case every
// attempt goes out directly.
func NewClient(cfg Config, pool *Pool, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if pool == nil {
		pool = NewPool(nil, nil)
	}

	c := &Client{
		direct:         &http.Client{Timeout: cfg.Timeout},
		pool:           pool,
		endpoint:       cfg.Endpoint,
		userAgent:      cfg.UserAgent,
		maxBodyBytes:   cfg.MaxBodyBytes,
		useProxies:     cfg.UseProxies,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("component", "fetcher"),
	}

	c.viaProxy = make([]*http.Client, pool.Size())
	for i := range c.viaProxy {
		c.viaProxy[i] = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyURL(pool.Proxy(i).URL()),
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return c
}

// PoolSize is the number of configured proxies, whether or not they are in use.
func (c *Client) PoolSize() int {
	return c.pool.Size()
}

// Fetch returns the raw response body for a search term. When every attempt
// fails the error wraps ErrFetchExhausted and the last attempt's error.
func (c *Client) Fetch(ctx context.Context, term string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		httpClient, proxyIdx, route := c.route()

		body, err := c.doRequest(ctx, httpClient, term)
		if err == nil {
			metrics.FetchAttemptsTotal.WithLabelValues(routeKind(proxyIdx), "success").Inc()
			c.logger.Debug("fetched search results",
				"term", term,
				"attempt", attempt,
				"route", route,
				"bytes", len(body),
			)
			return body, nil
		}
		lastErr = err
		metrics.FetchAttemptsTotal.WithLabelValues(routeKind(proxyIdx), "failure").Inc()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if proxyIdx >= 0 {
			c.pool.MarkFailed(proxyIdx)
		}

		c.logger.Warn("fetch attempt failed",
			"term", term,
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"route", route,
			"error", err,
		)

		if attempt == c.maxAttempts {
			break
		}
		if backoff := c.calculateBackoff(attempt); backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	metrics.FetchExhaustedTotal.Inc()
	c.logger.Error("fetch exhausted",
		"term", term,
		"attempts", c.maxAttempts,
		"error", lastErr,
	)
	return nil, fmt.Errorf("%w for %q after %d attempts: %w", ErrFetchExhausted, term, c.maxAttempts, lastErr)
}

// route picks the egress for one attempt. proxyIdx is -1 for direct.
func (c *Client) route() (*http.Client, int, string) {
	if !c.useProxies || c.pool.Size() == 0 {
		return c.direct, -1, "direct"
	}

	i, reset, _ := c.pool.Pick()
	if reset {
		metrics.ProxyPoolResetsTotal.Inc()
		c.logger.Info("all proxies failed, resetting pool", "pool_size", c.pool.Size())
	}
	return c.viaProxy[i], i, c.pool.Proxy(i).Addr()
}

func routeKind(proxyIdx int) string {
	if proxyIdx < 0 {
		return "direct"
	}
	return "proxy"
}

func (c *Client) doRequest(ctx context.Context, httpClient *http.Client, term string) ([]byte, error) {
	form := url.Values{"query": {term}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if hint := blockHint(body); hint != "" {
		return nil, fmt.Errorf("%w: %q", ErrBlocked, hint)
	}

	return body, nil
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if c.maxBackoff > 0 && backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	return backoff
}
