package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
)

const defaultTimeout = 30 * time.Second

// ClientConfig controls identification and retry behavior for a Client.
type ClientConfig struct {
	UserAgent  string
	MaxRetries int           // attempts after the first try
	BaseDelay  time.Duration // first backoff step
	MaxDelay   time.Duration // backoff ceiling
	Timeout    time.Duration
}

// Client is a cache-backed, rate-limited JSON fetcher. Every external
// service in the pipeline goes through one: the store guarantees at most
// one network call per key, the limiter spaces the calls that do go out,
// and transient failures retry with capped exponential backoff.
type Client struct {
	httpClient *http.Client
	limiter    Limiter
	store      Store
	logger     hclog.Logger
	config     ClientConfig
}

// NewClient assembles a fetcher. A nil httpClient gets a default with the
// configured timeout; a nil limiter or store disables pacing or caching.
func NewClient(config ClientConfig, httpClient *http.Client, limiter Limiter, store Store, logger hclog.Logger) *Client {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 60 * time.Second
	}
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if limiter == nil {
		limiter = NopLimiter{}
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Client{
		httpClient: httpClient,
		limiter:    limiter,
		store:      store,
		logger:     logger,
		config:     config,
	}
}

// GetJSON fetches url and decodes the response into out. When key is
// non-empty the raw body is memoized under it, and later calls with the
// same key return without touching the network.
func (c *Client) GetJSON(ctx context.Context, key, url string, out interface{}) error {
	if key != "" && c.store != nil {
		payload, ok, err := c.store.Get(key)
		if err != nil {
			c.logger.Warn("cache lookup failed", "key", key, "error", err)
		} else if ok {
			if err := json.Unmarshal(payload, out); err == nil {
				c.logger.Debug("cache hit", "key", key)
				return nil
			}
			c.logger.Warn("discarding undecodable cache entry", "key", key)
		}
	}

	body, err := c.fetch(ctx, url)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	if key != "" && c.store != nil {
		if err := c.store.Put(key, body); err != nil {
			c.logger.Warn("cache write failed", "key", key, "error", err)
		}
	}

	return nil
}

// fetch runs the retry loop around a single URL. Permanent errors return
// immediately; transient ones retry with backoff, stretched to whatever
// Retry-After the server asked for.
func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	var serverWait time.Duration

	attempts := c.config.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(c.config.BaseDelay, c.config.MaxDelay, attempt)
			if serverWait > delay {
				delay = serverWait
			}
			c.logger.Debug("backing off before retry", "url", url, "attempt", attempt, "delay", delay)
			if err := sleepContext(ctx, delay); err != nil {
				return nil, err
			}
		}

		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		body, wait, err := c.do(ctx, url)
		if err == nil {
			return body, nil
		}
		if !Retryable(err) {
			return nil, err
		}

		lastErr = err
		serverWait = wait
		c.logger.Warn("request failed", "url", url, "attempt", attempt+1, "error", err)
	}

	return nil, &FetchError{URL: url, Attempts: attempts, Err: lastErr}
}

func (c *Client) do(ctx context.Context, url string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: reading body: %v", ErrTransient, err)
		}
		return body, 0, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, 0, ErrNotFound

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, 0, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return nil, retryAfter(resp), fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)

	case resp.StatusCode >= 500:
		return nil, 0, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)

	default:
		return nil, 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base << (attempt - 1)
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
