// Package fetch provides the authenticated JSON HTTP layer used for every remote call:
// a global concurrency cap, per-attempt timeouts, and retry with backoff on 429/5xx.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultMaxConcurrency = 6
	DefaultTimeout        = 30 * time.Second
	DefaultMaxAttempts    = 4
	DefaultBaseDelay      = 300 * time.Millisecond
	DefaultMaxJitter      = 100 * time.Millisecond
	defaultMaxDelay       = 2 * time.Minute
	defaultUserAgent      = "devflow/1.0"
	maxResponseBytes      = 64 << 20
	maxBackoffExponent    = 20
)

// Config holds configuration for creating a Fetcher.
type Config struct {
	Token          string        // Personal access token, or a JWT access token
	UserAgent      string        // Sent on every request (default: devflow/1.0)
	MaxConcurrency int           // In-flight logical calls across all callers (default: 6)
	Timeout        time.Duration // Bound on a single attempt (default: 30s)
	MaxAttempts    int           // Total attempts including the first (default: 4)
	BaseDelay      time.Duration // Backoff base: BaseDelay * 2^attempt (default: 300ms)
	MaxJitter      time.Duration // Random jitter added to computed backoff (default: 100ms, negative disables)
	RateLimit      float64       // Requests per second across all callers; 0 disables
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	switch {
	case c.MaxJitter == 0:
		c.MaxJitter = DefaultMaxJitter
	case c.MaxJitter < 0:
		c.MaxJitter = 0
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
}

// Request describes one logical JSON call.
type Request struct {
	Body   any         // Marshaled as JSON when non-nil
	Header http.Header // Caller headers win over the defaults of the same name
	Method string      // Defaults to GET
	URL    string
}

// Response is a successful (2xx) JSON response.
type Response struct {
	Header http.Header
	Body   json.RawMessage
	Status int
}

// Fetcher issues authenticated JSON requests. It is safe for concurrent use, and
// its concurrency cap is shared by every caller holding the same Fetcher.
type Fetcher struct {
	client  HTTPDoer
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	now     func() time.Time
	jitter  func(max time.Duration) time.Duration
	auth    string
	cfg     Config
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithHTTPDoer replaces the underlying HTTP client.
func WithHTTPDoer(d HTTPDoer) Option {
	return func(f *Fetcher) {
		f.client = d
	}
}

// New creates a Fetcher. It fails if the token is missing or is an expired JWT.
func New(cfg Config, opts ...Option) (*Fetcher, error) {
	cfg.applyDefaults()

	f := &Fetcher{
		cfg:    cfg,
		client: &http.Client{},
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		now:    time.Now,
		jitter: randomJitter,
	}
	for _, opt := range opts {
		opt(f)
	}

	auth, err := authorizationHeader(cfg.Token, f.now())
	if err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", err)
	}
	f.auth = auth

	if cfg.RateLimit > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, cfg.MaxConcurrency))
	}
	return f, nil
}

// FetchJSON performs req and returns the parsed-as-JSON body. Only 429 and 5xx
// responses are retried; timeouts, other 4xx, unparseable bodies, and transport
// errors fail immediately as *HTTPError.
func (f *Fetcher) FetchJSON(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for request slot: %w", err)
	}
	// The permit is held across retries and released only once the call settles.
	defer f.sem.Release(1)

	requestID := uuid.NewString()
	sanitizedURL := sanitizeURLForLogging(req.URL)

	var (
		resp    *Response
		attempt int
	)
	err := retry.Do(
		func() error {
			attempt++
			r, err := f.attempt(ctx, req, body, attempt, requestID)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(f.cfg.MaxAttempts)),
		retry.DelayType(f.retryDelay),
		retry.MaxDelay(defaultMaxDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("Retry attempt", "component", "retry", "method", req.Method, "url", sanitizedURL,
				"request_id", requestID, "attempt", n+1, "max_attempts", f.cfg.MaxAttempts, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}

	slog.Info("HTTP response", "component", "http", "method", req.Method, "url", sanitizedURL,
		"request_id", requestID, "status", resp.Status, "attempts", attempt)
	return resp, nil
}

// attempt performs a single bounded HTTP round trip.
func (f *Fetcher) attempt(ctx context.Context, req Request, body []byte, attempt int, requestID string) (*Response, error) {
	newErr := func(status int, err error) *HTTPError {
		return &HTTPError{Method: req.Method, URL: req.URL, Status: status, Attempt: attempt, Err: err}
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, newErr(0, fmt.Errorf("rate limiter: %w", err))
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, newErr(0, fmt.Errorf("failed to create request: %w", err))
	}
	f.setHeaders(httpReq, req.Header, body != nil)

	slog.Debug("HTTP request", "component", "http", "method", req.Method, "url", sanitizeURLForLogging(req.URL),
		"request_id", requestID, "attempt", attempt)

	httpResp, err := f.client.Do(httpReq) //nolint:bodyclose // closed via drainAndCloseBody
	if err != nil {
		if timedOut(ctx, attemptCtx) {
			return nil, f.timeoutError(req, attempt)
		}
		return nil, newErr(0, fmt.Errorf("request failed: %w", err))
	}
	defer drainAndCloseBody(httpResp.Body)

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		if timedOut(ctx, attemptCtx) {
			return nil, f.timeoutError(req, attempt)
		}
		return nil, newErr(httpResp.StatusCode, fmt.Errorf("failed to read response body: %w", err))
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		herr := newErr(httpResp.StatusCode, nil)
		herr.Snippet = snippet(data)
		herr.RetryAfter, herr.HasRetryAfter = parseRetryAfter(httpResp.Header.Get("Retry-After"), f.now())
		if herr.Retryable() {
			slog.Warn("Retryable HTTP status", "component", "http", "method", req.Method,
				"url", sanitizeURLForLogging(req.URL), "status", httpResp.StatusCode, "request_id", requestID)
		}
		return nil, herr
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		trimmed = []byte("null")
	}
	if !json.Valid(trimmed) {
		herr := newErr(httpResp.StatusCode, errInvalidJSON)
		herr.Snippet = snippet(data)
		return nil, herr
	}

	return &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: json.RawMessage(trimmed)}, nil
}

func (f *Fetcher) timeoutError(req Request, attempt int) *HTTPError {
	return &HTTPError{
		Method:  req.Method,
		URL:     req.URL,
		Status:  http.StatusRequestTimeout,
		Attempt: attempt,
		Timeout: true,
		Err:     fmt.Errorf("no response within %s", f.cfg.Timeout),
	}
}

// setHeaders applies the default headers without overriding caller-supplied ones.
func (f *Fetcher) setHeaders(httpReq *http.Request, caller http.Header, hasBody bool) {
	for k, vs := range caller {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	setDefault := func(key, value string) {
		if httpReq.Header.Get(key) == "" {
			httpReq.Header.Set(key, value)
		}
	}
	setDefault("Authorization", f.auth)
	setDefault("Accept", "application/json")
	setDefault("User-Agent", f.cfg.UserAgent)
	if hasBody {
		setDefault("Content-Type", "application/json")
	}
}

// retryDelay honors Retry-After when the server sent one, else BaseDelay * 2^n plus jitter,
// where n is the zero-based index of the attempt that just failed.
func (f *Fetcher) retryDelay(n uint, err error, _ *retry.Config) time.Duration {
	var herr *HTTPError
	if errors.As(err, &herr) && herr.HasRetryAfter {
		return herr.RetryAfter
	}
	return backoff(f.cfg.BaseDelay, n) + f.jitter(f.cfg.MaxJitter)
}

func backoff(base time.Duration, n uint) time.Duration {
	if n > maxBackoffExponent {
		n = maxBackoffExponent
	}
	return base * time.Duration(1<<n)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit) + 1))
}

func isRetryable(err error) bool {
	var herr *HTTPError
	return errors.As(err, &herr) && herr.Retryable()
}

func timedOut(parent, attemptCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
}

// parseRetryAfter accepts either delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		return max(t.Sub(now), 0), true
	}
	return 0, false
}

// drainAndCloseBody drains and closes an HTTP response body to prevent resource leaks.
func drainAndCloseBody(body io.ReadCloser) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		slog.Debug("Failed to drain response body", "error", err)
	}
	if err := body.Close(); err != nil {
		slog.Warn("Failed to close response body", "error", err)
	}
}

// sanitizeURLForLogging removes sensitive query parameters from URLs.
// Credentials travel in the Authorization header, so only token-like parameters are redacted.
func sanitizeURLForLogging(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	changed := false
	for key := range q {
		lower := strings.ToLower(key)
		if (strings.Contains(lower, "token") && lower != "continuationtoken") || strings.Contains(lower, "secret") {
			q.Set(key, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
