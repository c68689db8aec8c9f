// Package azdo provides typed, cached access to the Azure DevOps work tracking,
// Git pull request, policy and graph APIs.
package azdo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/devflow/pkg/cache"
	"github.com/codeGROOVE-dev/devflow/pkg/fetch"
	"github.com/codeGROOVE-dev/devflow/pkg/types"
)

const (
	// DefaultBaseURL is the organization host.
	DefaultBaseURL = "https://dev.azure.com"
	// DefaultGraphURL is the directory host.
	DefaultGraphURL = "https://vssps.dev.azure.com"
	// DefaultAPIVersion is sent as api-version on every call.
	DefaultAPIVersion = "7.1"
	// DefaultCacheTTL applies when Config.CacheTTL is unset.
	DefaultCacheTTL = 5 * time.Minute
	// MaxPages bounds every continuation loop.
	MaxPages = 200
	// BatchLimit is the most ids the work item batch endpoint accepts per call.
	BatchLimit = 200

	continuationHeader = "X-MS-ContinuationToken"
	defaultTargetRef   = "refs/heads/main"
)

// ErrInvalidResponse marks responses whose shape does not match the expected records.
var ErrInvalidResponse = errors.New("invalid response shape")

// PagingError reports a cursor that kept returning pages past the safety ceiling.
type PagingError struct {
	Endpoint string
	Pages    int
}

func (e *PagingError) Error() string {
	return fmt.Sprintf("pagination for %s exceeded %d pages", e.Endpoint, e.Pages)
}

// JSONFetcher performs authenticated JSON calls. *fetch.Fetcher implements it.
type JSONFetcher interface {
	FetchJSON(ctx context.Context, req fetch.Request) (*fetch.Response, error)
}

// Config holds configuration for creating a new client.
type Config struct {
	Organization          string
	Project               string
	Repository            string        // Repository name or id for pull request calls
	BaseURL               string        // Organization host (default: https://dev.azure.com)
	GraphURL              string        // Directory host (default: https://vssps.dev.azure.com)
	APIVersion            string        // default: 7.1
	ServiceAccountPattern string        // Case-insensitive regular expression
	ServiceAccountExclude []string      // Case-insensitive exact identities
	TargetRefs            []string      // Pull request target branches (default: refs/heads/main)
	CacheTTL              time.Duration // default: 5m
	Bypass                bool          // Skip the cache for every call
}

// Client handles all remote API interactions.
type Client struct {
	fetcher  JSONFetcher
	cache    *cache.Cache
	accounts *ServiceAccounts
	cfg      Config
}

// New creates a client. A nil cache disables caching.
func New(cfg Config, f JSONFetcher, c *cache.Cache) (*Client, error) {
	if cfg.Organization == "" {
		return nil, errors.New("organization is required")
	}
	if cfg.Project == "" {
		return nil, errors.New("project is required")
	}
	if f == nil {
		return nil, errors.New("fetcher is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.GraphURL == "" {
		cfg.GraphURL = DefaultGraphURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.GraphURL = strings.TrimRight(cfg.GraphURL, "/")
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if len(cfg.TargetRefs) == 0 {
		cfg.TargetRefs = []string{defaultTargetRef}
	}
	accounts, err := NewServiceAccounts(cfg.ServiceAccountPattern, cfg.ServiceAccountExclude)
	if err != nil {
		return nil, err
	}
	return &Client{fetcher: f, cache: c, accounts: accounts, cfg: cfg}, nil
}

// ServiceAccounts returns the matcher used to flag non-human identities.
func (c *Client) ServiceAccounts() *ServiceAccounts {
	return c.accounts
}

// projectURL builds {base}/{org}/{project}/_apis/{path}?api-version=...&params.
func (c *Client) projectURL(path string, params url.Values) string {
	return c.buildURL(c.cfg.BaseURL, c.cfg.Organization+"/"+url.PathEscape(c.cfg.Project), path, params)
}

func (c *Client) orgURL(path string, params url.Values) string {
	return c.buildURL(c.cfg.BaseURL, c.cfg.Organization, path, params)
}

func (c *Client) graphURL(path string, params url.Values) string {
	return c.buildURL(c.cfg.GraphURL, c.cfg.Organization, path, params)
}

func (c *Client) buildURL(host, scope, path string, params url.Values) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	if q.Get("api-version") == "" {
		q.Set("api-version", c.cfg.APIVersion)
	}
	return fmt.Sprintf("%s/%s/_apis/%s?%s", host, scope, path, q.Encode())
}

func (c *Client) cacheOpts(bypass bool) []cache.Option {
	return []cache.Option{cache.WithBypass(bypass || c.cfg.Bypass)}
}

func (c *Client) key(prefix string, parts ...any) string {
	return cache.Key(prefix, append([]any{c.cfg.Organization, c.cfg.Project}, parts...)...)
}

// invalid wraps a validation failure so callers can match ErrInvalidResponse.
func invalid(endpoint string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInvalidResponse, endpoint, err)
}

// fetchOne fetches and validates a single record, caching the result.
func fetchOne[T any](ctx context.Context, c *Client, key, endpoint string, req fetch.Request, bypass bool) (T, error) {
	return cache.GetOrSet(ctx, c.cache, key, c.cfg.CacheTTL, func(ctx context.Context) (T, error) {
		var zero T
		resp, err := c.fetcher.FetchJSON(ctx, req)
		if err != nil {
			return zero, fmt.Errorf("%s: %w", endpoint, err)
		}
		v, err := types.Decode[T](resp.Body)
		if err != nil {
			return zero, invalid(endpoint, err)
		}
		return v, nil
	}, c.cacheOpts(bypass)...)
}

// fetchList fetches and validates a single-page list endpoint, caching the result.
func fetchList[T any](ctx context.Context, c *Client, key, endpoint string, req fetch.Request, bypass bool) ([]T, error) {
	return fetchListWith(ctx, c, key, endpoint, req, bypass, types.DecodeList[T])
}

func fetchListWith[T any](ctx context.Context, c *Client, key, endpoint string, req fetch.Request, bypass bool,
	decode func([]byte) ([]T, error),
) ([]T, error) {
	return cache.GetOrSet(ctx, c.cache, key, c.cfg.CacheTTL, func(ctx context.Context) ([]T, error) {
		resp, err := c.fetcher.FetchJSON(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", endpoint, err)
		}
		items, err := decode(resp.Body)
		if err != nil {
			return nil, invalid(endpoint, err)
		}
		slog.Debug("Fetched list", "component", "api", "endpoint", endpoint, "count", len(items))
		return items, nil
	}, c.cacheOpts(bypass)...)
}

// fetchContinuation follows continuation tokens until the service stops returning one.
// pageURL receives the token for the next page ("" for the first).
func fetchContinuation[T any](ctx context.Context, c *Client, endpoint string, pageURL func(token string) string) ([]T, error) {
	var all []T
	token := ""
	for page := 1; ; page++ {
		if page > MaxPages {
			return nil, &PagingError{Endpoint: endpoint, Pages: MaxPages}
		}
		resp, err := c.fetcher.FetchJSON(ctx, fetch.Request{URL: pageURL(token)})
		if err != nil {
			return nil, fmt.Errorf("%s page %d: %w", endpoint, page, err)
		}
		items, err := types.DecodeList[T](resp.Body)
		if err != nil {
			return nil, invalid(fmt.Sprintf("%s page %d", endpoint, page), err)
		}
		all = append(all, items...)

		token = continuationToken(resp)
		if token == "" {
			slog.Debug("Finished paging", "component", "api", "endpoint", endpoint, "pages", page, "count", len(all))
			return all, nil
		}
	}
}

// continuationToken reads the cursor from the body, falling back to the response header.
func continuationToken(resp *fetch.Response) string {
	var body struct {
		Token json.RawMessage `json:"continuationToken"`
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil && len(body.Token) > 0 {
		var s string
		if json.Unmarshal(body.Token, &s) == nil && s != "" {
			return s
		}
		var list []string
		if json.Unmarshal(body.Token, &list) == nil && len(list) > 0 && list[0] != "" {
			return list[0]
		}
	}
	return resp.Header.Get(continuationHeader)
}

// cacheGet runs loader through the cache under key.
func cacheGet[T any](ctx context.Context, c *Client, key string, bypass bool, loader func(context.Context) (T, error)) (T, error) {
	return cache.GetOrSet(ctx, c.cache, key, c.cfg.CacheTTL, loader, c.cacheOpts(bypass)...)
}
