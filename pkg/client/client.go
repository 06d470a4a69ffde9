// Package client provides the Hacker News API client with rate limiting,
// response caching, retries and byte-level progress reporting.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/hn-pager/pkg/cache"
	"github.com/Sternrassler/hn-pager/pkg/item"
	"github.com/Sternrassler/hn-pager/pkg/ratelimit"
	"github.com/Sternrassler/hn-pager/pkg/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the public Firebase endpoint of the Hacker News API.
const DefaultBaseURL = "https://hacker-news.firebaseio.com"

// Prometheus metrics for API client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_requests_total",
		Help: "Total API requests by route and status",
	}, []string{"route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hn_request_duration_seconds",
		Help:    "API request duration in seconds by route",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hn_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

const (
	routeListing = "listing"
	routeItem    = "item"
)

// Transfer is the byte progress of one item download. Total is -1 when the
// server does not announce a length.
type Transfer struct {
	Read  int64
	Total int64
}

// Client is the Hacker News API client.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	baseURL     string
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Redis backs the item response cache and the shared backoff state.
	// Optional: without it items are always fetched and backoff is local.
	Redis *redis.Client

	// BaseURL of the API (default: DefaultBaseURL).
	BaseURL string

	// User-Agent header (REQUIRED)
	// Format: "AppName/Version (contact@example.com)"
	UserAgent string

	// Rate limiting
	RateLimit ratelimit.Config

	// Retry
	MaxRetries     int           // Retries after the first attempt
	InitialBackoff time.Duration // Base backoff for server errors

	// Caching
	ItemTTL time.Duration // Lifetime of cached item bodies

	// RequestTimeout bounds a single HTTP attempt.
	RequestTimeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(redis *redis.Client, userAgent string) Config {
	return Config{
		Redis:          redis,
		BaseURL:        DefaultBaseURL,
		UserAgent:      userAgent,
		RateLimit:      ratelimit.DefaultConfig(),
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		ItemTTL:        5 * time.Minute,
		RequestTimeout: 15 * time.Second,
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if u, err := url.Parse(baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}

	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultRetryConfig().InitialBackoff
	}
	if cfg.ItemTTL <= 0 {
		cfg.ItemTTL = cache.DefaultTTL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}

	logger := log.With().Str("component", "hn-client").Logger()

	var cacheManager *cache.Manager
	if cfg.Redis != nil {
		cacheManager = cache.NewManager(cfg.Redis)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		rateLimiter: ratelimit.NewTracker(cfg.Redis, cfg.RateLimit, logger),
		cache:       cacheManager,
		baseURL:     strings.TrimRight(baseURL, "/"),
		config:      cfg,
		logger:      logger,
	}, nil
}

// Listing fetches the ordered ids of a ranked listing. Listings change
// constantly, so they always go to the network.
func (c *Client) Listing(ctx context.Context, kind item.Listing) ([]int64, error) {
	resp, err := c.get(ctx, routeListing, kind.Path(), false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ids []int64
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, &APIError{
			Endpoint:   kind.Path(),
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "decode listing",
			Err:        err,
		}
	}

	c.logger.Debug().
		Str("listing", string(kind)).
		Int("count", len(ids)).
		Msg("Listing fetched")

	return ids, nil
}

// Item fetches one record by id. Byte progress is posted to p while the
// body downloads; p may be nil. A missing record yields item.ErrNotFound.
func (c *Client) Item(ctx context.Context, p *task.Progress[Transfer], id int64) (item.Item, error) {
	endpoint := fmt.Sprintf("/v0/item/%d.json", id)

	resp, err := c.get(ctx, routeItem, endpoint, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if p != nil {
		total := resp.ContentLength
		if total < 0 {
			total = -1
		}
		body = &progressReader{r: resp.Body, p: p, total: total}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		if errors.Is(err, task.ErrAbandoned) {
			return nil, err
		}
		return nil, &APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}
	}

	it, err := item.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", id, err)
	}
	return it, nil
}

// get performs a GET behind the rate limiter with retries. Cacheable
// endpoints are served from and written to the item cache, revalidated by
// ETag.
func (c *Client) get(ctx context.Context, route, endpoint string, cacheable bool) (*http.Response, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(route).Observe(time.Since(startTime).Seconds())
	}()

	allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		c.logger.Warn().
			Str("endpoint", endpoint).
			Msg("Request blocked by rate limiter")
		requestsTotal.WithLabelValues(route, "rate_limited").Inc()
		return nil, &APIError{
			Endpoint:   endpoint,
			StatusCode: http.StatusTooManyRequests,
			ErrorClass: ErrorClassRateLimit,
			Message:    "backing off",
			Err:        ErrBlocked,
		}
	}

	cacheKey := cache.Key{Endpoint: endpoint}
	var cachedEntry *cache.Entry
	if cacheable && c.cache != nil {
		cachedEntry, err = c.cache.Get(ctx, cacheKey)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
	}

	var resp *http.Response
	retryErr := retryWithBackoff(ctx, c.logger, c.retryConfig(), func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
		if err != nil {
			return &APIError{Endpoint: endpoint, ErrorClass: ErrorClassClient, Message: "build request", Err: err}
		}
		req.Header.Set("User-Agent", c.config.UserAgent)
		req.Header.Set("Accept", "application/json")
		if cacheable && c.cache != nil {
			// Firebase only answers with an ETag when asked to.
			req.Header.Set("X-Firebase-ETag", "true")
		}
		if cache.ShouldMakeConditionalRequest(cachedEntry) {
			cache.AddConditionalHeaders(req, cachedEntry)
			cache.ConditionalRequestsSent.Inc()
		}

		var reqErr error
		resp, reqErr = c.httpClient.Do(req)
		if reqErr != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(route, "network_error").Inc()
			c.logger.Debug().Err(reqErr).Str("endpoint", endpoint).Msg("HTTP request failed")
			return &APIError{Endpoint: endpoint, ErrorClass: ErrorClassNetwork, Message: "transport", Err: reqErr}
		}

		if err := c.rateLimiter.UpdateFromResponse(ctx, resp.StatusCode, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit state")
		}

		requestsTotal.WithLabelValues(route, strconv.Itoa(resp.StatusCode)).Inc()

		if errorClass := classifyStatus(resp.StatusCode); errorClass != "" {
			errorsTotal.WithLabelValues(string(errorClass)).Inc()
			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(errorClass)).
				Msg("API request error")

			resp.Body.Close()
			return &APIError{
				Endpoint:   endpoint,
				StatusCode: resp.StatusCode,
				ErrorClass: errorClass,
				Message:    resp.Status,
			}
		}
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	if resp.StatusCode == http.StatusNotModified && cachedEntry != nil {
		resp.Body.Close()
		cache.NotModifiedResponses.Inc()
		c.logger.Debug().Str("endpoint", endpoint).Dur("age", cachedEntry.Age()).Msg("Item unchanged, serving cached body")

		if fresh, err := c.cache.Touch(ctx, cacheKey, c.config.ItemTTL); err != nil {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to extend cached item")
		} else {
			cachedEntry = fresh
		}
		return cache.EntryToResponse(cachedEntry), nil
	}

	if cacheable && c.cache != nil && resp.StatusCode == http.StatusOK {
		entry, err := cache.ResponseToEntry(resp, c.config.ItemTTL)
		if err != nil {
			resp.Body.Close()
			return nil, &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
		}
		if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to cache item")
		}
	}

	return resp, nil
}

func (c *Client) retryConfig() RetryConfig {
	rc := DefaultRetryConfig()
	rc.MaxAttempts = c.config.MaxRetries + 1
	rc.InitialBackoff = c.config.InitialBackoff
	rc.MaxBackoff = 20 * c.config.InitialBackoff
	return rc
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetCache returns the cache manager, nil without Redis.
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}

// progressReader posts byte counts as the body is consumed. A strict
// delegated Progress aborts the read once the run is gone.
type progressReader struct {
	r     io.Reader
	p     *task.Progress[Transfer]
	read  int64
	total int64
}

func (pr *progressReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	if n > 0 {
		pr.read += int64(n)
		if postErr := pr.p.Post(Transfer{Read: pr.read, Total: pr.total}); postErr != nil {
			return n, postErr
		}
	}
	return n, err
}
