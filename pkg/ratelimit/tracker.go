package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hn_rate_limit_blocks_total",
		Help: "Total number of requests refused while backing off",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hn_rate_limit_throttles_total",
		Help: "Total number of requests delayed by local pacing",
	})

	rateLimitBackoffsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_rate_limit_backoffs_total",
		Help: "Total number of backoffs started by status code",
	}, []string{"status"})
)

// Config holds tracker configuration.
type Config struct {
	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64

	// Burst is the token bucket size (default: 1).
	Burst int
}

// DefaultConfig returns a polite default for the public API.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 20,
		Burst:             10,
	}
}

// Tracker gates requests.
type Tracker struct {
	redis   *redis.Client
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu    sync.Mutex
	local State
}

// NewTracker creates a tracker. redisClient may be nil, in which case the
// backoff state stays in this process.
func NewTracker(redisClient *redis.Client, cfg Config, logger zerolog.Logger) *Tracker {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Tracker{
		redis:   redisClient,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// GetState returns the current backoff state.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		s := t.local
		return &s, nil
	}

	blockedMillis, err := t.redis.Get(ctx, RedisKeyBlockedUntil).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get blocked until: %w", err)
	}
	if errors.Is(err, redis.Nil) {
		return &State{}, nil
	}

	state := &State{BlockedUntil: time.UnixMilli(blockedMillis)}

	lastUpdate, err := t.redis.Get(ctx, RedisKeyLastUpdate).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}
	if len(lastUpdate) > 0 {
		if err := json.Unmarshal(lastUpdate, &state.LastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	reason, err := t.redis.Get(ctx, RedisKeyReason).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get reason: %w", err)
	}
	state.Reason = reason

	return state, nil
}

// UpdateFromResponse starts a backoff when status is 429 or 503, honouring
// Retry-After. Other statuses are ignored.
func (t *Tracker) UpdateFromResponse(ctx context.Context, status int, headers http.Header) error {
	if status != http.StatusTooManyRequests && status != http.StatusServiceUnavailable {
		return nil
	}

	wait := parseRetryAfter(headers.Get("Retry-After"), time.Now())
	now := time.Now()
	state := State{
		BlockedUntil: now.Add(wait),
		LastUpdate:   now,
		Reason:       strconv.Itoa(status),
	}

	rateLimitBackoffsTotal.WithLabelValues(state.Reason).Inc()
	t.logger.Warn().
		Int("status", status).
		Dur("backoff", wait).
		Time("blocked_until", state.BlockedUntil).
		Msg("API asked us to back off")

	if t.redis == nil {
		t.mu.Lock()
		t.local = state
		t.mu.Unlock()
		return nil
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	// Keys expire together with the block.
	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyBlockedUntil, state.BlockedUntil.UnixMilli(), wait)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, wait)
	pipe.Set(ctx, RedisKeyReason, state.Reason, wait)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	return nil
}

// ShouldAllowRequest returns false while a backoff is active. Otherwise it
// waits for the local pacer (respecting ctx) and returns true.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.IsBlocked() {
		t.logger.Warn().
			Dur("wait_duration", state.TimeUntilReset()).
			Str("reason", state.Reason).
			Msg("Backing off - blocking request")
		rateLimitBlocksTotal.Inc()
		return false, nil
	}

	r := t.limiter.Reserve()
	if !r.OK() {
		return false, fmt.Errorf("rate limiter burst exceeded")
	}
	if delay := r.Delay(); delay > 0 {
		rateLimitThrottlesTotal.Inc()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			r.Cancel()
			return false, ctx.Err()
		}
	}

	return true, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	wait := DefaultBackoff
	if value != "" {
		if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
			wait = time.Duration(secs) * time.Second
		} else if at, err := http.ParseTime(value); err == nil {
			wait = at.Sub(now)
		}
	}
	if wait <= 0 {
		wait = time.Second
	}
	if wait > MaxBackoff {
		wait = MaxBackoff
	}
	return wait
}
