package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCacheMiss is returned by Get when nothing usable is stored under a key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry is returned by Get when the stored value cannot be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager stores item response bodies in Redis. An entry lives in Redis for
// as long as its Expires field says; Get never returns a stale one.
type Manager struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewManager returns a Manager on top of redisClient, which must not be nil.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("cache: redis client is nil")
	}
	return &Manager{
		redis:  redisClient,
		logger: log.With().Str("component", "cache").Logger(),
	}
}

// Get returns the entry stored under key, or ErrCacheMiss.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	k := key.String()
	data, err := m.redis.Get(ctx, k).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	case err != nil:
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get %s: %w", k, err)
	}

	entry := new(Entry)
	if err := json.Unmarshal(data, entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		m.logger.Warn().Str("key", k).Err(err).Msg("Dropping undecodable cache entry")
		_ = m.redis.Del(ctx, k).Err()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// Redis expiry and Expires can disagree by clock skew between writers.
	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("redis").Inc()
	return entry, nil
}

// Set stores entry under key until entry.Expires. An entry that is already
// stale is not written.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return errors.New("cache: nil entry")
	}
	ttl := entry.TTL()
	if ttl <= 0 {
		m.logger.Debug().Str("key", key.String()).Msg("Skipping stale entry")
		return nil
	}
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("encode cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	CacheSize.WithLabelValues("redis").Add(float64(len(data)))
	return nil
}

// Delete removes the entries stored under keys. Missing keys are ignored.
func (m *Manager) Delete(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	if err := m.redis.Del(ctx, names...).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Touch keeps the entry under key fresh for another ttl. The client calls it
// when the API answers a conditional request with 304 Not Modified.
func (m *Manager) Touch(ctx context.Context, key Key, ttl time.Duration) (*Entry, error) {
	entry, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	entry.Expires = time.Now().Add(ttl)
	if err := m.Set(ctx, key, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
