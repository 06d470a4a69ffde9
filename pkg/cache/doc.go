// Package cache stores Hacker News API response bodies in Redis.
//
// Item records change rarely once written (score and comment counts aside),
// so the client keeps their bodies for a configurable TTL and revalidates
// them with an ETag when the API supplies one. Listing responses are never
// stored here; the pager keeps listings in memory and a forced refresh must
// always reach the API.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{Endpoint: "/v0/item/8863.json"}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API
//	}
//
// # HTTP Response Caching
//
//	entry, err := cache.ResponseToEntry(resp, 10*time.Minute)
//	if err != nil {
//		return err
//	}
//	if err := manager.Set(ctx, key, entry); err != nil {
//		return err
//	}
//
// # Conditional Requests
//
//	if cache.ShouldMakeConditionalRequest(entry) {
//		cache.AddConditionalHeaders(req, entry)
//	}
//
// A 304 answer keeps the stored body and pushes its expiry out:
//
//	entry, err = manager.Touch(ctx, key, ttl)
//
// # Metrics
//
//   - hn_cache_hits_total{layer="redis"}
//   - hn_cache_misses_total
//   - hn_cache_size_bytes{layer="redis"}
//   - hn_cache_304_responses_total
//   - hn_cache_conditional_requests_total
//   - hn_cache_errors_total{operation}
package cache
