// Package metrics provides the Prometheus registry and HTTP handler for
// hn-pager. All metrics are defined in their respective packages (client,
// cache, ratelimit, task, deadline, pagination) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by hn-pager.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects everything registered in Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Task Metrics (pkg/task):
//   - task_runs_started_total{task} (Counter): Runs started by Start or Retry
//   - task_runs_finished_total{task, outcome} (Counter): Runs ended by outcome (done, failed, aborted)
//   - task_stale_completions_total{task} (Counter): Completions dropped by the epoch guard
//
// Deadline Metrics (pkg/deadline):
//   - deadline_races_timed_out_total (Counter): Raced operations that lost to their deadline
//
// Pagination Metrics (pkg/pagination):
//   - hn_pagination_pages_total{outcome} (Counter): Page fetches by outcome (ok, empty, timeout, error)
//   - hn_pagination_page_duration_seconds (Histogram): Page fetch duration
//   - hn_pagination_listing_fetches_total{listing, reason} (Counter): Listing fetches (cold, forced)
//   - hn_pagination_items_resolved_total (Counter): Page slots resolved
//
// Rate Limit Metrics (pkg/ratelimit):
//   - hn_rate_limit_blocks_total (Counter): Requests refused while backing off
//   - hn_rate_limit_throttles_total (Counter): Requests delayed by local pacing
//   - hn_rate_limit_backoffs_total{status} (Counter): Backoffs started by 429/503
//
// Cache Metrics (pkg/cache):
//   - hn_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - hn_cache_misses_total (Counter): Cache misses
//   - hn_cache_size_bytes{layer="redis"} (Gauge): Bytes written to the cache
//   - hn_cache_304_responses_total (Counter): 304 Not Modified responses
//   - hn_cache_conditional_requests_total (Counter): Conditional requests sent with If-None-Match
//   - hn_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - hn_requests_total{route, status} (Counter): Requests by route (listing, item) and HTTP status
//   - hn_request_duration_seconds{route} (Histogram): Request duration by route
//   - hn_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - hn_retries_total{error_class} (Counter): Retry attempts by error class
//   - hn_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - hn_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Example Prometheus Queries:
//
//   # Page Timeout Rate
//   rate(hn_pagination_pages_total{outcome="timeout"}[5m]) /
//   rate(hn_pagination_pages_total[5m])
//
//   # Superseded Runs
//   rate(task_stale_completions_total[5m])
//
//   # Cache Hit Rate
//   sum(rate(hn_cache_hits_total[5m])) /
//   (sum(rate(hn_cache_hits_total[5m])) + sum(rate(hn_cache_misses_total[5m])))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(hn_request_duration_seconds_bucket[5m]))
