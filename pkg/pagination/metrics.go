package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_pagination_pages_total",
		Help: "Total page fetches by outcome (ok, empty, timeout, error)",
	}, []string{"outcome"})

	pageDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hn_pagination_page_duration_seconds",
		Help:    "Duration of page fetches in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	listingFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_pagination_listing_fetches_total",
		Help: "Total listing fetches by listing and reason (forced, cold)",
	}, []string{"listing", "reason"})

	itemsResolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hn_pagination_items_resolved_total",
		Help: "Total page slots resolved",
	})
)
