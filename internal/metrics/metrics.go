// Package metrics exposes Prometheus collectors for the acquisition pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperRequestsTotal          *prometheus.CounterVec
	scraperDurationSeconds        *prometheus.HistogramVec
	scraperItemsScrapedTotal      *prometheus.CounterVec
	crawlerURLsDiscoveredTotal    *prometheus.CounterVec
	crawlerURLsVisitedTotal       *prometheus.CounterVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	pipelineJobsTotal             *prometheus.CounterVec
	pipelineItemsStoredTotal      *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call multiple times; every Observe function calls it.
func Init() {
	once.Do(func() {
		scraperRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_requests_total",
				Help: "Total number of scrape requests, labeled by site, type, and status.",
			},
			[]string{"site", "type", "status"},
		)

		scraperDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_duration_seconds",
				Help:    "Histogram of scrape durations, labeled by site and type.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"site", "type"},
		)

		scraperItemsScrapedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_items_scraped_total",
				Help: "Total number of raw records extracted, labeled by site and type.",
			},
			[]string{"site", "type"},
		)

		crawlerURLsDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_urls_discovered_total",
				Help: "Total number of URLs enqueued by the crawler, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerURLsVisitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_urls_visited_total",
				Help: "Total number of URLs fetched by the crawler, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		pipelineJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_jobs_total",
				Help: "Total number of pipeline jobs finished, labeled by status.",
			},
			[]string{"status"},
		)

		pipelineItemsStoredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_items_stored_total",
				Help: "Total number of items written to storage, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveScrape records one scrape strategy invocation.
func ObserveScrape(site, siteType, status string, duration time.Duration, items int) {
	Init()
	scraperRequestsTotal.WithLabelValues(site, siteType, status).Inc()
	scraperDurationSeconds.WithLabelValues(site, siteType).Observe(duration.Seconds())
	if items > 0 {
		scraperItemsScrapedTotal.WithLabelValues(site, siteType).Add(float64(items))
	}
}

// ObserveURLDiscovered counts a URL added to the frontier.
func ObserveURLDiscovered(site string) {
	Init()
	crawlerURLsDiscoveredTotal.WithLabelValues(site).Inc()
}

// ObserveURLVisited counts a URL committed for fetching.
func ObserveURLVisited(site string) {
	Init()
	crawlerURLsVisitedTotal.WithLabelValues(site).Inc()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	Init()
	pipelineJobsTotal.WithLabelValues(status).Inc()
}

// ObserveStored counts items by storage outcome (inserted, updated, unchanged).
func ObserveStored(site, outcome string, n int) {
	Init()
	if n <= 0 {
		return
	}
	pipelineItemsStoredTotal.WithLabelValues(site, outcome).Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
