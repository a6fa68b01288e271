package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "projectone",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "projectone",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "projectone",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	storeOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "projectone",
			Subsystem: "service",
			Name:      "operations_total",
			Help:      "Service operations by resource, operation and outcome.",
		},
		[]string{"resource", "operation", "outcome"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "projectone",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Read-through cache lookups by result.",
		},
		[]string{"resource", "result"},
	)

	itemCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "projectone",
			Subsystem: "items",
			Name:      "stored",
			Help:      "Items stored per account, refreshed by the maintenance scheduler.",
		},
		[]string{"account_id"},
	)

	itemsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "projectone",
			Subsystem: "items",
			Name:      "expired_total",
			Help:      "Items removed by the expiry sweep.",
		},
	)

	maintenanceRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "projectone",
			Subsystem: "maintenance",
			Name:      "job_runs_total",
			Help:      "Scheduled maintenance job runs.",
		},
		[]string{"job", "success"},
	)

	maintenanceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "projectone",
			Subsystem: "maintenance",
			Name:      "job_run_duration_seconds",
			Help:      "Duration of scheduled maintenance jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"job"},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "projectone",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Change events published to the hub.",
		},
		[]string{"type"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		storeOperations,
		cacheLookups,
		itemCount,
		itemsExpired,
		maintenanceRuns,
		maintenanceDuration,
		eventsPublished,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// TrackInFlight increments the in-flight gauge and returns the matching
// decrement.
func TrackInFlight() func() {
	httpInFlight.Inc()
	return httpInFlight.Dec
}

// RecordHTTPRequest records one served request. An empty path is replaced
// by a canonical form of rawPath so ids do not explode label cardinality.
func RecordHTTPRequest(method, path, rawPath string, status int, duration time.Duration) {
	if path == "" {
		path = CanonicalPath(rawPath)
	}
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordOperation counts a service operation by outcome.
func RecordOperation(resource, operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	storeOperations.WithLabelValues(resource, operation, outcome).Inc()
}

// RecordCacheLookup counts a read-through cache hit or miss.
func RecordCacheLookup(resource string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(resource, result).Inc()
}

// SetItemCounts replaces the per-account item gauge.
func SetItemCounts(counts map[string]int) {
	itemCount.Reset()
	for accountID, n := range counts {
		itemCount.WithLabelValues(accountID).Set(float64(n))
	}
}

// RecordExpired adds n swept items.
func RecordExpired(n int) {
	if n > 0 {
		itemsExpired.Add(float64(n))
	}
}

// RecordMaintenanceRun records a scheduled job execution.
func RecordMaintenanceRun(job string, duration time.Duration, success bool) {
	if job == "" {
		job = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	maintenanceRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	maintenanceDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordEvent counts a published change event.
func RecordEvent(eventType string) {
	eventsPublished.WithLabelValues(eventType).Inc()
}

// CanonicalPath collapses identifiers in raw into route placeholders.
func CanonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "accounts" {
		return "/" + parts[0]
	}
	switch len(parts) {
	case 1:
		return "/accounts"
	case 2:
		return "/accounts/{id}"
	case 3:
		return "/accounts/{id}/" + parts[2]
	default:
		return "/accounts/{id}/" + parts[2] + "/{itemID}"
	}
}
