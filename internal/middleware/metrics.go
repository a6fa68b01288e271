package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/atproject/projectone/internal/app/metrics"
)

// MetricsMiddleware records in-flight, count and latency per route template.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := metrics.TrackInFlight()
		defer done()

		rw := wrapWriter(w)
		start := time.Now()
		next.ServeHTTP(rw, r)

		metrics.RecordHTTPRequest(r.Method, routeTemplate(r), r.URL.Path, rw.statusCode, time.Since(start))
	})
}

func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return tpl
}
