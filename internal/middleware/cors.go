package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORSMiddleware builds the cross-origin policy. It wraps the whole router
// so preflight requests are answered before route matching. Empty origins
// or "*" allow any origin.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"Authorization", "Content-Type", "If-Match", TraceHeader},
		ExposedHeaders: []string{TraceHeader, "ETag", "Retry-After"},
		MaxAge:         600,
	})
	return c.Handler
}
