package otel

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPMiddleware returns middleware that creates spans for HTTP requests.
// When tracing is disabled it is the identity, so callers can apply it
// unconditionally.
func HTTPMiddleware(enabled bool, serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return otelhttp.NewHandler(next, serviceName)
	}
}
