package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Tracing instruments each request with an otelhttp server span. Once chi has
// routed the request the span is renamed to the matched pattern, e.g.
// "POST /webhooks/{gateway}" rather than the raw path.
func Tracing() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		named := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			if p := routePattern(r); p != "unmatched" {
				trace.SpanFromContext(r.Context()).SetName(r.Method + " " + p)
			}
		})
		return otelhttp.NewHandler(named, "http.request",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}
