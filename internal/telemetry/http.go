package telemetry

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HTTPMetricsMeterName is the meter scope for HTTP metrics
	HTTPMetricsMeterName = "github.com/stacklok/notes-collab-server/http"

	// TracerName is the tracer scope for HTTP server spans
	TracerName = "github.com/stacklok/notes-collab-server/http"

	unknownRoute = "unknown_route"
)

// HTTPMetrics holds the HTTP server instruments
type HTTPMetrics struct {
	requestDuration metric.Float64Histogram
	requestsTotal   metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the HTTP instruments. A nil provider returns nil metrics.
func NewHTTPMetrics(provider metric.MeterProvider) (*HTTPMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(HTTPMetricsMeterName)

	requestDuration, err := meter.Float64Histogram(
		"notes_collab_http_request_duration_seconds",
		metric.WithDescription("Duration of HTTP requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	requestsTotal, err := meter.Int64Counter(
		"notes_collab_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"notes_collab_http_active_requests",
		metric.WithDescription("Number of in-flight HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{
		requestDuration: requestDuration,
		requestsTotal:   requestsTotal,
		activeRequests:  activeRequests,
	}, nil
}

// Middleware records request count, duration and in-flight gauge per route.
// A nil *HTTPMetrics passes requests through untouched.
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// r.Context() may be cancelled once ServeHTTP returns
		ctx := r.Context()
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		m.activeRequests.Add(ctx, 1)
		next.ServeHTTP(ww, r)
		m.activeRequests.Add(ctx, -1)

		attrs := metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", routePattern(r)),
			attribute.String("status_code", strconv.Itoa(ww.Status())),
		)
		m.requestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		m.requestsTotal.Add(ctx, 1, attrs)
	})
}

// MetricsMiddleware builds HTTPMetrics from provider and returns its middleware
func MetricsMiddleware(provider metric.MeterProvider) (func(http.Handler) http.Handler, error) {
	metrics, err := NewHTTPMetrics(provider)
	if err != nil {
		return nil, err
	}
	return metrics.Middleware, nil
}

// TracingMiddleware starts a server span per request, continuing any W3C
// trace context found in the headers. A nil provider disables tracing.
func TracingMiddleware(provider trace.TracerProvider) func(http.Handler) http.Handler {
	if provider == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	tracer := provider.Tracer(TracerName)
	propagator := otel.GetTextMapPropagator()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			ctx, span := tracer.Start(ctx, fmt.Sprintf("%s %s", r.Method, r.URL.Path),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.UserAgentOriginal(r.UserAgent()),
				),
			)
			defer span.End()

			next.ServeHTTP(ww, r.WithContext(ctx))

			// The route pattern is only known after chi has routed the request
			route := routePattern(r)
			span.SetName(fmt.Sprintf("%s %s", r.Method, route))
			span.SetAttributes(
				semconv.HTTPRouteKey.String(route),
				semconv.HTTPResponseStatusCode(ww.Status()),
			)
			if ww.Status() >= 400 {
				span.SetStatus(codes.Error, http.StatusText(ww.Status()))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unknownRoute
}
