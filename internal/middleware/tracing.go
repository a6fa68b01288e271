package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/atproject/projectone/pkg/logger"
)

// TraceHeader carries the request trace id in both directions.
const TraceHeader = "X-Trace-ID"

// TracingMiddleware starts a server span per request, stores the trace id
// in the request context and writes one access-log line.
type TracingMiddleware struct {
	logger     *logger.Logger
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTracingMiddleware uses provider for spans. A nil provider yields no-op
// spans; trace ids then come from X-Trace-ID or a fresh uuid.
func NewTracingMiddleware(provider trace.TracerProvider, log *logger.Logger) *TracingMiddleware {
	if provider == nil {
		provider = noop.NewTracerProvider()
	}
	if log == nil {
		log = logger.NewDefault("http")
	}
	return &TracingMiddleware{
		logger:     log,
		tracer:     provider.Tracer("github.com/atproject/projectone/http"),
		propagator: propagation.TraceContext{},
	}
}

// Handler returns the tracing middleware handler.
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := m.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := m.tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
				attribute.String("client.address", r.RemoteAddr),
			),
		)
		defer span.End()

		traceID := r.Header.Get(TraceHeader)
		if sc := span.SpanContext(); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		} else if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx = logger.WithTraceID(ctx, traceID)
		w.Header().Set(TraceHeader, traceID)

		rw := wrapWriter(w)
		start := time.Now()
		next.ServeHTTP(rw, r.WithContext(ctx))
		duration := time.Since(start)

		span.SetAttributes(attribute.Int("http.response.status_code", rw.statusCode))
		if rw.statusCode >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
		}
		m.logger.LogRequest(ctx, r.Method, r.URL.Path, rw.statusCode, duration)
	})
}
