package observability

import (
	"encoding/binary"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinuvisthara/api/internal/platform/auth"
	"github.com/vinuvisthara/api/internal/platform/requestctx"
)

const (
	cloudTraceHeader     = "X-Cloud-Trace-Context"
	idempotencyKeyHeader = "Idempotency-Key"
	webhookPathSegment   = "/webhooks/"
)

var (
	tracer     = otel.Tracer("github.com/vinuvisthara/api/internal/platform/observability")
	w3cContext = propagation.TraceContext{}
)

// TraceMiddleware continues the caller's trace (W3C traceparent first, then
// X-Cloud-Trace-Context), starts a server span and records the trace on the
// request context. The Cloud Trace header is echoed on the response.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := w3cContext.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			if !trace.SpanContextFromContext(ctx).IsValid() {
				if remote, ok := parseCloudTraceContext(r.Header.Get(cloudTraceHeader)); ok {
					ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
				}
			}

			ctx, span := tracer.Start(ctx, spanName(r), trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			span.SetAttributes(requestAttributes(r)...)

			sc := span.SpanContext()
			if !sc.IsValid() {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			info := requestctx.TraceInfo{
				TraceID:   sc.TraceID().String(),
				SpanID:    sc.SpanID().String(),
				Sampled:   sc.IsSampled(),
				ProjectID: projectID,
			}
			w.Header().Set(cloudTraceHeader, info.CloudTraceHeader())
			next.ServeHTTP(w, r.WithContext(requestctx.WithTrace(ctx, info)))
		})
	}
}

// parseCloudTraceContext reads TRACE_ID/SPAN_ID;o=OPTIONS. The span id may
// be hex or decimal.
func parseCloudTraceContext(header string) (trace.SpanContext, bool) {
	traceHex, rest, found := strings.Cut(strings.TrimSpace(header), "/")
	if !found || len(traceHex) != 32 {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanPart, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseSpanID(strings.TrimSpace(spanPart))
	if !ok {
		return trace.SpanContext{}, false
	}
	var flags trace.TraceFlags
	if sampledOption(options) {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

func parseSpanID(value string) (trace.SpanID, bool) {
	if value == "" {
		return trace.SpanID{}, false
	}
	if len(value) <= 16 {
		if id, err := trace.SpanIDFromHex(strings.Repeat("0", 16-len(value)) + value); err == nil {
			return id, true
		}
	}
	num, err := strconv.ParseUint(value, 10, 64)
	if err != nil || num == 0 {
		return trace.SpanID{}, false
	}
	var id trace.SpanID
	binary.BigEndian.PutUint64(id[:], num)
	return id, true
}

func sampledOption(options string) bool {
	for _, opt := range strings.Split(options, ";") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(opt), "o="); ok {
			return v == "1"
		}
	}
	return false
}

func spanName(r *http.Request) string {
	if r == nil || r.URL == nil {
		return "unknown"
	}
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	return r.Method + " " + SanitizeRoute(path)
}

func requestAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", SanitizeMethod(r.Method)),
		attribute.String("url.scheme", scheme),
	}
	if r.URL != nil && r.URL.Path != "" {
		attrs = append(attrs, attribute.String("url.path", SanitizeRoute(r.URL.Path)))
		if strings.Contains(r.URL.Path, webhookPathSegment) {
			attrs = append(attrs, attribute.Bool("vv.webhook", true))
		}
	}
	if r.Host != "" {
		attrs = append(attrs, attribute.String("server.address", r.Host))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", cleanString(ua, 256)))
	}
	if r.Header.Get(idempotencyKeyHeader) != "" {
		attrs = append(attrs, attribute.Bool("vv.idempotent_request", true))
	}
	if r.Header.Get(auth.GuestSessionHeader) != "" {
		attrs = append(attrs, attribute.Bool("vv.guest_checkout", true))
	}
	return attrs
}
