package middleware

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pbinitiative/zenflow/internal/appcontext"
	otelint "github.com/pbinitiative/zenflow/internal/otel"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// bodyWrapper counts the bytes read from a request body and keeps the last error.
type bodyWrapper struct {
	io.ReadCloser

	read int64
	err  error
}

func (w *bodyWrapper) Read(b []byte) (int, error) {
	n, err := w.ReadCloser.Read(b)
	w.read += int64(n)
	w.err = err
	return n, err
}

// statusRecorder remembers the status code and the number of bytes written.
type statusRecorder struct {
	http.ResponseWriter

	written     int64
	statusCode  int
	err         error
	wroteHeader bool
}

func (w *statusRecorder) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	w.err = err
	return n, err
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Opentelemetry returns middleware that will trace and meter incoming requests.
// Spans are named after the chi route pattern once the request was routed.
func Opentelemetry(serviceName string, transferHeaders []string, requests *otelint.RequestMetrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		routed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			span := trace.SpanFromContext(r.Context())
			span.SetAttributes(transferHeaderAttributes(r, transferHeaders)...)
			if id, ok := appcontext.RequestId(r.Context()); ok {
				span.SetAttributes(otelint.RequestIdKey.String(id))
			}
			r = r.WithContext(transferHeadersCtx(r.Context(), r, transferHeaders))

			bw := &bodyWrapper{ReadCloser: r.Body}
			if r.Body != nil {
				r.Body = bw
			}
			rec := &statusRecorder{ResponseWriter: w}

			startTime := time.Now()
			next.ServeHTTP(rec, r)

			routePattern := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				routePattern = rctx.RoutePattern()
			}
			span.SetName(r.Method + " " + routePattern)
			setAfterServeTracing(span, bw, rec)
			if requests != nil {
				setAfterServeMetrics(requests, routePattern, r, rec, startTime)
			}
		})
		return otelhttp.NewHandler(routed, serviceName, otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
	}
}

func setAfterServeMetrics(requests *otelint.RequestMetrics, routePattern string, r *http.Request, rec *statusRecorder, startTime time.Time) {
	tags := metric.WithAttributes(
		attribute.String("path", routePattern),
		attribute.String("method", r.Method),
		attribute.Int("status", rec.statusCode),
	)
	requests.RequestTotal.Add(r.Context(), 1)
	requests.RequestUriTotal.Add(r.Context(), 1, tags)
	if r.ContentLength >= 0 {
		requests.RequestBodySize.Add(r.Context(), float64(r.ContentLength), tags)
	}
	if rec.written > 0 {
		requests.ResponseBodySize.Add(r.Context(), float64(rec.written), tags)
	}
	requests.RequestDuration.Record(r.Context(), float64(time.Since(startTime).Microseconds())/1000, tags)
}

func setAfterServeTracing(span trace.Span, bw *bodyWrapper, rec *statusRecorder) {
	attributes := []attribute.KeyValue{}
	if bw.read > 0 {
		attributes = append(attributes, otelint.ReadBytesKey.Int64(bw.read))
	}
	if bw.err != nil && bw.err != io.EOF {
		attributes = append(attributes, otelint.ReadErrorKey.String(bw.err.Error()))
	}
	if rec.written > 0 {
		attributes = append(attributes, otelint.WroteBytesKey.Int64(rec.written))
	}
	if rec.err != nil && rec.err != io.EOF {
		attributes = append(attributes, otelint.WriteErrorKey.String(rec.err.Error()))
	}
	span.SetAttributes(attributes...)
}

func transferHeadersCtx(ctx context.Context, r *http.Request, transferHeaders []string) context.Context {
	for _, header := range transferHeaders {
		ctx = context.WithValue(ctx, otelint.TransferHeaderKey(header), r.Header.Get(header))
	}
	return ctx
}

func transferHeaderAttributes(r *http.Request, transferHeaders []string) []attribute.KeyValue {
	attributes := make([]attribute.KeyValue, len(transferHeaders))
	for i, header := range transferHeaders {
		attributes[i] = attribute.String(header, r.Header.Get(header))
	}
	return attributes
}
