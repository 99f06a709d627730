package telemetry

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	AttrHTTPMethod     = attribute.Key("http.method")
	AttrHTTPRoute      = attribute.Key("http.route")
	AttrHTTPURL        = attribute.Key("http.url")
	AttrHTTPClientIP   = attribute.Key("http.client_ip")
	AttrHTTPStatusCode = attribute.Key("http.status_code")
)

// Middleware wraps every request in a server span named "<METHOD> <PATH>".
// routes resolves the route pattern recorded as http.route; when nil or when
// nothing matches, the raw path is used. The span always ends, and a
// panicking handler is recorded on the span before the panic continues.
func Middleware(tracer trace.Tracer, routes chi.Routes) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
			)

			span.SetAttributes(
				AttrHTTPMethod.String(r.Method),
				AttrHTTPRoute.String(routePattern(routes, r)),
				AttrHTTPURL.String(requestURL(r)),
			)
			if ip := clientIP(r); ip != "" {
				span.SetAttributes(AttrHTTPClientIP.String(ip))
			}

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				rec := recover()
				if rec != nil {
					status = http.StatusInternalServerError
					span.RecordError(fmt.Errorf("panic: %v", rec))
				}

				span.SetAttributes(AttrHTTPStatusCode.Int(status))
				if status >= http.StatusInternalServerError {
					span.SetStatus(codes.Error, http.StatusText(status))
				}
				span.End()

				if rec != nil {
					panic(rec)
				}
			}()

			next.ServeHTTP(ww, r.WithContext(ctx))
		})
	}
}

func routePattern(routes chi.Routes, r *http.Request) string {
	if routes != nil {
		if pattern := routes.Find(chi.NewRouteContext(), r.Method, r.URL.Path); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func requestURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// clientIP prefers the first X-Forwarded-For hop and falls back to the peer
// address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
