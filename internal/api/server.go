package api

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	otelchimetric "github.com/riandyrn/otelchi/metric"
	"github.com/socialchef/easel/internal/config"
	"github.com/socialchef/easel/internal/db"
	"github.com/socialchef/easel/internal/telemetry"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/socialchef/easel/api"

// Database is the part of *db.Pool the handlers use.
type Database interface {
	IsConfigured() bool
	FetchOne(ctx context.Context, stmt db.Statement) (db.Row, error)
}

type Server struct {
	cfg    *config.Config
	db     Database
	router *chi.Mux

	handler      atomic.Pointer[http.Handler]
	instrumented atomic.Bool
}

// NewServer builds the router. mp may be nil, in which case HTTP metrics
// are discarded.
func NewServer(cfg *config.Config, database Database, mp metric.MeterProvider) *Server {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}

	s := &Server{
		cfg:    cfg,
		db:     database,
		router: chi.NewRouter(),
	}

	r := s.router
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestID)
	r.Use(AccessLog)

	metricCfg := otelchimetric.NewBaseConfig(cfg.ServiceName, otelchimetric.WithMeterProvider(mp))
	r.Use(otelchimetric.NewRequestDurationMillis(metricCfg))
	r.Use(otelchimetric.NewRequestInFlight(metricCfg))
	r.Use(otelchimetric.NewResponseSizeBytes(metricCfg))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
	}))

	r.NotFound(s.HandleNotFound)
	r.Get("/ping", s.HandlePing)
	r.Get("/", s.HandleHealth)
	r.Get("/health", s.HandleHealth)

	var h http.Handler = r
	s.handler.Store(&h)
	return s
}

// Instrument wraps the server in the tracing middleware. Only the first call
// has an effect; it reports whether this call installed the middleware. Call
// it before the server starts accepting requests.
func (s *Server) Instrument(tp trace.TracerProvider) bool {
	if !s.instrumented.CompareAndSwap(false, true) {
		return false
	}

	h := telemetry.Middleware(tp.Tracer(tracerName), s.router)(*s.handler.Load())
	s.handler.Store(&h)
	return true
}

// Instrumented reports whether Instrument has run.
func (s *Server) Instrumented() bool {
	return s.instrumented.Load()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*s.handler.Load()).ServeHTTP(w, r)
}
