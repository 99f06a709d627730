package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/socialchef/easel/internal/api"
	"github.com/socialchef/easel/internal/config"
	"github.com/socialchef/easel/internal/db"
	"github.com/socialchef/easel/internal/logger"
	"github.com/socialchef/easel/internal/metrics"
	"github.com/socialchef/easel/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Logger first so configuration warnings are formatted consistently
	slog.SetDefault(logger.New(os.Getenv("ENV")))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	provider, err := telemetry.Configure(ctx, telemetry.Options{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Env,
		Endpoint:       cfg.OtelExporterOTLPEndpoint,
		Insecure:       cfg.OtelExporterOTLPInsecure,
		Headers:        cfg.OtelExporterOTLPHeaders,
	})
	if err != nil {
		log.Fatalf("Failed to init telemetry: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(flushCtx); err != nil {
			slog.Warn("Failed to flush telemetry", "error", err)
		}
	}()

	// Database connection
	pool := db.New(cfg.Database, db.WithTracerProvider(provider.TracerProvider()))
	if err := pool.Startup(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Shutdown()

	poolMetrics, err := metrics.RegisterPool(provider.MeterProvider(), pool)
	if err != nil {
		slog.Warn("Failed to register pool metrics", "error", err)
	} else {
		defer poolMetrics.Unregister()
	}

	apiServer := api.NewServer(cfg, pool, provider.MeterProvider())
	apiServer.Instrument(provider.TracerProvider())

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "port", cfg.Port, "env", cfg.Env)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
		}
	}
}
