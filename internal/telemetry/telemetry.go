package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Options describes the service identity and where to ship telemetry.
type Options struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Endpoint is the OTLP/HTTP collector. Empty disables export.
	Endpoint string
	// Insecure applies when Endpoint carries no scheme.
	Insecure bool
	Headers  map[string]string
}

// Provider holds the process telemetry providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider
	exporting      bool
}

// Configure builds the tracer, meter and logger providers and installs them
// globally. Without an endpoint, spans are still recorded but never leave
// the process.
//
// Configure is meant to run once at startup before any traffic; concurrent
// calls race on the global providers and the last one wins.
func Configure(ctx context.Context, opts Options) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(opts.ServiceName),
			semconv.ServiceVersionKey.String(opts.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(opts.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	p := &Provider{}

	if opts.Endpoint == "" {
		slog.Warn("OTEL_EXPORTER_OTLP_ENDPOINT is not set, spans will not be exported")

		p.tracerProvider = sdktrace.NewTracerProvider(sdktrace.WithResource(res))
		p.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	} else {
		ep := parseEndpoint(opts.Endpoint, opts.Insecure)

		traceOpts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(ep.host),
			otlptracehttp.WithURLPath(ep.tracePath),
		}
		metricOpts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(ep.host),
			otlpmetrichttp.WithURLPath(ep.metricPath),
		}
		logOpts := []otlploghttp.Option{
			otlploghttp.WithEndpoint(ep.host),
			otlploghttp.WithURLPath(ep.logPath),
		}
		if len(opts.Headers) > 0 {
			traceOpts = append(traceOpts, otlptracehttp.WithHeaders(opts.Headers))
			metricOpts = append(metricOpts, otlpmetrichttp.WithHeaders(opts.Headers))
			logOpts = append(logOpts, otlploghttp.WithHeaders(opts.Headers))
		}
		if ep.insecure {
			traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
			metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
			logOpts = append(logOpts, otlploghttp.WithInsecure())
		}

		traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
		if err != nil {
			return nil, err
		}
		metricExporter, err := otlpmetrichttp.New(ctx, metricOpts...)
		if err != nil {
			return nil, err
		}
		logExporter, err := otlploghttp.New(ctx, logOpts...)
		if err != nil {
			return nil, err
		}

		p.exporting = true
		p.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
		)
		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))),
			sdkmetric.WithResource(res),
		)
		p.loggerProvider = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
			sdklog.WithResource(res),
		)
		global.SetLoggerProvider(p.loggerProvider)

		slog.Info("Telemetry initialized",
			"endpoint", ep.host,
			"trace_path", ep.tracePath,
			"metric_path", ep.metricPath,
			"log_path", ep.logPath,
			"insecure", ep.insecure,
		)
	}

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetMeterProvider(p.meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return p, nil
}

func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tracerProvider
}

func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tracerProvider.Tracer(name)
}

// Exporting reports whether an OTLP endpoint was configured.
func (p *Provider) Exporting() bool {
	return p.exporting
}

// Shutdown flushes and stops every provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	errs = append(errs, p.tracerProvider.Shutdown(ctx))
	errs = append(errs, p.meterProvider.Shutdown(ctx))
	if p.loggerProvider != nil {
		errs = append(errs, p.loggerProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

type endpoint struct {
	host       string
	insecure   bool
	tracePath  string
	metricPath string
	logPath    string
}

// parseEndpoint splits an OTLP endpoint into host and signal paths. An
// explicit scheme decides transport security; without one, insecure is
// used. Any path is treated as a base path for the signal paths.
func parseEndpoint(raw string, insecure bool) endpoint {
	host := strings.TrimSpace(raw)

	switch {
	case strings.HasPrefix(host, "https://"):
		host = strings.TrimPrefix(host, "https://")
		insecure = false
	case strings.HasPrefix(host, "http://"):
		host = strings.TrimPrefix(host, "http://")
		insecure = true
	}

	basePath := ""
	if idx := strings.Index(host, "/"); idx >= 0 {
		basePath = host[idx:]
		host = host[:idx]
	}

	basePath = strings.TrimSuffix(basePath, "/")
	for _, suffix := range []string{"/v1/traces", "/v1/metrics", "/v1/logs"} {
		basePath = strings.TrimSuffix(basePath, suffix)
	}

	return endpoint{
		host:       host,
		insecure:   insecure,
		tracePath:  basePath + "/v1/traces",
		metricPath: basePath + "/v1/metrics",
		logPath:    basePath + "/v1/logs",
	}
}
