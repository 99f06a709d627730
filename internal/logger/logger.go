package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"
)

// New creates a new slog.Logger based on the environment.
// For "production", it returns a JSON handler.
// For other environments, it returns a text handler with debug level.
func New(env string) *slog.Logger {
	return NewWithWriter(env, os.Stdout)
}

// NewWithWriter is New with a custom destination for the local handler.
// Records are mirrored to the global OTel LoggerProvider either way.
func NewWithWriter(env string, w io.Writer) *slog.Logger {
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(w, nil)
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	return slog.New(&otelHandler{handler: handler, scope: "github.com/socialchef/easel"})
}

// WithTraceContext returns a slog.Attr containing trace_id and span_id if available in the context.
func WithTraceContext(ctx context.Context) slog.Attr {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return slog.Attr{}
	}
	sc := span.SpanContext()
	return slog.Group("trace",
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

// otelHandler writes to the wrapped handler and then emits the record to
// the global OTel LoggerProvider, which is a no-op until telemetry is
// configured with an endpoint.
type otelHandler struct {
	handler slog.Handler
	scope   string
	attrs   []log.KeyValue
	group   string
}

func (h *otelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.handler.Enabled(ctx, l)
}

func (h *otelHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.handler.Handle(ctx, r); err != nil {
		return err
	}

	logger := global.GetLoggerProvider().Logger(h.scope)

	var otelRecord log.Record
	otelRecord.SetTimestamp(r.Time)
	otelRecord.SetBody(log.StringValue(r.Message))

	var severity log.Severity
	switch {
	case r.Level >= slog.LevelError:
		severity = log.SeverityError
	case r.Level >= slog.LevelWarn:
		severity = log.SeverityWarn
	case r.Level >= slog.LevelInfo:
		severity = log.SeverityInfo
	default:
		severity = log.SeverityDebug
	}
	otelRecord.SetSeverity(severity)
	otelRecord.SetSeverityText(r.Level.String())

	otelRecord.AddAttributes(h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		if !a.Equal(slog.Attr{}) {
			otelRecord.AddAttributes(h.toKeyValue(a))
		}
		return true
	})

	logger.Emit(ctx, otelRecord)
	return nil
}

func (h *otelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	kvs := make([]log.KeyValue, 0, len(h.attrs)+len(attrs))
	kvs = append(kvs, h.attrs...)
	for _, a := range attrs {
		if !a.Equal(slog.Attr{}) {
			kvs = append(kvs, h.toKeyValue(a))
		}
	}
	return &otelHandler{handler: h.handler.WithAttrs(attrs), scope: h.scope, attrs: kvs, group: h.group}
}

func (h *otelHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &otelHandler{handler: h.handler.WithGroup(name), scope: h.scope, attrs: h.attrs, group: group}
}

func (h *otelHandler) toKeyValue(a slog.Attr) log.KeyValue {
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	return log.KeyValue{Key: key, Value: toOTelValue(a.Value)}
}

func toOTelValue(v slog.Value) log.Value {
	switch v.Kind() {
	case slog.KindString:
		return log.StringValue(v.String())
	case slog.KindInt64:
		return log.Int64Value(v.Int64())
	case slog.KindBool:
		return log.BoolValue(v.Bool())
	case slog.KindFloat64:
		return log.Float64Value(v.Float64())
	case slog.KindGroup:
		attrs := v.Group()
		kvs := make([]log.KeyValue, 0, len(attrs))
		for _, a := range attrs {
			kvs = append(kvs, log.KeyValue{Key: a.Key, Value: toOTelValue(a.Value)})
		}
		return log.MapValue(kvs...)
	case slog.KindLogValuer:
		return toOTelValue(v.Resolve())
	default:
		return log.StringValue(v.String())
	}
}
