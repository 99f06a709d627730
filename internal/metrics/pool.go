package metrics

import (
	"context"

	"github.com/socialchef/easel/internal/db"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/socialchef/easel/db"

// PoolStatsSource is satisfied by *db.Pool.
type PoolStatsSource interface {
	Stats() db.Stats
}

// RegisterPool registers observable gauges over the connection pool. Nothing
// is observed while the pool is closed. The returned registration should be
// unregistered on shutdown.
func RegisterPool(mp metric.MeterProvider, source PoolStatsSource) (metric.Registration, error) {
	meter := mp.Meter(meterName)

	connections, err := meter.Int64ObservableGauge(
		"db.pool.connections",
		metric.WithDescription("Connections in the database pool by state"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	maxConnections, err := meter.Int64ObservableGauge(
		"db.pool.connections.max",
		metric.WithDescription("Maximum size of the database pool"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	idle := metric.WithAttributes(attribute.String("state", "idle"))
	acquired := metric.WithAttributes(attribute.String("state", "acquired"))

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := source.Stats()
		if !stats.Open {
			return nil
		}
		o.ObserveInt64(connections, int64(stats.IdleConns), idle)
		o.ObserveInt64(connections, int64(stats.AcquiredConns), acquired)
		o.ObserveInt64(maxConnections, int64(stats.MaxConns))
		return nil
	}, connections, maxConnections)
}
