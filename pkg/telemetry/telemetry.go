package telemetry

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// InitTelemetry wires business metrics and connection pool gauges onto the
// given provider.
func InitTelemetry(provider *metric.MeterProvider, conn *pgxpool.Pool) error {
	if err := InitBusinessMetrics(provider); err != nil {
		return err
	}

	meter := provider.Meter("db_pool")

	totalConns, err := meter.Int64ObservableGauge("db.pool.connections.total",
		api.WithDescription("Total connections in the pool"))
	if err != nil {
		return err
	}

	idleConns, err := meter.Int64ObservableGauge("db.pool.connections.idle",
		api.WithDescription("Idle connections in the pool"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o api.Observer) error {
		stat := conn.Stat()
		o.ObserveInt64(totalConns, int64(stat.TotalConns()))
		o.ObserveInt64(idleConns, int64(stat.IdleConns()))
		return nil
	}, totalConns, idleConns)
	if err != nil {
		return err
	}

	slog.Info("Telemetry initialized successfully")
	return nil
}
