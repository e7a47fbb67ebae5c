package telemetry

import (
	"context"
	"log/slog"

	api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Business metrics for application-level monitoring
var (
	// Pipeline metrics
	ReceiptsProcessedTotal api.Int64Counter
	ReceiptsSkippedTotal   api.Int64Counter
	ReceiptsFailedTotal    api.Int64Counter
	RunsTotal              api.Int64Counter

	// Catalog metrics
	ProductsCreatedTotal api.Int64Counter
	ItemsCreatedTotal    api.Int64Counter

	// AI metrics
	AIRequestsTotal api.Int64Counter
	AIFailuresTotal api.Int64Counter

	// Error tracking
	ApplicationErrorsTotal api.Int64Counter
	DatabaseErrorsTotal    api.Int64Counter
)

// InitBusinessMetrics initializes all business-level metrics
func InitBusinessMetrics(provider *metric.MeterProvider) error {
	meter := provider.Meter("business")

	var err error

	// Pipeline Metrics
	ReceiptsProcessedTotal, err = meter.Int64Counter("receipts.processed.total",
		api.WithDescription("Total receipts processed successfully"))
	if err != nil {
		return err
	}

	ReceiptsSkippedTotal, err = meter.Int64Counter("receipts.skipped.total",
		api.WithDescription("Total receipts skipped as already seen"))
	if err != nil {
		return err
	}

	ReceiptsFailedTotal, err = meter.Int64Counter("receipts.failed.total",
		api.WithDescription("Total receipts that failed parsing or persistence"))
	if err != nil {
		return err
	}

	RunsTotal, err = meter.Int64Counter("collector.runs.total",
		api.WithDescription("Total collection runs started"))
	if err != nil {
		return err
	}

	// Catalog Metrics
	ProductsCreatedTotal, err = meter.Int64Counter("catalog.products.created.total",
		api.WithDescription("Total canonical products created"))
	if err != nil {
		return err
	}

	ItemsCreatedTotal, err = meter.Int64Counter("catalog.items.created.total",
		api.WithDescription("Total catalog items created from raw receipt names"))
	if err != nil {
		return err
	}

	// AI Metrics
	AIRequestsTotal, err = meter.Int64Counter("ai.requests.total",
		api.WithDescription("Total AI completion requests"))
	if err != nil {
		return err
	}

	AIFailuresTotal, err = meter.Int64Counter("ai.failures.total",
		api.WithDescription("Total failed AI completion requests"))
	if err != nil {
		return err
	}

	// Error Metrics
	ApplicationErrorsTotal, err = meter.Int64Counter("application.errors.total",
		api.WithDescription("Total application errors by component and type"))
	if err != nil {
		return err
	}

	DatabaseErrorsTotal, err = meter.Int64Counter("database.errors.total",
		api.WithDescription("Total database errors by operation and type"))
	if err != nil {
		return err
	}

	slog.Info("Business metrics initialized successfully")
	return nil
}

// The Record helpers are safe to call before metrics are initialized, so
// services and tests never need a live meter provider.

func RecordReceiptProcessed(ctx context.Context) {
	if ReceiptsProcessedTotal != nil {
		ReceiptsProcessedTotal.Add(ctx, 1)
	}
}

func RecordReceiptSkipped(ctx context.Context) {
	if ReceiptsSkippedTotal != nil {
		ReceiptsSkippedTotal.Add(ctx, 1)
	}
}

func RecordReceiptFailed(ctx context.Context) {
	if ReceiptsFailedTotal != nil {
		ReceiptsFailedTotal.Add(ctx, 1)
	}
}

func RecordRunStarted(ctx context.Context) {
	if RunsTotal != nil {
		RunsTotal.Add(ctx, 1)
	}
}

func RecordProductCreated(ctx context.Context) {
	if ProductsCreatedTotal != nil {
		ProductsCreatedTotal.Add(ctx, 1)
	}
}

func RecordItemCreated(ctx context.Context) {
	if ItemsCreatedTotal != nil {
		ItemsCreatedTotal.Add(ctx, 1)
	}
}

func RecordAIRequest(ctx context.Context) {
	if AIRequestsTotal != nil {
		AIRequestsTotal.Add(ctx, 1)
	}
}

func RecordAIFailure(ctx context.Context) {
	if AIFailuresTotal != nil {
		AIFailuresTotal.Add(ctx, 1)
	}
}
