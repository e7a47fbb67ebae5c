package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"google.golang.org/grpc"

	"github.com/iamangrysparrow/smart-basket-sub004/config"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/catalog"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/collector"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/receipts"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/infra/postgres"
	"github.com/iamangrysparrow/smart-basket-sub004/pkg/telemetry"
)

type Server struct {
	cfg            *config.Config
	app            *fiber.App
	db             postgres.DB
	traceProvider  *sdktrace.TracerProvider
	metricProvider *metric.MeterProvider
	loggerProvider interface{ Shutdown(context.Context) error } // log.LoggerProvider interface
	collector      *collector.Collector
	receipts       *receipts.Service
	items          *catalog.ItemService
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup

	mu         sync.Mutex
	running    bool
	lastReport *collector.RunReport
}

func New(ctx context.Context, cfg *config.Config, dbConn *pgxpool.Pool, coll *collector.Collector, receiptsService *receipts.Service, itemService *catalog.ItemService) *Server {
	traceExporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerEndpoint)))
	if err != nil {
		slog.Error("failed to initialize jaeger exporter", slog.String("error", err.Error()))
		return nil
	}

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OtlpEndpoint),
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithDialOption(grpc.WithUserAgent("smart-basket")),
	)
	if err != nil {
		slog.Error("failed to initialize otlp exporter", slog.String("error", err.Error()))
		return nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(
			resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceNameKey.String("smart-basket"),
			)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	provider := metric.NewMeterProvider(metric.WithResource(resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String("smart-basket"),
	)), metric.WithReader(metric.NewPeriodicReader(metricExporter, metric.WithInterval(15*time.Second))))

	otel.SetMeterProvider(provider)

	err = telemetry.InitTelemetry(provider, dbConn)
	if err != nil {
		slog.Error("failed to initialize telemetry", slog.String("error", err.Error()))
		return nil
	}

	if err := initHTTPMetrics(provider); err != nil {
		slog.Error("failed to initialize http metrics", slog.String("error", err.Error()))
		return nil
	}

	instrumentedConn, err := telemetry.NewInstrumentedPool(provider, dbConn)
	if err != nil {
		slog.Error("failed to create instrumented pool", slog.String("error", err.Error()))
		return nil
	}

	app := fiber.New(cfg.Fiber())

	serverCtx, cancel := context.WithCancel(ctx)

	return &Server{
		cfg:            cfg,
		app:            app,
		db:             instrumentedConn,
		traceProvider:  tp,
		metricProvider: provider,
		collector:      coll,
		receipts:       receiptsService,
		items:          itemService,
		ctx:            serverCtx,
		cancel:         cancel,
	}
}

// SetLoggerProvider registers the OTLP log provider for shutdown.
func (s *Server) SetLoggerProvider(lp interface{ Shutdown(context.Context) error }) {
	s.loggerProvider = lp
}

func (s *Server) Start() {
	initGlobalMiddlewares(s.app, s.cfg)
	s.registerHttpRoutes()

	slog.Info("Starting HTTP server", slog.String("address", s.cfg.ServerAddress))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.app.Listen(s.cfg.ServerAddress); err != nil {
			slog.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()
}

// StartRun launches one collection run in the background. Returns false if a
// run is already in flight.
func (s *Server) StartRun() (*collector.RunReport, bool) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, false
	}
	s.running = true
	s.mu.Unlock()

	telemetry.RecordRunStarted(s.ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		report, err := s.collector.Run(s.ctx)
		if err != nil {
			slog.Error("Collection run failed", slog.String("error", err.Error()))
		}

		s.mu.Lock()
		s.running = false
		if report != nil {
			s.lastReport = report
		}
		s.mu.Unlock()
	}()

	return nil, true
}

// LastReport returns the most recent run report, if any.
func (s *Server) LastReport() (*collector.RunReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastReport == nil {
		return nil, s.running
	}
	return s.lastReport, s.running
}

func (s *Server) Shutdown() {
	slog.Info("Shutting down server")

	// Cancel context to stop the running collection, if any
	s.cancel()

	// Shutdown HTTP server
	if err := s.app.Shutdown(); err != nil {
		slog.Error("Error shutting down HTTP server", slog.String("error", err.Error()))
	}

	// Wait for all goroutines to finish
	s.wg.Wait()

	// Shutdown telemetry providers
	if err := s.traceProvider.Shutdown(context.Background()); err != nil {
		slog.Error("Error shutting down trace provider", slog.String("error", err.Error()))
	}

	if err := s.metricProvider.Shutdown(context.Background()); err != nil {
		slog.Error("Error shutting down metric provider", slog.String("error", err.Error()))
	}

	if s.loggerProvider != nil {
		if err := s.loggerProvider.Shutdown(context.Background()); err != nil {
			slog.Error("Error shutting down log provider", slog.String("error", err.Error()))
		}
	}

	s.db.Close()

	slog.Info("Server shut down successfully")
}
