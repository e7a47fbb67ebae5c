package server

import (
	"log/slog"
	"time"

	"github.com/gofiber/contrib/otelfiber/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/favicon"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogfiber "github.com/samber/slog-fiber"
	"go.opentelemetry.io/otel/attribute"
	api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"

	"github.com/iamangrysparrow/smart-basket-sub004/config"
)

var (
	httpRequestsCounter  api.Int64Counter
	httpRequestHistogram api.Float64Histogram
)

func initHTTPMetrics(provider *metric.MeterProvider) error {
	meter := provider.Meter("http")

	var err error
	httpRequestsCounter, err = meter.Int64Counter("http.requests.total",
		api.WithDescription("Total HTTP requests by method, path and status"))
	if err != nil {
		return err
	}

	httpRequestHistogram, err = meter.Float64Histogram("http.request_duration",
		api.WithDescription("Duration of HTTP requests in milliseconds"))
	return err
}

func initGlobalMiddlewares(app *fiber.App, cfg *config.Config) {
	app.Use(
		compress.New(compress.Config{
			Level: compress.LevelDefault,
		}),

		slogfiber.NewWithFilters(slog.Default(), slogfiber.IgnorePath("/health")),

		cors.New(cors.Config{
			AllowOrigins: "*",
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, OPTIONS",
		}),

		favicon.New(),
		limiter.New(limiter.Config{
			Max:               cfg.RateLimitMax,
			Expiration:        time.Duration(cfg.RateLimitWindow) * time.Second,
			LimiterMiddleware: limiter.SlidingWindow{},
		}),
	)

	app.Use(otelfiber.Middleware())
}

func (s *Server) registerHttpRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "timestamp": time.Now().Unix()})
	})

	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	apiRoutes := s.app.Group("/v1")

	apiRoutes.Post("/runs", withMetrics(func(c *fiber.Ctx) error {
		_, started := s.StartRun()
		if !started {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "a run is already in progress"})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "started"})
	}))

	apiRoutes.Get("/runs/last", withMetrics(func(c *fiber.Ctx) error {
		report, running := s.LastReport()
		if report == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no runs yet", "running": running})
		}
		return c.JSON(fiber.Map{"report": report, "running": running})
	}))

	apiRoutes.Get("/receipts", withMetrics(func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 50)
		recent, err := s.receipts.ListRecent(c.UserContext(), limit)
		if err != nil {
			slog.Error("Failed to list receipts",
				"component", "http_handler",
				"endpoint", "/v1/receipts",
				"error", err.Error())
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
		}
		return c.JSON(fiber.Map{"receipts": recent})
	}))

	apiRoutes.Get("/items/unlabeled", withMetrics(func(c *fiber.Ctx) error {
		items, err := s.items.GetUnlabeled(c.UserContext())
		if err != nil {
			slog.Error("Failed to list unlabeled items",
				"component", "http_handler",
				"endpoint", "/v1/items/unlabeled",
				"error", err.Error())
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
		}
		return c.JSON(fiber.Map{"items": items})
	}))

	apiRoutes.Get("/products/:id/items", withMetrics(func(c *fiber.Ctx) error {
		productID, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid product id"})
		}
		items, err := s.items.GetByProduct(c.UserContext(), productID)
		if err != nil {
			slog.Error("Failed to list product items",
				"component", "http_handler",
				"endpoint", "/v1/products/:id/items",
				"error", err.Error())
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
		}
		return c.JSON(fiber.Map{"items": items})
	}))
}

func withMetrics(handler fiber.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := handler(c)

		durationMs := float64(time.Since(start).Milliseconds())

		if httpRequestsCounter != nil {
			httpRequestsCounter.Add(c.UserContext(), 1,
				api.WithAttributes(
					attribute.String("method", c.Method()),
					attribute.String("path", c.Route().Path),
					attribute.Int("status_code", c.Response().StatusCode()),
				),
			)
		}

		if httpRequestHistogram != nil {
			httpRequestHistogram.Record(c.UserContext(), durationMs,
				api.WithAttributes(
					attribute.String("method", c.Method()),
					attribute.String("path", c.Route().Path),
					attribute.Int("status_code", c.Response().StatusCode()),
				),
			)
		}

		return err
	}
}
