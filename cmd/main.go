package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iamangrysparrow/smart-basket-sub004/config"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/ai"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/catalog"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/classify"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/collector"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/extraction"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/labeling"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/parser"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/receipts"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/source"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/infra/postgres"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/infra/server"
	"github.com/iamangrysparrow/smart-basket-sub004/pkg/logger"
)

func main() {
	mainContext := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	appLogger, loggerProvider, err := logger.NewObservableLogger(&cfg)
	if err != nil {
		slog.Warn("OTLP logging unavailable, falling back to local logger", slog.String("error", err.Error()))
		appLogger = logger.NewLogger(&cfg)
	}
	slog.SetDefault(appLogger)

	conn, err := postgres.Init(cfg)
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	collectorCfg := cfg.GetCollectorConfig()

	templates := ai.NewTemplates(collectorCfg.PromptsDir)
	if err := templates.Validate(); err != nil {
		slog.Error("failed to validate prompt templates", slog.String("error", err.Error()))
		os.Exit(1)
	}

	completer := ai.NewOpenAIClient(cfg.GetOpenAIConfig(), appLogger)

	productService := catalog.NewProductService(conn, appLogger)
	itemService := catalog.NewItemService(conn, appLogger)
	labelService := catalog.NewLabelService(conn, appLogger)
	receiptService := receipts.NewService(conn, appLogger)
	ledgerService := receipts.NewLedgerService(conn, appLogger)

	emailSource := source.NewEmailSource(cfg.GetMailConfig(), appLogger)
	if err := emailSource.TestConnection(mainContext); err != nil {
		slog.Warn("mail source connection check failed", slog.String("error", err.Error()))
	}

	coll := collector.New(collector.Deps{
		Sources:    []source.Source{emailSource},
		Parser:     parser.NewChain(completer, templates, appLogger),
		Extractor:  extraction.NewExtractor(completer, templates, appLogger),
		Assigner:   labeling.NewAssigner(completer, templates, appLogger),
		Classifier: classify.NewClassifier(completer, templates, productService, collectorCfg.ClassifyBatchSize, appLogger),
		Products:   productService,
		Items:      itemService,
		Labels:     labelService,
		Receipts:   receiptService,
		Ledger:     ledgerService,
		ParserHint: collectorCfg.ParserHint,
	}, appLogger)

	srv := server.New(mainContext, &cfg, conn, coll, receiptService, itemService)
	if srv == nil {
		slog.Error("failed to initialize server")
		os.Exit(1)
	}
	if loggerProvider != nil {
		srv.SetLoggerProvider(loggerProvider)
	}

	srv.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	srv.Shutdown()
}
