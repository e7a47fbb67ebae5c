package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/ai"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/catalog"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/classify"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/extraction"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/labeling"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/parser"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/receipts"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/source"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/units"
	"github.com/iamangrysparrow/smart-basket-sub004/pkg/telemetry"
)

var tracer = otel.Tracer("collector-service")

// ProductCatalog is the slice of product storage the collector needs.
type ProductCatalog interface {
	ProductNames(ctx context.Context) ([]string, error)
	GetOrCreate(ctx context.Context, name string, baseUnitID string) (*catalog.Product, bool, error)
}

type ItemStore interface {
	GetByRawName(ctx context.Context, rawName string) (*catalog.Item, error)
	Create(ctx context.Context, rawName string, productID uuid.UUID, unitID string, unitQuantity, baseQuantity float64) (*catalog.Item, error)
	AttachLabel(ctx context.Context, itemID, labelID uuid.UUID) error
}

type LabelStore interface {
	GetAll(ctx context.Context) ([]*catalog.Label, error)
	EnsureDefaults(ctx context.Context) error
}

type ReceiptStore interface {
	CreateReceipt(ctx context.Context, req receipts.CreateReceiptRequest) (*receipts.Receipt, error)
	CreateReceiptItem(ctx context.Context, req receipts.CreateReceiptItemRequest) (*receipts.ReceiptItem, error)
}

type Ledger interface {
	Seen(ctx context.Context, externalID string) (bool, error)
	Mark(ctx context.Context, externalID, sourceName string, status receipts.ProcessingStatus, errorMessage *string) error
}

// Taxonomist runs the end-of-run classification pass.
type Taxonomist interface {
	ClassifyAndApply(ctx context.Context, session *ai.Session) (classify.Summary, error)
}

// RunReport summarizes one collection run.
type RunReport struct {
	RunID            uuid.UUID        `json:"run_id"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
	SourcesTotal     int              `json:"sources_total"`
	SourcesProcessed int              `json:"sources_processed"`
	Fetched          int              `json:"fetched"`
	Parsed           int              `json:"parsed"`
	Processed        int              `json:"processed"`
	Skipped          int              `json:"skipped"`
	Failed           int              `json:"failed"`
	ItemsCreated     int              `json:"items_created"`
	ProductsCreated  int              `json:"products_created"`
	Canceled         bool             `json:"canceled"`
	Classification   classify.Summary `json:"classification"`
	SavedReceipts    []uuid.UUID      `json:"saved_receipts,omitempty"`
	Errors           []string         `json:"errors,omitempty"`
}

// Collector drives one fetch-parse-extract-persist-classify run over a
// set of receipt sources.
type Collector struct {
	sources    []source.Source
	parser     *parser.Chain
	extractor  *extraction.Extractor
	assigner   *labeling.Assigner
	classifier Taxonomist
	products   ProductCatalog
	items      ItemStore
	labels     LabelStore
	receipts   ReceiptStore
	ledger     Ledger
	parserHint string
	logger     *slog.Logger
}

type Deps struct {
	Sources    []source.Source
	Parser     *parser.Chain
	Extractor  *extraction.Extractor
	Assigner   *labeling.Assigner
	Classifier Taxonomist
	Products   ProductCatalog
	Items      ItemStore
	Labels     LabelStore
	Receipts   ReceiptStore
	Ledger     Ledger
	ParserHint string
}

func New(deps Deps, logger *slog.Logger) *Collector {
	hint := deps.ParserHint
	if hint == "" {
		hint = parser.HintAuto
	}
	return &Collector{
		sources:    deps.Sources,
		parser:     deps.Parser,
		extractor:  deps.Extractor,
		assigner:   deps.Assigner,
		classifier: deps.Classifier,
		products:   deps.Products,
		items:      deps.Items,
		labels:     deps.Labels,
		receipts:   deps.Receipts,
		ledger:     deps.Ledger,
		parserHint: hint,
		logger:     logger,
	}
}

// Run executes one full collection pass. It always returns a report; the
// error is non-nil only when the run could not start at all.
func (c *Collector) Run(ctx context.Context) (*RunReport, error) {
	ctx, span := tracer.Start(ctx, "collector.Run")
	defer span.End()

	session := ai.NewSession()
	report := &RunReport{
		RunID:     session.ID,
		StartedAt: time.Now().UTC(),
	}
	defer func() { report.FinishedAt = time.Now().UTC() }()

	report.SourcesTotal = len(c.sources)
	c.logger.Info("Collection run started", "run_id", report.RunID, "sources", len(c.sources))

	if err := c.labels.EnsureDefaults(ctx); err != nil {
		c.logger.Warn("Failed to ensure default labels", "error", err)
		report.Errors = append(report.Errors, fmt.Sprintf("labels: %v", err))
	}

	for _, src := range c.sources {
		if stopped := c.noteInterruption(ctx, report); stopped {
			return report, nil
		}

		raws, err := src.Fetch(ctx)
		if err != nil {
			// A broken source aborts only itself; the run moves on.
			c.logger.Error("Failed to fetch receipts", "source", src.Name(), "error", err)
			report.Errors = append(report.Errors, fmt.Sprintf("source %s: fetch: %v", src.Name(), err))
			continue
		}
		report.SourcesProcessed++
		report.Fetched += len(raws)

		for _, raw := range raws {
			// Cancellation is honored between receipts, never mid-receipt;
			// a started receipt is always driven to a terminal status.
			if stopped := c.noteInterruption(ctx, report); stopped {
				return report, nil
			}
			c.processReceipt(ctx, session, raw, report)
		}
	}

	if stopped := c.noteInterruption(ctx, report); stopped {
		return report, nil
	}

	summary, err := c.classifier.ClassifyAndApply(ctx, session)
	report.Classification = summary
	if err != nil {
		c.logger.Warn("Classification pass incomplete", "error", err)
		report.Errors = append(report.Errors, fmt.Sprintf("classify: %v", err))
	}

	c.logger.Info("Collection run finished",
		"run_id", report.RunID,
		"sources_processed", report.SourcesProcessed,
		"sources_total", report.SourcesTotal,
		"fetched", report.Fetched,
		"processed", report.Processed,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"canceled", report.Canceled)

	return report, nil
}

func (c *Collector) noteInterruption(ctx context.Context, report *RunReport) bool {
	err := ctx.Err()
	if err == nil {
		return false
	}
	report.Canceled = true
	if errors.Is(err, context.DeadlineExceeded) {
		report.Errors = append(report.Errors, "run deadline exceeded")
	} else {
		report.Errors = append(report.Errors, "run canceled")
	}
	return true
}

func (c *Collector) processReceipt(ctx context.Context, session *ai.Session, raw source.RawReceipt, report *RunReport) {
	ctx, span := tracer.Start(ctx, "collector.processReceipt")
	defer span.End()

	logger := c.logger.With("external_id", raw.ExternalID, "source", raw.SourceName)

	if raw.ExternalID != "" {
		seen, err := c.ledger.Seen(ctx, raw.ExternalID)
		if err != nil {
			logger.Error("Failed to check receipt ledger", "error", err)
			c.fail(ctx, raw, report, fmt.Sprintf("ledger lookup: %v", err))
			return
		}
		if seen {
			logger.Debug("Receipt already processed, skipping")
			report.Skipped++
			telemetry.RecordReceiptSkipped(ctx)
			return
		}
	}

	parsed, ok, reason := c.parser.Parse(ctx, session, raw, c.parserHint)
	if !ok {
		logger.Warn("Failed to parse receipt, skipping", "reason", reason)
		c.skip(ctx, raw, report, reason)
		return
	}
	report.Parsed++

	lines, err := c.resolveItems(ctx, session, parsed, report)
	if err != nil {
		logger.Error("Failed to resolve receipt items", "error", err)
		c.fail(ctx, raw, report, fmt.Sprintf("resolve items: %v", err))
		return
	}

	receipt, err := c.persist(ctx, raw, parsed, lines)
	if err != nil {
		logger.Error("Failed to persist receipt", "error", err)
		c.fail(ctx, raw, report, fmt.Sprintf("persist: %v", err))
		return
	}
	report.SavedReceipts = append(report.SavedReceipts, receipt.ID)

	if raw.ExternalID != "" {
		if err := c.ledger.Mark(ctx, raw.ExternalID, raw.SourceName, receipts.StatusProcessed, nil); err != nil {
			logger.Error("Failed to record receipt in ledger", "error", err)
		}
	}

	report.Processed++
	telemetry.RecordReceiptProcessed(ctx)
	logger.Info("Receipt processed", "shop", parsed.ShopName, "items", len(lines))

	c.assignLabels(ctx, session, lines)
}

// skip records a receipt no strategy could parse. Unlike a failure it is a
// terminal outcome of the receipt itself, not of the pipeline; the ledger
// keeps the reason so re-runs short-circuit it like any seen receipt.
func (c *Collector) skip(ctx context.Context, raw source.RawReceipt, report *RunReport, reason string) {
	report.Skipped++
	telemetry.RecordReceiptSkipped(ctx)
	if raw.ExternalID != "" {
		if err := c.ledger.Mark(ctx, raw.ExternalID, raw.SourceName, receipts.StatusSkipped, &reason); err != nil {
			c.logger.Error("Failed to record skip in ledger", "external_id", raw.ExternalID, "error", err)
		}
	}
}

func (c *Collector) fail(ctx context.Context, raw source.RawReceipt, report *RunReport, reason string) {
	report.Failed++
	report.Errors = append(report.Errors, reason)
	telemetry.RecordReceiptFailed(ctx)
	if raw.ExternalID != "" {
		if err := c.ledger.Mark(ctx, raw.ExternalID, raw.SourceName, receipts.StatusFailed, &reason); err != nil {
			c.logger.Error("Failed to record failure in ledger", "external_id", raw.ExternalID, "error", err)
		}
	}
}

// resolvedLine pairs a parsed receipt line with its catalog item.
type resolvedLine struct {
	parsed parser.ParsedItem
	item   *catalog.Item
	isNew  bool
}

// resolveItems maps every parsed line onto a catalog item, creating items and
// their products for names never seen before.
func (c *Collector) resolveItems(ctx context.Context, session *ai.Session, parsed *parser.ParsedReceipt, report *RunReport) ([]resolvedLine, error) {
	lines := make([]resolvedLine, 0, len(parsed.Items))
	var newNames []string
	for _, pi := range parsed.Items {
		item, err := c.items.GetByRawName(ctx, pi.RawName)
		if err != nil {
			return nil, err
		}
		if item == nil {
			newNames = append(newNames, pi.RawName)
		}
		lines = append(lines, resolvedLine{parsed: pi, item: item, isNew: item == nil})
	}

	if len(newNames) == 0 {
		return lines, nil
	}

	productNames, err := c.products.ProductNames(ctx)
	if err != nil {
		return nil, err
	}

	extracted := c.extractor.Extract(ctx, session, newNames, productNames)
	byName := make(map[string]extraction.Extracted, len(extracted))
	for _, ex := range extracted {
		byName[ex.Name] = ex
	}

	for i := range lines {
		if !lines[i].isNew {
			continue
		}
		pi := lines[i].parsed

		ex, ok := byName[pi.RawName]
		if !ok {
			ex = extraction.Extracted{Name: pi.RawName, Product: pi.RawName, BaseUnit: units.Piece}
		}

		product, created, err := c.products.GetOrCreate(ctx, ex.Product, ex.BaseUnit)
		if err != nil {
			return nil, err
		}
		if created {
			report.ProductsCreated++
		}

		unitID, unitQty := itemPackaging(pi)
		item, err := c.items.Create(ctx, pi.RawName, product.ID, unitID, unitQty, units.ConvertToBase(unitQty, unitID))
		if err != nil {
			return nil, err
		}
		report.ItemsCreated++
		lines[i].item = item
	}

	return lines, nil
}

// itemPackaging picks the unit and per-package quantity for a new catalog
// item. A package hint in the raw name ("930ml") wins over the receipt's
// sale unit.
func itemPackaging(pi parser.ParsedItem) (string, float64) {
	pkgUnit, pkgQty := pi.PackageUnit, pi.PackageQuantity
	if pkgUnit == nil {
		pkgUnit, pkgQty = parser.ExtractPackage(pi.RawName)
	}
	if pkgUnit != nil && pkgQty != nil {
		return units.NormalizeUnit(*pkgUnit), *pkgQty
	}

	unitID := units.NormalizeUnit(pi.QuantityUnit)
	if unitID == units.Piece {
		return units.Piece, 1
	}
	return unitID, pi.Quantity
}

func (c *Collector) persist(ctx context.Context, raw source.RawReceipt, parsed *parser.ParsedReceipt, lines []resolvedLine) (*receipts.Receipt, error) {
	var externalID *string
	if raw.ExternalID != "" {
		externalID = &raw.ExternalID
	}

	receipt, err := c.receipts.CreateReceipt(ctx, receipts.CreateReceiptRequest{
		ShopName:    parsed.ShopName,
		PurchasedAt: parsed.Date,
		OrderNumber: parsed.OrderNumber,
		Total:       parsed.Total,
		SourceName:  raw.SourceName,
		ExternalID:  externalID,
		ItemsCount:  len(lines),
	})
	if err != nil {
		return nil, err
	}

	for order, line := range lines {
		unitID := units.NormalizeUnit(line.parsed.QuantityUnit)
		baseQty := units.ConvertToBase(line.parsed.Quantity, unitID)
		if unitID == units.Piece && line.item.UnitID != units.Piece {
			// Pieces of a sized package translate into the package's
			// base quantity.
			baseQty = line.parsed.Quantity * line.item.BaseQuantity
		}

		_, err := c.receipts.CreateReceiptItem(ctx, receipts.CreateReceiptItemRequest{
			ReceiptID:    receipt.ID,
			ItemID:       line.item.ID,
			ItemOrder:    order,
			Quantity:     line.parsed.Quantity,
			QuantityUnit: unitID,
			BaseQuantity: baseQty,
			UnitPrice:    line.parsed.UnitPrice,
			Amount:       line.parsed.Amount,
		})
		if err != nil {
			return nil, err
		}
	}

	return receipt, nil
}

// assignLabels labels the items first seen in this receipt. Best effort.
func (c *Collector) assignLabels(ctx context.Context, session *ai.Session, lines []resolvedLine) {
	var itemNames []string
	byRawName := map[string]*catalog.Item{}
	for _, line := range lines {
		if !line.isNew || line.item == nil {
			continue
		}
		itemNames = append(itemNames, line.item.RawName)
		byRawName[line.item.RawName] = line.item
	}
	if len(itemNames) == 0 {
		return
	}

	vocabulary, err := c.labels.GetAll(ctx)
	if err != nil {
		c.logger.Warn("Failed to load label vocabulary", "error", err)
		return
	}

	for _, assignment := range c.assigner.AssignBatch(ctx, session, itemNames, vocabulary) {
		item, ok := byRawName[assignment.ItemName]
		if !ok {
			continue
		}
		for _, label := range assignment.Labels {
			if err := c.items.AttachLabel(ctx, item.ID, label.ID); err != nil {
				c.logger.Warn("Failed to attach label", "item", item.RawName, "label", label.Name, "error", err)
			}
		}
	}
}
