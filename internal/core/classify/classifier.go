package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/ai"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/catalog"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/units"
)

var tracer = otel.Tracer("classify-service")

const defaultBatchSize = 5

// ProductStore is the slice of catalog storage the classifier needs.
type ProductStore interface {
	GetAllProducts(ctx context.Context) ([]*catalog.Product, error)
	GetUncategorized(ctx context.Context) ([]*catalog.Product, error)
	GetByName(ctx context.Context, name string) (*catalog.Product, error)
	Create(ctx context.Context, name string, parentID *uuid.UUID, baseUnitID string) (*catalog.Product, error)
	SetParent(ctx context.Context, productID, parentID uuid.UUID) error
}

// Summary reports one classification pass.
type Summary struct {
	BatchesTotal       int
	BatchesApplied     int
	BatchesSkipped     int
	ProductsClassified int
	CategoriesCreated  int
}

// Classifier attaches uncategorized products into the parent/child taxonomy
// in small batches, so one bad batch never blocks the others.
type Classifier struct {
	completer ai.Completer
	templates *ai.Templates
	store     ProductStore
	batchSize int
	logger    *slog.Logger
}

func NewClassifier(completer ai.Completer, templates *ai.Templates, store ProductStore, batchSize int, logger *slog.Logger) *Classifier {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Classifier{
		completer: completer,
		templates: templates,
		store:     store,
		batchSize: batchSize,
		logger:    logger,
	}
}

// batchResponse mirrors the JSON shape the prompt requests.
type batchResponse struct {
	Products []struct {
		Name   string  `json:"name"`
		Parent *string `json:"parent"`
	} `json:"products"`
	Items []struct {
		Name    string `json:"name"`
		Product string `json:"product"`
	} `json:"items"`
}

// ClassifyAndApply runs one classification pass over every product that
// currently lacks a parent. Never deletes or renames products, only
// attaches or creates parents.
func (c *Classifier) ClassifyAndApply(ctx context.Context, session *ai.Session) (Summary, error) {
	ctx, span := tracer.Start(ctx, "classify.ClassifyAndApply")
	defer span.End()

	var summary Summary

	pending, err := c.store.GetUncategorized(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to load uncategorized products: %w", err)
	}
	if len(pending) == 0 {
		return summary, nil
	}

	snapshot, err := c.buildSnapshot(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to build taxonomy snapshot: %w", err)
	}

	for start := 0; start < len(pending); start += c.batchSize {
		// Cancellation is honored only between batches; an in-flight
		// batch always finishes applying.
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		end := start + c.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		summary.BatchesTotal++

		resp, err := c.classifyBatch(ctx, session, snapshot, batch)
		if err != nil {
			summary.BatchesSkipped++
			c.logger.Warn("Classification batch skipped",
				"batch_start", start,
				"batch_size", len(batch),
				"error", err)
			continue
		}

		applied, created, newLines := c.applyBatch(ctx, batch, resp)
		summary.BatchesApplied++
		summary.ProductsClassified += applied
		summary.CategoriesCreated += created

		// Later batches in the same run must see categories confirmed by
		// earlier ones, or they would mint duplicates.
		snapshot = appendSnapshot(snapshot, newLines)
	}

	c.logger.Info("Classification pass finished",
		"batches_total", summary.BatchesTotal,
		"batches_applied", summary.BatchesApplied,
		"batches_skipped", summary.BatchesSkipped,
		"products_classified", summary.ProductsClassified,
		"categories_created", summary.CategoriesCreated)

	return summary, nil
}

func (c *Classifier) classifyBatch(ctx context.Context, session *ai.Session, snapshot string, batch []*catalog.Product) (*batchResponse, error) {
	names := make([]string, 0, len(batch))
	for _, p := range batch {
		names = append(names, p.Name)
	}

	prompt, err := c.templates.Render(ai.TemplateClassification, map[string]string{
		"taxonomy": snapshot,
		"products": strings.Join(names, "\n"),
	})
	if err != nil {
		return nil, err
	}

	completion, err := c.completer.Complete(ctx, session, prompt, 0, 0)
	if err != nil {
		return nil, err
	}

	jsonStr, err := ai.ExtractJSONObject(completion.Text)
	if err != nil {
		return nil, err
	}

	var resp batchResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal classification response: %w", err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("classification response names no items")
	}

	return &resp, nil
}

// applyBatch attaches the batch products under their proposed categories.
// Returns classified count, created-category count and the snapshot lines
// confirmed by this batch.
func (c *Classifier) applyBatch(ctx context.Context, batch []*catalog.Product, resp *batchResponse) (int, int, []string) {
	byNormalized := make(map[string]*catalog.Product, len(batch))
	for _, p := range batch {
		byNormalized[catalog.NormalizeName(p.Name)] = p
	}

	created := 0
	var newLines []string

	// Proposed category rows first, parents before their children.
	for _, cat := range resp.Products {
		name := strings.TrimSpace(cat.Name)
		if name == "" {
			continue
		}

		product, wasCreated, err := c.ensureCategory(ctx, name)
		if err != nil {
			c.logger.Warn("Failed to ensure category", "category", name, "error", err)
			continue
		}
		if wasCreated {
			created++
			newLines = append(newLines, "- "+product.Name)
		}

		if cat.Parent != nil && strings.TrimSpace(*cat.Parent) != "" {
			c.attach(ctx, product, *cat.Parent)
		}
	}

	classified := 0
	for _, it := range resp.Items {
		product, ok := byNormalized[catalog.NormalizeName(it.Name)]
		if !ok {
			// The model may echo names outside the batch; ignore them.
			continue
		}
		if strings.TrimSpace(it.Product) == "" {
			continue
		}

		if c.attach(ctx, product, it.Product) {
			classified++
		}
	}

	return classified, created, newLines
}

// ensureCategory resolves a category by normalized name, reusing an existing
// product on collision.
func (c *Classifier) ensureCategory(ctx context.Context, name string) (*catalog.Product, bool, error) {
	existing, err := c.store.GetByName(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	product, err := c.store.Create(ctx, name, nil, units.Piece)
	if err != nil {
		return nil, false, err
	}
	return product, true, nil
}

func (c *Classifier) attach(ctx context.Context, product *catalog.Product, parentName string) bool {
	parent, _, err := c.ensureCategoryOrNil(ctx, parentName)
	if err != nil || parent == nil {
		c.logger.Warn("Failed to resolve parent", "product", product.Name, "parent", parentName, "error", err)
		return false
	}
	if parent.ID == product.ID {
		return false
	}

	if err := c.store.SetParent(ctx, product.ID, parent.ID); err != nil {
		c.logger.Warn("Failed to set product parent",
			"product", product.Name,
			"parent", parent.Name,
			"error", err)
		return false
	}
	return true
}

func (c *Classifier) ensureCategoryOrNil(ctx context.Context, name string) (*catalog.Product, bool, error) {
	if strings.TrimSpace(name) == "" {
		return nil, false, nil
	}
	return c.ensureCategory(ctx, name)
}

// buildSnapshot renders roots plus up to two child levels as indented text.
func (c *Classifier) buildSnapshot(ctx context.Context) (string, error) {
	products, err := c.store.GetAllProducts(ctx)
	if err != nil {
		return "", err
	}

	children := map[uuid.UUID][]*catalog.Product{}
	var roots []*catalog.Product
	for _, p := range products {
		if p.ParentID == nil {
			roots = append(roots, p)
			continue
		}
		children[*p.ParentID] = append(children[*p.ParentID], p)
	}

	var b strings.Builder
	for _, root := range roots {
		b.WriteString("- " + root.Name + "\n")
		for _, child := range children[root.ID] {
			b.WriteString("  - " + child.Name + "\n")
			for _, grandchild := range children[child.ID] {
				b.WriteString("    - " + grandchild.Name + "\n")
			}
		}
	}

	return b.String(), nil
}

func appendSnapshot(snapshot string, lines []string) string {
	if len(lines) == 0 {
		return snapshot
	}
	if snapshot != "" && !strings.HasSuffix(snapshot, "\n") {
		snapshot += "\n"
	}
	return snapshot + strings.Join(lines, "\n") + "\n"
}
