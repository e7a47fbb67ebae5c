package extraction

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/ai"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/units"
)

var tracer = otel.Tracer("extraction-service")

// Extracted maps one raw item name to its canonical product and base unit.
type Extracted struct {
	Name     string `json:"name"`
	Product  string `json:"product"`
	BaseUnit string `json:"base_unit"`
}

// Extractor maps previously-unseen raw item names to canonical product
// names. Supplying the current vocabulary biases the model to reuse names
// instead of minting near-duplicates.
type Extractor struct {
	completer ai.Completer
	templates *ai.Templates
	logger    *slog.Logger
}

func NewExtractor(completer ai.Completer, templates *ai.Templates, logger *slog.Logger) *Extractor {
	return &Extractor{
		completer: completer,
		templates: templates,
		logger:    logger,
	}
}

// Extract resolves canonical products for raw item names. Any AI failure
// degrades to identity mapping with the count base unit, so the run always
// completes.
func (e *Extractor) Extract(ctx context.Context, session *ai.Session, newItemNames, existingProductNames []string) []Extracted {
	ctx, span := tracer.Start(ctx, "extraction.Extract")
	defer span.End()

	if len(newItemNames) == 0 {
		return nil
	}

	results, err := e.extractWithAI(ctx, session, newItemNames, existingProductNames)
	if err != nil {
		e.logger.Warn("Product extraction failed, degrading to identity mapping",
			"error", err,
			"items_count", len(newItemNames))
		return identityMapping(newItemNames)
	}

	// Every requested name must come back; fill gaps with identity.
	byName := make(map[string]Extracted, len(results))
	for _, r := range results {
		byName[strings.ToLower(strings.TrimSpace(r.Name))] = r
	}

	out := make([]Extracted, 0, len(newItemNames))
	for _, name := range newItemNames {
		r, ok := byName[strings.ToLower(strings.TrimSpace(name))]
		if !ok || strings.TrimSpace(r.Product) == "" {
			e.logger.Debug("AI response missed an item, using identity mapping", "item", name)
			out = append(out, identityMapping([]string{name})[0])
			continue
		}

		if _, known := units.Get(r.BaseUnit); !known {
			r.BaseUnit = units.Piece
		}
		r.Name = name
		out = append(out, r)
	}

	return out
}

func (e *Extractor) extractWithAI(ctx context.Context, session *ai.Session, newItemNames, existingProductNames []string) ([]Extracted, error) {
	prompt, err := e.templates.Render(ai.TemplateProductExtraction, map[string]string{
		"items":    strings.Join(newItemNames, "\n"),
		"products": strings.Join(existingProductNames, "\n"),
		"units":    strings.Join(units.IDs(), ", "),
	})
	if err != nil {
		return nil, err
	}

	completion, err := e.completer.Complete(ctx, session, prompt, 0, 0)
	if err != nil {
		return nil, err
	}

	jsonStr, err := ai.ExtractJSONArray(completion.Text)
	if err != nil {
		return nil, err
	}

	var results []Extracted
	if err := json.Unmarshal([]byte(jsonStr), &results); err != nil {
		return nil, err
	}

	e.logger.Info("Extracted canonical products",
		"items_count", len(newItemNames),
		"results_count", len(results),
		"vocabulary_size", len(existingProductNames))

	return results, nil
}

// identityMapping turns each raw name into its own product with the count
// base unit.
func identityMapping(names []string) []Extracted {
	out := make([]Extracted, 0, len(names))
	for _, name := range names {
		out = append(out, Extracted{
			Name:     name,
			Product:  name,
			BaseUnit: units.Piece,
		})
	}
	return out
}
