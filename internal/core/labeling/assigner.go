package labeling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/ai"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/catalog"
)

var tracer = otel.Tracer("labeling-service")

// Assignment maps one item name to the labels accepted for it.
type Assignment struct {
	ItemName string
	Labels   []*catalog.Label
}

// Assigner proposes labels for items from a fixed vocabulary. Anything the
// model invents outside the vocabulary is dropped.
type Assigner struct {
	completer ai.Completer
	templates *ai.Templates
	logger    *slog.Logger
}

func NewAssigner(completer ai.Completer, templates *ai.Templates, logger *slog.Logger) *Assigner {
	return &Assigner{
		completer: completer,
		templates: templates,
		logger:    logger,
	}
}

type labelResponse struct {
	Items []struct {
		Name   string   `json:"name"`
		Labels []string `json:"labels"`
	} `json:"items"`
}

// AssignBatch asks for labels on the given item names. Labeling is a
// best-effort enrichment: any failure yields an empty result, never an error.
func (a *Assigner) AssignBatch(ctx context.Context, session *ai.Session, itemNames []string, vocabulary []*catalog.Label) []Assignment {
	ctx, span := tracer.Start(ctx, "labeling.AssignBatch")
	defer span.End()

	if len(itemNames) == 0 || len(vocabulary) == 0 {
		return nil
	}

	labelNames := make([]string, 0, len(vocabulary))
	byLower := make(map[string]*catalog.Label, len(vocabulary))
	for _, l := range vocabulary {
		labelNames = append(labelNames, l.Name)
		byLower[strings.ToLower(l.Name)] = l
	}

	prompt, err := a.templates.Render(ai.TemplateLabels, map[string]string{
		"items":  strings.Join(itemNames, "\n"),
		"labels": strings.Join(labelNames, ", "),
	})
	if err != nil {
		a.logger.Warn("Failed to render labels prompt", "error", err)
		return nil
	}

	completion, err := a.completer.Complete(ctx, session, prompt, 0, 0)
	if err != nil {
		a.logger.Warn("Label assignment failed", "items", len(itemNames), "error", err)
		return nil
	}

	resp, err := parseLabelResponse(completion.Text)
	if err != nil {
		a.logger.Warn("Failed to parse label response", "error", err)
		return nil
	}

	requested := make(map[string]bool, len(itemNames))
	for _, name := range itemNames {
		requested[strings.ToLower(strings.TrimSpace(name))] = true
	}

	var out []Assignment
	for _, it := range resp.Items {
		if !requested[strings.ToLower(strings.TrimSpace(it.Name))] {
			continue
		}

		var accepted []*catalog.Label
		seen := map[string]bool{}
		for _, raw := range it.Labels {
			key := strings.ToLower(strings.TrimSpace(raw))
			label, ok := byLower[key]
			if !ok || seen[key] {
				continue
			}
			seen[key] = true
			accepted = append(accepted, label)
		}
		if len(accepted) == 0 {
			continue
		}

		out = append(out, Assignment{ItemName: it.Name, Labels: accepted})
	}

	return out
}

func parseLabelResponse(text string) (*labelResponse, error) {
	jsonStr, err := ai.ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}

	var resp labelResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal label response: %w", err)
	}
	return &resp, nil
}
