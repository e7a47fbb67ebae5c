package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/ai"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/source"
)

// aiStrategy is the generic safety-net parser: one completion for a fixed
// receipt shape, JSON extracted by bracket matching even when the model
// wraps it in prose.
type aiStrategy struct {
	completer ai.Completer
	templates *ai.Templates
	logger    *slog.Logger
}

func newAIStrategy(completer ai.Completer, templates *ai.Templates, logger *slog.Logger) *aiStrategy {
	return &aiStrategy{
		completer: completer,
		templates: templates,
		logger:    logger,
	}
}

func (s *aiStrategy) Name() string {
	return "ai-generic"
}

// aiReceipt mirrors the JSON shape the prompt requests. Numeric fields use
// looseNumber so blank or quoted values decode as unknown rather than zero.
type aiReceipt struct {
	Shop        string      `json:"shop_name"`
	Date        string      `json:"date"`
	OrderNumber string      `json:"order_number"`
	Total       looseNumber `json:"total"`
	Items       []aiItem    `json:"items"`
}

type aiItem struct {
	Name      string      `json:"name"`
	Quantity  looseNumber `json:"quantity"`
	Unit      string      `json:"unit"`
	UnitPrice looseNumber `json:"unit_price"`
	Amount    looseNumber `json:"amount"`
}

func (s *aiStrategy) Parse(ctx context.Context, session *ai.Session, raw source.RawReceipt) (*ParsedReceipt, error) {
	prompt, err := s.templates.Render(ai.TemplateReceiptParse, map[string]string{
		"content":       raw.Content,
		"received_date": raw.ReceivedAt.Format("2006-01-02"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build receipt parse prompt: %w", err)
	}

	completion, err := s.completer.Complete(ctx, session, prompt, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("receipt parse completion failed: %w", err)
	}

	jsonStr, err := ai.ExtractJSONObject(completion.Text)
	if err != nil {
		return nil, err
	}

	var decoded aiReceipt
	if err := json.Unmarshal([]byte(jsonStr), &decoded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt JSON: %w", err)
	}

	receipt := &ParsedReceipt{
		ShopName: strings.TrimSpace(decoded.Shop),
		Total:    decoded.Total.Value,
	}
	if receipt.ShopName == "" {
		receipt.ShopName = "Unknown"
	}
	if decoded.OrderNumber != "" {
		order := decoded.OrderNumber
		receipt.OrderNumber = &order
	}
	if d := parseLooseDate(decoded.Date); d != nil {
		receipt.Date = d
	} else if !raw.ReceivedAt.IsZero() {
		d := raw.ReceivedAt
		receipt.Date = &d
	}

	for _, it := range decoded.Items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}

		qty := 1.0
		if it.Quantity.Value != nil {
			qty = *it.Quantity.Value
		}

		item := ParsedItem{
			RawName:      name,
			Quantity:     qty,
			QuantityUnit: strings.TrimSpace(it.Unit),
			UnitPrice:    it.UnitPrice.Value,
			Amount:       it.Amount.Value,
		}
		item.PackageUnit, item.PackageQuantity = ExtractPackage(name)
		receipt.Items = append(receipt.Items, item)
	}

	s.logger.Debug("Parsed receipt with AI strategy",
		"shop", receipt.ShopName,
		"items_count", len(receipt.Items))

	return receipt, nil
}

// looseNumber decodes numbers that arrive as JSON numbers, numeric strings
// or blanks. Blank and null mean unknown, never zero.
type looseNumber struct {
	Value *float64
}

func (n *looseNumber) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(strings.Replace(str, ",", ".", 1))
		if str == "" {
			return nil
		}
		v, err := strconv.ParseFloat(str, 64)
		if err != nil {
			// Malformed numeric text reads as unknown.
			return nil
		}
		n.Value = &v
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"2006-01-02T15:04:05Z07:00",
	"02/01/2006",
}

func parseLooseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return &d
		}
	}
	return nil
}
