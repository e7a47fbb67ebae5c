package parser

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/ai"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/source"
)

var tracer = otel.Tracer("parser-service")

// HintAuto makes the chain try every registered pattern strategy in priority
// order before the AI fallback.
const HintAuto = "auto"

// ParsedItem is one structured receipt line.
type ParsedItem struct {
	RawName         string
	Quantity        float64
	QuantityUnit    string
	UnitPrice       *float64
	Amount          *float64
	PackageUnit     *string
	PackageQuantity *float64
}

// ParsedReceipt is the structured form of one raw receipt.
type ParsedReceipt struct {
	ShopName    string
	Date        *time.Time
	OrderNumber *string
	Total       *float64
	Items       []ParsedItem
}

// Strategy is one deterministic pattern parser. Matches is a cheap
// heuristic; Parse does the full extraction.
type Strategy interface {
	Name() string
	Matches(content string) bool
	Parse(content string, receivedAt time.Time) (*ParsedReceipt, error)
}

// Chain evaluates pattern strategies in priority order with the generic AI
// parser as the safety net.
type Chain struct {
	strategies []Strategy
	fallback   *aiStrategy
	logger     *slog.Logger
}

func NewChain(completer ai.Completer, templates *ai.Templates, logger *slog.Logger) *Chain {
	return &Chain{
		strategies: []Strategy{
			newSupermagStrategy(),
			newTabularStrategy(),
		},
		fallback: newAIStrategy(completer, templates, logger),
		logger:   logger,
	}
}

// Parse turns raw receipt content into a structured receipt. The second
// return value reports success; the message explains a failure or names the
// strategy that won.
func (c *Chain) Parse(ctx context.Context, session *ai.Session, raw source.RawReceipt, hint string) (*ParsedReceipt, bool, string) {
	ctx, span := tracer.Start(ctx, "parser.Parse")
	defer span.End()

	// A concrete non-auto hint selects one pattern strategy; a failed
	// deterministic parse still falls through to the AI safety net.
	if hint != "" && hint != HintAuto {
		if s := c.strategyByName(hint); s != nil {
			if parsed, ok := c.tryStrategy(s, raw); ok {
				return parsed, true, s.Name()
			}
		} else {
			c.logger.Warn("Unknown parser hint, falling back to auto", "hint", hint)
		}
	} else {
		for _, s := range c.strategies {
			if !s.Matches(raw.Content) {
				continue
			}
			if parsed, ok := c.tryStrategy(s, raw); ok {
				return parsed, true, s.Name()
			}
		}
	}

	parsed, err := c.fallback.Parse(ctx, session, raw)
	if err != nil {
		return nil, false, "all parsing strategies failed: " + err.Error()
	}
	if len(parsed.Items) == 0 {
		return nil, false, "parsed receipt contains no items"
	}

	return parsed, true, c.fallback.Name()
}

func (c *Chain) tryStrategy(s Strategy, raw source.RawReceipt) (*ParsedReceipt, bool) {
	parsed, err := s.Parse(raw.Content, raw.ReceivedAt)
	if err != nil {
		c.logger.Debug("Pattern strategy failed, falling through",
			"strategy", s.Name(),
			"error", err)
		return nil, false
	}
	if len(parsed.Items) == 0 {
		return nil, false
	}
	return parsed, true
}

func (c *Chain) strategyByName(name string) Strategy {
	for _, s := range c.strategies {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

var packageRe = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(мл|ml|л|l|кг|kg|г|g|шт|pc)\b`)

// ExtractPackage pulls a trailing package hint ("930мл", "0.5l") out of a
// raw item name. Returns nil hints when the name carries none.
func ExtractPackage(rawName string) (*string, *float64) {
	matches := packageRe.FindAllStringSubmatch(rawName, -1)
	if len(matches) == 0 {
		return nil, nil
	}

	// The last mention is the package size; earlier numbers tend to be
	// fat percentage or brand noise.
	m := matches[len(matches)-1]
	qty, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil {
		return nil, nil
	}

	unit := strings.ToLower(m[2])
	return &unit, &qty
}
