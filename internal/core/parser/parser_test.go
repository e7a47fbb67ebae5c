package parser

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/ai"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/source"
)

const supermagSample = `Супермаг — Кассовый чек
Магазин: Супермаг на Ленина
Дата: 02.05.2026
Заказ: A-12345
1. Молоко 2.5% 930мл  1 x 90.00 = 90.00
2. Хлеб Бородинский  2 x 45.50 = 91.00
3. Сыр Гауда  0,4 кг x 850,00 = 340,00
ИТОГО: 521.00
`

const tabularSample = `shop;Гастроном 24
date;2026-05-02
order;G-777
Молоко 930мл;1;шт;90.00;90.00
Сыр Гауда;0.4;кг;850.00;340.00
`

type fakeCompleter struct {
	response string
	err      error
	calls    int
}

func (f *fakeCompleter) Complete(ctx context.Context, session *ai.Session, prompt string, maxTokens int, temperature float64) (*ai.Completion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ai.Completion{Text: f.response}, nil
}

func testTemplates(t *testing.T) *ai.Templates {
	t.Helper()
	dir := t.TempDir()
	body := "Parse this receipt.\n{content}\nReceived: {received_date}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "receipt_parse.txt"), []byte(body), 0o644))
	return ai.NewTemplates(dir)
}

func testChain(t *testing.T, completer *fakeCompleter) *Chain {
	t.Helper()
	return NewChain(completer, testTemplates(t), slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func TestSupermagParse(t *testing.T) {
	s := newSupermagStrategy()
	require.True(t, s.Matches(supermagSample))

	receipt, err := s.Parse(supermagSample, time.Now())
	require.NoError(t, err)

	assert.Equal(t, "Супермаг на Ленина", receipt.ShopName)
	require.NotNil(t, receipt.Date)
	assert.Equal(t, "2026-05-02", receipt.Date.Format("2006-01-02"))
	require.NotNil(t, receipt.OrderNumber)
	assert.Equal(t, "A-12345", *receipt.OrderNumber)
	require.NotNil(t, receipt.Total)
	assert.InDelta(t, 521.00, *receipt.Total, 0.001)

	require.Len(t, receipt.Items, 3)

	milk := receipt.Items[0]
	assert.Equal(t, "Молоко 2.5% 930мл", milk.RawName)
	assert.Equal(t, 1.0, milk.Quantity)
	require.NotNil(t, milk.PackageUnit)
	assert.Equal(t, "мл", *milk.PackageUnit)
	require.NotNil(t, milk.PackageQuantity)
	assert.Equal(t, 930.0, *milk.PackageQuantity)

	cheese := receipt.Items[2]
	assert.Equal(t, "кг", cheese.QuantityUnit)
	assert.InDelta(t, 0.4, cheese.Quantity, 0.001)
	require.NotNil(t, cheese.Amount)
	assert.InDelta(t, 340.0, *cheese.Amount, 0.001)
}

func TestSupermagDateFallsBackToReceived(t *testing.T) {
	content := `Супермаг — Кассовый чек
1. Хлеб  1 x 45.50 = 45.50
`
	received := time.Date(2026, 5, 3, 12, 0, 0, 0, time.UTC)
	receipt, err := newSupermagStrategy().Parse(content, received)
	require.NoError(t, err)
	require.NotNil(t, receipt.Date)
	assert.Equal(t, received, *receipt.Date)
	assert.Equal(t, "Супермаг", receipt.ShopName)
}

func TestSupermagNoItems(t *testing.T) {
	_, err := newSupermagStrategy().Parse("Супермаг — Кассовый чек\nничего", time.Now())
	assert.Error(t, err)
}

func TestTabularParse(t *testing.T) {
	s := newTabularStrategy()
	require.True(t, s.Matches(tabularSample))

	receipt, err := s.Parse(tabularSample, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, "Гастроном 24", receipt.ShopName)
	require.NotNil(t, receipt.OrderNumber)
	assert.Equal(t, "G-777", *receipt.OrderNumber)
	require.Len(t, receipt.Items, 2)

	require.NotNil(t, receipt.Total)
	assert.InDelta(t, 430.0, *receipt.Total, 0.001)

	milk := receipt.Items[0]
	require.NotNil(t, milk.PackageUnit)
	assert.Equal(t, "мл", *milk.PackageUnit)
}

func TestTabularDoesNotMatchPlainText(t *testing.T) {
	assert.False(t, newTabularStrategy().Matches(supermagSample))
}

func TestExtractPackage(t *testing.T) {
	tests := []struct {
		name    string
		rawName string
		unit    string
		qty     float64
	}{
		{"milk ml", "Молоко Простоквашино 2.5% 930мл", "мл", 930},
		{"liters latin", "Coca-Cola Zero 0.5l", "l", 0.5},
		{"grams", "Сыр Гауда 250г", "г", 250},
		{"comma decimal", "Кефир 0,93л", "л", 0.93},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit, qty := ExtractPackage(tt.rawName)
			require.NotNil(t, unit)
			require.NotNil(t, qty)
			assert.Equal(t, tt.unit, *unit)
			assert.InDelta(t, tt.qty, *qty, 0.0001)
		})
	}

	t.Run("no hint", func(t *testing.T) {
		unit, qty := ExtractPackage("Хлеб Бородинский")
		assert.Nil(t, unit)
		assert.Nil(t, qty)
	})
}

func TestChainPrefersPatternOverAI(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("should not be called")}
	chain := testChain(t, completer)

	raw := source.RawReceipt{Content: supermagSample, ReceivedAt: time.Now()}
	receipt, ok, strategy := chain.Parse(context.Background(), ai.NewSession(), raw, HintAuto)

	require.True(t, ok)
	assert.Equal(t, "supermag", strategy)
	assert.Len(t, receipt.Items, 3)
	assert.Equal(t, 0, completer.calls, "deterministic parse must not spend AI calls")
}

func TestChainFallsBackToAI(t *testing.T) {
	completer := &fakeCompleter{response: `Here you go:
{"shop_name": "Лавка", "date": "2026-05-02", "total": 130.5,
 "items": [{"name": "Творог 5% 200г", "quantity": 1, "unit": "шт", "unit_price": 130.5, "amount": "130,5"}]}`}
	chain := testChain(t, completer)

	raw := source.RawReceipt{Content: "спасибо за покупку, творог и всё такое", ReceivedAt: time.Now()}
	receipt, ok, strategy := chain.Parse(context.Background(), ai.NewSession(), raw, HintAuto)

	require.True(t, ok)
	assert.Equal(t, "ai-generic", strategy)
	assert.Equal(t, "Лавка", receipt.ShopName)
	require.Len(t, receipt.Items, 1)
	assert.Equal(t, "Творог 5% 200г", receipt.Items[0].RawName)
	require.NotNil(t, receipt.Items[0].Amount)
	assert.InDelta(t, 130.5, *receipt.Items[0].Amount, 0.001)
	assert.Equal(t, 1, completer.calls)
}

func TestChainAIFailureReportsReason(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("rate limited")}
	chain := testChain(t, completer)

	raw := source.RawReceipt{Content: "неструктурированный текст"}
	receipt, ok, reason := chain.Parse(context.Background(), ai.NewSession(), raw, HintAuto)

	assert.False(t, ok)
	assert.Nil(t, receipt)
	assert.Contains(t, reason, "rate limited")
}

func TestChainEmptyAIReceiptFails(t *testing.T) {
	completer := &fakeCompleter{response: `{"shop_name": "Лавка", "items": []}`}
	chain := testChain(t, completer)

	_, ok, reason := chain.Parse(context.Background(), ai.NewSession(), source.RawReceipt{Content: "пусто"}, HintAuto)

	assert.False(t, ok)
	assert.Contains(t, reason, "no items")
}

func TestChainHintSelectsStrategy(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("should not be called")}
	chain := testChain(t, completer)

	raw := source.RawReceipt{Content: tabularSample}
	_, ok, strategy := chain.Parse(context.Background(), ai.NewSession(), raw, "tabular")

	require.True(t, ok)
	assert.Equal(t, "tabular", strategy)
	assert.Equal(t, 0, completer.calls)
}

func TestChainUnknownHintFallsBackToAuto(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("should not be called")}
	chain := testChain(t, completer)

	raw := source.RawReceipt{Content: supermagSample}
	_, ok, strategy := chain.Parse(context.Background(), ai.NewSession(), raw, "nonexistent")

	require.True(t, ok)
	assert.Equal(t, "supermag", strategy)
}

func TestLooseNumber(t *testing.T) {
	var item aiItem
	err := json.Unmarshal([]byte(`{"name":"x","quantity":"2,5","unit_price":null,"amount":"not a number"}`), &item)
	require.NoError(t, err)

	require.NotNil(t, item.Quantity.Value)
	assert.InDelta(t, 2.5, *item.Quantity.Value, 0.0001)
	assert.Nil(t, item.UnitPrice.Value)
	assert.Nil(t, item.Amount.Value)
}
