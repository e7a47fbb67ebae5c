package collector

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/ai"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/catalog"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/classify"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/extraction"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/labeling"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/parser"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/receipts"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/source"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/units"
)

const supermagMail = `Супермаг — Кассовый чек
Магазин: Супермаг на Ленина
Дата: 02.05.2026
Заказ: A-12345
1. Молоко 2.5% 930мл  1 x 90.00 = 90.00
2. Хлеб Бородинский  2 x 45.50 = 91.00
ИТОГО: 181.00
`

// dispatchCompleter routes each prompt to a scripted response by the marker
// its template starts with.
type dispatchCompleter struct {
	responses map[string]string
	errs      map[string]error
	calls     map[string]int
}

func newDispatchCompleter() *dispatchCompleter {
	return &dispatchCompleter{
		responses: map[string]string{},
		errs:      map[string]error{},
		calls:     map[string]int{},
	}
}

func (f *dispatchCompleter) Complete(ctx context.Context, session *ai.Session, prompt string, maxTokens int, temperature float64) (*ai.Completion, error) {
	for marker := range f.responses {
		if strings.HasPrefix(prompt, marker) {
			f.calls[marker]++
			return &ai.Completion{Text: f.responses[marker]}, nil
		}
	}
	for marker, err := range f.errs {
		if strings.HasPrefix(prompt, marker) {
			f.calls[marker]++
			return nil, err
		}
	}
	return nil, errors.New("no scripted response for prompt")
}

type fakeSource struct {
	raws []source.RawReceipt
	err  error
}

func (f *fakeSource) Name() string                           { return "test-source" }
func (f *fakeSource) TestConnection(ctx context.Context) error { return nil }
func (f *fakeSource) Fetch(ctx context.Context) ([]source.RawReceipt, error) {
	return f.raws, f.err
}

type memCatalog struct {
	byName map[string]*catalog.Product
}

func newMemCatalog() *memCatalog {
	return &memCatalog{byName: map[string]*catalog.Product{}}
}

func (m *memCatalog) ProductNames(ctx context.Context) ([]string, error) {
	var out []string
	for name := range m.byName {
		out = append(out, name)
	}
	return out, nil
}

func (m *memCatalog) GetOrCreate(ctx context.Context, name string, baseUnitID string) (*catalog.Product, bool, error) {
	key := catalog.NormalizeName(name)
	if p, ok := m.byName[key]; ok {
		return p, false, nil
	}
	p := &catalog.Product{ID: uuid.New(), Name: key, BaseUnitID: baseUnitID}
	m.byName[key] = p
	return p, true, nil
}

type memItems struct {
	byRawName map[string]*catalog.Item
	labels    map[uuid.UUID][]uuid.UUID
}

func newMemItems() *memItems {
	return &memItems{byRawName: map[string]*catalog.Item{}, labels: map[uuid.UUID][]uuid.UUID{}}
}

func (m *memItems) GetByRawName(ctx context.Context, rawName string) (*catalog.Item, error) {
	return m.byRawName[rawName], nil
}

func (m *memItems) Create(ctx context.Context, rawName string, productID uuid.UUID, unitID string, unitQuantity, baseQuantity float64) (*catalog.Item, error) {
	item := &catalog.Item{
		ID:           uuid.New(),
		RawName:      rawName,
		ProductID:    productID,
		UnitID:       unitID,
		UnitQuantity: unitQuantity,
		BaseQuantity: baseQuantity,
	}
	m.byRawName[rawName] = item
	return item, nil
}

func (m *memItems) AttachLabel(ctx context.Context, itemID, labelID uuid.UUID) error {
	m.labels[itemID] = append(m.labels[itemID], labelID)
	return nil
}

type memLabels struct {
	list    []*catalog.Label
	ensured bool
}

func (m *memLabels) GetAll(ctx context.Context) ([]*catalog.Label, error) { return m.list, nil }
func (m *memLabels) EnsureDefaults(ctx context.Context) error {
	m.ensured = true
	return nil
}

type memReceipts struct {
	receipts []*receipts.Receipt
	lines    []*receipts.ReceiptItem
}

func (m *memReceipts) CreateReceipt(ctx context.Context, req receipts.CreateReceiptRequest) (*receipts.Receipt, error) {
	r := &receipts.Receipt{
		ID:          uuid.New(),
		ShopName:    req.ShopName,
		PurchasedAt: req.PurchasedAt,
		OrderNumber: req.OrderNumber,
		Total:       req.Total,
		SourceName:  req.SourceName,
		ExternalID:  req.ExternalID,
		ItemsCount:  req.ItemsCount,
	}
	m.receipts = append(m.receipts, r)
	return r, nil
}

func (m *memReceipts) CreateReceiptItem(ctx context.Context, req receipts.CreateReceiptItemRequest) (*receipts.ReceiptItem, error) {
	line := &receipts.ReceiptItem{
		ID:           uuid.New(),
		ReceiptID:    req.ReceiptID,
		ItemID:       req.ItemID,
		ItemOrder:    req.ItemOrder,
		Quantity:     req.Quantity,
		QuantityUnit: req.QuantityUnit,
		BaseQuantity: req.BaseQuantity,
		UnitPrice:    req.UnitPrice,
		Amount:       req.Amount,
	}
	m.lines = append(m.lines, line)
	return line, nil
}

type memLedger struct {
	status map[string]receipts.ProcessingStatus
	errMsg map[string]*string
}

func newMemLedger() *memLedger {
	return &memLedger{status: map[string]receipts.ProcessingStatus{}, errMsg: map[string]*string{}}
}

func (m *memLedger) Seen(ctx context.Context, externalID string) (bool, error) {
	_, ok := m.status[externalID]
	return ok, nil
}

func (m *memLedger) Mark(ctx context.Context, externalID, sourceName string, status receipts.ProcessingStatus, errorMessage *string) error {
	m.status[externalID] = status
	m.errMsg[externalID] = errorMessage
	return nil
}

type fakeTaxonomist struct {
	summary classify.Summary
	err     error
	calls   int
}

func (f *fakeTaxonomist) ClassifyAndApply(ctx context.Context, session *ai.Session) (classify.Summary, error) {
	f.calls++
	return f.summary, f.err
}

type fixture struct {
	collector  *Collector
	completer  *dispatchCompleter
	catalog    *memCatalog
	items      *memItems
	labels     *memLabels
	receipts   *memReceipts
	ledger     *memLedger
	taxonomist *fakeTaxonomist
}

func newFixture(t *testing.T, raws []source.RawReceipt) *fixture {
	t.Helper()
	return newMultiSourceFixture(t, &fakeSource{raws: raws})
}

func newMultiSourceFixture(t *testing.T, sources ...source.Source) *fixture {
	t.Helper()

	dir := t.TempDir()
	templates := map[string]string{
		"receipt_parse.txt":      "PARSE\n{content}\n{received_date}",
		"product_extraction.txt": "EXTRACT\n{items}\n{products}\n{units}",
		"classification.txt":     "CLASSIFY\n{taxonomy}\n{products}",
		"labels.txt":             "LABEL\n{items}\n{labels}",
	}
	for name, body := range templates {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	tmpl := ai.NewTemplates(dir)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	completer := newDispatchCompleter()

	f := &fixture{
		completer:  completer,
		catalog:    newMemCatalog(),
		items:      newMemItems(),
		labels:     &memLabels{list: []*catalog.Label{{ID: uuid.New(), Name: "dairy"}, {ID: uuid.New(), Name: "bakery"}}},
		receipts:   &memReceipts{},
		ledger:     newMemLedger(),
		taxonomist: &fakeTaxonomist{},
	}

	f.collector = New(Deps{
		Sources:    sources,
		Parser:     parser.NewChain(completer, tmpl, logger),
		Extractor:  extraction.NewExtractor(completer, tmpl, logger),
		Assigner:   labeling.NewAssigner(completer, tmpl, logger),
		Classifier: f.taxonomist,
		Products:   f.catalog,
		Items:      f.items,
		Labels:     f.labels,
		Receipts:   f.receipts,
		Ledger:     f.ledger,
	}, logger)

	return f
}

func supermagRaw(externalID string) source.RawReceipt {
	return source.RawReceipt{
		Content:    supermagMail,
		ReceivedAt: time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC),
		ExternalID: externalID,
		SourceName: "test-source",
	}
}

func TestRunProcessesReceiptEndToEnd(t *testing.T) {
	f := newFixture(t, []source.RawReceipt{supermagRaw("msg-1")})
	f.completer.responses["EXTRACT"] = `[
		{"name": "Молоко 2.5% 930мл", "product": "Молоко", "base_unit": "l"},
		{"name": "Хлеб Бородинский", "product": "Хлеб", "base_unit": "pc"}
	]`
	f.completer.responses["LABEL"] = `{
		"items": [{"name": "Молоко 2.5% 930мл", "labels": ["dairy"]}]
	}`

	report, err := f.collector.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.SourcesProcessed)
	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 1, report.Parsed)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 2, report.ItemsCreated)
	assert.Equal(t, 2, report.ProductsCreated)
	assert.Len(t, report.SavedReceipts, 1)
	assert.False(t, report.Canceled)
	assert.True(t, f.labels.ensured)
	assert.Equal(t, 1, f.taxonomist.calls, "classification runs at the end of the run")

	// Deterministic parse spends no AI call.
	assert.Equal(t, 0, f.completer.calls["PARSE"])

	require.Len(t, f.receipts.receipts, 1)
	receipt := f.receipts.receipts[0]
	assert.Equal(t, "Супермаг на Ленина", receipt.ShopName)
	require.NotNil(t, receipt.ExternalID)
	assert.Equal(t, "msg-1", *receipt.ExternalID)
	assert.Equal(t, 2, receipt.ItemsCount)

	// Package hint in the raw name wins over the sale unit.
	milk := f.items.byRawName["Молоко 2.5% 930мл"]
	require.NotNil(t, milk)
	assert.Equal(t, "ml", milk.UnitID)
	assert.Equal(t, 930.0, milk.UnitQuantity)
	assert.InDelta(t, 0.93, milk.BaseQuantity, 0.0001)

	bread := f.items.byRawName["Хлеб Бородинский"]
	require.NotNil(t, bread)
	assert.Equal(t, units.Piece, bread.UnitID)

	// One piece of a sized package counts as the package's base quantity.
	require.Len(t, f.receipts.lines, 2)
	milkLine := f.receipts.lines[0]
	assert.Equal(t, 1.0, milkLine.Quantity)
	assert.Equal(t, units.Piece, milkLine.QuantityUnit)
	assert.InDelta(t, 0.93, milkLine.BaseQuantity, 0.0001)

	breadLine := f.receipts.lines[1]
	assert.Equal(t, 2.0, breadLine.Quantity)
	assert.InDelta(t, 2.0, breadLine.BaseQuantity, 0.0001)

	assert.Equal(t, receipts.StatusProcessed, f.ledger.status["msg-1"])

	// The milk item got its dairy label.
	assert.Len(t, f.items.labels[milk.ID], 1)
	assert.Empty(t, f.items.labels[bread.ID])
}

func TestRunSkipsSeenReceipts(t *testing.T) {
	f := newFixture(t, []source.RawReceipt{supermagRaw("msg-1")})
	f.ledger.status["msg-1"] = receipts.StatusProcessed

	report, err := f.collector.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Processed)
	assert.Empty(t, f.receipts.receipts, "seen receipts are never persisted twice")
	assert.Empty(t, f.completer.calls, "seen receipts cost no AI calls")
}

func TestRunRerunIsIdempotent(t *testing.T) {
	f := newFixture(t, []source.RawReceipt{supermagRaw("msg-1")})
	f.completer.responses["EXTRACT"] = `[]`
	f.completer.responses["LABEL"] = `{"items": []}`

	_, err := f.collector.Run(context.Background())
	require.NoError(t, err)
	report, err := f.collector.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Len(t, f.receipts.receipts, 1, "second run must not duplicate the receipt")
}

func TestRunExtractionFailureDegradesToIdentity(t *testing.T) {
	f := newFixture(t, []source.RawReceipt{supermagRaw("msg-1")})
	f.completer.errs["EXTRACT"] = errors.New("model unavailable")
	f.completer.responses["LABEL"] = `{"items": []}`

	report, err := f.collector.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed, "extraction failure must not fail the receipt")

	milk := f.items.byRawName["Молоко 2.5% 930мл"]
	require.NotNil(t, milk)
	product := f.catalog.byName[catalog.NormalizeName("Молоко 2.5% 930мл")]
	require.NotNil(t, product, "identity mapping creates a product per raw name")
	assert.Equal(t, product.ID, milk.ProductID)
}

func TestRunParseFailureSkipsReceipt(t *testing.T) {
	raw := source.RawReceipt{
		Content:    "ничего похожего на чек",
		ExternalID: "msg-bad",
		SourceName: "test-source",
	}
	f := newFixture(t, []source.RawReceipt{raw})
	f.completer.errs["PARSE"] = errors.New("rate limited")

	report, err := f.collector.Run(context.Background())
	require.NoError(t, err)

	// An unparseable receipt is skipped, not failed; Failed is reserved
	// for persistence errors.
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, receipts.StatusSkipped, f.ledger.status["msg-bad"])
	require.NotNil(t, f.ledger.errMsg["msg-bad"])
	assert.Contains(t, *f.ledger.errMsg["msg-bad"], "rate limited")
	assert.Empty(t, f.receipts.receipts)
}

func TestRunOneBadReceiptDoesNotBlockOthers(t *testing.T) {
	bad := source.RawReceipt{Content: "мусор", ExternalID: "msg-bad", SourceName: "test-source"}
	f := newFixture(t, []source.RawReceipt{bad, supermagRaw("msg-good")})
	f.completer.errs["PARSE"] = errors.New("rate limited")
	f.completer.responses["EXTRACT"] = `[]`
	f.completer.responses["LABEL"] = `{"items": []}`

	report, err := f.collector.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, receipts.StatusSkipped, f.ledger.status["msg-bad"])
	assert.Equal(t, receipts.StatusProcessed, f.ledger.status["msg-good"])
}

func TestRunHonorsCancellation(t *testing.T) {
	f := newFixture(t, []source.RawReceipt{supermagRaw("msg-1"), supermagRaw("msg-2")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.collector.Run(ctx)
	require.NoError(t, err)

	assert.True(t, report.Canceled)
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, 0, f.taxonomist.calls, "classification never starts after cancellation")
	assert.Contains(t, strings.Join(report.Errors, " "), "canceled")
}

func TestRunDeadlineIsReportedDistinctly(t *testing.T) {
	f := newFixture(t, []source.RawReceipt{supermagRaw("msg-1")})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	report, err := f.collector.Run(ctx)
	require.NoError(t, err)

	assert.True(t, report.Canceled)
	assert.Contains(t, strings.Join(report.Errors, " "), "deadline")
}

func TestRunFetchFailureAbortsOnlyThatSource(t *testing.T) {
	f := newMultiSourceFixture(t,
		&fakeSource{err: errors.New("imap: connection refused")},
		&fakeSource{raws: []source.RawReceipt{supermagRaw("msg-ok")}},
	)
	f.completer.responses["EXTRACT"] = `[
		{"name": "Молоко 2.5% 930мл", "product": "Молоко", "base_unit": "l"},
		{"name": "Хлеб Бородинский", "product": "Хлеб", "base_unit": "pc"}
	]`
	f.completer.responses["LABEL"] = `{"items": []}`

	report, err := f.collector.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.SourcesTotal)
	assert.Equal(t, 1, report.SourcesProcessed)
	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 1, report.Processed)
	require.NotEmpty(t, report.Errors)
	assert.Contains(t, report.Errors[0], "connection refused")
}
