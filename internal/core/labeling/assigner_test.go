package labeling

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/ai"
	"github.com/iamangrysparrow/smart-basket-sub004/internal/core/catalog"
)

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

func testAssigner(t *testing.T, completer ai.Completer) *Assigner {
	t.Helper()
	dir := t.TempDir()
	body := "Labels: {labels}\nItems:\n{items}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "labels.txt"), []byte(body), 0o644))
	return NewAssigner(completer, ai.NewTemplates(dir), slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func vocab(names ...string) []*catalog.Label {
	out := make([]*catalog.Label, 0, len(names))
	for _, n := range names {
		out = append(out, &catalog.Label{ID: uuid.New(), Name: n})
	}
	return out
}

func TestAssignBatchKeepsVocabularyLabels(t *testing.T) {
	completer := &fakeCompleter{response: `{
		"items": [
			{"name": "Молоко 930мл", "labels": ["dairy", "beverages"]},
			{"name": "Хлеб", "labels": ["bakery"]}
		]
	}`}
	a := testAssigner(t, completer)

	assignments := a.AssignBatch(context.Background(), ai.NewSession(),
		[]string{"Молоко 930мл", "Хлеб"}, vocab("dairy", "bakery", "beverages"))

	require.Len(t, assignments, 2)
	assert.Equal(t, "Молоко 930мл", assignments[0].ItemName)
	require.Len(t, assignments[0].Labels, 2)
	assert.Equal(t, "dairy", assignments[0].Labels[0].Name)
}

func TestAssignBatchDropsUnknownLabels(t *testing.T) {
	completer := &fakeCompleter{response: `{
		"items": [{"name": "Молоко", "labels": ["dairy", "invented-label", "DAIRY"]}]
	}`}
	a := testAssigner(t, completer)

	assignments := a.AssignBatch(context.Background(), ai.NewSession(),
		[]string{"Молоко"}, vocab("dairy"))

	require.Len(t, assignments, 1)
	require.Len(t, assignments[0].Labels, 1, "unknown labels dropped, case-variant duplicates collapsed")
	assert.Equal(t, "dairy", assignments[0].Labels[0].Name)
}

func TestAssignBatchIgnoresUnrequestedItems(t *testing.T) {
	completer := &fakeCompleter{response: `{
		"items": [{"name": "Что-то другое", "labels": ["dairy"]}]
	}`}
	a := testAssigner(t, completer)

	assignments := a.AssignBatch(context.Background(), ai.NewSession(),
		[]string{"Молоко"}, vocab("dairy"))

	assert.Empty(t, assignments)
}

func TestAssignBatchFailureYieldsEmpty(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("unavailable")}
	a := testAssigner(t, completer)

	assignments := a.AssignBatch(context.Background(), ai.NewSession(),
		[]string{"Молоко"}, vocab("dairy"))

	assert.Empty(t, assignments)
}

func TestAssignBatchEmptyInputSkipsAI(t *testing.T) {
	completer := &fakeCompleter{}
	a := testAssigner(t, completer)

	assert.Empty(t, a.AssignBatch(context.Background(), ai.NewSession(), nil, vocab("dairy")))
	assert.Empty(t, a.AssignBatch(context.Background(), ai.NewSession(), []string{"Молоко"}, nil))
	assert.Equal(t, 0, completer.calls)
}
