package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

type LabelService struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewLabelService(db *pgxpool.Pool, logger *slog.Logger) *LabelService {
	return &LabelService{
		db:     db,
		logger: logger,
	}
}

// defaultLabels is the fixed label vocabulary the assignment stage chooses
// from.
var defaultLabels = []struct {
	Name  string
	Color string
}{
	{"dairy", "#4FC3F7"},
	{"bakery", "#FFB74D"},
	{"produce", "#81C784"},
	{"meat", "#E57373"},
	{"fish", "#64B5F6"},
	{"frozen", "#90CAF9"},
	{"snacks", "#F06292"},
	{"beverages", "#9575CD"},
	{"household", "#A1887F"},
	{"hygiene", "#4DB6AC"},
}

// GetAll returns the label vocabulary.
func (s *LabelService) GetAll(ctx context.Context) ([]*Label, error) {
	ctx, span := tracer.Start(ctx, "catalog.GetAllLabels")
	defer span.End()

	query := `
		SELECT id, name, color, created_at, updated_at
		FROM labels
		ORDER BY name
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	var labels []*Label
	for rows.Next() {
		var label Label
		err := rows.Scan(
			&label.ID,
			&label.Name,
			&label.Color,
			&label.CreatedAt,
			&label.UpdatedAt,
		)
		if err != nil {
			s.logger.Error("Failed to scan label row", "error", err)
			continue
		}
		labels = append(labels, &label)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating labels: %w", err)
	}

	return labels, nil
}

// EnsureDefaults seeds the fixed label vocabulary; existing names are left
// untouched.
func (s *LabelService) EnsureDefaults(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "catalog.EnsureDefaultLabels")
	defer span.End()

	query := `
		INSERT INTO labels (name, color, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (name) DO NOTHING
	`

	for _, l := range defaultLabels {
		if _, err := s.db.Exec(ctx, query, l.Name, l.Color); err != nil {
			return fmt.Errorf("failed to seed label %s: %w", l.Name, err)
		}
	}

	s.logger.Debug("Seeded default labels", "count", len(defaultLabels))
	return nil
}
