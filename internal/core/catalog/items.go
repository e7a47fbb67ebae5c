package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iamangrysparrow/smart-basket-sub004/pkg/telemetry"
)

type ItemService struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewItemService(db *pgxpool.Pool, logger *slog.Logger) *ItemService {
	return &ItemService{
		db:     db,
		logger: logger,
	}
}

// GetByRawName looks an item up by the exact raw name observed on receipts.
// Returns nil when not found.
func (s *ItemService) GetByRawName(ctx context.Context, rawName string) (*Item, error) {
	ctx, span := tracer.Start(ctx, "catalog.GetItemByRawName")
	defer span.End()

	query := `
		SELECT id, raw_name, product_id, unit_id, unit_quantity, base_quantity, created_at, updated_at
		FROM items
		WHERE raw_name = $1
	`

	var item Item
	err := s.db.QueryRow(ctx, query, rawName).Scan(
		&item.ID,
		&item.RawName,
		&item.ProductID,
		&item.UnitID,
		&item.UnitQuantity,
		&item.BaseQuantity,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item by raw name: %w", err)
	}

	return &item, nil
}

// Create inserts an item for a raw name. Raw names are unique; a concurrent
// insert resolves to the existing row.
func (s *ItemService) Create(ctx context.Context, rawName string, productID uuid.UUID, unitID string, unitQuantity, baseQuantity float64) (*Item, error) {
	ctx, span := tracer.Start(ctx, "catalog.CreateItem")
	defer span.End()

	query := `
		INSERT INTO items (raw_name, product_id, unit_id, unit_quantity, base_quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (raw_name) DO UPDATE SET updated_at = NOW()
		RETURNING id, raw_name, product_id, unit_id, unit_quantity, base_quantity, created_at, updated_at
	`

	var item Item
	err := s.db.QueryRow(ctx, query, rawName, productID, unitID, unitQuantity, baseQuantity).Scan(
		&item.ID,
		&item.RawName,
		&item.ProductID,
		&item.UnitID,
		&item.UnitQuantity,
		&item.BaseQuantity,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert item: %w", err)
	}

	telemetry.RecordItemCreated(ctx)
	s.logger.Debug("Created item", "raw_name", rawName, "product_id", productID)
	return &item, nil
}

// GetByProduct returns all items mapped to one product.
func (s *ItemService) GetByProduct(ctx context.Context, productID uuid.UUID) ([]*Item, error) {
	ctx, span := tracer.Start(ctx, "catalog.GetItemsByProduct")
	defer span.End()

	query := `
		SELECT id, raw_name, product_id, unit_id, unit_quantity, base_quantity, created_at, updated_at
		FROM items
		WHERE product_id = $1
		ORDER BY raw_name
	`

	rows, err := s.db.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items by product: %w", err)
	}
	defer rows.Close()

	return scanItems(rows, s.logger)
}

// GetUnlabeled returns items with no label attached.
func (s *ItemService) GetUnlabeled(ctx context.Context) ([]*Item, error) {
	ctx, span := tracer.Start(ctx, "catalog.GetUnlabeledItems")
	defer span.End()

	query := `
		SELECT i.id, i.raw_name, i.product_id, i.unit_id, i.unit_quantity, i.base_quantity, i.created_at, i.updated_at
		FROM items i
		LEFT JOIN item_labels il ON il.item_id = i.id
		WHERE il.item_id IS NULL
		ORDER BY i.created_at
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unlabeled items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows, s.logger)
}

// AttachLabel links a label to an item; attaching twice is a no-op.
func (s *ItemService) AttachLabel(ctx context.Context, itemID, labelID uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "catalog.AttachLabel")
	defer span.End()

	query := `
		INSERT INTO item_labels (item_id, label_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (item_id, label_id) DO NOTHING
	`

	_, err := s.db.Exec(ctx, query, itemID, labelID)
	if err != nil {
		return fmt.Errorf("failed to attach label: %w", err)
	}

	return nil
}

func scanItems(rows pgx.Rows, logger *slog.Logger) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		var item Item
		err := rows.Scan(
			&item.ID,
			&item.RawName,
			&item.ProductID,
			&item.UnitID,
			&item.UnitQuantity,
			&item.BaseQuantity,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			logger.Error("Failed to scan item row", "error", err)
			continue
		}
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}

	return items, nil
}
