package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("receipts-service")

type Service struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewService(db *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger,
	}
}

// CreateReceipt persists a new receipt row.
func (s *Service) CreateReceipt(ctx context.Context, req CreateReceiptRequest) (*Receipt, error) {
	ctx, span := tracer.Start(ctx, "receipts.CreateReceipt")
	defer span.End()

	query := `
		INSERT INTO receipts (shop_name, purchased_at, order_number, total, source_name, external_id, items_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, shop_name, purchased_at, order_number, total, source_name, external_id, items_count, created_at, updated_at
	`

	var receipt Receipt
	err := s.db.QueryRow(ctx, query,
		req.ShopName,
		req.PurchasedAt,
		req.OrderNumber,
		req.Total,
		req.SourceName,
		req.ExternalID,
		req.ItemsCount,
	).Scan(
		&receipt.ID,
		&receipt.ShopName,
		&receipt.PurchasedAt,
		&receipt.OrderNumber,
		&receipt.Total,
		&receipt.SourceName,
		&receipt.ExternalID,
		&receipt.ItemsCount,
		&receipt.CreatedAt,
		&receipt.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert receipt: %w", err)
	}

	return &receipt, nil
}

// CreateReceiptItem persists one receipt line.
func (s *Service) CreateReceiptItem(ctx context.Context, req CreateReceiptItemRequest) (*ReceiptItem, error) {
	ctx, span := tracer.Start(ctx, "receipts.CreateReceiptItem")
	defer span.End()

	query := `
		INSERT INTO receipt_items (receipt_id, item_id, item_order, quantity, quantity_unit, base_quantity, unit_price, amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, receipt_id, item_id, item_order, quantity, quantity_unit, base_quantity, unit_price, amount, created_at, updated_at
	`

	var item ReceiptItem
	err := s.db.QueryRow(ctx, query,
		req.ReceiptID,
		req.ItemID,
		req.ItemOrder,
		req.Quantity,
		req.QuantityUnit,
		req.BaseQuantity,
		req.UnitPrice,
		req.Amount,
	).Scan(
		&item.ID,
		&item.ReceiptID,
		&item.ItemID,
		&item.ItemOrder,
		&item.Quantity,
		&item.QuantityUnit,
		&item.BaseQuantity,
		&item.UnitPrice,
		&item.Amount,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert receipt item: %w", err)
	}

	return &item, nil
}

// GetReceipt retrieves a receipt by ID.
func (s *Service) GetReceipt(ctx context.Context, id uuid.UUID) (*Receipt, error) {
	ctx, span := tracer.Start(ctx, "receipts.GetReceipt")
	defer span.End()

	query := `
		SELECT id, shop_name, purchased_at, order_number, total, source_name, external_id, items_count, created_at, updated_at
		FROM receipts
		WHERE id = $1
	`

	var receipt Receipt
	err := s.db.QueryRow(ctx, query, id).Scan(
		&receipt.ID,
		&receipt.ShopName,
		&receipt.PurchasedAt,
		&receipt.OrderNumber,
		&receipt.Total,
		&receipt.SourceName,
		&receipt.ExternalID,
		&receipt.ItemsCount,
		&receipt.CreatedAt,
		&receipt.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	return &receipt, nil
}

// GetReceiptItems returns the lines of one receipt in order.
func (s *Service) GetReceiptItems(ctx context.Context, receiptID uuid.UUID) ([]*ReceiptItem, error) {
	ctx, span := tracer.Start(ctx, "receipts.GetReceiptItems")
	defer span.End()

	query := `
		SELECT id, receipt_id, item_id, item_order, quantity, quantity_unit, base_quantity, unit_price, amount, created_at, updated_at
		FROM receipt_items
		WHERE receipt_id = $1
		ORDER BY item_order
	`

	rows, err := s.db.Query(ctx, query, receiptID)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipt items: %w", err)
	}
	defer rows.Close()

	var items []*ReceiptItem
	for rows.Next() {
		var item ReceiptItem
		err := rows.Scan(
			&item.ID,
			&item.ReceiptID,
			&item.ItemID,
			&item.ItemOrder,
			&item.Quantity,
			&item.QuantityUnit,
			&item.BaseQuantity,
			&item.UnitPrice,
			&item.Amount,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			s.logger.Error("Failed to scan receipt item row", "error", err)
			continue
		}
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating receipt items: %w", err)
	}

	return items, nil
}

// ListRecent returns the most recently created receipts.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]*Receipt, error) {
	ctx, span := tracer.Start(ctx, "receipts.ListRecent")
	defer span.End()

	query := `
		SELECT id, shop_name, purchased_at, order_number, total, source_name, external_id, items_count, created_at, updated_at
		FROM receipts
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent receipts: %w", err)
	}
	defer rows.Close()

	var result []*Receipt
	for rows.Next() {
		var receipt Receipt
		err := rows.Scan(
			&receipt.ID,
			&receipt.ShopName,
			&receipt.PurchasedAt,
			&receipt.OrderNumber,
			&receipt.Total,
			&receipt.SourceName,
			&receipt.ExternalID,
			&receipt.ItemsCount,
			&receipt.CreatedAt,
			&receipt.UpdatedAt,
		)
		if err != nil {
			s.logger.Error("Failed to scan receipt row", "error", err)
			continue
		}
		result = append(result, &receipt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating receipts: %w", err)
	}

	return result, nil
}
