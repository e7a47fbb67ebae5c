package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"

	"github.com/iamangrysparrow/smart-basket-sub004/pkg/telemetry"
)

var tracer = otel.Tracer("catalog-service")

// ErrCycle is returned when attaching a parent would create a cycle in the
// product hierarchy.
var ErrCycle = errors.New("parent chain would form a cycle")

type ProductService struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewProductService(db *pgxpool.Pool, logger *slog.Logger) *ProductService {
	return &ProductService{
		db:     db,
		logger: logger,
	}
}

// GetAllProducts retrieves all products, ordered for prompt building.
func (s *ProductService) GetAllProducts(ctx context.Context) ([]*Product, error) {
	ctx, span := tracer.Start(ctx, "catalog.GetAllProducts")
	defer span.End()

	query := `
		SELECT id, name, parent_id, base_unit_id, created_at, updated_at
		FROM products
		ORDER BY name
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows, s.logger)
}

// ProductNames returns all canonical product names, for extraction prompts.
func (s *ProductService) ProductNames(ctx context.Context) ([]string, error) {
	products, err := s.GetAllProducts(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(products))
	for _, p := range products {
		names = append(names, p.Name)
	}
	return names, nil
}

// GetByName looks a product up by its normalized name. Returns nil when not
// found.
func (s *ProductService) GetByName(ctx context.Context, name string) (*Product, error) {
	ctx, span := tracer.Start(ctx, "catalog.GetByName")
	defer span.End()

	query := `
		SELECT id, name, parent_id, base_unit_id, created_at, updated_at
		FROM products
		WHERE name = $1
	`

	var product Product
	err := s.db.QueryRow(ctx, query, NormalizeName(name)).Scan(
		&product.ID,
		&product.Name,
		&product.ParentID,
		&product.BaseUnitID,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product by name: %w", err)
	}

	return &product, nil
}

// Create inserts a product under its normalized name. A concurrent insert of
// the same normalized name resolves to the existing row.
func (s *ProductService) Create(ctx context.Context, name string, parentID *uuid.UUID, baseUnitID string) (*Product, error) {
	ctx, span := tracer.Start(ctx, "catalog.CreateProduct")
	defer span.End()

	query := `
		INSERT INTO products (name, parent_id, base_unit_id, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE SET updated_at = NOW()
		RETURNING id, name, parent_id, base_unit_id, created_at, updated_at
	`

	var product Product
	err := s.db.QueryRow(ctx, query, NormalizeName(name), parentID, baseUnitID).Scan(
		&product.ID,
		&product.Name,
		&product.ParentID,
		&product.BaseUnitID,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert product: %w", err)
	}

	telemetry.RecordProductCreated(ctx)
	s.logger.Debug("Created product", "name", product.Name, "base_unit", baseUnitID)
	return &product, nil
}

// GetOrCreate resolves a product by normalized name, creating it when absent.
func (s *ProductService) GetOrCreate(ctx context.Context, name string, baseUnitID string) (*Product, bool, error) {
	existing, err := s.GetByName(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	product, err := s.Create(ctx, name, nil, baseUnitID)
	if err != nil {
		return nil, false, err
	}
	return product, true, nil
}

// GetUncategorized returns products with no parent, the classification
// stage's work queue.
func (s *ProductService) GetUncategorized(ctx context.Context) ([]*Product, error) {
	ctx, span := tracer.Start(ctx, "catalog.GetUncategorized")
	defer span.End()

	query := `
		SELECT id, name, parent_id, base_unit_id, created_at, updated_at
		FROM products
		WHERE parent_id IS NULL
		ORDER BY created_at
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query uncategorized products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows, s.logger)
}

// GetChildren returns the direct children of a product.
func (s *ProductService) GetChildren(ctx context.Context, parentID uuid.UUID) ([]*Product, error) {
	ctx, span := tracer.Start(ctx, "catalog.GetChildren")
	defer span.End()

	query := `
		SELECT id, name, parent_id, base_unit_id, created_at, updated_at
		FROM products
		WHERE parent_id = $1
		ORDER BY name
	`

	rows, err := s.db.Query(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query product children: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows, s.logger)
}

// SetParent attaches a product under a parent. Rejects self-parenting and
// any attachment where the product is already an ancestor of the parent.
func (s *ProductService) SetParent(ctx context.Context, productID, parentID uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "catalog.SetParent")
	defer span.End()

	if productID == parentID {
		return ErrCycle
	}

	isAncestor, err := s.isAncestor(ctx, productID, parentID)
	if err != nil {
		return err
	}
	if isAncestor {
		return ErrCycle
	}

	query := `UPDATE products SET parent_id = $1, updated_at = NOW() WHERE id = $2`
	_, err = s.db.Exec(ctx, query, parentID, productID)
	if err != nil {
		return fmt.Errorf("failed to set product parent: %w", err)
	}

	return nil
}

// isAncestor walks the parent chain of candidate and reports whether product
// appears in it.
func (s *ProductService) isAncestor(ctx context.Context, productID, candidateID uuid.UUID) (bool, error) {
	seen := map[uuid.UUID]bool{}
	current := candidateID

	for {
		if seen[current] {
			// Existing data already contains a loop; stop walking.
			return true, nil
		}
		seen[current] = true

		var parent *uuid.UUID
		err := s.db.QueryRow(ctx, `SELECT parent_id FROM products WHERE id = $1`, current).Scan(&parent)
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to walk parent chain: %w", err)
		}

		if parent == nil {
			return false, nil
		}
		if *parent == productID {
			return true, nil
		}
		current = *parent
	}
}

func scanProducts(rows pgx.Rows, logger *slog.Logger) ([]*Product, error) {
	var products []*Product
	for rows.Next() {
		var product Product
		err := rows.Scan(
			&product.ID,
			&product.Name,
			&product.ParentID,
			&product.BaseUnitID,
			&product.CreatedAt,
			&product.UpdatedAt,
		)
		if err != nil {
			logger.Error("Failed to scan product row", "error", err)
			continue
		}
		products = append(products, &product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	return products, nil
}
