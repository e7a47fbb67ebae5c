package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Product is the deduplicated "what it is" concept behind many raw item
// names. Products form a self-referencing hierarchy over parent ids; a root
// has no parent. Names are unique after normalization.
type Product struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	ParentID   *uuid.UUID `json:"parent_id" db:"parent_id"`
	BaseUnitID string     `json:"base_unit_id" db:"base_unit_id"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// Item is a distinct raw receipt-observed name, mapped to exactly one
// Product. Created once per distinct raw name and reused thereafter.
type Item struct {
	ID           uuid.UUID `json:"id" db:"id"`
	RawName      string    `json:"raw_name" db:"raw_name"`
	ProductID    uuid.UUID `json:"product_id" db:"product_id"`
	UnitID       string    `json:"unit_id" db:"unit_id"`
	UnitQuantity float64   `json:"unit_quantity" db:"unit_quantity"`
	BaseQuantity float64   `json:"base_quantity" db:"base_quantity"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Label is a user-facing tag; many-to-many with Item.
type Label struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Color     string    `json:"color" db:"color"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
