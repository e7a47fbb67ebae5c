package receipts

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus is the terminal outcome recorded for a receipt and its
// ledger entry.
type ProcessingStatus string

const (
	StatusProcessed ProcessingStatus = "processed"
	StatusSkipped   ProcessingStatus = "skipped"
	StatusFailed    ProcessingStatus = "failed"
)

// Receipt is one persisted purchase document.
type Receipt struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	ShopName    string     `json:"shop_name" db:"shop_name"`
	PurchasedAt *time.Time `json:"purchased_at" db:"purchased_at"`
	OrderNumber *string    `json:"order_number" db:"order_number"`
	Total       *float64   `json:"total" db:"total"`
	SourceName  string     `json:"source_name" db:"source_name"`
	ExternalID  *string    `json:"external_id" db:"external_id"`
	ItemsCount  int        `json:"items_count" db:"items_count"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// ReceiptItem is one receipt line. Many lines may reference the same catalog
// item.
type ReceiptItem struct {
	ID           uuid.UUID `json:"id" db:"id"`
	ReceiptID    uuid.UUID `json:"receipt_id" db:"receipt_id"`
	ItemID       uuid.UUID `json:"item_id" db:"item_id"`
	ItemOrder    int       `json:"item_order" db:"item_order"`
	Quantity     float64   `json:"quantity" db:"quantity"`
	QuantityUnit string    `json:"quantity_unit" db:"quantity_unit"`
	BaseQuantity float64   `json:"base_quantity" db:"base_quantity"`
	UnitPrice    *float64  `json:"unit_price" db:"unit_price"`
	Amount       *float64  `json:"amount" db:"amount"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry records an externally-keyed receipt that was already seen, so
// re-ingestion of the same inbox is idempotent.
type LedgerEntry struct {
	ID           uuid.UUID        `json:"id" db:"id"`
	ExternalID   string           `json:"external_id" db:"external_id"`
	SourceName   string           `json:"source_name" db:"source_name"`
	Status       ProcessingStatus `json:"status" db:"status"`
	ErrorMessage *string          `json:"error_message" db:"error_message"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// CreateReceiptRequest carries the data needed to persist a new receipt.
type CreateReceiptRequest struct {
	ShopName    string
	PurchasedAt *time.Time
	OrderNumber *string
	Total       *float64
	SourceName  string
	ExternalID  *string
	ItemsCount  int
}

// CreateReceiptItemRequest carries the data for one persisted receipt line.
type CreateReceiptItemRequest struct {
	ReceiptID    uuid.UUID
	ItemID       uuid.UUID
	ItemOrder    int
	Quantity     float64
	QuantityUnit string
	BaseQuantity float64
	UnitPrice    *float64
	Amount       *float64
}
