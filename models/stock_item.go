package models

import (
	"time"

	"goflare.io/inventory/models/enum"
)

// StockItem 代表單一租戶下某商品的庫存帳
type StockItem struct {
	TenantID          string           `json:"tenant_id"`
	ItemID            string           `json:"item_id"`
	ProductID         string           `json:"product_id"`
	SKU               string           `json:"sku"`
	AvailableQuantity int64            `json:"available_quantity"`
	ReservedQuantity  int64            `json:"reserved_quantity"`
	ReorderLevel      int64            `json:"reorder_level"`
	MaxStockLevel     int64            `json:"max_stock_level"`
	Status            enum.StockStatus `json:"status"`
	ConcurrencyToken  int64            `json:"concurrency_token"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// CanFulfill reports whether the sellable pool covers the requested quantity.
func (s *StockItem) CanFulfill(quantity int64) bool {
	return s.Status == enum.StockStatusActive && s.AvailableQuantity >= quantity
}

// StockMovement 代表一筆庫存變動記錄
type StockMovement struct {
	ID            uint64                          `json:"id"`
	TenantID      string                          `json:"tenant_id"`
	ItemID        string                          `json:"item_id"`
	Quantity      int64                           `json:"quantity"`
	Type          enum.StockMovementType          `json:"type"`
	ReferenceType enum.StockMovementReferenceType `json:"reference_type"`
	ReferenceID   string                          `json:"reference_id"`
	CreatedAt     time.Time                       `json:"created_at"`
}
