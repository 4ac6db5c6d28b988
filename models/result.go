package models

import "time"

// ReservationItemResult 代表預留結果中的單一品項
type ReservationItemResult struct {
	ReservationID string `json:"reservation_id"`
	ProductID     string `json:"product_id"`
	SKU           string `json:"sku"`
	Quantity      int64  `json:"quantity"`
}

// FailedItemResult 代表預留失敗的品項與原因
type FailedItemResult struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available"`
	Reason    string `json:"reason"`
}

// ReservationResult 是一次 reserve/confirm/release 的聚合結果，
// 也是結果快取中儲存的物件。
type ReservationResult struct {
	TenantID      string                  `json:"tenant_id"`
	OrderID       string                  `json:"order_id"`
	ReservationID string                  `json:"reservation_id,omitempty"`
	Success       bool                    `json:"success"`
	Items         []ReservationItemResult `json:"items,omitempty"`
	FailedItems   []FailedItemResult      `json:"failed_items,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
}
