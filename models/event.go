package models

import (
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v79"

	"goflare.io/inventory/models/enum"
)

// Event 是訂單與庫存生命週期事件的信封
type Event struct {
	ID        string          `json:"id"`
	Type      enum.EventType  `json:"type"`
	TenantID  string          `json:"tenant_id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// ProcessedEvent 記錄已處理過的事件，用於重送時的去重
type ProcessedEvent struct {
	ID        string         `json:"id"`
	Type      enum.EventType `json:"type"`
	Processed bool           `json:"processed"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// OrderItemPayload 代表訂單事件中的單一商品項目
type OrderItemPayload struct {
	ProductID string  `json:"product_id"`
	SKU       string  `json:"sku"`
	Quantity  int64   `json:"quantity"`
	UnitPrice float64 `json:"unit_price,omitempty"`
}

// OrderCreatedPayload 是 order.created 事件的內容
type OrderCreatedPayload struct {
	TenantID    string             `json:"tenant_id"`
	OrderID     string             `json:"order_id"`
	UserID      string             `json:"user_id"`
	Items       []OrderItemPayload `json:"items"`
	TotalAmount float64            `json:"total_amount"`
	Currency    stripe.Currency    `json:"currency"`
	Status      string             `json:"status"`
}

// OrderCancelledPayload 是 order.cancelled 事件的內容
type OrderCancelledPayload struct {
	TenantID string             `json:"tenant_id"`
	OrderID  string             `json:"order_id"`
	UserID   string             `json:"user_id"`
	Items    []OrderItemPayload `json:"items,omitempty"`
	Reason   string             `json:"reason"`
}

// ReservationSucceededPayload 是預留成功事件的內容
type ReservationSucceededPayload struct {
	TenantID      string                  `json:"tenant_id"`
	OrderID       string                  `json:"order_id"`
	ReservationID string                  `json:"reservation_id"`
	Items         []ReservationItemResult `json:"items"`
}

// ReservationFailedPayload 是預留失敗事件的內容
type ReservationFailedPayload struct {
	TenantID    string             `json:"tenant_id"`
	OrderID     string             `json:"order_id"`
	FailedItems []FailedItemResult `json:"failed_items"`
}

// ReservationReleasedPayload 是預留釋放事件的內容
type ReservationReleasedPayload struct {
	TenantID      string `json:"tenant_id"`
	OrderID       string `json:"order_id"`
	ReservationID string `json:"reservation_id"`
	Reason        string `json:"reason"`
}
