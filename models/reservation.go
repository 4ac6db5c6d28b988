package models

import (
	"time"

	"goflare.io/inventory/models/enum"
)

// Reservation 代表訂單中單一商品的庫存預留
// 一個訂單的多個品項各自對應一筆 Reservation，但它們共享 OrderID，
// 並且總是一起被確認或釋放。
type Reservation struct {
	TenantID         string                 `json:"tenant_id"`
	ReservationID    string                 `json:"reservation_id"`
	OrderID          string                 `json:"order_id"`
	ItemID           string                 `json:"item_id"`
	ProductID        string                 `json:"product_id"`
	SKU              string                 `json:"sku"`
	ReservedQuantity int64                  `json:"reserved_quantity"`
	Status           enum.ReservationStatus `json:"status"`
	CreatedAt        time.Time              `json:"created_at"`
	ExpiresAt        time.Time              `json:"expires_at"`
	ConfirmedAt      *time.Time             `json:"confirmed_at,omitempty"`
	ReleasedAt       *time.Time             `json:"released_at,omitempty"`
	ConcurrencyToken int64                  `json:"concurrency_token"`
}

// IsTerminal reports whether the reservation reached a final state.
func (r *Reservation) IsTerminal() bool {
	return r.Status.Terminal()
}

// AllowChangeStatus 檢查狀態轉換是否合法：只允許 ACTIVE 走向終態，終態不可變
func (r *Reservation) AllowChangeStatus(next enum.ReservationStatus) bool {
	if r.Status != enum.ReservationStatusActive {
		return false
	}
	return next.Terminal()
}

// IsExpired reports whether an active reservation passed its TTL at asOf.
func (r *Reservation) IsExpired(asOf time.Time) bool {
	return r.Status == enum.ReservationStatusActive && r.ExpiresAt.Before(asOf)
}

// MarkConfirmed transitions the row to CONFIRMED at the given time.
func (r *Reservation) MarkConfirmed(at time.Time) {
	r.Status = enum.ReservationStatusConfirmed
	r.ConfirmedAt = &at
}

// MarkReleased transitions the row to the given terminal release status
// (RELEASED for an explicit release, EXPIRED for the sweep).
func (r *Reservation) MarkReleased(status enum.ReservationStatus, at time.Time) {
	r.Status = status
	r.ReleasedAt = &at
}
