package enum

// EventType 表示訂單與庫存生命週期事件
type EventType string

const (
	// consumed from the order service
	EventTypeOrderCreated   EventType = "order.created"
	EventTypeOrderCancelled EventType = "order.cancelled"

	// emitted by this service
	EventTypeReservationSucceeded EventType = "inventory.reservation_succeeded"
	EventTypeReservationFailed    EventType = "inventory.reservation_failed"
	EventTypeReservationReleased  EventType = "inventory.reservation_released"
)
