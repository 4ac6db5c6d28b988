package enum

// ReservationStatus 表示庫存預留的狀態
type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "active"    // 庫存保留中，等待確認或釋放
	ReservationStatusConfirmed ReservationStatus = "confirmed" // 庫存已實際扣減
	ReservationStatusReleased  ReservationStatus = "released"  // 庫存已釋放回可售池
	ReservationStatusExpired   ReservationStatus = "expired"   // 超過 TTL，由清理程序釋放
)

// Terminal reports whether the status permits no further transition.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case ReservationStatusConfirmed, ReservationStatusReleased, ReservationStatusExpired:
		return true
	}
	return false
}
