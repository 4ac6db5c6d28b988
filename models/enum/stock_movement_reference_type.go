package enum

type StockMovementReferenceType string

const (
	StockMovementReferenceTypeOrder       StockMovementReferenceType = "order"
	StockMovementReferenceTypeReservation StockMovementReferenceType = "reservation"
)
