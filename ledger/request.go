package ledger

import (
	"goflare.io/inventory/models/enum"
)

// AdjustParams applies both deltas to one stock item in a single guarded
// write. ExpectedToken must be the concurrency token observed by the read
// the deltas were computed from.
type AdjustParams struct {
	TenantID       string
	ItemID         string
	AvailableDelta int64
	ReservedDelta  int64
	ExpectedToken  int64
}

type CreateMovementParams struct {
	TenantID      string
	ItemID        string
	Quantity      int64
	Type          enum.StockMovementType
	ReferenceID   string
	ReferenceType enum.StockMovementReferenceType
}
