package enum

type StockStatus string

const (
	StockStatusActive     StockStatus = "active"
	StockStatusInactive   StockStatus = "inactive"
	StockStatusOutOfStock StockStatus = "out_of_stock"
)
