package model

type StockStatus string

const (
	StatusInStock  StockStatus = "In Stock"
	StatusLowStock StockStatus = "Low Stock"
)

// StockPolicy holds the low stock threshold; every view asks it instead of comparing quantities itself.
type StockPolicy struct {
	LowStockThreshold int
}

func DefaultStockPolicy() StockPolicy {
	return StockPolicy{LowStockThreshold: 5}
}

func (p StockPolicy) IsLowStock(i StockItem) bool {
	return i.Quantity <= p.LowStockThreshold
}

func (p StockPolicy) Status(i StockItem) StockStatus {
	if p.IsLowStock(i) {
		return StatusLowStock
	}
	return StatusInStock
}

// CrossedIntoLowStock reports whether a change from oldQty to newQty entered the low stock band.
func (p StockPolicy) CrossedIntoLowStock(oldQty, newQty int) bool {
	return oldQty > p.LowStockThreshold && newQty <= p.LowStockThreshold
}

func (p StockPolicy) LowStockItems(items []StockItem) []StockItem {
	var low []StockItem
	for _, i := range items {
		if p.IsLowStock(i) {
			low = append(low, i)
		}
	}
	return low
}
