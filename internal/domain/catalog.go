package domain

import "time"

// Category groups catalog items.
type Category string

const (
	CategoryPaper       Category = "paper"
	CategoryProduct     Category = "product"
	CategoryLargeFormat Category = "large_format"
	CategorySpecialty   Category = "specialty"
)

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryPaper, CategoryProduct, CategoryLargeFormat, CategorySpecialty:
		return true
	}
	return false
}

// Item is a catalog item together with its committed stock level.
type Item struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Category      Category  `json:"category"`
	UnitPrice     Money     `json:"unit_price"`
	Stock         int64     `json:"stock"`
	MinStockLevel int64     `json:"min_stock_level"`
	Version       int64     `json:"version"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NeedsReorder reports whether stock has fallen to the minimum level.
func (i Item) NeedsReorder() bool {
	return i.Stock <= i.MinStockLevel
}

// ReorderQuantity is the amount to order from the supplier: enough to get
// back above the minimum with a buffer of twice the minimum level.
func (i Item) ReorderQuantity() int64 {
	shortage := i.MinStockLevel - i.Stock
	if shortage < 0 {
		shortage = 0
	}
	return max(shortage, i.MinStockLevel*2)
}

// SupplierLeadTime estimates how long the supplier takes to deliver quantity units.
func SupplierLeadTime(quantity int64) time.Duration {
	const day = 24 * time.Hour
	switch {
	case quantity < 1000:
		return 3 * day
	case quantity < 5000:
		return 5 * day
	default:
		return 7 * day
	}
}

// StockCheck is the availability of one requested item.
type StockCheck struct {
	ItemID          string    `json:"item_id"`
	Name            string    `json:"name"`
	Requested       int64     `json:"requested"`
	Available       int64     `json:"available"`
	Sufficient      bool      `json:"sufficient"`
	NeedsReorder    bool      `json:"needs_reorder"`
	ReorderQuantity int64     `json:"reorder_quantity,omitempty"`
	RestockBy       time.Time `json:"restock_by,omitempty"`
}
