package inventory

// LowStockThreshold is the highest quantity still counted as low stock.
const LowStockThreshold = 10

// Stats summarizes stock levels for the product page.
type Stats struct {
	Total      int `json:"total"`
	InStock    int `json:"in_stock"`
	LowStock   int `json:"low_stock"`
	OutOfStock int `json:"out_of_stock"`
}

// ComputeStats buckets products by quantity: above LowStockThreshold is in
// stock, 1..LowStockThreshold is low, 0 is out. Negative quantities only
// count toward Total.
func ComputeStats(products []Product) Stats {
	s := Stats{Total: len(products)}
	for _, p := range products {
		switch {
		case p.Quantity > LowStockThreshold:
			s.InStock++
		case p.Quantity > 0:
			s.LowStock++
		case p.Quantity == 0:
			s.OutOfStock++
		}
	}
	return s
}
