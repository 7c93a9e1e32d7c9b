package domain

type Category struct {
	ID         int64  `db:"id" json:"id"`
	PharmacyID int64  `db:"pharmacy_id" json:"pharmacy_id"`
	Name       string `db:"name" json:"name"`
}

type Product struct {
	ID         int64   `db:"id" json:"id"`
	PharmacyID int64   `db:"pharmacy_id" json:"pharmacy_id"`
	CategoryID *int64  `db:"category_id" json:"category_id,omitempty"`
	Name       string  `db:"name" json:"name"`
	UnitPrice  float64 `db:"unit_price" json:"unit_price"`
	CostPrice  float64 `db:"cost_price" json:"cost_price"`
	Stock      int64   `db:"stock" json:"stock"`
	CreatedAt  string  `db:"created_at" json:"created_at"`
}
