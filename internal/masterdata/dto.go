package masterdata

// UpdateItemRequest is the PUT /api/items/{id} payload.
type UpdateItemRequest struct {
	Code        string  `json:"code" validate:"required,max=64"`
	Name        string  `json:"name" validate:"required,max=255"`
	Description string  `json:"description" validate:"max=2000"`
	Unit        string  `json:"unit" validate:"max=32"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
	CostPrice   float64 `json:"cost_price" validate:"gte=0"`
	SupplierID  *int64  `json:"supplier_id" validate:"omitempty,gt=0"`
	IsActive    bool    `json:"is_active"`
}
