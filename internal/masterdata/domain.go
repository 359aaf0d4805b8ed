// Package masterdata owns the item, supplier and customer records that quotes
// snapshot from, and serves them to the snapshot builder through a Redis cache.
package masterdata

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quotedesk/quotedesk/internal/shared"
)

var (
	ErrNotFound  = fmt.Errorf("masterdata: record %w", shared.ErrNotFound)
	ErrInvalidID = fmt.Errorf("masterdata: id %w", shared.ErrInvalidInput)
)

// Item is a catalogue entry that quote lines may reference.
type Item struct {
	ID          int64           `json:"id"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Unit        string          `json:"unit"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	SupplierID  *int64          `json:"supplier_id,omitempty"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Supplier represents a supplier entity.
type Supplier struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Customer struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
