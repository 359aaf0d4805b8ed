// Package structure holds the Quote → Group → Item → Detail tree and the rules a
// tree must satisfy before it can be priced or persisted.
package structure

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Locked reports whether quotes in this status are immutable in place.
func (s Status) Locked() bool {
	return s == StatusAccepted
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusAccepted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

type VATMode string

const (
	VATExclusive VATMode = "exclusive"
	VATInclusive VATMode = "inclusive"
)

func (m VATMode) Valid() bool {
	return m == VATExclusive || m == VATInclusive
}

// Quote is the header plus its exclusively owned groups.
type Quote struct {
	ID             int64           `json:"id"`
	QuoteNumber    string          `json:"quote_number"`
	Title          string          `json:"title"`
	CustomerID     *int64          `json:"customer_id,omitempty"`
	CustomerName   string          `json:"customer_name"`
	IssueDate      time.Time       `json:"issue_date"`
	Status         Status          `json:"status"`
	VATMode        VATMode         `json:"vat_mode"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	AgencyFeeRate  decimal.Decimal `json:"agency_fee_rate"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Version        int             `json:"version"`
	ParentQuoteID  *int64          `json:"parent_quote_id,omitempty"`
	Token          uuid.UUID       `json:"token"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Groups         []Group         `json:"groups"`
}

type Group struct {
	ID           int64  `json:"id,omitempty"`
	Name         string `json:"name"`
	SortOrder    int    `json:"sort_order"`
	IncludeInFee bool   `json:"include_in_fee"`
	Items        []Item `json:"items"`
}

type Item struct {
	ID           int64    `json:"id,omitempty"`
	Name         string   `json:"name"`
	SortOrder    int      `json:"sort_order"`
	IncludeInFee bool     `json:"include_in_fee"`
	Details      []Detail `json:"details"`
}

// Detail is the atomic priced line. Name through SupplierName are frozen once
// SnapshotAt is set; Quantity and Days always remain caller-controlled.
type Detail struct {
	ID           int64           `json:"id,omitempty"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Quantity     decimal.Decimal `json:"quantity"`
	Days         decimal.Decimal `json:"days"`
	Unit         string          `json:"unit"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	IsService    bool            `json:"is_service"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SupplierID   *int64          `json:"supplier_id,omitempty"`
	SupplierName string          `json:"supplier_name"`
	MasterItemID *int64          `json:"master_item_id,omitempty"`
	SortOrder    int             `json:"sort_order"`
	SnapshotAt   *time.Time      `json:"snapshot_at,omitempty"`
}

// Frozen reports whether the detail already carries snapshot values.
func (d Detail) Frozen() bool {
	return d.SnapshotAt != nil
}

// Unfreeze drops the snapshot mark so the next save re-resolves master data.
func (d *Detail) Unfreeze() {
	d.SnapshotAt = nil
}

// Amount is the priced value of the line. Days only applies to non-service lines.
func (d Detail) Amount() decimal.Decimal {
	if d.IsService {
		return d.Quantity.Mul(d.UnitPrice)
	}
	return d.Quantity.Mul(d.Days).Mul(d.UnitPrice)
}

// Cost is quantity times cost price; days and the service flag never apply.
func (d Detail) Cost() decimal.Decimal {
	return d.Quantity.Mul(d.CostPrice)
}

// Path locates a node in the tree. Unused levels are -1.
type Path struct {
	Group  int `json:"group"`
	Item   int `json:"item"`
	Detail int `json:"detail"`
}

func QuotePath() Path { return Path{Group: -1, Item: -1, Detail: -1} }

func GroupPath(g int) Path { return Path{Group: g, Item: -1, Detail: -1} }

func ItemPath(g, i int) Path { return Path{Group: g, Item: i, Detail: -1} }

func DetailPath(g, i, d int) Path { return Path{Group: g, Item: i, Detail: d} }

func (p Path) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// String renders the path as "groups[0].items[1].details[2]".
func (p Path) String() string {
	if p.Group < 0 {
		return "quote"
	}
	out := fmt.Sprintf("groups[%d]", p.Group)
	if p.Item >= 0 {
		out += fmt.Sprintf(".items[%d]", p.Item)
	}
	if p.Detail >= 0 {
		out += fmt.Sprintf(".details[%d]", p.Detail)
	}
	return out
}
