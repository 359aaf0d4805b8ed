package quotes

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quotedesk/quotedesk/internal/platform/httpx"
	"github.com/quotedesk/quotedesk/internal/quotes/calc"
	"github.com/quotedesk/quotedesk/internal/quotes/structure"
)

const dateLayout = "2006-01-02"

// QuoteRequest is the payload of create, update, revise, validate and
// calculate. Structural rules are checked by structure.Validate so their
// errors carry tree paths; tags only bound the shape.
type QuoteRequest struct {
	Title          string         `json:"title" validate:"max=255"`
	CustomerID     *int64         `json:"customer_id" validate:"omitempty,gt=0"`
	CustomerName   string         `json:"customer_name" validate:"max=255"`
	IssueDate      string         `json:"issue_date" validate:"omitempty,datetime=2006-01-02"`
	VATMode        string         `json:"vat_mode" validate:"omitempty,oneof=exclusive inclusive"`
	DiscountAmount float64        `json:"discount_amount"`
	AgencyFeeRate  float64        `json:"agency_fee_rate"`
	Token          string         `json:"token" validate:"omitempty,uuid"`
	Groups         []GroupRequest `json:"groups" validate:"dive"`
}

type GroupRequest struct {
	Name         string        `json:"name" validate:"max=255"`
	SortOrder    int           `json:"sort_order"`
	IncludeInFee bool          `json:"include_in_fee"`
	Items        []ItemRequest `json:"items" validate:"dive"`
}

type ItemRequest struct {
	Name         string          `json:"name" validate:"max=255"`
	SortOrder    int             `json:"sort_order"`
	IncludeInFee bool            `json:"include_in_fee"`
	Details      []DetailRequest `json:"details" validate:"dive"`
}

type DetailRequest struct {
	ID           int64      `json:"id" validate:"omitempty,gt=0"`
	Name         string     `json:"name" validate:"max=255"`
	Description  string     `json:"description" validate:"max=2000"`
	Quantity     float64    `json:"quantity"`
	Days         float64    `json:"days"`
	Unit         string     `json:"unit" validate:"max=32"`
	UnitPrice    float64    `json:"unit_price"`
	IsService    bool       `json:"is_service"`
	CostPrice    float64    `json:"cost_price"`
	SupplierID   *int64     `json:"supplier_id" validate:"omitempty,gt=0"`
	SupplierName string     `json:"supplier_name" validate:"max=255"`
	MasterItemID *int64     `json:"master_item_id" validate:"omitempty,gt=0"`
	SortOrder    int        `json:"sort_order"`
	SnapshotAt   *time.Time `json:"snapshot_at"`
}

// DuplicateRequest is the POST /quotes/{id}/duplicate payload.
type DuplicateRequest struct {
	Title         *string `json:"title" validate:"omitempty,max=255"`
	CustomerID    *int64  `json:"customer_id" validate:"omitempty,gt=0"`
	CustomerName  *string `json:"customer_name" validate:"omitempty,max=255"`
	StructureOnly bool    `json:"structure_only"`
}

func (r DuplicateRequest) options() DuplicateOptions {
	return DuplicateOptions{
		Title:         r.Title,
		CustomerID:    r.CustomerID,
		CustomerName:  r.CustomerName,
		StructureOnly: r.StructureOnly,
	}
}

// StatusRequest is the POST /quotes/{id}/status payload.
type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft sent accepted rejected cancelled"`
	Token  string `json:"token" validate:"required,uuid"`
}

// SnapshotRequest is the POST /snapshots payload.
type SnapshotRequest struct {
	MasterItemIDs []int64 `json:"master_item_ids" validate:"dive,gt=0"`
	SupplierIDs   []int64 `json:"supplier_ids" validate:"dive,gt=0"`
	CustomerID    *int64  `json:"customer_id" validate:"omitempty,gt=0"`
}

// QuoteResponse is a stored quote with its priced breakdown.
type QuoteResponse struct {
	Quote       *structure.Quote `json:"quote"`
	Calculation *calc.Result     `json:"calculation,omitempty"`
	Display     *calc.Display    `json:"display,omitempty"`
}

// CalculationResponse is the POST /calculate result.
type CalculationResponse struct {
	Calculation calc.Result  `json:"calculation"`
	Display     calc.Display `json:"display"`
}

// toQuote converts the request into the domain tree. Float inputs pass
// through calc.FromFloat so a non-finite value never reaches the engine.
func (r QuoteRequest) toQuote() (structure.Quote, error) {
	q := structure.Quote{
		Title:        r.Title,
		CustomerID:   r.CustomerID,
		CustomerName: r.CustomerName,
		VATMode:      structure.VATMode(r.VATMode),
	}
	if q.VATMode == "" {
		q.VATMode = structure.VATExclusive
	}
	if r.IssueDate != "" {
		date, err := time.Parse(dateLayout, r.IssueDate)
		if err != nil {
			return q, fmt.Errorf("%w: issue_date: %v", httpx.ErrBadRequest, err)
		}
		q.IssueDate = date
	}
	if r.Token != "" {
		token, err := uuid.Parse(r.Token)
		if err != nil {
			return q, fmt.Errorf("%w: token: %v", httpx.ErrBadRequest, err)
		}
		q.Token = token
	}
	var err error
	if q.DiscountAmount, err = calc.FromFloat("discount_amount", r.DiscountAmount); err != nil {
		return q, err
	}
	if q.AgencyFeeRate, err = calc.FromFloat("agency_fee_rate", r.AgencyFeeRate); err != nil {
		return q, err
	}

	q.Groups = make([]structure.Group, 0, len(r.Groups))
	for _, g := range r.Groups {
		group := structure.Group{Name: g.Name, SortOrder: g.SortOrder, IncludeInFee: g.IncludeInFee}
		for _, it := range g.Items {
			item := structure.Item{Name: it.Name, SortOrder: it.SortOrder, IncludeInFee: it.IncludeInFee}
			for _, d := range it.Details {
				detail, err := d.toDetail()
				if err != nil {
					return q, err
				}
				item.Details = append(item.Details, detail)
			}
			group.Items = append(group.Items, item)
		}
		q.Groups = append(q.Groups, group)
	}
	return q, nil
}

func (d DetailRequest) toDetail() (structure.Detail, error) {
	// SnapshotAt is only a claim; the service keeps it when it matches a
	// stored frozen row with the same id.
	out := structure.Detail{
		ID:           d.ID,
		Name:         d.Name,
		Description:  d.Description,
		Unit:         d.Unit,
		IsService:    d.IsService,
		SupplierID:   d.SupplierID,
		SupplierName: d.SupplierName,
		MasterItemID: d.MasterItemID,
		SortOrder:    d.SortOrder,
		SnapshotAt:   d.SnapshotAt,
	}
	var err error
	if out.Quantity, err = calc.FromFloat("quantity", d.Quantity); err != nil {
		return out, err
	}
	if out.Days, err = calc.FromFloat("days", d.Days); err != nil {
		return out, err
	}
	if out.UnitPrice, err = calc.FromFloat("unit_price", d.UnitPrice); err != nil {
		return out, err
	}
	if out.CostPrice, err = calc.FromFloat("cost_price", d.CostPrice); err != nil {
		return out, err
	}
	return out, nil
}
