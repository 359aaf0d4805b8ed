package quotes

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quotedesk/quotedesk/internal/quotes/structure"
)

// transitions lists the statuses reachable from each status. Accepted and
// cancelled are terminal.
var transitions = map[structure.Status][]structure.Status{
	structure.StatusDraft:    {structure.StatusSent, structure.StatusCancelled},
	structure.StatusSent:     {structure.StatusAccepted, structure.StatusRejected, structure.StatusDraft},
	structure.StatusRejected: {structure.StatusDraft},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to structure.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// DuplicateOptions are the overrides applied when copying a quote.
type DuplicateOptions struct {
	Title         *string
	CustomerID    *int64
	CustomerName  *string
	StructureOnly bool
}

// HistoryEntry is one row of a revision chain.
type HistoryEntry struct {
	ID            int64            `json:"id"`
	QuoteNumber   string           `json:"quote_number"`
	Version       int              `json:"version"`
	ParentQuoteID *int64           `json:"parent_quote_id,omitempty"`
	Status        structure.Status `json:"status"`
	TotalAmount   decimal.Decimal  `json:"total_amount"`
	CreatedBy     int64            `json:"created_by"`
	CreatedAt     time.Time        `json:"created_at"`
}

// GroupRow, ItemRow and DetailRow carry the parent key a row was stored
// under so assembly can check the tree.
type GroupRow struct {
	QuoteID int64
	structure.Group
}

type ItemRow struct {
	GroupID int64
	structure.Item
}

type DetailRow struct {
	ItemID int64
	structure.Detail
}

// DriftReport summarises one reconciliation pass.
type DriftReport struct {
	Checked int
	Drifted []Drift
	LastID  int64
}

type Drift struct {
	QuoteID    int64
	VATMode    structure.VATMode
	Stored     decimal.Decimal
	Calculated decimal.Decimal
}
