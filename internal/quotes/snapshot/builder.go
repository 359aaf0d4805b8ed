// Package snapshot copies master-data values into quote lines so that later
// edits to items, suppliers or customers never change a saved quote.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quotedesk/quotedesk/internal/quotes/structure"
)

// MasterItem is the subset of a master item record a snapshot needs.
type MasterItem struct {
	ID          int64
	Name        string
	Description string
	Unit        string
	UnitPrice   decimal.Decimal
	CostPrice   decimal.Decimal
	SupplierID  *int64
}

type Supplier struct {
	ID   int64
	Name string
}

// Lookup resolves master data in batches. Missing ids are simply absent from
// the returned maps; CustomerName returns ErrNotFound.
type Lookup interface {
	MasterItems(ctx context.Context, ids []int64) (map[int64]MasterItem, error)
	Suppliers(ctx context.Context, ids []int64) (map[int64]Supplier, error)
	CustomerName(ctx context.Context, id int64) (string, error)
}

// Snapshot is the frozen copy of one master item.
type Snapshot struct {
	MasterItemID int64           `json:"master_item_id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Unit         string          `json:"unit"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SupplierID   *int64          `json:"supplier_id,omitempty"`
	SupplierName string          `json:"supplier_name"`
}

// SnapshotMap is the result of one batch resolution.
type SnapshotMap struct {
	Items        map[int64]Snapshot `json:"items"`
	Suppliers    map[int64]string   `json:"suppliers"`
	CustomerName string             `json:"customer_name,omitempty"`
	TakenAt      time.Time          `json:"taken_at"`
}

// Refs is every master-data id a quote still needs resolved.
type Refs struct {
	MasterItemIDs []int64 `json:"master_item_ids"`
	SupplierIDs   []int64 `json:"supplier_ids"`
	CustomerID    *int64  `json:"customer_id,omitempty"`
}

func (r Refs) Empty() bool {
	return len(r.MasterItemIDs) == 0 && len(r.SupplierIDs) == 0 && r.CustomerID == nil
}

type Builder struct {
	lookup Lookup
	now    func() time.Time
}

func NewBuilder(lookup Lookup) *Builder {
	return &Builder{lookup: lookup, now: time.Now}
}

// Build resolves a single master item.
func (b *Builder) Build(ctx context.Context, masterItemID int64) (Snapshot, error) {
	m, err := b.BuildMany(ctx, Refs{MasterItemIDs: []int64{masterItemID}})
	if err != nil {
		return Snapshot{}, err
	}
	return m.Items[masterItemID], nil
}

// BuildMany resolves refs with one batch call per kind. Items, suppliers and
// the customer are fetched concurrently; suppliers attached to master items
// but not listed in refs are fetched in a second batch. Any failure aborts the
// whole map.
func (b *Builder) BuildMany(ctx context.Context, refs Refs) (SnapshotMap, error) {
	out := SnapshotMap{
		Items:     make(map[int64]Snapshot, len(refs.MasterItemIDs)),
		Suppliers: make(map[int64]string, len(refs.SupplierIDs)),
		TakenAt:   b.now().UTC(),
	}

	var (
		items     map[int64]MasterItem
		suppliers map[int64]Supplier
	)
	g, gctx := errgroup.WithContext(ctx)
	if len(refs.MasterItemIDs) > 0 {
		g.Go(func() error {
			var err error
			items, err = b.lookup.MasterItems(gctx, refs.MasterItemIDs)
			if err != nil {
				return fmt.Errorf("lookup master items: %w", err)
			}
			return nil
		})
	}
	if len(refs.SupplierIDs) > 0 {
		g.Go(func() error {
			var err error
			suppliers, err = b.lookup.Suppliers(gctx, refs.SupplierIDs)
			if err != nil {
				return fmt.Errorf("lookup suppliers: %w", err)
			}
			return nil
		})
	}
	if refs.CustomerID != nil {
		id := *refs.CustomerID
		g.Go(func() error {
			name, err := b.lookup.CustomerName(gctx, id)
			if errors.Is(err, ErrNotFound) {
				return &ResolutionError{Kind: KindCustomer, ID: id}
			}
			if err != nil {
				return fmt.Errorf("lookup customer: %w", err)
			}
			out.CustomerName = name
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SnapshotMap{}, err
	}

	for _, id := range refs.SupplierIDs {
		s, ok := suppliers[id]
		if !ok {
			return SnapshotMap{}, &ResolutionError{Kind: KindSupplier, ID: id}
		}
		out.Suppliers[id] = s.Name
	}

	var attached []int64
	for _, id := range refs.MasterItemIDs {
		mi, ok := items[id]
		if !ok {
			return SnapshotMap{}, &ResolutionError{Kind: KindMasterItem, ID: id}
		}
		if mi.SupplierID != nil {
			if _, seen := out.Suppliers[*mi.SupplierID]; !seen {
				attached = append(attached, *mi.SupplierID)
			}
		}
	}
	if len(attached) > 0 {
		attached = uniq(attached)
		more, err := b.lookup.Suppliers(ctx, attached)
		if err != nil {
			return SnapshotMap{}, fmt.Errorf("lookup suppliers: %w", err)
		}
		for _, id := range attached {
			s, ok := more[id]
			if !ok {
				return SnapshotMap{}, &ResolutionError{Kind: KindSupplier, ID: id}
			}
			out.Suppliers[id] = s.Name
		}
	}

	for _, id := range refs.MasterItemIDs {
		mi := items[id]
		snap := Snapshot{
			MasterItemID: mi.ID,
			Name:         mi.Name,
			Description:  mi.Description,
			Unit:         mi.Unit,
			UnitPrice:    mi.UnitPrice,
			CostPrice:    mi.CostPrice,
		}
		if mi.SupplierID != nil {
			sid := *mi.SupplierID
			snap.SupplierID = &sid
			snap.SupplierName = out.Suppliers[sid]
		}
		out.Items[id] = snap
	}
	return out, nil
}

// Resolve collects the refs of q, builds them and applies the result in place.
func (b *Builder) Resolve(ctx context.Context, q *structure.Quote) error {
	refs := CollectRefs(*q)
	if refs.Empty() {
		return nil
	}
	m, err := b.BuildMany(ctx, refs)
	if err != nil {
		return err
	}
	return Apply(q, m)
}

// CollectRefs walks q once and returns the ids of every unfrozen reference.
// The customer is only included while no name has been frozen yet.
func CollectRefs(q structure.Quote) Refs {
	var refs Refs
	if q.CustomerID != nil && q.CustomerName == "" {
		id := *q.CustomerID
		refs.CustomerID = &id
	}
	for _, g := range q.Groups {
		for _, it := range g.Items {
			for _, d := range it.Details {
				if d.Frozen() {
					continue
				}
				if d.MasterItemID != nil {
					refs.MasterItemIDs = append(refs.MasterItemIDs, *d.MasterItemID)
				}
				if d.SupplierID != nil {
					refs.SupplierIDs = append(refs.SupplierIDs, *d.SupplierID)
				}
			}
		}
	}
	refs.MasterItemIDs = uniq(refs.MasterItemIDs)
	refs.SupplierIDs = uniq(refs.SupplierIDs)
	return refs
}

// Apply freezes m into every unfrozen detail of q that references master data.
// Quantity and days are never touched; free-typed lines keep their values.
func Apply(q *structure.Quote, m SnapshotMap) error {
	if q.CustomerID != nil && q.CustomerName == "" {
		if m.CustomerName == "" {
			return &ResolutionError{Kind: KindCustomer, ID: *q.CustomerID}
		}
		q.CustomerName = m.CustomerName
	}
	takenAt := m.TakenAt
	for gi := range q.Groups {
		for ii := range q.Groups[gi].Items {
			details := q.Groups[gi].Items[ii].Details
			for di := range details {
				d := &details[di]
				if d.Frozen() || (d.MasterItemID == nil && d.SupplierID == nil) {
					continue
				}
				if d.MasterItemID != nil {
					snap, ok := m.Items[*d.MasterItemID]
					if !ok {
						return &ResolutionError{Kind: KindMasterItem, ID: *d.MasterItemID}
					}
					d.Name = snap.Name
					d.Description = snap.Description
					d.Unit = snap.Unit
					d.UnitPrice = snap.UnitPrice
					d.CostPrice = snap.CostPrice
					if d.SupplierID == nil && snap.SupplierID != nil {
						sid := *snap.SupplierID
						d.SupplierID = &sid
						d.SupplierName = snap.SupplierName
					}
				}
				if d.SupplierID != nil {
					name, ok := m.Suppliers[*d.SupplierID]
					if !ok {
						return &ResolutionError{Kind: KindSupplier, ID: *d.SupplierID}
					}
					d.SupplierName = name
				}
				at := takenAt
				d.SnapshotAt = &at
			}
		}
	}
	return nil
}

// Anchor decides which snapshots in caller-supplied q may be trusted. A detail
// stays frozen only when stored holds a frozen detail with the same id and the
// same master item and supplier references; its snapshot time and supplier
// name are then taken from stored. Everything else is unfrozen so the next
// Resolve looks it up again. The customer name is kept only while the
// customer reference is unchanged. A nil stored quote means nothing is trusted.
func Anchor(q *structure.Quote, stored *structure.Quote) {
	frozen := map[int64]structure.Detail{}
	if stored != nil {
		for _, g := range stored.Groups {
			for _, it := range g.Items {
				for _, d := range it.Details {
					if d.ID != 0 && d.Frozen() {
						frozen[d.ID] = d
					}
				}
			}
		}
	}

	if q.CustomerID != nil {
		if stored != nil && sameRef(stored.CustomerID, q.CustomerID) {
			q.CustomerName = stored.CustomerName
		} else {
			q.CustomerName = ""
		}
	}

	for gi := range q.Groups {
		for ii := range q.Groups[gi].Items {
			details := q.Groups[gi].Items[ii].Details
			for di := range details {
				d := &details[di]
				prev, ok := frozen[d.ID]
				if d.ID == 0 || !ok || !sameRef(prev.MasterItemID, d.MasterItemID) || !sameRef(prev.SupplierID, d.SupplierID) {
					d.Unfreeze()
					continue
				}
				at := *prev.SnapshotAt
				d.SnapshotAt = &at
				d.SupplierName = prev.SupplierName
			}
		}
	}
}

func sameRef(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func uniq(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
