package structure

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrIndexOutOfRange is returned by mutations addressing a missing node.
var ErrIndexOutOfRange = errors.New("structure: index out of range")

// AddGroup appends g after the current last sibling and returns its index.
func (q *Quote) AddGroup(g Group) int {
	g.SortOrder = nextGroupOrder(q.Groups)
	q.Groups = append(q.Groups, g)
	return len(q.Groups) - 1
}

// RemoveGroup drops the group at index gi. Remaining siblings keep their positions.
func (q *Quote) RemoveGroup(gi int) error {
	if gi < 0 || gi >= len(q.Groups) {
		return fmt.Errorf("%w: group %d", ErrIndexOutOfRange, gi)
	}
	q.Groups = append(q.Groups[:gi], q.Groups[gi+1:]...)
	return nil
}

// UpdateGroup replaces name and fee flag; children and position are preserved.
func (q *Quote) UpdateGroup(gi int, name string, includeInFee bool) error {
	g, err := q.group(gi)
	if err != nil {
		return err
	}
	g.Name = name
	g.IncludeInFee = includeInFee
	return nil
}

func (q *Quote) SetGroupSortOrder(gi, order int) error {
	g, err := q.group(gi)
	if err != nil {
		return err
	}
	g.SortOrder = order
	return nil
}

func (q *Quote) AddItem(gi int, it Item) (int, error) {
	g, err := q.group(gi)
	if err != nil {
		return 0, err
	}
	it.SortOrder = nextItemOrder(g.Items)
	g.Items = append(g.Items, it)
	return len(g.Items) - 1, nil
}

func (q *Quote) RemoveItem(gi, ii int) error {
	g, err := q.group(gi)
	if err != nil {
		return err
	}
	if ii < 0 || ii >= len(g.Items) {
		return fmt.Errorf("%w: group %d item %d", ErrIndexOutOfRange, gi, ii)
	}
	g.Items = append(g.Items[:ii], g.Items[ii+1:]...)
	return nil
}

func (q *Quote) UpdateItem(gi, ii int, name string, includeInFee bool) error {
	it, err := q.item(gi, ii)
	if err != nil {
		return err
	}
	it.Name = name
	it.IncludeInFee = includeInFee
	return nil
}

func (q *Quote) SetItemSortOrder(gi, ii, order int) error {
	it, err := q.item(gi, ii)
	if err != nil {
		return err
	}
	it.SortOrder = order
	return nil
}

func (q *Quote) AddDetail(gi, ii int, d Detail) (int, error) {
	it, err := q.item(gi, ii)
	if err != nil {
		return 0, err
	}
	d.SortOrder = nextDetailOrder(it.Details)
	it.Details = append(it.Details, d)
	return len(it.Details) - 1, nil
}

func (q *Quote) RemoveDetail(gi, ii, di int) error {
	it, err := q.item(gi, ii)
	if err != nil {
		return err
	}
	if di < 0 || di >= len(it.Details) {
		return fmt.Errorf("%w: group %d item %d detail %d", ErrIndexOutOfRange, gi, ii, di)
	}
	it.Details = append(it.Details[:di], it.Details[di+1:]...)
	return nil
}

// UpdateDetail replaces the detail at the given position, keeping its id and
// sort order.
func (q *Quote) UpdateDetail(gi, ii, di int, d Detail) error {
	cur, err := q.detail(gi, ii, di)
	if err != nil {
		return err
	}
	d.ID = cur.ID
	d.SortOrder = cur.SortOrder
	*cur = d
	return nil
}

func (q *Quote) SetDetailSortOrder(gi, ii, di, order int) error {
	d, err := q.detail(gi, ii, di)
	if err != nil {
		return err
	}
	d.SortOrder = order
	return nil
}

// Normalize sorts every level by SortOrder and renumbers positions 1..n.
func (q *Quote) Normalize() {
	q.Groups = q.SortedGroups()
	for gi := range q.Groups {
		g := &q.Groups[gi]
		g.SortOrder = gi + 1
		g.Items = g.SortedItems()
		for ii := range g.Items {
			it := &g.Items[ii]
			it.SortOrder = ii + 1
			it.Details = it.SortedDetails()
			for di := range it.Details {
				it.Details[di].SortOrder = di + 1
			}
		}
	}
}

// SortedGroups returns the groups ordered by SortOrder; ties keep slice order.
func (q Quote) SortedGroups() []Group {
	out := append([]Group(nil), q.Groups...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

func (g Group) SortedItems() []Item {
	out := append([]Item(nil), g.Items...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

func (it Item) SortedDetails() []Detail {
	out := append([]Detail(nil), it.Details...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

// Clone returns a deep copy that shares no slices or pointers with q.
func (q Quote) Clone() Quote {
	out := q
	out.CustomerID = cloneInt64(q.CustomerID)
	out.ParentQuoteID = cloneInt64(q.ParentQuoteID)
	out.Groups = make([]Group, len(q.Groups))
	for gi, g := range q.Groups {
		ng := g
		ng.Items = make([]Item, len(g.Items))
		for ii, it := range g.Items {
			ni := it
			ni.Details = make([]Detail, len(it.Details))
			for di, d := range it.Details {
				nd := d
				nd.SupplierID = cloneInt64(d.SupplierID)
				nd.MasterItemID = cloneInt64(d.MasterItemID)
				if d.SnapshotAt != nil {
					at := *d.SnapshotAt
					nd.SnapshotAt = &at
				}
				ni.Details[di] = nd
			}
			ng.Items[ii] = ni
		}
		out.Groups[gi] = ng
	}
	return out
}

// StructureOnly zeroes every numeric line field while keeping names,
// descriptions, units and supplier references.
func (q *Quote) StructureOnly() {
	for gi := range q.Groups {
		for ii := range q.Groups[gi].Items {
			details := q.Groups[gi].Items[ii].Details
			for di := range details {
				details[di].Quantity = decimal.Zero
				details[di].Days = decimal.Zero
				details[di].UnitPrice = decimal.Zero
				details[di].CostPrice = decimal.Zero
			}
		}
	}
}

// ResetIdentity clears database ids on the header and every child row.
func (q *Quote) ResetIdentity() {
	q.ID = 0
	for gi := range q.Groups {
		q.Groups[gi].ID = 0
		for ii := range q.Groups[gi].Items {
			q.Groups[gi].Items[ii].ID = 0
			for di := range q.Groups[gi].Items[ii].Details {
				q.Groups[gi].Items[ii].Details[di].ID = 0
			}
		}
	}
}

func (q *Quote) group(gi int) (*Group, error) {
	if gi < 0 || gi >= len(q.Groups) {
		return nil, fmt.Errorf("%w: group %d", ErrIndexOutOfRange, gi)
	}
	return &q.Groups[gi], nil
}

func (q *Quote) item(gi, ii int) (*Item, error) {
	g, err := q.group(gi)
	if err != nil {
		return nil, err
	}
	if ii < 0 || ii >= len(g.Items) {
		return nil, fmt.Errorf("%w: group %d item %d", ErrIndexOutOfRange, gi, ii)
	}
	return &g.Items[ii], nil
}

func (q *Quote) detail(gi, ii, di int) (*Detail, error) {
	it, err := q.item(gi, ii)
	if err != nil {
		return nil, err
	}
	if di < 0 || di >= len(it.Details) {
		return nil, fmt.Errorf("%w: group %d item %d detail %d", ErrIndexOutOfRange, gi, ii, di)
	}
	return &it.Details[di], nil
}

func nextGroupOrder(groups []Group) int {
	last := 0
	for _, g := range groups {
		if g.SortOrder > last {
			last = g.SortOrder
		}
	}
	return last + 1
}

func nextItemOrder(items []Item) int {
	last := 0
	for _, it := range items {
		if it.SortOrder > last {
			last = it.SortOrder
		}
	}
	return last + 1
}

func nextDetailOrder(details []Detail) int {
	last := 0
	for _, d := range details {
		if d.SortOrder > last {
			last = d.SortOrder
		}
	}
	return last + 1
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
