package quotes

import (
	"fmt"

	"github.com/quotedesk/quotedesk/internal/quotes/structure"
)

// assemble rebuilds the tree from rows already ordered by sort position.
// Rows that point at a parent outside the quote are rejected rather than
// dropped.
func assemble(header structure.Quote, groups []GroupRow, items []ItemRow, details []DetailRow) (*structure.Quote, error) {
	q := header
	q.Groups = make([]structure.Group, 0, len(groups))

	groupIdx := make(map[int64]int, len(groups))
	for _, g := range groups {
		if g.QuoteID != header.ID {
			return nil, &IntegrityError{QuoteID: header.ID, Reason: fmt.Sprintf("group %d belongs to quote %d", g.ID, g.QuoteID)}
		}
		grp := g.Group
		grp.Items = nil
		groupIdx[g.ID] = len(q.Groups)
		q.Groups = append(q.Groups, grp)
	}

	type pos struct{ group, item int }
	itemPos := make(map[int64]pos, len(items))
	for _, it := range items {
		gi, ok := groupIdx[it.GroupID]
		if !ok {
			return nil, &IntegrityError{QuoteID: header.ID, Reason: fmt.Sprintf("item %d references missing group %d", it.ID, it.GroupID)}
		}
		row := it.Item
		row.Details = nil
		itemPos[it.ID] = pos{group: gi, item: len(q.Groups[gi].Items)}
		q.Groups[gi].Items = append(q.Groups[gi].Items, row)
	}

	for _, d := range details {
		p, ok := itemPos[d.ItemID]
		if !ok {
			return nil, &IntegrityError{QuoteID: header.ID, Reason: fmt.Sprintf("detail %d references missing item %d", d.ID, d.ItemID)}
		}
		it := &q.Groups[p.group].Items[p.item]
		it.Details = append(it.Details, d.Detail)
	}
	return &q, nil
}
