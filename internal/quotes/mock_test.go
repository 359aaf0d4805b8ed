package quotes

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quotedesk/quotedesk/internal/quotes/snapshot"
	"github.com/quotedesk/quotedesk/internal/quotes/structure"
	"github.com/quotedesk/quotedesk/internal/shared"
)

type mockItem struct {
	quoteID int64
	ItemRow
}

type mockDetail struct {
	quoteID int64
	DetailRow
}

type mockState struct {
	nextID      int64
	headers     map[int64]structure.Quote
	groups      []GroupRow
	items       []mockItem
	details     []mockDetail
	sequences   map[string]int
	idempotency map[string]int64
	audits      []shared.AuditLog
}

func (s mockState) clone() mockState {
	out := s
	out.headers = make(map[int64]structure.Quote, len(s.headers))
	for k, v := range s.headers {
		out.headers[k] = v
	}
	out.groups = append([]GroupRow(nil), s.groups...)
	out.items = append([]mockItem(nil), s.items...)
	out.details = append([]mockDetail(nil), s.details...)
	out.sequences = make(map[string]int, len(s.sequences))
	for k, v := range s.sequences {
		out.sequences[k] = v
	}
	out.idempotency = make(map[string]int64, len(s.idempotency))
	for k, v := range s.idempotency {
		out.idempotency[k] = v
	}
	out.audits = append([]shared.AuditLog(nil), s.audits...)
	return out
}

// mockRepository keeps rows in memory. WithTx restores the previous state
// when fn fails.
type mockRepository struct {
	state mockState

	insertDetailErr error
	// insertHeaderErrs are returned by successive InsertHeader calls.
	insertHeaderErrs []error
	// onRollback runs once against the restored state after a failed
	// transaction, standing in for a writer that committed meanwhile.
	onRollback func(st *mockState)
	// beforeUpdate runs inside UpdateHeader to simulate a concurrent writer.
	beforeUpdate func(m *mockRepository)
}

func newMockRepository() *mockRepository {
	return &mockRepository{state: mockState{
		headers:     map[int64]structure.Quote{},
		sequences:   map[string]int{},
		idempotency: map[string]int64{},
	}}
}

func (m *mockRepository) id() int64 {
	m.state.nextID++
	return m.state.nextID
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	saved := m.state.clone()
	if err := fn(ctx, m); err != nil {
		m.state = saved
		if m.onRollback != nil {
			m.onRollback(&m.state)
			m.onRollback = nil
		}
		return err
	}
	return nil
}

func (m *mockRepository) GetHeader(_ context.Context, id int64) (structure.Quote, error) {
	q, ok := m.state.headers[id]
	if !ok {
		return structure.Quote{}, ErrNotFound
	}
	return q, nil
}

func (m *mockRepository) LockHeader(ctx context.Context, id int64) (structure.Quote, error) {
	return m.GetHeader(ctx, id)
}

func (m *mockRepository) ListGroups(_ context.Context, quoteID int64) ([]GroupRow, error) {
	var out []GroupRow
	for _, g := range m.state.groups {
		if g.QuoteID == quoteID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *mockRepository) ListItems(_ context.Context, quoteID int64) ([]ItemRow, error) {
	var out []ItemRow
	for _, it := range m.state.items {
		if it.quoteID == quoteID {
			out = append(out, it.ItemRow)
		}
	}
	return out, nil
}

func (m *mockRepository) ListDetails(_ context.Context, quoteID int64) ([]DetailRow, error) {
	var out []DetailRow
	for _, d := range m.state.details {
		if d.quoteID == quoteID {
			out = append(out, d.DetailRow)
		}
	}
	return out, nil
}

func (m *mockRepository) InsertHeader(_ context.Context, q structure.Quote) (int64, error) {
	if len(m.insertHeaderErrs) > 0 {
		err := m.insertHeaderErrs[0]
		m.insertHeaderErrs = m.insertHeaderErrs[1:]
		return 0, err
	}
	for _, existing := range m.state.headers {
		if existing.QuoteNumber == q.QuoteNumber && existing.Version == q.Version {
			return 0, fmt.Errorf("duplicate quote number %s v%d", q.QuoteNumber, q.Version)
		}
	}
	q.ID = m.id()
	q.Groups = nil
	q.CreatedAt = time.Now()
	q.UpdatedAt = q.CreatedAt
	m.state.headers[q.ID] = q
	return q.ID, nil
}

func (m *mockRepository) UpdateHeader(_ context.Context, q structure.Quote, expected uuid.UUID) (bool, error) {
	if m.beforeUpdate != nil {
		m.beforeUpdate(m)
	}
	cur, ok := m.state.headers[q.ID]
	if !ok || cur.Token != expected {
		return false, nil
	}
	q.Groups = nil
	q.UpdatedAt = time.Now()
	m.state.headers[q.ID] = q
	return true, nil
}

func (m *mockRepository) UpdateStatus(_ context.Context, id int64, status structure.Status, expected, next uuid.UUID) (bool, error) {
	cur, ok := m.state.headers[id]
	if !ok || cur.Token != expected {
		return false, nil
	}
	cur.Status = status
	cur.Token = next
	m.state.headers[id] = cur
	return true, nil
}

func (m *mockRepository) DeleteStructure(_ context.Context, quoteID int64) error {
	groups := m.state.groups[:0:0]
	for _, g := range m.state.groups {
		if g.QuoteID != quoteID {
			groups = append(groups, g)
		}
	}
	items := m.state.items[:0:0]
	for _, it := range m.state.items {
		if it.quoteID != quoteID {
			items = append(items, it)
		}
	}
	details := m.state.details[:0:0]
	for _, d := range m.state.details {
		if d.quoteID != quoteID {
			details = append(details, d)
		}
	}
	m.state.groups, m.state.items, m.state.details = groups, items, details
	return nil
}

func (m *mockRepository) InsertGroup(_ context.Context, quoteID int64, g structure.Group) (int64, error) {
	g.ID = m.id()
	g.Items = nil
	m.state.groups = append(m.state.groups, GroupRow{QuoteID: quoteID, Group: g})
	return g.ID, nil
}

func (m *mockRepository) InsertItem(_ context.Context, quoteID, groupID int64, it structure.Item) (int64, error) {
	it.ID = m.id()
	it.Details = nil
	m.state.items = append(m.state.items, mockItem{quoteID: quoteID, ItemRow: ItemRow{GroupID: groupID, Item: it}})
	return it.ID, nil
}

func (m *mockRepository) InsertDetail(_ context.Context, quoteID, itemID int64, d structure.Detail) (int64, error) {
	if m.insertDetailErr != nil {
		return 0, m.insertDetailErr
	}
	d.ID = m.id()
	m.state.details = append(m.state.details, mockDetail{quoteID: quoteID, DetailRow: DetailRow{ItemID: itemID, Detail: d}})
	return d.ID, nil
}

func (m *mockRepository) GenerateNumber(_ context.Context, date time.Time) (string, error) {
	period := date.Format("0601")
	m.state.sequences[period]++
	return fmt.Sprintf("Q-%s-%04d", period, m.state.sequences[period]), nil
}

func (m *mockRepository) NextVersion(_ context.Context, rootID int64) (int, error) {
	max := 0
	for id, q := range m.state.headers {
		if id == rootID || (q.ParentQuoteID != nil && *q.ParentQuoteID == rootID) {
			if q.Version > max {
				max = q.Version
			}
		}
	}
	return max + 1, nil
}

func (m *mockRepository) ListChain(_ context.Context, rootID int64) ([]HistoryEntry, error) {
	var out []HistoryEntry
	for id, q := range m.state.headers {
		if id == rootID || (q.ParentQuoteID != nil && *q.ParentQuoteID == rootID) {
			out = append(out, HistoryEntry{
				ID:            q.ID,
				QuoteNumber:   q.QuoteNumber,
				Version:       q.Version,
				ParentQuoteID: q.ParentQuoteID,
				Status:        q.Status,
				TotalAmount:   q.TotalAmount,
				CreatedBy:     q.CreatedBy,
				CreatedAt:     q.CreatedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *mockRepository) ListIDs(_ context.Context, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	for id := range m.state.headers {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *mockRepository) FindIdempotent(_ context.Context, key string) (int64, bool, error) {
	id, ok := m.state.idempotency[key]
	return id, ok, nil
}

func (m *mockRepository) RecordIdempotent(_ context.Context, key string, quoteID int64) error {
	if _, ok := m.state.idempotency[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.state.idempotency[key] = quoteID
	return nil
}

func (m *mockRepository) Audit(_ context.Context, log shared.AuditLog) error {
	m.state.audits = append(m.state.audits, log)
	return nil
}

func (m *mockRepository) actions() []string {
	out := make([]string, 0, len(m.state.audits))
	for _, a := range m.state.audits {
		out = append(out, a.Action)
	}
	return out
}

// clearReferences nulls master-item and supplier ids on every stored detail,
// as ON DELETE SET NULL does when master rows are removed.
func (m *mockRepository) clearReferences() {
	for i := range m.state.details {
		m.state.details[i].MasterItemID = nil
		m.state.details[i].SupplierID = nil
	}
}

// setTotal corrupts the stored total of id.
func (m *mockRepository) setTotal(id int64, total string) {
	q := m.state.headers[id]
	q.TotalAmount = decimal.RequireFromString(total)
	m.state.headers[id] = q
}

type mockLookup struct {
	mu        sync.Mutex
	items     map[int64]snapshot.MasterItem
	suppliers map[int64]snapshot.Supplier
	customers map[int64]string
}

func newMockLookup() *mockLookup {
	return &mockLookup{
		items:     map[int64]snapshot.MasterItem{},
		suppliers: map[int64]snapshot.Supplier{},
		customers: map[int64]string{},
	}
}

func (l *mockLookup) MasterItems(_ context.Context, ids []int64) (map[int64]snapshot.MasterItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := map[int64]snapshot.MasterItem{}
	for _, id := range ids {
		if it, ok := l.items[id]; ok {
			out[id] = it
		}
	}
	return out, nil
}

func (l *mockLookup) Suppliers(_ context.Context, ids []int64) (map[int64]snapshot.Supplier, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := map[int64]snapshot.Supplier{}
	for _, id := range ids {
		if s, ok := l.suppliers[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (l *mockLookup) CustomerName(_ context.Context, id int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name, ok := l.customers[id]
	if !ok {
		return "", snapshot.ErrNotFound
	}
	return name, nil
}
