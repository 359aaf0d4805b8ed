package quotes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quotedesk/quotedesk/internal/platform/db"
	"github.com/quotedesk/quotedesk/internal/quotes/structure"
	"github.com/quotedesk/quotedesk/internal/shared"
)

const idempotencyModule = "quotes"

// Repository is the persistence port of the quote service. Every method runs
// on the transaction when called through WithTx.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	GetHeader(ctx context.Context, id int64) (structure.Quote, error)
	LockHeader(ctx context.Context, id int64) (structure.Quote, error)
	ListGroups(ctx context.Context, quoteID int64) ([]GroupRow, error)
	ListItems(ctx context.Context, quoteID int64) ([]ItemRow, error)
	ListDetails(ctx context.Context, quoteID int64) ([]DetailRow, error)

	InsertHeader(ctx context.Context, q structure.Quote) (int64, error)
	UpdateHeader(ctx context.Context, q structure.Quote, expected uuid.UUID) (bool, error)
	UpdateStatus(ctx context.Context, id int64, status structure.Status, expected, next uuid.UUID) (bool, error)
	DeleteStructure(ctx context.Context, quoteID int64) error
	InsertGroup(ctx context.Context, quoteID int64, g structure.Group) (int64, error)
	InsertItem(ctx context.Context, quoteID, groupID int64, it structure.Item) (int64, error)
	InsertDetail(ctx context.Context, quoteID, itemID int64, d structure.Detail) (int64, error)

	GenerateNumber(ctx context.Context, date time.Time) (string, error)
	NextVersion(ctx context.Context, rootID int64) (int, error)
	ListChain(ctx context.Context, rootID int64) ([]HistoryEntry, error)
	ListIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)

	FindIdempotent(ctx context.Context, key string) (int64, bool, error)
	RecordIdempotent(ctx context.Context, key string, quoteID int64) error
	Audit(ctx context.Context, log shared.AuditLog) error
}

type repository struct {
	db          db.DBTX
	pool        *pgxpool.Pool
	idempotency *shared.IdempotencyStore
	audit       *shared.AuditLogger
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{
		db:          pool,
		pool:        pool,
		idempotency: shared.NewIdempotencyStore(),
		audit:       shared.NewAuditLogger(),
	}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		repoTx := &repository{
			db:          tx,
			pool:        r.pool,
			idempotency: r.idempotency,
			audit:       r.audit,
		}
		return fn(ctx, repoTx)
	})
}

const headerColumns = `id, quote_number, title, customer_id, customer_name, issue_date, status, vat_mode,
	discount_amount, agency_fee_rate, total_amount, version, parent_quote_id, token, created_by, created_at, updated_at`

func scanHeader(row pgx.Row) (structure.Quote, error) {
	var q structure.Quote
	err := row.Scan(&q.ID, &q.QuoteNumber, &q.Title, &q.CustomerID, &q.CustomerName, &q.IssueDate, &q.Status, &q.VATMode,
		&q.DiscountAmount, &q.AgencyFeeRate, &q.TotalAmount, &q.Version, &q.ParentQuoteID, &q.Token,
		&q.CreatedBy, &q.CreatedAt, &q.UpdatedAt)
	return q, err
}

func (r *repository) GetHeader(ctx context.Context, id int64) (structure.Quote, error) {
	q, err := scanHeader(r.db.QueryRow(ctx, `SELECT `+headerColumns+` FROM quotes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return structure.Quote{}, ErrNotFound
	}
	if err != nil {
		return structure.Quote{}, fmt.Errorf("get quote %d: %w", id, err)
	}
	return q, nil
}

// LockHeader reads the header with FOR UPDATE so concurrent writers queue
// behind the current transaction.
func (r *repository) LockHeader(ctx context.Context, id int64) (structure.Quote, error) {
	q, err := scanHeader(r.db.QueryRow(ctx, `SELECT `+headerColumns+` FROM quotes WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return structure.Quote{}, ErrNotFound
	}
	if err != nil {
		return structure.Quote{}, fmt.Errorf("lock quote %d: %w", id, err)
	}
	return q, nil
}

func (r *repository) ListGroups(ctx context.Context, quoteID int64) ([]GroupRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, quote_id, name, sort_order, include_in_fee
		FROM quote_groups
		WHERE quote_id = $1
		ORDER BY sort_order, id`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []GroupRow
	for rows.Next() {
		var g GroupRow
		if err := rows.Scan(&g.ID, &g.QuoteID, &g.Name, &g.SortOrder, &g.IncludeInFee); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *repository) ListItems(ctx context.Context, quoteID int64) ([]ItemRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, group_id, name, sort_order, include_in_fee
		FROM quote_items
		WHERE quote_id = $1
		ORDER BY group_id, sort_order, id`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []ItemRow
	for rows.Next() {
		var it ItemRow
		if err := rows.Scan(&it.ID, &it.GroupID, &it.Name, &it.SortOrder, &it.IncludeInFee); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *repository) ListDetails(ctx context.Context, quoteID int64) ([]DetailRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, item_id, name, description, quantity, days, unit, unit_price, is_service, cost_price,
		       supplier_id, supplier_name, master_item_id, sort_order, snapshot_at
		FROM quote_details
		WHERE quote_id = $1
		ORDER BY item_id, sort_order, id`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("list details: %w", err)
	}
	defer rows.Close()

	var out []DetailRow
	for rows.Next() {
		var d DetailRow
		if err := rows.Scan(&d.ID, &d.ItemID, &d.Name, &d.Description, &d.Quantity, &d.Days, &d.Unit, &d.UnitPrice,
			&d.IsService, &d.CostPrice, &d.SupplierID, &d.SupplierName, &d.MasterItemID, &d.SortOrder, &d.SnapshotAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repository) InsertHeader(ctx context.Context, q structure.Quote) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO quotes (quote_number, title, customer_id, customer_name, issue_date, status, vat_mode,
			discount_amount, agency_fee_rate, total_amount, version, parent_quote_id, token, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		q.QuoteNumber, q.Title, q.CustomerID, q.CustomerName, q.IssueDate, q.Status, q.VATMode,
		q.DiscountAmount, q.AgencyFeeRate, q.TotalAmount, q.Version, q.ParentQuoteID, q.Token, q.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert quote: %w", err)
	}
	return id, nil
}

// UpdateHeader writes the editable header fields when the stored token still
// equals expected. It reports false when another writer got there first.
func (r *repository) UpdateHeader(ctx context.Context, q structure.Quote, expected uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE quotes SET title = $3, customer_id = $4, customer_name = $5, issue_date = $6, vat_mode = $7,
			discount_amount = $8, agency_fee_rate = $9, total_amount = $10, token = $11, updated_at = NOW()
		WHERE id = $1 AND token = $2`,
		q.ID, expected, q.Title, q.CustomerID, q.CustomerName, q.IssueDate, q.VATMode,
		q.DiscountAmount, q.AgencyFeeRate, q.TotalAmount, q.Token)
	if err != nil {
		return false, fmt.Errorf("update quote %d: %w", q.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status structure.Status, expected, next uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE quotes SET status = $3, token = $4, updated_at = NOW()
		WHERE id = $1 AND token = $2`, id, expected, status, next)
	if err != nil {
		return false, fmt.Errorf("update quote %d status: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteStructure removes every group of the quote; items and details go with
// them through ON DELETE CASCADE.
func (r *repository) DeleteStructure(ctx context.Context, quoteID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM quote_groups WHERE quote_id = $1`, quoteID); err != nil {
		return fmt.Errorf("delete structure of quote %d: %w", quoteID, err)
	}
	return nil
}

func (r *repository) InsertGroup(ctx context.Context, quoteID int64, g structure.Group) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO quote_groups (quote_id, name, sort_order, include_in_fee)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		quoteID, g.Name, g.SortOrder, g.IncludeInFee).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert group %q: %w", g.Name, err)
	}
	return id, nil
}

func (r *repository) InsertItem(ctx context.Context, quoteID, groupID int64, it structure.Item) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO quote_items (quote_id, group_id, name, sort_order, include_in_fee)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		quoteID, groupID, it.Name, it.SortOrder, it.IncludeInFee).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert item %q: %w", it.Name, err)
	}
	return id, nil
}

func (r *repository) InsertDetail(ctx context.Context, quoteID, itemID int64, d structure.Detail) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO quote_details (quote_id, item_id, name, description, quantity, days, unit, unit_price,
			is_service, cost_price, supplier_id, supplier_name, master_item_id, sort_order, snapshot_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15) RETURNING id`,
		quoteID, itemID, d.Name, d.Description, d.Quantity, d.Days, d.Unit, d.UnitPrice,
		d.IsService, d.CostPrice, d.SupplierID, d.SupplierName, d.MasterItemID, d.SortOrder, d.SnapshotAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert detail %q: %w", d.Name, err)
	}
	return id, nil
}

// GenerateNumber allocates Q-{YY}{MM}-{SEQ} from the monthly sequence row.
func (r *repository) GenerateNumber(ctx context.Context, date time.Time) (string, error) {
	var seq int64
	period := date.Format("200601")
	err := r.db.QueryRow(ctx, `
		INSERT INTO document_sequences (doc_type, period, seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (doc_type, period)
		DO UPDATE SET seq = document_sequences.seq + 1
		RETURNING seq
	`, "Q", period).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("generate quote number: %w", err)
	}
	return fmt.Sprintf("Q-%s-%04d", date.Format("0601"), seq), nil
}

func (r *repository) NextVersion(ctx context.Context, rootID int64) (int, error) {
	var maxVersion int
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM quotes WHERE id = $1 OR parent_quote_id = $1`, rootID).Scan(&maxVersion)
	if err != nil {
		return 0, fmt.Errorf("next version of quote %d: %w", rootID, err)
	}
	return maxVersion + 1, nil
}

func (r *repository) ListChain(ctx context.Context, rootID int64) ([]HistoryEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, quote_number, version, parent_quote_id, status, total_amount, created_by, created_at
		FROM quotes
		WHERE id = $1 OR parent_quote_id = $1
		ORDER BY version, id`, rootID)
	if err != nil {
		return nil, fmt.Errorf("list revisions of quote %d: %w", rootID, err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.QuoteNumber, &h.Version, &h.ParentQuoteID, &h.Status, &h.TotalAmount,
			&h.CreatedBy, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *repository) ListIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM quotes WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list quote ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repository) FindIdempotent(ctx context.Context, key string) (int64, bool, error) {
	return r.idempotency.Lookup(ctx, r.db, idempotencyModule, key)
}

func (r *repository) RecordIdempotent(ctx context.Context, key string, quoteID int64) error {
	return r.idempotency.Record(ctx, r.db, idempotencyModule, key, quoteID)
}

func (r *repository) Audit(ctx context.Context, log shared.AuditLog) error {
	return r.audit.Record(ctx, r.db, log)
}
