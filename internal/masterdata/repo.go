package masterdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads and updates master-data rows.
type Repository interface {
	GetItem(ctx context.Context, id int64) (Item, error)
	ItemsByIDs(ctx context.Context, ids []int64) ([]Item, error)
	UpdateItem(ctx context.Context, id int64, item Item) error
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	SuppliersByIDs(ctx context.Context, ids []int64) ([]Supplier, error)
	CustomerName(ctx context.Context, id int64) (string, error)
}

type repo struct {
	db *pgxpool.Pool
}

// NewRepository creates a new master data repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repo{db: db}
}

const itemColumns = `id, code, name, description, unit, unit_price, cost_price, supplier_id, is_active, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.Code, &it.Name, &it.Description, &it.Unit, &it.UnitPrice, &it.CostPrice,
		&it.SupplierID, &it.IsActive, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

func (r *repo) GetItem(ctx context.Context, id int64) (Item, error) {
	query := `SELECT ` + itemColumns + ` FROM master_items WHERE id = $1`
	it, err := scanItem(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("get item %d: %w", id, err)
	}
	return it, nil
}

func (r *repo) ItemsByIDs(ctx context.Context, ids []int64) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM master_items WHERE id = ANY($1) ORDER BY id`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("items by ids: %w", err)
	}
	defer rows.Close()

	items := make([]Item, 0, len(ids))
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repo) UpdateItem(ctx context.Context, id int64, item Item) error {
	query := `UPDATE master_items SET code = $1, name = $2, description = $3, unit = $4, unit_price = $5,
	          cost_price = $6, supplier_id = $7, is_active = $8, updated_at = $9 WHERE id = $10`
	tag, err := r.db.Exec(ctx, query, item.Code, item.Name, item.Description, item.Unit, item.UnitPrice,
		item.CostPrice, item.SupplierID, item.IsActive, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update item %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	query := `SELECT id, code, name, email, phone, created_at, updated_at FROM suppliers WHERE id = $1`
	var s Supplier
	err := r.db.QueryRow(ctx, query, id).Scan(&s.ID, &s.Code, &s.Name, &s.Email, &s.Phone, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, ErrNotFound
	}
	if err != nil {
		return Supplier{}, fmt.Errorf("get supplier %d: %w", id, err)
	}
	return s, nil
}

func (r *repo) SuppliersByIDs(ctx context.Context, ids []int64) ([]Supplier, error) {
	query := `SELECT id, code, name, email, phone, created_at, updated_at FROM suppliers WHERE id = ANY($1) ORDER BY id`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("suppliers by ids: %w", err)
	}
	defer rows.Close()

	var suppliers []Supplier
	for rows.Next() {
		var s Supplier
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.Email, &s.Phone, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, rows.Err()
}

func (r *repo) CustomerName(ctx context.Context, id int64) (string, error) {
	var name string
	err := r.db.QueryRow(ctx, `SELECT name FROM customers WHERE id = $1`, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("customer name %d: %w", id, err)
	}
	return name, nil
}
