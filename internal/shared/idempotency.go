package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quotedesk/quotedesk/internal/platform/db"
)

// IdempotencyStore persists processed keys together with the id of the
// resource the first request created. It runs on whatever DBTX it is given so
// the claim commits or rolls back with the write it guards.
type IdempotencyStore struct{}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{}
}

// ErrIdempotencyConflict indicates a concurrent request committed the key first.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// Lookup returns the resource id recorded for key, if any.
func (s *IdempotencyStore) Lookup(ctx context.Context, q db.DBTX, module, key string) (int64, bool, error) {
	if key == "" {
		return 0, false, nil
	}
	var id int64
	err := q.QueryRow(ctx, `SELECT resource_id FROM idempotency_keys WHERE key = $1 AND module = $2`, key, module).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return id, true, nil
}

// Record ensures key uniqueness per module.
func (s *IdempotencyStore) Record(ctx context.Context, q db.DBTX, module, key string, resourceID int64) error {
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	_, err := q.Exec(ctx, `INSERT INTO idempotency_keys (key, module, resource_id, created_at) VALUES ($1, $2, $3, $4)`,
		key, module, resourceID, time.Now())
	if db.IsUniqueViolation(err) {
		return ErrIdempotencyConflict
	}
	return err
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, q db.DBTX, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := q.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
