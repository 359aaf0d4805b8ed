package quotes

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotedesk/quotedesk/internal/shared"
)

// keyRecorder keeps the arguments of idempotency statements.
type keyRecorder struct {
	execArgs  []any
	queryArgs []any
}

func (k *keyRecorder) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	k.execArgs = args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (k *keyRecorder) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (k *keyRecorder) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	k.queryArgs = args
	return noRow{}
}

type noRow struct{}

func (noRow) Scan(...any) error { return pgx.ErrNoRows }

func TestIdempotencyKeysScopedToQuotesModule(t *testing.T) {
	rec := &keyRecorder{}
	repo := &repository{db: rec, idempotency: shared.NewIdempotencyStore()}
	ctx := context.Background()

	_, found, err := repo.FindIdempotent(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, []any{"req-1", "quotes"}, rec.queryArgs)

	require.NoError(t, repo.RecordIdempotent(ctx, "req-1", 9))
	require.Len(t, rec.execArgs, 4)
	assert.Equal(t, "quotes", rec.execArgs[1])
	assert.Equal(t, int64(9), rec.execArgs[2])
}
