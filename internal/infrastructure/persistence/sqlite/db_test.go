package sqlite_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/doc-approval/internal/domain/apperr"
	"github.com/garyjia/doc-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/doc-approval/internal/testutil"
)

func countDocuments(t *testing.T, ctx context.Context, db *sqlite.DB) int {
	t.Helper()
	var n int
	require.NoError(t, sqlite.ExecutorFor(ctx, db.DB).QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n))
	return n
}

func TestWithTransaction_CommitAndRollback(t *testing.T) {
	_, db := testutil.NewDB(t)
	ctx := context.Background()

	err := db.WithTransaction(ctx, func(txCtx context.Context) error {
		require.NotNil(t, sqlite.TxFromContext(txCtx))
		_, err := sqlite.ExecutorFor(txCtx, db.DB).ExecContext(txCtx, `INSERT INTO documents (owner_id, title) VALUES ('u-1', 'kept')`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countDocuments(t, ctx, db))

	boom := errors.New("boom")
	err = db.WithTransaction(ctx, func(txCtx context.Context) error {
		_, err := sqlite.ExecutorFor(txCtx, db.DB).ExecContext(txCtx, `INSERT INTO documents (owner_id, title) VALUES ('u-1', 'dropped')`)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, countDocuments(t, ctx, db))
}

func TestWithTransaction_NestedJoinsOuter(t *testing.T) {
	_, db := testutil.NewDB(t)
	ctx := context.Background()

	err := db.WithTransaction(ctx, func(outer context.Context) error {
		return db.WithTransaction(outer, func(inner context.Context) error {
			assert.Same(t, sqlite.TxFromContext(outer), sqlite.TxFromContext(inner))
			return nil
		})
	})
	require.NoError(t, err)
	assert.Nil(t, sqlite.TxFromContext(ctx))
}

func TestWithTransaction_PanicRollsBack(t *testing.T) {
	_, db := testutil.NewDB(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = db.WithTransaction(ctx, func(txCtx context.Context) error {
			_, _ = sqlite.ExecutorFor(txCtx, db.DB).ExecContext(txCtx, `INSERT INTO documents (owner_id, title) VALUES ('u-1', 'x')`)
			panic("boom")
		})
	})
	assert.Equal(t, 0, countDocuments(t, ctx, db))
}

func TestWithTransaction_BusyIsRetryable(t *testing.T) {
	_, db := testutil.NewDB(t)

	busy := sqlite3.Error{Code: sqlite3.ErrBusy}
	err := db.WithTransaction(context.Background(), func(context.Context) error {
		return busy
	})

	assert.True(t, sqlite.IsBusy(err))
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestIsBusy(t *testing.T) {
	assert.True(t, sqlite.IsBusy(sqlite3.Error{Code: sqlite3.ErrLocked}))
	assert.False(t, sqlite.IsBusy(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, sqlite.IsBusy(errors.New("busy")))
	assert.False(t, sqlite.IsBusy(nil))
}
