package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	require.NoError(t, store.Initialize(context.Background()))
	t.Cleanup(func() { store.Close() })

	return store
}

func TestSQLiteStore_QueryExecute(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Execute(ctx,
		`INSERT INTO roles (id, name) VALUES ($1, $2)`, "role-1", "cashier"))

	rows, err := store.Query(ctx, `SELECT id, name FROM roles WHERE id = $1`, "role-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "role-1", rows[0]["id"])
	assert.Equal(t, "cashier", rows[0]["name"])
}

func TestSQLiteStore_Transaction(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		err := store.Transaction(ctx, func(tx Querier) error {
			return tx.Execute(ctx, `INSERT INTO roles (id, name) VALUES ($1, $2)`, "role-tx", "manager")
		})
		require.NoError(t, err)

		rows, err := store.Query(ctx, `SELECT id FROM roles WHERE id = $1`, "role-tx")
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.Transaction(ctx, func(tx Querier) error {
			if err := tx.Execute(ctx, `INSERT INTO roles (id, name) VALUES ($1, $2)`, "role-rb", "x"); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		rows, err := store.Query(ctx, `SELECT id FROM roles WHERE id = $1`, "role-rb")
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestSQLiteStore_ForeignKeys(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Child row without its parent fails while enforcement is on.
	err := store.Execute(ctx,
		`INSERT INTO users (id, username, role_id) VALUES ($1, $2, $3)`,
		"u1", "orphan", "no-such-role")
	require.Error(t, err)
	assert.True(t, store.IsConstraintViolation(err))

	// Relaxed enforcement tolerates the intermediate state.
	require.NoError(t, store.SetForeignKeys(ctx, false))
	require.NoError(t, store.Execute(ctx,
		`INSERT INTO users (id, username, role_id) VALUES ($1, $2, $3)`,
		"u1", "orphan", "late-role"))
	require.NoError(t, store.Execute(ctx,
		`INSERT INTO roles (id, name) VALUES ($1, $2)`, "late-role", "filled in"))
	require.NoError(t, store.SetForeignKeys(ctx, true))
}

func TestSQLiteStore_Columns(t *testing.T) {
	store := setupTestStore(t)

	columns, err := store.Columns(context.Background(), "users")
	require.NoError(t, err)

	assert.Contains(t, columns, "id")
	assert.Contains(t, columns, "password_hash")
	assert.Contains(t, columns, "sync_status")
	assert.Contains(t, columns, "last_synced_at")
	assert.Contains(t, columns, "is_deleted")
}

func TestSQLiteStore_IsConstraintViolation(t *testing.T) {
	store := setupTestStore(t)

	assert.False(t, store.IsConstraintViolation(nil))
	assert.False(t, store.IsConstraintViolation(errors.New("plain error")))
}
