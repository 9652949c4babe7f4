package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storesync/client/internal/localstore"
	"github.com/storesync/client/internal/models"
	"github.com/storesync/client/internal/remote"
)

func setupStore(t *testing.T) localstore.Store {
	t.Helper()
	store, err := localstore.NewSQLiteStore(filepath.Join(t.TempDir(), "repo_test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Initialize(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSettingsRepository(t *testing.T) {
	repo := NewSettingsRepository(setupStore(t))
	ctx := context.Background()

	t.Run("missing key returns empty without error", func(t *testing.T) {
		value, err := repo.Get(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, value)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "device.id", "pos-7"))
		value, err := repo.Get(ctx, "device.id")
		require.NoError(t, err)
		assert.Equal(t, "pos-7", value)
	})

	t.Run("set overwrites", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "k", "one"))
		require.NoError(t, repo.Set(ctx, "k", "two"))
		value, err := repo.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "two", value)
	})

	t.Run("time round trip", func(t *testing.T) {
		at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
		require.NoError(t, repo.SetTime(ctx, SettingLastFullSync, at))
		got, err := repo.GetTime(ctx, SettingLastFullSync)
		require.NoError(t, err)
		assert.True(t, got.Equal(at))
	})
}

func TestUserRepository(t *testing.T) {
	store := setupStore(t)
	repo := NewUserRepository(store)
	ctx := context.Background()

	role := &models.Role{ID: "role-1", Name: "cashier"}
	require.NoError(t, repo.SaveRole(ctx, role))

	user, err := models.NewUser("Alice", "Alice@Example.com", "Alice", "role-1")
	require.NoError(t, err)
	require.NoError(t, user.SetPassword("correct horse"))
	require.NoError(t, repo.Upsert(ctx, user))

	t.Run("get by username is case-insensitive", func(t *testing.T) {
		got, err := repo.GetByIdentifier(ctx, "ALICE")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, user.ID, got.ID)
		assert.True(t, got.VerifyPassword("correct horse"))
	})

	t.Run("get by email", func(t *testing.T) {
		got, err := repo.GetByIdentifier(ctx, "alice@example.com")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("unknown identifier returns nil without error", func(t *testing.T) {
		got, err := repo.GetByIdentifier(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("upsert without hash preserves cached credentials", func(t *testing.T) {
		refresh := *user
		refresh.PasswordHash = ""
		refresh.DisplayName = "Alice B."
		require.NoError(t, repo.Upsert(ctx, &refresh))

		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Alice B.", got.DisplayName)
		assert.True(t, got.VerifyPassword("correct horse"),
			"a profile refresh must not wipe the offline credential cache")
	})

	t.Run("role round trip", func(t *testing.T) {
		got, err := repo.GetRole(ctx, "role-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "cashier", got.Name)
	})
}

type fakeSelector struct {
	source models.DataSource
}

func (f *fakeSelector) DataSource() models.DataSource { return f.source }

type fakeRemote struct {
	listRecords []models.Record
	err         error
	calls       int
}

func (f *fakeRemote) List(ctx context.Context, resource string) ([]models.Record, error) {
	f.calls++
	return f.listRecords, f.err
}

func (f *fakeRemote) Get(ctx context.Context, resource, id string) (models.Record, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.listRecords) == 0 {
		return nil, nil
	}
	return f.listRecords[0], nil
}

func (f *fakeRemote) Create(ctx context.Context, resource string, record any) (models.Record, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.listRecords[0], nil
}

func (f *fakeRemote) Update(ctx context.Context, resource, id string, record any) (models.Record, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.listRecords[0], nil
}

func (f *fakeRemote) Delete(ctx context.Context, resource, id string) error {
	f.calls++
	return f.err
}

func TestCategoryRepository_Routing(t *testing.T) {
	ctx := context.Background()

	t.Run("local source never touches remote", func(t *testing.T) {
		store := setupStore(t)
		api := &fakeRemote{}
		repo := NewCategoryRepository(store, api, &fakeSelector{source: models.DataSourceLocal}, zap.NewNop())

		created, err := repo.Create(ctx, &models.Category{Name: "Beverages", IsActive: true})
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)
		assert.Zero(t, api.calls)

		rows, err := store.Query(ctx, `SELECT sync_status FROM categories WHERE id = $1`, created.ID)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, string(models.SyncStatusPending), rows[0]["sync_status"],
			"offline writes must be queued for upload")
	})

	t.Run("remote source serves server data", func(t *testing.T) {
		store := setupStore(t)
		api := &fakeRemote{listRecords: []models.Record{
			{"id": "c1", "name": "Bakery", "isActive": true},
		}}
		repo := NewCategoryRepository(store, api, &fakeSelector{source: models.DataSourceRemote}, zap.NewNop())

		categories, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, categories, 1)
		assert.Equal(t, "Bakery", categories[0].Name)
		assert.Equal(t, 1, api.calls)
	})

	t.Run("connectivity failure falls back to replica", func(t *testing.T) {
		store := setupStore(t)
		require.NoError(t, store.Execute(ctx,
			`INSERT INTO categories (id, name, is_active) VALUES ($1, $2, $3)`,
			"c-local", "Deli", true))
		api := &fakeRemote{err: &remote.Error{Kind: remote.KindConnectivity, Message: "dial timeout"}}
		repo := NewCategoryRepository(store, api, &fakeSelector{source: models.DataSourceRemote}, zap.NewNop())

		categories, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, categories, 1)
		assert.Equal(t, "Deli", categories[0].Name)
	})

	t.Run("auth failure surfaces instead of falling back", func(t *testing.T) {
		store := setupStore(t)
		api := &fakeRemote{err: &remote.Error{Kind: remote.KindAuth, StatusCode: 401, Message: "expired"}}
		repo := NewCategoryRepository(store, api, &fakeSelector{source: models.DataSourceRemote}, zap.NewNop())

		_, err := repo.List(ctx)
		require.Error(t, err)
		var rerr *remote.Error
		require.True(t, errors.As(err, &rerr))
		assert.Equal(t, remote.KindAuth, rerr.Kind)
	})
}

func TestCategoryRepository_Tree(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	repo := NewCategoryRepository(store, &fakeRemote{}, &fakeSelector{source: models.DataSourceLocal}, zap.NewNop())

	root, err := repo.Create(ctx, &models.Category{Name: "Food", IsActive: true})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &models.Category{Name: "Snacks", ParentID: &root.ID, IsActive: true})
	require.NoError(t, err)

	tree, err := repo.GetTree(ctx)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	require.Len(t, tree[0].ChildCategories, 1)
	assert.Equal(t, "Snacks", tree[0].ChildCategories[0].Name)
}
