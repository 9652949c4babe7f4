package syncengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storesync/client/internal/connectivity"
	"github.com/storesync/client/internal/localstore"
	"github.com/storesync/client/internal/models"
	"github.com/storesync/client/internal/remote"
	"github.com/storesync/client/internal/repository"
)

// fakeSyncServer serves the sync API over httptest. Downloads come
// from the scripted per-table record lists; uploads are captured.
type fakeSyncServer struct {
	mu           sync.Mutex
	downloads    map[string][]models.Record
	uploads      map[string][]models.Record
	uploadErrors map[string][]string
	bottomless   map[string]bool
	downloadHits map[string]int
	order        []string
	gate         chan struct{}
	server       *httptest.Server
}

func newFakeSyncServer(t *testing.T) *fakeSyncServer {
	t.Helper()
	f := &fakeSyncServer{
		downloads:    make(map[string][]models.Record),
		uploads:      make(map[string][]models.Record),
		uploadErrors: make(map[string][]string),
		bottomless:   make(map[string]bool),
		downloadHits: make(map[string]int),
	}

	r := chi.NewRouter()
	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/api/sync/{table}/upload", func(w http.ResponseWriter, req *http.Request) {
		table := chi.URLParam(req, "table")
		var body models.UploadRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))

		f.mu.Lock()
		f.uploads[table] = append(f.uploads[table], body.Records...)
		f.order = append(f.order, table)
		uploadErrs := f.uploadErrors[table]
		f.mu.Unlock()

		if len(uploadErrs) > 0 {
			json.NewEncoder(w).Encode(models.UploadResponse{Errors: uploadErrs})
			return
		}
		json.NewEncoder(w).Encode(models.UploadResponse{Created: len(body.Records)})
	})
	r.Get("/api/sync/{table}/download", func(w http.ResponseWriter, req *http.Request) {
		table := chi.URLParam(req, "table")
		f.mu.Lock()
		gate := f.gate
		records := f.downloads[table]
		bottomless := f.bottomless[table]
		f.downloadHits[table]++
		f.mu.Unlock()
		if gate != nil {
			<-gate
		}
		if bottomless {
			// Claims more pages but never delivers any records.
			json.NewEncoder(w).Encode(models.DownloadResponse{HasMore: true})
			return
		}
		json.NewEncoder(w).Encode(models.DownloadResponse{
			Records:    records,
			HasMore:    false,
			TotalCount: len(records),
		})
	})

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeSyncServer) uploaded(table string) []models.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[table]
}

func (f *fakeSyncServer) uploadOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func (f *fakeSyncServer) downloaded(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloadHits[table]
}

func setupEngine(t *testing.T, server *fakeSyncServer, opts ...EngineOption) (*Engine, localstore.Store) {
	t.Helper()
	store, err := localstore.NewSQLiteStore(filepath.Join(t.TempDir(), "sync_test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Initialize(context.Background()))
	t.Cleanup(func() { store.Close() })

	client := remote.NewClient(server.server.URL,
		remote.WithTimeout(5*time.Second),
		remote.WithRetry(1, time.Millisecond),
	)
	checker := connectivity.NewChecker(client, 1, time.Millisecond, time.Hour, zap.NewNop())
	settings := repository.NewSettingsRepository(store)

	return NewEngine(store, client, checker, settings, zap.NewNop(), opts...), store
}

func insertPending(t *testing.T, store localstore.Store, table string, pairs [][2]string) {
	t.Helper()
	ctx := context.Background()
	for _, p := range pairs {
		var err error
		switch table {
		case "categories":
			err = store.Execute(ctx,
				`INSERT INTO categories (id, name, sync_status) VALUES ($1, $2, $3)`,
				p[0], p[1], models.SyncStatusPending)
		case "customers":
			err = store.Execute(ctx,
				`INSERT INTO customers (id, first_name, sync_status) VALUES ($1, $2, $3)`,
				p[0], p[1], models.SyncStatusPending)
		case "products":
			err = store.Execute(ctx,
				`INSERT INTO products (id, name, sync_status) VALUES ($1, $2, $3)`,
				p[0], p[1], models.SyncStatusPending)
		default:
			t.Fatalf("insertPending does not know table %s", table)
		}
		require.NoError(t, err)
	}
}

func TestEngine_UploadRoundTrip(t *testing.T) {
	server := newFakeSyncServer(t)
	engine, store := setupEngine(t, server)
	ctx := context.Background()

	insertPending(t, store, "categories", [][2]string{{"c1", "Bakery"}, {"c2", "Deli"}})
	insertPending(t, store, "customers", [][2]string{{"cu1", "Dana"}})

	summary, err := engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Success)
	assert.Equal(t, 3, summary.RecordsProcessed)

	require.Len(t, server.uploaded("categories"), 2)
	require.Len(t, server.uploaded("customers"), 1)
	uploaded := server.uploaded("categories")[0]
	assert.NotContains(t, uploaded, "sync_status", "bookkeeping columns must not leave the device")
	assert.NotContains(t, uploaded, "last_synced_at")

	rows, err := store.Query(ctx, `SELECT sync_status, last_synced_at FROM categories WHERE id = $1`, "c1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, string(models.SyncStatusSynced), rows[0]["sync_status"])
	assert.NotNil(t, rows[0]["last_synced_at"])

	last, err := engine.LastFullSync(ctx)
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestEngine_UploadOrderFollowsDependencies(t *testing.T) {
	server := newFakeSyncServer(t)
	engine, store := setupEngine(t, server)

	insertPending(t, store, "products", [][2]string{{"p1", "Rye Loaf"}})
	insertPending(t, store, "categories", [][2]string{{"c1", "Bakery"}})

	_, err := engine.SyncAll(context.Background())
	require.NoError(t, err)

	order := server.uploadOrder()
	catIdx, prodIdx := -1, -1
	for i, table := range order {
		switch table {
		case "categories":
			catIdx = i
		case "products":
			prodIdx = i
		}
	}
	require.NotEqual(t, -1, catIdx)
	require.NotEqual(t, -1, prodIdx)
	assert.Less(t, catIdx, prodIdx, "parents must upload before children")
}

func TestEngine_DownloadHierarchy(t *testing.T) {
	server := newFakeSyncServer(t)
	engine, store := setupEngine(t, server)
	ctx := context.Background()

	// Child listed before its parent; ordering inside the batch must
	// still produce a consistent hierarchy.
	server.downloads["categories"] = []models.Record{
		{"id": "child", "name": "Pastry", "parent_id": "root"},
		{"id": "root", "name": "Bakery"},
	}

	summary, err := engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Success)

	rows, err := store.Query(ctx, `
		SELECT c.id FROM categories c
		LEFT JOIN categories p ON c.parent_id = p.id
		WHERE c.parent_id IS NOT NULL AND p.id IS NULL`)
	require.NoError(t, err)
	assert.Empty(t, rows, "no category may reference a missing parent")

	rows, err = store.Query(ctx, `SELECT parent_id FROM categories WHERE id = $1`, "child")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "root", rows[0]["parent_id"])
}

func TestEngine_DownloadSoftDelete(t *testing.T) {
	server := newFakeSyncServer(t)
	engine, store := setupEngine(t, server)
	ctx := context.Background()

	require.NoError(t, store.Execute(ctx,
		`INSERT INTO customers (id, first_name) VALUES ($1, $2)`, "cu1", "Dana"))
	server.downloads["customers"] = []models.Record{
		{"id": "cu1", "first_name": "Dana", "is_deleted": true},
	}

	summary, err := engine.SyncAll(ctx)
	require.NoError(t, err)
	require.Len(t, summaryTable(summary, "customers").Errors, 0)
	assert.Equal(t, 1, summaryTable(summary, "customers").RecordsDeleted)

	rows, err := store.Query(ctx, `SELECT is_deleted FROM customers WHERE id = $1`, "cu1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, rows[0]["is_deleted"])
}

func TestEngine_SingleFlight(t *testing.T) {
	server := newFakeSyncServer(t)
	engine, _ := setupEngine(t, server)

	gate := make(chan struct{})
	server.mu.Lock()
	server.gate = gate
	server.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := engine.SyncAll(context.Background())
		done <- err
	}()

	require.Eventually(t, engine.InProgress, 2*time.Second, time.Millisecond)

	_, err := engine.SyncAll(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress,
		"concurrent sync requests are rejected, not queued")

	close(gate)
	require.NoError(t, <-done)
	assert.False(t, engine.InProgress())
}

func TestEngine_UnreachableServer(t *testing.T) {
	server := newFakeSyncServer(t)
	engine, _ := setupEngine(t, server)
	server.server.Close()

	_, err := engine.SyncAll(context.Background())
	assert.ErrorIs(t, err, ErrServerUnreachable)
}

func TestEngine_ForeignKeysRestoredAfterSync(t *testing.T) {
	server := newFakeSyncServer(t)
	engine, store := setupEngine(t, server)
	ctx := context.Background()

	_, err := engine.SyncAll(ctx)
	require.NoError(t, err)

	err = store.Execute(ctx,
		`INSERT INTO products (id, name, category_id) VALUES ($1, $2, $3)`,
		"p-bad", "Ghost", "missing-category")
	require.Error(t, err, "enforcement must be back on after the sync run")
	assert.True(t, store.IsConstraintViolation(err))
}

func TestEngine_SyncTable(t *testing.T) {
	server := newFakeSyncServer(t)
	engine, store := setupEngine(t, server)
	ctx := context.Background()

	t.Run("unknown table rejected", func(t *testing.T) {
		assert.Error(t, engine.SyncTable(ctx, "no_such_table", models.DirectionBoth))
	})

	t.Run("unknown direction rejected", func(t *testing.T) {
		assert.Error(t, engine.SyncTable(ctx, "users", "sideways"))
	})

	t.Run("single table round trip", func(t *testing.T) {
		server.downloads["users"] = []models.Record{
			{"id": "u1", "username": "alice", "role_id": "r1", "is_active": true},
		}
		server.downloads["roles"] = nil

		require.NoError(t, engine.SyncTable(ctx, "users", models.DirectionBoth))

		rows, err := store.Query(ctx, `SELECT username FROM users WHERE id = $1`, "u1")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "alice", rows[0]["username"])
	})

	t.Run("upload-only skips download", func(t *testing.T) {
		insertPending(t, store, "categories", [][2]string{{"c-up", "Bakery"}})
		server.downloads["categories"] = []models.Record{
			{"id": "c-remote", "name": "Dairy"},
		}

		require.NoError(t, engine.SyncTable(ctx, "categories", models.DirectionUpload))

		assert.Len(t, server.uploaded("categories"), 1)
		rows, err := store.Query(ctx, `SELECT id FROM categories WHERE id = $1`, "c-remote")
		require.NoError(t, err)
		assert.Empty(t, rows, "download half must not run")
	})
}

func TestEngine_Status(t *testing.T) {
	server := newFakeSyncServer(t)
	engine, store := setupEngine(t, server)
	ctx := context.Background()

	insertPending(t, store, "categories", [][2]string{{"c1", "Bakery"}})

	status, err := engine.Status(ctx)
	require.NoError(t, err)

	var categories *models.TableSyncMetadata
	for i := range status {
		if status[i].TableName == "categories" {
			categories = &status[i]
		}
	}
	require.NotNil(t, categories)
	assert.Equal(t, 1, categories.RecordCount)
	assert.Equal(t, 1, categories.PendingChanges)
	assert.Equal(t, string(models.SyncStatusPending), categories.SyncStatus)
}

func summaryTable(s *models.SyncSummary, name string) *models.TableSyncResult {
	for i := range s.Tables {
		if s.Tables[i].TableName == name {
			return &s.Tables[i]
		}
	}
	return nil
}

func TestEngine_RejectedUploadStaysPending(t *testing.T) {
	server := newFakeSyncServer(t)
	engine, store := setupEngine(t, server)
	ctx := context.Background()

	insertPending(t, store, "categories", [][2]string{{"c1", "Bakery"}})
	server.uploadErrors["categories"] = []string{"record c1 rejected"}

	summary, err := engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.False(t, summary.Success)

	categories := summaryTable(summary, "categories")
	require.NotNil(t, categories)
	assert.Contains(t, categories.Errors, "record c1 rejected")

	// The rejected row must survive as an unconfirmed local change so
	// the next run retries it.
	rows, err := store.Query(ctx, `SELECT sync_status FROM categories WHERE id = $1`, "c1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, string(models.SyncStatusPending), rows[0]["sync_status"])
}

func TestEngine_BottomlessDownloadFailsTable(t *testing.T) {
	server := newFakeSyncServer(t)
	engine, store := setupEngine(t, server)
	ctx := context.Background()

	server.bottomless["categories"] = true
	server.downloads["customers"] = []models.Record{
		{"id": "cu1", "first_name": "Ada"},
	}

	summary, err := engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.False(t, summary.Success)

	categories := summaryTable(summary, "categories")
	require.NotNil(t, categories)
	require.NotEmpty(t, categories.Errors)
	assert.Contains(t, categories.Errors[0], "claims more records")
	assert.Equal(t, 1, server.downloaded("categories"), "pager must stop after the first empty page")

	// Later tables still sync.
	rows, err := store.Query(ctx, `SELECT id FROM customers WHERE id = $1`, "cu1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
