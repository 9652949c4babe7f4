package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storesync/client/internal/models"
	"github.com/storesync/client/internal/syncengine"
)

type fakeSyncer struct {
	summary    *models.SyncSummary
	syncErr    error
	tableErr   error
	inProgress bool
	lastSync   time.Time
}

func (f *fakeSyncer) SyncAll(ctx context.Context) (*models.SyncSummary, error) {
	return f.summary, f.syncErr
}

func (f *fakeSyncer) SyncTable(ctx context.Context, table string, direction models.SyncDirection) error {
	return f.tableErr
}

func (f *fakeSyncer) Status(ctx context.Context) ([]models.TableSyncMetadata, error) {
	return []models.TableSyncMetadata{{TableName: "categories", RecordCount: 3}}, nil
}

func (f *fakeSyncer) InProgress() bool { return f.inProgress }

func (f *fakeSyncer) LastFullSync(ctx context.Context) (time.Time, error) {
	return f.lastSync, nil
}

type fakeManager struct {
	state      models.ConnectionState
	autoSwitch bool
	override   models.ManualOverride
	switched   []models.DataSource
}

func (f *fakeManager) State() models.ConnectionState { return f.state }

func (f *fakeManager) CheckConnectivity(ctx context.Context) models.ConnectionState {
	return f.state
}

func (f *fakeManager) SwitchDataSource(ctx context.Context, source models.DataSource) error {
	if source != models.DataSourceRemote && source != models.DataSourceLocal {
		return assert.AnError
	}
	f.switched = append(f.switched, source)
	f.state.DataSource = source
	return nil
}

func (f *fakeManager) ClearOverride(ctx context.Context) { f.override = models.ManualOverride{} }

func (f *fakeManager) SetAutoSwitch(enabled bool) { f.autoSwitch = enabled }

func (f *fakeManager) AutoSwitchEnabled() bool { return f.autoSwitch }

func (f *fakeManager) Override() models.ManualOverride { return f.override }

type fakeLogin struct {
	result *models.LoginResult
	err    error
}

func (f *fakeLogin) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error) {
	return f.result, f.err
}

func (f *fakeLogin) Logout() {}

func newTestRouter(syncer *fakeSyncer, manager *fakeManager, login *fakeLogin, apiKey string) http.Handler {
	log := zap.NewNop()
	return NewRouter(
		NewHealthHandler(),
		NewDataSourceHandler(manager, syncer),
		NewSyncHandler(syncer),
		NewAuthHandler(login, nil, log),
		NewWebSocketHandler(nil, log),
		apiKey,
	)
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	syncer := &fakeSyncer{lastSync: time.Now().UTC()}
	manager := &fakeManager{
		state:      models.ConnectionState{Status: models.ConnStatusOnline, DataSource: models.DataSourceRemote},
		autoSwitch: true,
	}
	router := newTestRouter(syncer, manager, &fakeLogin{}, "")

	rec := doRequest(t, router, http.MethodGet, "/api/status", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, true, payload["autoSwitch"])
	assert.Contains(t, payload, "connection")
	assert.Contains(t, payload, "lastFullSync")
}

func TestSyncTrigger(t *testing.T) {
	t.Run("success returns summary", func(t *testing.T) {
		syncer := &fakeSyncer{summary: &models.SyncSummary{Success: true}}
		router := newTestRouter(syncer, &fakeManager{}, &fakeLogin{}, "")

		rec := doRequest(t, router, http.MethodPost, "/api/sync/trigger", nil, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var summary models.SyncSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
		assert.True(t, summary.Success)
	})

	t.Run("in-flight run yields conflict", func(t *testing.T) {
		syncer := &fakeSyncer{syncErr: syncengine.ErrSyncInProgress}
		router := newTestRouter(syncer, &fakeManager{}, &fakeLogin{}, "")

		rec := doRequest(t, router, http.MethodPost, "/api/sync/trigger", nil, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unreachable server yields 503", func(t *testing.T) {
		syncer := &fakeSyncer{syncErr: syncengine.ErrServerUnreachable}
		router := newTestRouter(syncer, &fakeManager{}, &fakeLogin{}, "")

		rec := doRequest(t, router, http.MethodPost, "/api/sync/trigger", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestDataSourceSwitch(t *testing.T) {
	manager := &fakeManager{state: models.ConnectionState{DataSource: models.DataSourceRemote}}
	router := newTestRouter(&fakeSyncer{}, manager, &fakeLogin{}, "")

	rec := doRequest(t, router, http.MethodPost, "/api/datasource/switch",
		map[string]string{"source": "local"}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, manager.switched, 1)
	assert.Equal(t, models.DataSourceLocal, manager.switched[0])
}

func TestLoginEndpoint(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		login := &fakeLogin{result: &models.LoginResult{
			User:      models.UserProfile{ID: "u1", Username: "alice"},
			IsOffline: true,
		}}
		router := newTestRouter(&fakeSyncer{}, &fakeManager{}, login, "")

		rec := doRequest(t, router, http.MethodPost, "/api/auth/login",
			models.LoginRequest{Identifier: "alice", Password: "pw123456"}, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var result models.LoginResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.True(t, result.IsOffline)
	})

	t.Run("rejected credentials yield 401", func(t *testing.T) {
		login := &fakeLogin{err: models.ErrInvalidPassword}
		router := newTestRouter(&fakeSyncer{}, &fakeManager{}, login, "")

		rec := doRequest(t, router, http.MethodPost, "/api/auth/login",
			models.LoginRequest{Identifier: "alice", Password: "nope1234"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAPIKeyProtection(t *testing.T) {
	router := newTestRouter(&fakeSyncer{}, &fakeManager{}, &fakeLogin{}, "sekrit")

	t.Run("missing key rejected", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/status", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid key accepted", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/status", nil,
			map[string]string{"X-API-Key": "sekrit"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("health stays open", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/health", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
