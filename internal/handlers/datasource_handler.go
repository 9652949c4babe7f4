package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/storesync/client/internal/models"
)

// DataSourceManager is the slice of the datasource manager the control
// API exposes.
type DataSourceManager interface {
	State() models.ConnectionState
	CheckConnectivity(ctx context.Context) models.ConnectionState
	SwitchDataSource(ctx context.Context, source models.DataSource) error
	ClearOverride(ctx context.Context)
	SetAutoSwitch(enabled bool)
	AutoSwitchEnabled() bool
	Override() models.ManualOverride
}

// DataSourceHandler exposes connection state and source switching.
type DataSourceHandler struct {
	manager DataSourceManager
	syncer  Syncer
}

// NewDataSourceHandler creates a new DataSourceHandler.
func NewDataSourceHandler(manager DataSourceManager, syncer Syncer) *DataSourceHandler {
	return &DataSourceHandler{manager: manager, syncer: syncer}
}

// Status returns the connection state, override and sync position.
func (h *DataSourceHandler) Status(w http.ResponseWriter, r *http.Request) {
	state := h.manager.State()
	last, err := h.syncer.LastFullSync(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to read sync state.")
		return
	}

	payload := map[string]any{
		"connection":     state,
		"autoSwitch":     h.manager.AutoSwitchEnabled(),
		"override":       h.manager.Override(),
		"syncInProgress": h.syncer.InProgress(),
	}
	if !last.IsZero() {
		payload["lastFullSync"] = last.UTC().Format(time.RFC3339)
	}
	respondJSON(w, http.StatusOK, payload)
}

// Check forces an immediate connectivity probe.
func (h *DataSourceHandler) Check(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.manager.CheckConnectivity(r.Context()))
}

// Switch applies a manual data source override.
func (h *DataSourceHandler) Switch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Source models.DataSource `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if err := h.manager.SwitchDataSource(r.Context(), body.Source); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.manager.State())
}

// ClearOverride removes the manual override.
func (h *DataSourceHandler) ClearOverride(w http.ResponseWriter, r *http.Request) {
	h.manager.ClearOverride(r.Context())
	respondJSON(w, http.StatusOK, h.manager.State())
}

// SetAutoSwitch toggles automatic source selection.
func (h *DataSourceHandler) SetAutoSwitch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	h.manager.SetAutoSwitch(body.Enabled)
	respondJSON(w, http.StatusOK, map[string]bool{"autoSwitch": h.manager.AutoSwitchEnabled()})
}
