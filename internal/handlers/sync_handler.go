package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storesync/client/internal/models"
	"github.com/storesync/client/internal/syncengine"
)

// Syncer is the slice of the sync engine the control API exposes.
type Syncer interface {
	SyncAll(ctx context.Context) (*models.SyncSummary, error)
	SyncTable(ctx context.Context, table string, direction models.SyncDirection) error
	Status(ctx context.Context) ([]models.TableSyncMetadata, error)
	InProgress() bool
	LastFullSync(ctx context.Context) (time.Time, error)
}

// SyncHandler triggers and inspects synchronization runs.
type SyncHandler struct {
	syncer Syncer
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(syncer Syncer) *SyncHandler {
	return &SyncHandler{syncer: syncer}
}

// Trigger runs a full sync synchronously and returns its summary. A
// run already in flight yields 409; an unreachable server yields 503.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	summary, err := h.syncer.SyncAll(r.Context())
	switch {
	case errors.Is(err, syncengine.ErrSyncInProgress):
		respondError(w, http.StatusConflict, "A sync is already in progress.")
	case errors.Is(err, syncengine.ErrServerUnreachable):
		respondError(w, http.StatusServiceUnavailable, "Server is unreachable.")
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		respondJSON(w, http.StatusOK, summary)
	}
}

// TriggerTable syncs a single named table. The optional "direction"
// query parameter limits the run to upload or download.
func (h *SyncHandler) TriggerTable(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	direction := models.SyncDirection(r.URL.Query().Get("direction"))
	err := h.syncer.SyncTable(r.Context(), table, direction)
	switch {
	case errors.Is(err, syncengine.ErrSyncInProgress):
		respondError(w, http.StatusConflict, "A sync is already in progress.")
	case errors.Is(err, syncengine.ErrServerUnreachable):
		respondError(w, http.StatusServiceUnavailable, "Server is unreachable.")
	case err != nil:
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondJSON(w, http.StatusOK, map[string]string{"table": table, "status": "synced"})
	}
}

// Status reports per-table sync metadata.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.syncer.Status(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"inProgress": h.syncer.InProgress(),
		"tables":     status,
	})
}
