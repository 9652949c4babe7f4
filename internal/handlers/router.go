package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/storesync/client/internal/middleware"
)

// NewRouter assembles the control API. All routes except health and
// the WebSocket upgrade sit behind the API key check.
func NewRouter(
	health *HealthHandler,
	datasource *DataSourceHandler,
	sync *SyncHandler,
	auth *AuthHandler,
	ws *WebSocketHandler,
	apiKey string,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(15 * time.Minute))

	r.Get("/api/health", health.HealthCheck)
	r.Get("/api/ws", ws.Serve)

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(apiKey))

		r.Get("/api/status", datasource.Status)
		r.Post("/api/datasource/check", datasource.Check)
		r.Post("/api/datasource/switch", datasource.Switch)
		r.Delete("/api/datasource/override", datasource.ClearOverride)
		r.Post("/api/datasource/auto", datasource.SetAutoSwitch)

		r.Post("/api/sync/trigger", sync.Trigger)
		r.Post("/api/sync/tables/{table}", sync.TriggerTable)
		r.Get("/api/sync/status", sync.Status)

		r.Post("/api/auth/login", auth.Login)
		r.Post("/api/auth/logout", auth.Logout)
	})

	return r
}
