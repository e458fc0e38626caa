package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/jetfinder/internal/ws"
)

// SetupRoutes builds the local UI surface. originPatterns is passed to the
// websocket origin check.
func SetupRoutes(f Finder, originPatterns []string, logger *zap.Logger) http.Handler {
	h := &handlers{f: f, logger: logger.Named("http")}
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/state", h.state)
	r.Get("/tasks/{spotID}", h.task)
	r.Post("/config/load", h.loadConfig)
	r.Post("/register", h.register)
	r.Post("/cookies/reset", h.resetCookies)
	r.Post("/scan/start", h.startScan)
	r.Post("/scan/stop", h.stopScan)
	r.Get("/ws", ws.Handler(f, originPatterns, logger))
	return r
}
