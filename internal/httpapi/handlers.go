package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/jetfinder/internal/engine"
	"github.com/DoyleJ11/jetfinder/internal/finder"
	"github.com/DoyleJ11/jetfinder/internal/types"
	"github.com/DoyleJ11/jetfinder/internal/ws"
)

// Finder is what the local UI surface needs from the pipeline.
type Finder interface {
	ws.Controller
	IsScanning() bool
	IsUserRegistered(ctx context.Context) (bool, error)
	TaskForSpotID(ctx context.Context, id int) (engine.TaskItem, bool)
}

type handlers struct {
	f      Finder
	logger *zap.Logger
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *handlers) state(w http.ResponseWriter, r *http.Request) {
	v, err := h.f.Session().View(r.Context())
	if err != nil {
		h.fail(w, http.StatusServiceUnavailable, err)
		return
	}
	registered, err := h.f.IsUserRegistered(r.Context())
	if err != nil {
		h.logger.Warn("reading registration", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, struct {
		types.ServerMessage
		Scanning   bool `json:"scanning"`
		Registered bool `json:"registered"`
	}{
		ServerMessage: types.NewStateMessage(v.Snapshot),
		Scanning:      h.f.IsScanning(),
		Registered:    registered,
	})
}

func (h *handlers) task(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "spotID"))
	if err != nil {
		h.fail(w, http.StatusBadRequest, errors.New("spot id must be a number"))
		return
	}
	task, ok := h.f.TaskForSpotID(r.Context(), id)
	if !ok {
		h.fail(w, http.StatusNotFound, errors.New("task not found"))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *handlers) loadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.f.LoadGameConfig(r.Context())
	if err != nil {
		h.fail(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.fail(w, http.StatusBadRequest, errors.New("bad json"))
		return
	}

	msg, err := h.f.SendWinnerName(r.Context(), body.Name)
	switch {
	case errors.Is(err, finder.ErrEmptyName):
		h.fail(w, http.StatusBadRequest, err)
		return
	case err != nil:
		h.fail(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ServerMessage{Type: types.MsgRegistered, Message: msg})
}

func (h *handlers) resetCookies(w http.ResponseWriter, r *http.Request) {
	if err := h.f.ResetCookies(r.Context()); err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) startScan(w http.ResponseWriter, r *http.Request) {
	// The start loop outlives this request.
	h.f.StartScanning(context.WithoutCancel(r.Context()))
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) stopScan(w http.ResponseWriter, r *http.Request) {
	h.f.StopScanning()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) fail(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, types.NewErrorMessage(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
