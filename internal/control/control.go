// Package control exposes the session controller over HTTP.
//
//	POST /session/start  start a session (202, or 409 when not idle)
//	POST /session/stop   stop the active session (200)
//	GET  /session        current snapshot (200)
//
// Every response body is JSON and carries the controller snapshot.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/liveguide/internal/session"
	"github.com/MrWong99/liveguide/pkg/audio/device"
)

// Controller is the subset of [session.Controller] the handlers drive.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Snapshot() session.Snapshot
}

type response struct {
	Session session.Snapshot `json:"session"`
	Error   string           `json:"error,omitempty"`
}

// Handler serves the session control endpoints.
type Handler struct {
	ctrl   Controller
	logger *slog.Logger
}

// New creates a [Handler]. A nil logger uses [slog.Default].
func New(ctrl Controller, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ctrl: ctrl, logger: logger}
}

// Register adds the control routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /session/start", h.start)
	mux.HandleFunc("POST /session/stop", h.stop)
	mux.HandleFunc("GET /session", h.status)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	// The session outlives the request that started it.
	err := h.ctrl.Start(context.WithoutCancel(r.Context()))
	if err != nil {
		status := statusFor(err)
		h.logger.Warn("control: start rejected", "status", status, "err", err)
		h.write(w, status, err)
		return
	}
	h.write(w, http.StatusAccepted, nil)
}

func (h *Handler) stop(w http.ResponseWriter, _ *http.Request) {
	if err := h.ctrl.Stop(); err != nil {
		h.logger.Warn("control: stop released resources with errors", "err", err)
		h.write(w, http.StatusInternalServerError, err)
		return
	}
	h.write(w, http.StatusOK, nil)
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	h.write(w, http.StatusOK, nil)
}

func (h *Handler) write(w http.ResponseWriter, status int, err error) {
	res := response{Session: h.ctrl.Snapshot()}
	if err != nil {
		res.Error = err.Error()
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.logger.Debug("control: write response", "err", err)
	}
}

// statusFor maps a Start error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, device.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrChannel):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrAborted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
