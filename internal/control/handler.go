package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aristath/autopilot/internal/logging"
)

type handler struct {
	surface Surface
	logger  *slog.Logger
}

type initializeRequest struct {
	PlanID string `json:"planId"`
}

// NewHandler serves s:
//
//	POST /executions                 Initialize ({"planId": "..."})
//	POST /executions/{id}/start      Start
//	POST /executions/{id}/pause      Pause
//	POST /executions/{id}/resume     Resume
//	POST /executions/{id}/cancel     Cancel
//	GET  /executions/{id}            GetStatus
//	GET  /executions/{id}/metrics    GetMetrics
//	GET  /healthz                    liveness
func NewHandler(s Surface, logger *slog.Logger) http.Handler {
	h := &handler{surface: s, logger: logging.OrDiscard(logger)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /executions", h.initialize)
	mux.HandleFunc("POST /executions/{id}/start", h.lifecycle(s.Start))
	mux.HandleFunc("POST /executions/{id}/pause", h.lifecycle(s.Pause))
	mux.HandleFunc("POST /executions/{id}/resume", h.lifecycle(s.Resume))
	mux.HandleFunc("POST /executions/{id}/cancel", h.lifecycle(s.Cancel))
	mux.HandleFunc("GET /executions/{id}", h.status)
	mux.HandleFunc("GET /executions/{id}/metrics", h.metrics)
	mux.HandleFunc("GET /healthz", h.healthz)
	return mux
}

func (h *handler) initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlanID == "" {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "request body must be {\"planId\": \"...\"}", Code: codeBadRequest})
		return
	}

	exec, err := h.surface.Initialize(r.Context(), req.PlanID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, exec)
}

func (h *handler) lifecycle(op func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r.Context(), r.PathValue("id")); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.surface.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *handler) metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.surface.GetMetrics(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, body := classify(err)
	if code == http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		h.logger.Error("control request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		h.logger.Debug("control request rejected", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
	}
	h.writeJSON(w, code, body)
}

func (h *handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("failed to write response", "error", err)
	}
}
