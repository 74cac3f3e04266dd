package health

import (
	"encoding/json"
	"net/http"
)

// Handler serves health and probe endpoints over a State.
type Handler struct {
	state *State
}

// NewHandler returns a handler reading state.
func NewHandler(state *State) *Handler {
	return &Handler{state: state}
}

// Health writes the full report: 200 when ok, 503 otherwise.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	report := h.state.Snapshot()
	code := http.StatusServiceUnavailable
	if report.Status == StatusOK {
		code = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// Healthz handles liveness probes.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readyz handles readiness probes.
func (h *Handler) Readyz(w http.ResponseWriter, _ *http.Request) {
	if h.state.Status() == StatusOK {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
