package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"substation-sim/internal/simulator"
	"substation-sim/internal/transmit"
)

// StatusSource is the running driver as seen by the status endpoints.
type StatusSource interface {
	State() simulator.State
	Iteration() int64
	Stats() transmit.Stats
}

type statusResponse struct {
	Device    string  `json:"device"`
	Location  string  `json:"location"`
	State     string  `json:"state"`
	Iteration int64   `json:"iteration"`
	UptimeSec float64 `json:"uptime_s"`
	transmit.Stats
}

type handlers struct {
	deps   Deps
	logger *slog.Logger
}

func (h *handlers) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Status != nil && h.deps.Status.State() == simulator.Stopped {
		writeJSON(w, h.logger, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handleStats(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Status == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "simulator not attached")
		return
	}
	src := h.deps.Status
	writeJSON(w, h.logger, http.StatusOK, statusResponse{
		Device:    h.deps.DeviceID,
		Location:  h.deps.Location,
		State:     src.State().String(),
		Iteration: src.Iteration(),
		UptimeSec: time.Since(h.deps.Started).Round(time.Second).Seconds(),
		Stats:     src.Stats(),
	})
}
