package httpapi

import (
	"log/slog"
	"net/http"
	"time"
)

type Deps struct {
	DeviceID string
	Location string
	Started  time.Time
	Status   StatusSource
	// Metrics serves /metrics when non-nil.
	Metrics http.Handler
}

func NewMux(deps Deps, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Started.IsZero() {
		deps.Started = time.Now()
	}
	h := &handlers{deps: deps, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /stats", h.handleStats)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}
	return mux
}
