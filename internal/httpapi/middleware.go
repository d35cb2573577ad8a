package httpapi

import (
	"log/slog"
	"net/http"
	"time"
)

// RequestObserver receives one call per served request.
type RequestObserver interface {
	ObserveHTTP(route string, status int, d time.Duration)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler, logger *slog.Logger, obs RequestObserver) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		elapsed := time.Since(start)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		if obs != nil {
			obs.ObserveHTTP(route, sr.status, elapsed)
		}

		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", sr.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}
