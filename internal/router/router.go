package router

import (
	"net/http"
	"time"

	"injest/telemetry-agent/internal/handler"

	"go.uber.org/zap"
)

func New(telemetryHandler *handler.TelemetryHandler, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", telemetryHandler.Health)
	mux.HandleFunc("GET /api/v1/status", telemetryHandler.Status)
	mux.HandleFunc("GET /api/v1/history/{type}", telemetryHandler.History)

	mux.HandleFunc("POST /api/v1/events/{type}", telemetryHandler.SubmitEvent)
	mux.HandleFunc("POST /api/v1/power", telemetryHandler.ReportPower)
	mux.HandleFunc("PUT /api/v1/settings", telemetryHandler.UpdateSettings)

	return withCORS(withLogging(mux, logger))
}

// statusRecorder captures the response code for the request log
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withLogging(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// withCORS lets local tools and browser extensions call the API
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
