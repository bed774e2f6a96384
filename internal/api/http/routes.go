package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new HTTP router with configured routes, middleware, and handlers.
// It sets up the probes, task routes, and Prometheus metrics endpoint.
func NewRouter(taskHandler *TaskHandler, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/", taskHandler.Index)
	r.Get("/killyourself", taskHandler.KillYourself)

	r.Post("/download-asset", taskHandler.DownloadAsset)
	r.Get("/download-kill", taskHandler.DownloadKill)
	r.Post("/download-kill", taskHandler.DownloadKill)
	r.Get("/report", taskHandler.Report)
	r.Post("/report", taskHandler.Report)
	r.Post("/generate-resolutions", taskHandler.GenerateResolutions)

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestLogger logs every request at debug level. The report endpoint is polled
// continuously, so info would flood the log.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Debug("request served",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
