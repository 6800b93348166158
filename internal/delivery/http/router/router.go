package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/user/lumos/internal/delivery/http/handler"
	"github.com/user/lumos/internal/delivery/http/middleware"
	"github.com/user/lumos/pkg/logger"
)

// requestTimeout covers the analyzer's full retry schedule.
const requestTimeout = 60 * time.Second

func New(h *handler.Handler, l *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger.OrNop(l)))
	r.Use(middleware.Metrics)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HandleHealthCheck)
		r.Post("/relay", h.HandleRelay)
		r.Get("/status", h.HandleGetAnalysisStatus)
	})

	return r
}
