// Package api exposes the greenhouse controller's thin HTTP surface:
// a health probe, the last compiled hourly report, a live telemetry
// websocket feed, and the Prometheus scrape endpoint. It is grounded on
// the retrieved Tutu-Engine-tutuengine internal/api/server.go chi
// router (middleware stack, promhttp.Handler wiring, Handler() method
// returning http.Handler for httptest-friendly composition).
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReportSource supplies the most recently compiled report body.
type ReportSource interface {
	Snapshot() []byte
}

// HealthSource reports whether the controller considers itself healthy,
// per spec.md §3.6's heartbeat-driven system health state.
type HealthSource interface {
	Healthy() bool
}

// Server is the greenhouse controller's HTTP API.
type Server struct {
	report  ReportSource
	health  HealthSource
	hub     *Hub
	reg     *prometheus.Registry
	log     *slog.Logger
}

// New returns a Server. reg may be nil to disable the /metrics route.
func New(report ReportSource, health HealthSource, hub *Hub, reg *prometheus.Registry, logger *slog.Logger) *Server {
	return &Server{report: report, health: health, hub: hub, reg: reg, log: logger}
}

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/report", s.handleReport)

	if s.hub != nil {
		r.Get("/ws", s.hub.ServeHTTP)
	}

	if s.reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	}

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	healthy := s.health == nil || s.health.Healthy()
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"healthy": healthy})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	body := s.report.Snapshot()
	if body == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no report compiled yet"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
