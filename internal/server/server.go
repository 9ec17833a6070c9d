// Package server exposes the pipeline's health surface over HTTP: the
// detailed status snapshot, a liveness probe for dashboards, and the
// Prometheus registry. The listener is optional — the pipeline runs
// headless when no status address is configured.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/koustreak/hydrant/internal/logger"
)

// StatusSource supplies the endpoints' data.
type StatusSource interface {
	// DetailedStatus renders the status snapshot as JSON.
	DetailedStatus() ([]byte, error)

	// Healthy reports whether at least one pool slot is usable.
	Healthy() bool
}

// Server is the optional status listener.
type Server struct {
	http *http.Server
	log  *logger.Logger
}

// New builds the router. metricsHandler may be nil to omit /metrics.
func New(addr string, src StatusSource, metricsHandler http.Handler, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}

	r := chi.NewRouter()

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		body, err := src.DetailedStatus()
		if err != nil {
			http.Error(w, "status unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if !src.Healthy() {
			http.Error(w, "no healthy connections", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves in the background. Listener errors other than a clean
// shutdown are logged, never fatal — the status surface is an
// observability channel.
func (s *Server) Start() {
	go func() {
		s.log.Infof("Status server listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("Status server failed: %v", err)
		}
	}()
}

// Shutdown drains the listener.
func (s *Server) Shutdown(ctx context.Context) {
	s.http.Shutdown(ctx)
}
