// Package api implements the HTTP status API and Prometheus metrics endpoint.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psaab/homegw/pkg/controller"
	"github.com/psaab/homegw/pkg/logging"
)

// Config configures the API server.
type Config struct {
	Addr string
	// Status returns the controller's latest snapshot.
	Status func() *controller.Status
	// Registry holds the controller metrics. A private registry is
	// created when nil.
	Registry *prometheus.Registry
	EventBuf *logging.EventBuffer
	Auth     *AuthConfig // nil = no authentication
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	status     func() *controller.Status
	eventBuf   *logging.EventBuffer
	startTime  time.Time
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	s := &Server{
		status:    cfg.Status,
		eventBuf:  cfg.EventBuf,
		startTime: time.Now(),
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	registry.MustRegister(
		newCollector(s),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/v1/status", s.statusHandler)
	mux.HandleFunc("GET /api/v1/status/{section}", s.statusSectionHandler)
	mux.HandleFunc("GET /api/v1/events", s.eventsHandler)
	mux.HandleFunc("GET /api/v1/events/stream", s.eventStreamHandler)

	var handler http.Handler = mux
	if cfg.Auth != nil {
		handler = authMiddleware(*cfg.Auth, mux)
	}
	s.handler = handler
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP API server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) snapshot() *controller.Status {
	if s.status == nil {
		return nil
	}
	return s.status()
}
