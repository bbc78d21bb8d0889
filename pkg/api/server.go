// Package api exposes a room store over a JSON REST API.
//
// Routes live under /api/v1 and are guarded by the X-API-Key header when a
// key is configured. Prometheus metrics are served unauthenticated at /metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultShutdownTimeout = 10 * time.Second

// NewRouter builds the chi router for s.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Link", "Location", requestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Prometheus metrics endpoint (unprotected for scraping)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.metrics.InstrumentAuthMiddleware(apiKeyMiddleware(s.config.APIKey)))

		r.Get("/health", s.metrics.InstrumentHandler("GET", "/api/v1/health", s.handleHealth))
		r.Get("/stats", s.metrics.InstrumentHandler("GET", "/api/v1/stats", s.handleStats))

		r.Post("/rooms", s.metrics.InstrumentHandler("POST", "/api/v1/rooms", s.handleCreateRoom))
		r.Get("/rooms/{id}", s.metrics.InstrumentHandler("GET", "/api/v1/rooms/{id}", s.handleGetRoom))
		r.Put("/rooms/{id}", s.metrics.InstrumentHandler("PUT", "/api/v1/rooms/{id}", s.handleUpdateRoom))
		r.Delete("/rooms/{id}", s.metrics.InstrumentHandler("DELETE", "/api/v1/rooms/{id}", s.handleDeleteRoom))
	})

	return r
}

// StartServer serves the API on config.Addr until ctx is cancelled, then
// shuts down gracefully.
func StartServer(ctx context.Context, rooms RoomService, config ServerConfig, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", config.Addr, err)
	}
	return Serve(ctx, ln, rooms, config, logger)
}

// Serve is StartServer on an existing listener.
func Serve(ctx context.Context, ln net.Listener, rooms RoomService, config ServerConfig, logger *zap.Logger) error {
	server := NewServer(rooms, config, NewMetrics(), logger)
	httpServer := &http.Server{
		Handler:           NewRouter(server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	updaterCtx, stopUpdater := context.WithCancel(ctx)
	defer stopUpdater()
	go server.startMetricsUpdater(updaterCtx)

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("starting roomdb REST API server",
			zap.String("addr", ln.Addr().String()),
			zap.Bool("auth", config.APIKey != ""))
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := config.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	server.logger.Info("shutting down API server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
