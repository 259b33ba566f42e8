package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/katsuma/jukeboxx/internal/config"
	"github.com/katsuma/jukeboxx/internal/httpserver/deps"
	"github.com/katsuma/jukeboxx/internal/httpserver/mw"
	"github.com/katsuma/jukeboxx/internal/httpserver/routes"
	"github.com/katsuma/jukeboxx/internal/logger"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	http    *http.Server
	logger  logger.Logger
	started time.Time
}

// NewRouter builds the router with global middlewares and every route.
// Request timeouts are applied per route group so websockets stay open.
func NewRouter(loggerClient logger.Logger, d deps.Deps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.GetHead)
	r.Use(middleware.RequestID) // X-Request-ID on each request
	r.Use(middleware.Recoverer) // never crash the process on panic
	r.Use(mw.Log(loggerClient))

	routes.RegisterAll(r, d)
	return r
}

// New builds the HTTP server (router, middlewares, route registration).
func New(cfg *config.Config, loggerClient logger.Logger, d deps.Deps) *Server {
	s := &http.Server{
		Addr:              cfg.ListenPort,
		Handler:           NewRouter(loggerClient, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return &Server{
		http:    s,
		logger:  loggerClient,
		started: d.StartTime,
	}
}

// Start runs the HTTP server (blocks until error or shutdown).
func (s *Server) Start() error {
	s.logger.Infof("HTTP server listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	// http.ErrServerClosed is expected on graceful shutdown.
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server with the provided context deadline.
// Hijacked websocket connections are not tracked by Shutdown; they end when
// their playlist closes.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down...")
	return s.http.Shutdown(ctx)
}
