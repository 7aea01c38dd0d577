// internal/api/server.go
// The HTTP surface of the switchboard: router assembly, middleware and
// server lifecycle. Routing of live messages happens in internal/hub; this
// package only carries requests to it.
package api

import (
	"compress/flate"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/nats-io/nats.go"

	"github.com/cardroom/switchboard/internal/auth"
	"github.com/cardroom/switchboard/internal/catalog"
	"github.com/cardroom/switchboard/internal/config"
	"github.com/cardroom/switchboard/internal/hub"
	"github.com/cardroom/switchboard/internal/logger"
)

const (
	requestTimeout  = 60 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server ties the hub, the room catalog and the token store to the HTTP
// surface. Construct it with NewServer, then Start and Stop it exactly once.
type Server struct {
	config  *config.Config
	hub     *hub.Hub
	catalog *catalog.Catalog
	tokens  *auth.TokenStore
	nc      *nats.Conn

	router     *chi.Mux
	httpServer *http.Server
	waitGroup  sync.WaitGroup
	logger     *logger.Logger
}

// NewServer assembles the router and every route. nc may be nil when the
// server runs without a NATS connection; the health endpoint then reports
// it as disconnected.
func NewServer(cfg *config.Config, h *hub.Hub, c *catalog.Catalog, tokens *auth.TokenStore, nc *nats.Conn, logger *logger.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Compress(flate.DefaultCompression))
	router.Use(middleware.StripSlashes)
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(requestTimeout))

	s := &Server{
		config:  cfg,
		hub:     h,
		catalog: c,
		tokens:  tokens,
		nc:      nc,
		router:  router,
		logger:  logger,
	}

	router.Get("/", s.handleIndex)
	router.Get("/health", s.handleHealth)

	router.Group(func(r chi.Router) {
		r.Use(tokens.Middleware)
		r.Get("/ws", s.handleWebSocket)

		r.Route("/api", func(r chi.Router) {
			r.Get("/online", s.handleOnline)
			r.Get("/presence/{username}", s.handlePresence)
			r.Post("/announce", s.handleAnnounce)

			r.Route("/rooms", func(r chi.Router) {
				r.Post("/", s.handleCreateRoom)
				r.Get("/", s.handleListRooms)
				r.Get("/{id}", s.handleGetRoom)
				r.Put("/{id}", s.handleUpdateRoom)
				r.Delete("/{id}", s.handleDeleteRoom)
				r.Post("/{id}/join", s.handleJoinRoom)
				r.Post("/{id}/leave", s.handleLeaveRoom)
			})
		})
	})

	router.NotFound(s.handle404)
	router.MethodNotAllowed(s.handle405)

	return s
}

// Router exposes the assembled routes, mainly so tests can serve them from
// an httptest server.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start begins serving HTTP on the configured address. It returns once the
// listener goroutine is launched; ListenAndServe errors are logged, not
// returned.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Address, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Error serving HTTP: %v", err)
		}
	}()

	s.logger.Infof("Server listening on %s (version %s)", s.httpServer.Addr, s.config.Version)
	return nil
}

// Stop shuts down the listener, stops the hub (retiring every remaining
// client) and drains the NATS connection. Shutdown ignores hijacked
// WebSocket connections; closing the hub is what tears those down.
func (s *Server) Stop() error {
	s.logger.Info("Stopping server")

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Errorf("Error shutting down HTTP listener: %v", err)
		}
	}

	s.hub.Stop()

	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.logger.Errorf("Error draining NATS connection: %v", err)
		}
	}

	s.waitGroup.Wait()
	s.logger.Info("Server stopped")
	return nil
}
