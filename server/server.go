// Package server implements the guild HTTP server: the operator REST API
// and the SSE feed of observer-channel messages.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/GoCodeAlone/guild/comms"
	"github.com/GoCodeAlone/guild/config"
	"github.com/GoCodeAlone/guild/server/api"
	"github.com/GoCodeAlone/guild/server/ws"
)

const shutdownTimeout = 10 * time.Second

// Server is the guild HTTP server.
type Server struct {
	cfg     config.ServerConfig
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger

	org api.Organization
	bus comms.Bus
	hub *ws.Hub

	routesOnce  sync.Once
	stopForward func()

	startTime time.Time
	version   string
}

// New creates a new Server over org. Messages published on bus are
// streamed to clients of GET /events.
func New(cfg config.ServerConfig, org api.Organization, bus comms.Bus, ver string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger,
		org:       org,
		bus:       bus,
		hub:       ws.NewHub(logger),
		startTime: time.Now(),
		version:   ver,
	}
}

// Handler returns the fully routed HTTP handler.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.registerRoutes)
	return s.mux
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	h := &api.Handlers{
		Org:     s.org,
		Bus:     s.bus,
		Logger:  s.logger,
		Version: s.version,
	}
	h.RegisterRoutes(s.mux)
	s.mux.HandleFunc("GET /events", s.hub.ServeSSE)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	s.stopForward = s.hub.Forward(s.bus)
}

// Start registers routes and begins listening. It blocks until the server
// stops; a graceful Stop returns nil.
func (s *Server) Start() error {
	s.prepare()
	return s.serve()
}

func (s *Server) prepare() {
	addr := s.cfg.Addr
	if addr == "" {
		addr = ":9090"
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
}

func (s *Server) serve() error {
	s.logger.Info("server listening", slog.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.stopForward != nil {
		s.stopForward()
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Run serves until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	s.prepare()
	errCh := make(chan error, 1)
	go func() { errCh <- s.serve() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.Stop(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

// Uptime reports how long the server has existed.
func (s *Server) Uptime() time.Duration { return time.Since(s.startTime) }
