// Package httpserver wraps the standard library HTTP server with the
// listener configuration and timeouts used across the service.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/SourcePulse/fetch_layer/internal/config"
	"github.com/SourcePulse/fetch_layer/pkg/logger"
)

// Server owns one configured *http.Server.
type Server struct {
	srv *http.Server
	log *logger.Logger
}

// New builds a server for the given handler.
func New(cfg config.ServerConfig, log *logger.Logger, handler http.Handler) *Server {
	if log == nil {
		log = logger.NewDefault("httpserver")
	}
	return &Server{
		log: log,
		srv: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.srv.Addr }

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
