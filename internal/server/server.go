// Package server exposes the REST API: auth endpoints, user and employee
// administration, asset and stock management, the loan lifecycle, and the
// audit trail. Authorization happens in three gates: the session gate
// (middleware), the role gate (per handler), and the ownership gate
// (store-backed, inside the loan engine).
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bobmcallan/depot/internal/auth"
	"github.com/bobmcallan/depot/internal/common"
	"github.com/bobmcallan/depot/internal/services/loan"
	"github.com/bobmcallan/depot/internal/storage"
	"github.com/bobmcallan/depot/internal/storage/sigstore"
)

// Server wraps the HTTP server and its collaborators.
type Server struct {
	config  *common.Config
	logger  *common.Logger
	store   *storage.Store
	tokens  *auth.TokenService
	loans   *loan.Engine
	sigs    *sigstore.Store
	limiter *rateLimiter

	server       *http.Server
	shutdownChan chan struct{}
}

// NewServer creates the REST API server.
func NewServer(config *common.Config, logger *common.Logger, store *storage.Store, tokens *auth.TokenService, loans *loan.Engine, sigs *sigstore.Store) *Server {
	s := &Server{
		config:  config,
		logger:  logger,
		store:   store,
		tokens:  tokens,
		loans:   loans,
		sigs:    sigs,
		limiter: newRateLimiter(&config.RateLimit),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port),
		Handler:      s.applyMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// SetShutdownChannel sets the channel that will be signaled when HTTP shutdown is requested.
func (s *Server) SetShutdownChannel(ch chan struct{}) {
	s.shutdownChan = ch
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server (blocking).
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.server.Addr).
		Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// meta builds the audit attribution for a request.
func requestMeta(r *http.Request) loan.Meta {
	return loan.Meta{
		IP:        clientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
	}
}
