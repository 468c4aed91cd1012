// Package core provides the API chassis for the Inkwell entitlement service.
// It creates the chi router and enforces cross-cutting concerns -- panic
// recovery, request IDs, logging, authentication -- before requests reach
// domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"inkwell/internal/config"
)

// Authenticator resolves a bearer token to an account ID. Implemented by
// auth.SessionAuthenticator; injected for testability.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (accountID string, err error)
}

// RouteRegistrar mounts a handler's routes on the given router. Handlers
// register themselves through this indirection to avoid import cycles
// between core and handler packages.
type RouteRegistrar func(r chi.Router)

// Server encapsulates the router and cross-cutting dependencies, allowing
// for easy injection during testing.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Authenticator Authenticator

	// V1Routes are mounted under /v1 behind the auth middleware.
	V1Routes []RouteRegistrar
	// PublicRoutes are mounted at the root without authentication
	// (webhooks, health).
	PublicRoutes []RouteRegistrar

	router *chi.Mux
}

// NewServer initializes the server chassis. The caller mounts routes via
// MountRoutes after registering handlers.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// MountRoutes defines the top-level routing hierarchy.
//
// Middleware ordering:
//  1. Recoverer      - outermost, catches all panics
//  2. ContextTimeout - soft deadline for the whole request
//  3. RequestID      - correlation ID for tracing
//  4. RequestLogger  - structured logging with redacted auth headers
//
// Authentication applies inside /v1 only; webhook and health routes stay
// public (webhooks carry their own signature verification).
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(s.AuthMiddleware)
		for _, register := range s.V1Routes {
			register(r)
		}
	})

	for _, register := range s.PublicRoutes {
		register(s.router)
	}

	s.router.Get("/health", s.HandleHealth)
}

// HandleHealth is a minimal liveness probe.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{"status": "ok"}})
}

// requestTimeout returns the configured soft request deadline.
func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return 30 * time.Second
}
