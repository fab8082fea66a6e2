// Package devserver is an in-memory implementation of the operations backend
// for local development and integration tests. It issues session tokens,
// refreshes them, and serves schemaless CRUD routes for the resource
// catalogue.
package devserver

import (
	"fmt"
	"net/http"

	"github.com/chinmina/opsdesk/internal/audit"
	"github.com/chinmina/opsdesk/internal/config"
	"github.com/chinmina/opsdesk/internal/observe"
	"github.com/chinmina/opsdesk/internal/resource"
	"github.com/google/uuid"
	"github.com/justinas/alice"
)

// Request bodies are small JSON documents. This is not configurable.
const requestLimitBytes = int64(64 << 10) // 64 KB

type Server struct {
	cfg       config.DevServerConfig
	issuer    *Issuer
	store     *Store
	catalogue *resource.Catalogue

	// uid of the single login account
	uid string
}

func New(cfg config.DevServerConfig, catalogue *resource.Catalogue) *Server {
	names := []string{}
	for _, r := range catalogue.All() {
		names = append(names, r.Name)
	}

	return &Server{
		cfg:       cfg,
		issuer:    NewIssuer(cfg),
		store:     NewStore(names...),
		catalogue: catalogue,
		uid:       uuid.NewString(),
	}
}

// Issuer returns the token issuer used by the server.
func (s *Server) Issuer() *Issuer {
	return s.issuer
}

// Routes configures the server's HTTP handler.
func (s *Server) Routes() (http.Handler, error) {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	authorizer, err := Authorizer(s.cfg)
	if err != nil {
		return nil, fmt.Errorf("authorizer configuration failed: %w", err)
	}

	requestLimiter := maxRequestSize(requestLimitBytes)
	auditor := audit.Middleware()

	standardRouteMiddleware := alice.New(requestLimiter, auditor)
	authorizedRouteMiddleware := alice.New(requestLimiter, auditor, authorizer)

	mux.Handle("POST /auth/login", standardRouteMiddleware.Then(s.handleLogin()))
	mux.Handle("POST /auth/refresh-token", standardRouteMiddleware.Then(s.handleRefresh()))

	mux.Handle("GET /{resource}", authorizedRouteMiddleware.Then(s.handleList()))
	mux.Handle("POST /{resource}", authorizedRouteMiddleware.Then(s.handleCreate()))
	mux.Handle("GET /{resource}/{id}", authorizedRouteMiddleware.Then(s.handleGet()))
	mux.Handle("PUT /{resource}/{id}", authorizedRouteMiddleware.Then(s.handleUpdate()))
	mux.Handle("DELETE /{resource}/{id}", authorizedRouteMiddleware.Then(s.handleDelete()))

	// healthchecks are not included in telemetry or authorization
	muxWithoutTelemetry.Handle("GET /healthcheck", alice.New(requestLimiter).Then(handleHealthCheck()))

	return mux, nil
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}
