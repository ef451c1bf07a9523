// Package httpapi implements the C8 HTTP surface: chat endpoints, the
// permission/registry introspection endpoints, model switching, thread
// closing, and health/metrics, grounded on internal/gateway/http_server.go's
// ServeMux + promhttp wiring and internal/web's middleware idiom.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexusgw/gateway/internal/auth"
	"github.com/nexusgw/gateway/internal/memorystore"
	"github.com/nexusgw/gateway/internal/orchestrator"
	"github.com/nexusgw/gateway/internal/permissions"
	"github.com/nexusgw/gateway/internal/registry"
)

// Server wires the Orchestrator and its collaborators behind an
// http.Handler. Construct one per process; it is safe for concurrent use.
type Server struct {
	Orchestrator *orchestrator.Orchestrator
	Memory       *memorystore.Store
	Resolver     *permissions.Resolver
	Registry     *registry.Registry
	Selector     *ModelSelector
	Validator    *auth.PrincipalValidator
	Logger       *slog.Logger
	StartedAt    time.Time
}

// Mux builds the routed, middleware-wrapped handler for this server.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.Handle("POST /chat", chain(http.HandlerFunc(s.handleChat),
		optionalPrincipalMiddleware(s.Validator, s.Logger)))
	mux.Handle("POST /v1/chat", chain(http.HandlerFunc(s.handleChat),
		requirePrincipalMiddleware(s.Validator, s.Logger)))

	mux.Handle("GET /permissions", chain(http.HandlerFunc(s.handlePermissions),
		requirePrincipalMiddleware(s.Validator, s.Logger)))
	mux.Handle("GET /models", http.HandlerFunc(s.handleModels))
	mux.Handle("POST /switch-model", http.HandlerFunc(s.handleSwitchModel))
	mux.Handle("POST /threads/{id}/close", http.HandlerFunc(s.handleCloseThread))

	return chain(mux,
		recoveryMiddleware(s.Logger),
		requestIDMiddleware,
		loggingMiddleware(s.Logger),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.StartedAt).String(),
	})
}
