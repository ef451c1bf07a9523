package httpapi

import (
	"encoding/json"
	"net/http"
)

// handlePermissions returns the calling principal's resolved tool set,
// honoring a precomputed fxn claim over live ABAC resolution exactly as
// the orchestrator does at request time.
func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok || principal == nil {
		writeError(w, http.StatusUnauthorized, "auth_missing", "credential required")
		return
	}

	names := principal.PermittedTools
	if !principal.HasPrecomputedTools() {
		names = s.Resolver.Resolve(principal)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":        principal.UserID,
		"permitted_tools": names,
	})
}

// handleModels returns a snapshot of every provider's friendly->api model
// map, per spec.md §4.8's GET /models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	snapshot := map[string]any{}
	for _, provider := range s.Registry.Providers() {
		snapshot[provider] = s.Registry.List(provider)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active": s.Selector.Current(),
		"models": snapshot,
	})
}

type switchModelRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// handleSwitchModel swaps the gateway's active (provider, model) pair after
// a connectivity test, rolling back to the previous selection on failure
// (spec.md §4.8's POST /switch-model, C1's ModelSwitcher semantics).
func (s *Server) handleSwitchModel(w http.ResponseWriter, r *http.Request) {
	var body switchModelRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Provider == "" || body.Model == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "provider and model are required")
		return
	}

	resolved, err := s.Selector.Switch(r.Context(), body.Provider, body.Model)
	if err != nil {
		writeError(w, http.StatusBadRequest, "switch_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":       s.Selector.Current(),
		"capabilities": resolved.Capabilities,
	})
}

// handleCloseThread removes the active-thread view for the given thread id.
// The audit projection is left untouched and is stamped closed by the
// memory store itself.
func (s *Server) handleCloseThread(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if threadID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "thread id is required")
		return
	}
	if err := s.Memory.CloseThread(r.Context(), threadID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to close thread")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread_id": threadID, "closed": true})
}
