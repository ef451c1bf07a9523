package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nexusgw/gateway/internal/gatewayerr"
	"github.com/nexusgw/gateway/internal/orchestrator"
	"github.com/nexusgw/gateway/internal/providers"
	"github.com/nexusgw/gateway/internal/registry"
	"github.com/nexusgw/gateway/pkg/models"
)

// chatRequestBody is the wire shape of spec.md §6's chat request body.
type chatRequestBody struct {
	Messages        []chatMessageDTO `json:"messages,omitempty"`
	Prompt          string           `json:"prompt,omitempty"`
	UseRAG          bool             `json:"use_rag,omitempty"`
	UseFunctions    bool             `json:"use_functions,omitempty"`
	Functions       []functionDTO    `json:"functions,omitempty"`
	Stream          bool             `json:"stream,omitempty"`
	Temperature     *float64         `json:"temperature,omitempty"`
	MaxTokens       *int             `json:"max_tokens,omitempty"`
	ReasoningEffort *string          `json:"reasoning_effort,omitempty"`
	SessionID       string           `json:"session_id,omitempty"`
}

type chatMessageDTO struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// functionDTO is the caller-supplied tool descriptor shape of spec.md §6's
// `functions` field, mirroring the internal tool descriptor wire format
// ({name, description, parameters}).
type functionDTO struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

func toolPermissionsFromDTOs(dtos []functionDTO) []models.ToolPermission {
	if len(dtos) == 0 {
		return nil
	}
	out := make([]models.ToolPermission, len(dtos))
	for i, d := range dtos {
		out[i] = models.ToolPermission{
			Name:            d.Name,
			Description:     d.Description,
			ParameterSchema: d.Parameters,
		}
	}
	return out
}

type chatResponseBody struct {
	Answer     string               `json:"answer"`
	ThreadID   string               `json:"thread_id"`
	ToolCalls  []executedCallDTO    `json:"tool_calls,omitempty"`
	EndSession bool                 `json:"end_session,omitempty"`
}

type executedCallDTO struct {
	Name    string `json:"name"`
	Denied  bool   `json:"denied,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
	Result  string `json:"result,omitempty"`
}

// lastUserMessage returns the content of the final user-role message, or
// "" if there is none.
func lastUserMessage(messages []chatMessageDTO) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if strings.EqualFold(messages[i].Role, string(models.ChatRoleUser)) {
			return messages[i].Content
		}
	}
	return ""
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}

	hasMessages := len(body.Messages) > 0
	hasPrompt := strings.TrimSpace(body.Prompt) != ""
	if hasMessages == hasPrompt {
		writeError(w, http.StatusBadRequest, "bad_request", "exactly one of messages or prompt is required")
		return
	}
	if body.Temperature != nil && (*body.Temperature < 0 || *body.Temperature > 2) {
		writeError(w, http.StatusBadRequest, "bad_request", "temperature must be in [0, 2]")
		return
	}
	if body.MaxTokens != nil && (*body.MaxTokens < 1 || *body.MaxTokens > 4096) {
		writeError(w, http.StatusBadRequest, "bad_request", "max_tokens must be in [1, 4096]")
		return
	}

	userMessage := body.Prompt
	if hasMessages {
		userMessage = lastUserMessage(body.Messages)
		if strings.TrimSpace(userMessage) == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "messages must include at least one user-role message")
			return
		}
	}

	threadID := strings.TrimSpace(body.SessionID)
	if threadID == "" {
		threadID = uuid.NewString()
	}

	principal, _ := PrincipalFromContext(r.Context())

	params := providers.Params{Temperature: body.Temperature, MaxTokens: body.MaxTokens, ReasoningEffort: body.ReasoningEffort}
	req := orchestrator.Request{
		ThreadID:    threadID,
		Principal:   principal,
		UserMessage: userMessage,
		UseTools:    body.UseFunctions,
		UseRAG:      body.UseRAG,
		Functions:   toolPermissionsFromDTOs(body.Functions),
		Params:      params,
		Provider:    s.Selector.Current().Provider,
	}

	adapter, resolved, err := s.Selector.Adapter()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "model_unavailable", err.Error())
		return
	}

	if body.Stream {
		s.streamChat(w, r, adapter, resolved, req)
		return
	}

	result, err := s.Orchestrator.Run(r.Context(), adapter, resolved.Defaults, req)
	if err != nil {
		ge := gatewayerr.FromVendorError(err)
		writeError(w, ge.Status, string(ge.Kind), ge.Message)
		return
	}

	writeJSON(w, http.StatusOK, chatResponseBody{
		Answer:     result.Answer,
		ThreadID:   threadID,
		ToolCalls:  executedCallDTOs(result.ExecutedCalls),
		EndSession: result.EndSession,
	})
}

func executedCallDTOs(calls []orchestrator.ExecutedCall) []executedCallDTO {
	if len(calls) == 0 {
		return nil
	}
	out := make([]executedCallDTO, len(calls))
	for i, c := range calls {
		out[i] = executedCallDTO{
			Name:    c.Call.Name,
			Denied:  c.Denied,
			IsError: c.Result.IsError,
			Result:  c.Result.Content,
		}
	}
	return out
}

// streamChat writes the SSE framing of spec.md §6: each frame is
// `data: <json>\n\n`, terminated by a `done` or `error` frame.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, adapter providers.ProviderAdapter, resolved registry.Resolved, req orchestrator.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported by response writer")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	frames := s.Orchestrator.RunStream(r.Context(), adapter, resolved.Defaults, req)
	for frame := range frames {
		data, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}
