package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	agentproviders "github.com/nexusgw/gateway/internal/agent/providers"
	"github.com/nexusgw/gateway/pkg/models"
)

// OllamaConfig configures the Ollama adapter.
type OllamaConfig struct {
	BaseURL string
	Model   string
	System  string
	Caps    models.Capabilities
	Timeout time.Duration
}

// OllamaAdapter speaks Schema C: the wire protocol has no structured
// tool-call representation. Tool definitions, when present, are rendered
// into the prompt text and tool results are inlined as plain messages
// rather than a dedicated role.
type OllamaAdapter struct {
	client  *http.Client
	baseURL string
	model   string
	system  string
	caps    models.Capabilities
}

// NewOllamaAdapter builds an adapter against a local Ollama server.
func NewOllamaAdapter(cfg OllamaConfig) *OllamaAdapter {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OllamaAdapter{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		model:   cfg.Model,
		system:  cfg.System,
		caps:    cfg.Caps,
	}
}

func (a *OllamaAdapter) Name() string                     { return "ollama" }
func (a *OllamaAdapter) Capabilities() models.Capabilities { return a.caps }

func (a *OllamaAdapter) Chat(ctx context.Context, messages []models.ChatMessage, params Params) (string, error) {
	return a.chat(ctx, messages, params)
}

// ChatWithTools has no wire-level tool support to target: Schema C inlines
// a rendered tool catalog into the system text and always returns a
// tool-free response, matching spec.md §4.5's fallback rule for models
// without native tool support.
func (a *OllamaAdapter) ChatWithTools(ctx context.Context, messages []models.ChatMessage, tools []models.ToolPermission, params Params) (string, []models.ToolCall, error) {
	text, err := a.chat(ctx, inlineToolCatalog(messages, tools), params)
	return text, nil, err
}

func (a *OllamaAdapter) chat(ctx context.Context, messages []models.ChatMessage, params Params) (string, error) {
	filtered := FilterParams(a.caps, TurnPlain, params)
	payload := ollamaChatRequest{
		Model:    a.model,
		Stream:   false,
		Messages: convertOllamaMessages(a.system, messages),
	}
	if filtered.MaxTokens != nil {
		payload.Options = map[string]any{"num_predict": *filtered.MaxTokens}
	}

	var sb strings.Builder
	err := a.post(ctx, payload, func(resp ollamaChatResponse) bool {
		if resp.Message != nil {
			sb.WriteString(resp.Message.Content)
		}
		return !resp.Done
	})
	return sb.String(), err
}

func (a *OllamaAdapter) ChatStream(ctx context.Context, messages []models.ChatMessage, params Params) (<-chan StreamChunk, error) {
	filtered := FilterParams(a.caps, TurnPlain, params)
	payload := ollamaChatRequest{
		Model:    a.model,
		Stream:   true,
		Messages: convertOllamaMessages(a.system, messages),
	}
	if filtered.MaxTokens != nil {
		payload.Options = map[string]any{"num_predict": *filtered.MaxTokens}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, wrapOllamaError(a.model, fmt.Errorf("marshal request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, wrapOllamaError(a.model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, wrapOllamaError(a.model, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, wrapOllamaError(a.model, fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody))))
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var chunk ollamaChatResponse
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				out <- StreamChunk{Err: wrapOllamaError(a.model, fmt.Errorf("decode response: %w", err))}
				return
			}
			if chunk.Error != "" {
				out <- StreamChunk{Err: wrapOllamaError(a.model, fmt.Errorf("%s", chunk.Error))}
				return
			}
			if chunk.Message != nil && chunk.Message.Content != "" {
				select {
				case out <- StreamChunk{Text: chunk.Message.Content}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				out <- StreamChunk{Done: true}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- StreamChunk{Err: wrapOllamaError(a.model, err)}
		}
	}()
	return out, nil
}

func (a *OllamaAdapter) post(ctx context.Context, payload ollamaChatRequest, onResponse func(ollamaChatResponse) bool) error {
	payload.Stream = false
	body, err := json.Marshal(payload)
	if err != nil {
		return wrapOllamaError(payload.Model, fmt.Errorf("marshal request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return wrapOllamaError(payload.Model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return wrapOllamaError(payload.Model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return wrapOllamaError(payload.Model, fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody))))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return wrapOllamaError(payload.Model, fmt.Errorf("decode response: %w", err))
	}
	if chatResp.Error != "" {
		return wrapOllamaError(payload.Model, fmt.Errorf("%s", chatResp.Error))
	}
	onResponse(chatResp)
	return nil
}

func (a *OllamaAdapter) Test(ctx context.Context) TestResult {
	start := time.Now()
	_, err := a.Chat(ctx, []models.ChatMessage{{Role: models.ChatRoleUser, Content: "ping"}}, Params{})
	return TestResult{OK: err == nil, Latency: time.Since(start).Milliseconds(), Sample: "ping"}
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
}

type ollamaChatResponse struct {
	Message *ollamaChatMessage `json:"message"`
	Done    bool               `json:"done"`
	Error   string             `json:"error"`
}

// convertOllamaMessages folds the transcript into the plain role/content
// shape Ollama's chat endpoint accepts. Tool-role messages have no wire
// representation here: their content is carried through as a user message
// so the model sees the result even without a tool_result schema.
func convertOllamaMessages(system string, messages []models.ChatMessage) []ollamaChatMessage {
	out := make([]ollamaChatMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, ollamaChatMessage{Role: "system", Content: system})
	}
	for _, m := range messages {
		switch m.Role {
		case models.ChatRoleTool:
			for _, tr := range m.ToolResults {
				out = append(out, ollamaChatMessage{Role: "user", Content: "Tool result: " + tr.Content})
			}
		case models.ChatRoleAssistant:
			out = append(out, ollamaChatMessage{Role: "assistant", Content: m.Content})
		case models.ChatRoleSystem:
			out = append(out, ollamaChatMessage{Role: "system", Content: m.Content})
		default:
			out = append(out, ollamaChatMessage{Role: "user", Content: m.Content})
		}
	}
	return out
}

// inlineToolCatalog renders available tools as a system-message description
// since Schema C has no structured tool definition field.
func inlineToolCatalog(messages []models.ChatMessage, tools []models.ToolPermission) []models.ChatMessage {
	if len(tools) == 0 {
		return messages
	}
	var sb strings.Builder
	sb.WriteString("Available tools (described for reference only; no function-calling protocol is available, respond in plain text):\n")
	for _, t := range tools {
		sb.WriteString("- " + t.Name + ": " + t.Description + "\n")
	}
	out := make([]models.ChatMessage, 0, len(messages)+1)
	out = append(out, models.ChatMessage{Role: models.ChatRoleSystem, Content: sb.String()})
	out = append(out, messages...)
	return out
}

func wrapOllamaError(model string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ollama: %w", agentproviders.NewProviderError("ollama", model, err))
}
