package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	agentproviders "github.com/nexusgw/gateway/internal/agent/providers"
	"github.com/nexusgw/gateway/internal/agent/toolconv"
	"github.com/nexusgw/gateway/pkg/models"
)

// GoogleConfig configures the Gemini adapter.
type GoogleConfig struct {
	APIKey string
	Model  string
	System string
	Caps   models.Capabilities
}

// GoogleAdapter speaks a Schema B variant: Gemini has no native tool_use
// content block id, so tool-call ids are synthesized and tool results are
// matched back to a tool name by scanning prior messages.
type GoogleAdapter struct {
	client *genai.Client
	model  string
	system string
	caps   models.Capabilities
	base   agentproviders.BaseProvider
}

// NewGoogleAdapter builds an adapter against the Gemini Generative Language API.
func NewGoogleAdapter(ctx context.Context, cfg GoogleConfig) (*GoogleAdapter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}
	return &GoogleAdapter{
		client: client,
		model:  cfg.Model,
		system: cfg.System,
		caps:   cfg.Caps,
		base:   agentproviders.NewBaseProvider("google", 3, time.Second),
	}, nil
}

func (a *GoogleAdapter) Name() string                     { return "google" }
func (a *GoogleAdapter) Capabilities() models.Capabilities { return a.caps }

func (a *GoogleAdapter) Chat(ctx context.Context, messages []models.ChatMessage, params Params) (string, error) {
	text, _, err := a.complete(ctx, messages, nil, params, TurnPlain)
	return text, err
}

func (a *GoogleAdapter) ChatWithTools(ctx context.Context, messages []models.ChatMessage, tools []models.ToolPermission, params Params) (string, []models.ToolCall, error) {
	return a.complete(ctx, messages, tools, params, TurnToolCall)
}

func (a *GoogleAdapter) complete(ctx context.Context, messages []models.ChatMessage, tools []models.ToolPermission, params Params, turn TurnKind) (string, []models.ToolCall, error) {
	filtered := FilterParams(a.caps, turn, params)
	contents := convertGoogleMessages(messages)
	config := a.buildConfig(filtered, tools)

	var blocks []ContentBlock
	var calls []models.ToolCall
	err := a.base.Retry(ctx, func(e error) bool { return agentproviders.IsRetryable(wrapGoogleError(e, a.model)) }, func() error {
		blocks = nil
		calls = nil
		streamIter := a.client.Models.GenerateContentStream(ctx, a.model, contents, config)
		b, c, streamErr := drainGoogleStream(streamIter, messages)
		blocks, calls = b, c
		return streamErr
	})
	if err != nil {
		return "", nil, wrapGoogleError(err, a.model)
	}
	return NewBlockContent(blocks).AsText(), calls, nil
}

func drainGoogleStream(streamIter func(func(*genai.GenerateContentResponse, error) bool), messages []models.ChatMessage) ([]ContentBlock, []models.ToolCall, error) {
	var blocks []ContentBlock
	var calls []models.ToolCall
	var streamErr error

	streamIter(func(resp *genai.GenerateContentResponse, err error) bool {
		if err != nil {
			streamErr = err
			return false
		}
		if resp == nil {
			return true
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					blocks = append(blocks, ContentBlock{Kind: BlockText, Text: part.Text})
				}
				if part.FunctionCall != nil {
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					calls = append(calls, models.ToolCall{
						ID:    generateGoogleToolCallID(part.FunctionCall.Name),
						Name:  part.FunctionCall.Name,
						Input: argsJSON,
					})
				}
			}
		}
		return true
	})
	return blocks, calls, streamErr
}

func (a *GoogleAdapter) ChatStream(ctx context.Context, messages []models.ChatMessage, params Params) (<-chan StreamChunk, error) {
	filtered := FilterParams(a.caps, TurnPlain, params)
	contents := convertGoogleMessages(messages)
	config := a.buildConfig(filtered, nil)

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		streamErr := error(nil)
		a.client.Models.GenerateContentStream(ctx, a.model, contents, config)(func(resp *genai.GenerateContentResponse, err error) bool {
			select {
			case <-ctx.Done():
				return false
			default:
			}
			if err != nil {
				streamErr = err
				return false
			}
			if resp == nil {
				return true
			}
			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part != nil && part.Text != "" {
						select {
						case out <- StreamChunk{Text: part.Text}:
						case <-ctx.Done():
							return false
						}
					}
				}
			}
			return true
		})
		if streamErr != nil {
			out <- StreamChunk{Err: wrapGoogleError(streamErr, a.model)}
			return
		}
		out <- StreamChunk{Done: true}
	}()
	return out, nil
}

func (a *GoogleAdapter) Test(ctx context.Context) TestResult {
	start := time.Now()
	_, err := a.Chat(ctx, []models.ChatMessage{{Role: models.ChatRoleUser, Content: "ping"}}, Params{})
	return TestResult{OK: err == nil, Latency: time.Since(start).Milliseconds(), Sample: "ping"}
}

func (a *GoogleAdapter) buildConfig(params Params, tools []models.ToolPermission) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if a.system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: a.system}}}
	}
	if params.MaxTokens != nil && *params.MaxTokens > 0 {
		config.MaxOutputTokens = int32(*params.MaxTokens)
	}
	if len(tools) > 0 {
		config.Tools = convertGoogleTools(tools)
	}
	return config
}

// convertGoogleMessages maps the internal transcript onto Gemini Content
// entries. Gemini has two roles only: "user" and "model"; tool-role
// messages are rendered as user-side function_response parts, matching
// the teacher's convention that tool results "come from the user side".
func convertGoogleMessages(messages []models.ChatMessage) []*genai.Content {
	var out []*genai.Content
	for _, msg := range messages {
		if msg.Role == models.ChatRoleSystem {
			continue
		}
		content := &genai.Content{}
		switch msg.Role {
		case models.ChatRoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: ParseToolArguments(tc.Input)},
			})
		}
		for _, tr := range msg.ToolResults {
			var response map[string]any
			if err := json.Unmarshal([]byte(tr.Content), &response); err != nil {
				response = map[string]any{"result": tr.Content, "error": tr.IsError}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     googleToolNameFromID(tr.ToolCallID, messages),
					Response: response,
				},
			})
		}
		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out
}

func convertGoogleTools(tools []models.ToolPermission) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toolconv.ToGeminiSchema(t.ParameterSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// generateGoogleToolCallID synthesizes a call id, since Gemini function
// calls carry no id of their own.
func generateGoogleToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

// googleToolNameFromID reverses the synthesis above by scanning prior
// assistant messages for the originating call, falling back to parsing the
// id itself when the call isn't found (e.g. cross-thread replay).
func googleToolNameFromID(toolCallID string, messages []models.ChatMessage) string {
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	if strings.HasPrefix(toolCallID, "call_") {
		rest := strings.TrimPrefix(toolCallID, "call_")
		if i := strings.LastIndex(rest, "_"); i > 0 {
			return rest[:i]
		}
		return rest
	}
	return ""
}

func wrapGoogleError(err error, model string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("google: %w", agentproviders.NewProviderError("google", model, err))
}
