package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	agentproviders "github.com/nexusgw/gateway/internal/agent/providers"
	"github.com/nexusgw/gateway/pkg/models"
)

// OpenAIConfig configures the OpenAI adapter. Azure OpenAI is supported by
// the same adapter with BaseURL/APIVersion set, matching the teacher's
// azure.go reuse of the go-openai client with a custom config.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	Model      string
	Caps       models.Capabilities
}

// OpenAIAdapter speaks Schema A: the assistant message carries tool_calls[],
// and each tool result is a separate role=tool message bearing the call id.
type OpenAIAdapter struct {
	client *openai.Client
	model  string
	caps   models.Capabilities
	base   agentproviders.BaseProvider
}

// NewOpenAIAdapter builds an adapter against the OpenAI (or Azure OpenAI,
// via BaseURL/APIVersion) chat completions API.
func NewOpenAIAdapter(cfg OpenAIConfig) *OpenAIAdapter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.APIVersion != "" {
		clientCfg.APIVersion = cfg.APIVersion
	}
	return &OpenAIAdapter{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		caps:   cfg.Caps,
		base:   agentproviders.NewBaseProvider("openai", 3, time.Second),
	}
}

func (a *OpenAIAdapter) Name() string                     { return "openai" }
func (a *OpenAIAdapter) Capabilities() models.Capabilities { return a.caps }

func (a *OpenAIAdapter) Chat(ctx context.Context, messages []models.ChatMessage, params Params) (string, error) {
	text, _, err := a.complete(ctx, messages, nil, params, TurnPlain)
	return text, err
}

func (a *OpenAIAdapter) ChatWithTools(ctx context.Context, messages []models.ChatMessage, tools []models.ToolPermission, params Params) (string, []models.ToolCall, error) {
	return a.complete(ctx, messages, tools, params, TurnToolCall)
}

func (a *OpenAIAdapter) complete(ctx context.Context, messages []models.ChatMessage, tools []models.ToolPermission, params Params, turn TurnKind) (string, []models.ToolCall, error) {
	filtered := FilterParams(a.caps, turn, params)
	req := openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: convertOpenAIMessages(FoldLeadingSystemMessage(a.caps, messages)),
	}
	if filtered.Temperature != nil {
		req.Temperature = float32(*filtered.Temperature)
	}
	if filtered.MaxTokens != nil {
		req.MaxTokens = *filtered.MaxTokens
	}
	if len(tools) > 0 {
		req.Tools = convertOpenAITools(tools)
	}

	var resp openai.ChatCompletionResponse
	err := a.base.Retry(ctx, func(err error) bool { return agentproviders.IsRetryable(wrapOpenAIError(err, a.model)) }, func() error {
		var callErr error
		resp, callErr = a.client.CreateChatCompletion(ctx, req)
		return callErr
	})
	if err != nil {
		return "", nil, wrapOpenAIError(err, a.model)
	}
	if len(resp.Choices) == 0 {
		return "", nil, nil
	}
	choice := resp.Choices[0]
	var calls []models.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		calls = append(calls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return choice.Message.Content, calls, nil
}

func (a *OpenAIAdapter) ChatStream(ctx context.Context, messages []models.ChatMessage, params Params) (<-chan StreamChunk, error) {
	filtered := FilterParams(a.caps, TurnPlain, params)
	req := openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: convertOpenAIMessages(FoldLeadingSystemMessage(a.caps, messages)),
		Stream:   true,
	}
	if filtered.Temperature != nil {
		req.Temperature = float32(*filtered.Temperature)
	}
	if filtered.MaxTokens != nil {
		req.MaxTokens = *filtered.MaxTokens
	}

	stream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, wrapOpenAIError(err, a.model)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					out <- StreamChunk{Done: true}
					return
				}
				out <- StreamChunk{Err: wrapOpenAIError(err, a.model)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta != "" {
				select {
				case out <- StreamChunk{Text: delta}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (a *OpenAIAdapter) Test(ctx context.Context) TestResult {
	_, err := a.Chat(ctx, []models.ChatMessage{{Role: models.ChatRoleUser, Content: "ping"}}, Params{})
	return TestResult{OK: err == nil, Sample: "ping"}
}

func convertOpenAIMessages(messages []models.ChatMessage) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	for _, m := range messages {
		switch m.Role {
		case models.ChatRoleTool:
			for _, tr := range m.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		case models.ChatRoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			out = append(out, msg)
		case models.ChatRoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		default:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		}
	}
	return out
}

func convertOpenAITools(tools []models.ToolPermission) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.ParameterSchema,
			},
		})
	}
	return out
}

func wrapOpenAIError(err error, model string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("openai: %w", agentproviders.NewProviderError("openai", model, err))
}
