package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	agentproviders "github.com/nexusgw/gateway/internal/agent/providers"
	"github.com/nexusgw/gateway/pkg/models"
)

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	System  string
	Caps    models.Capabilities
}

// AnthropicAdapter speaks Schema B: assistant content is a mix of text and
// tool_use blocks; tool results are rendered as a user-role message
// carrying tool_result blocks that reference the use id.
type AnthropicAdapter struct {
	client *anthropic.Client
	model  string
	system string
	caps   models.Capabilities
	base   agentproviders.BaseProvider
}

// NewAnthropicAdapter builds an adapter against the Anthropic Messages API.
func NewAnthropicAdapter(cfg AnthropicConfig) *AnthropicAdapter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicAdapter{
		client: &client,
		model:  cfg.Model,
		system: cfg.System,
		caps:   cfg.Caps,
		base:   agentproviders.NewBaseProvider("anthropic", 3, time.Second),
	}
}

func (a *AnthropicAdapter) Name() string                     { return "anthropic" }
func (a *AnthropicAdapter) Capabilities() models.Capabilities { return a.caps }

func (a *AnthropicAdapter) Chat(ctx context.Context, messages []models.ChatMessage, params Params) (string, error) {
	text, _, err := a.complete(ctx, messages, nil, params, TurnPlain)
	return text, err
}

func (a *AnthropicAdapter) ChatWithTools(ctx context.Context, messages []models.ChatMessage, tools []models.ToolPermission, params Params) (string, []models.ToolCall, error) {
	return a.complete(ctx, messages, tools, params, TurnToolCall)
}

func (a *AnthropicAdapter) complete(ctx context.Context, messages []models.ChatMessage, tools []models.ToolPermission, params Params, turn TurnKind) (string, []models.ToolCall, error) {
	filtered := FilterParams(a.caps, turn, params)
	converted, err := convertAnthropicMessages(messages)
	if err != nil {
		return "", nil, fmt.Errorf("anthropic: %w", err)
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		Messages:  converted,
		MaxTokens: int64(maxTokensOr(filtered.MaxTokens, 4096)),
	}
	if a.system != "" {
		req.System = []anthropic.TextBlockParam{{Type: "text", Text: a.system}}
	}
	if filtered.Temperature != nil {
		req.Temperature = anthropic.Float(*filtered.Temperature)
	}
	if len(tools) > 0 {
		toolParams, err := convertAnthropicTools(tools)
		if err != nil {
			return "", nil, fmt.Errorf("anthropic: %w", err)
		}
		req.Tools = toolParams
	}

	var blocks []ContentBlock
	var calls []models.ToolCall
	err = a.base.Retry(ctx, func(e error) bool { return agentproviders.IsRetryable(wrapAnthropicError(e, a.model)) }, func() error {
		blocks = nil
		calls = nil
		stream := a.client.Messages.NewStreaming(ctx, req)
		b, c, streamErr := drainAnthropicStream(stream)
		blocks, calls = b, c
		return streamErr
	})
	if err != nil {
		return "", nil, wrapAnthropicError(err, a.model)
	}
	return NewBlockContent(blocks).AsText(), calls, nil
}

// drainAnthropicStream consumes a full Messages.NewStreaming response,
// accumulating text and tool_use blocks the way the teacher's
// processStream does for its own internal chunk channel.
func drainAnthropicStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion]) ([]ContentBlock, []models.ToolCall, error) {
	var blocks []ContentBlock
	var calls []models.ToolCall
	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	var currentText strings.Builder

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				currentToolCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				currentText.WriteString(delta.Text)
			case "input_json_delta":
				currentToolInput.WriteString(delta.PartialJSON)
			}
		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Input = json.RawMessage(currentToolInput.String())
				calls = append(calls, *currentToolCall)
				currentToolCall = nil
			} else if currentText.Len() > 0 {
				blocks = append(blocks, ContentBlock{Kind: BlockText, Text: currentText.String()})
				currentText.Reset()
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, nil, err
	}
	return blocks, calls, nil
}

func (a *AnthropicAdapter) ChatStream(ctx context.Context, messages []models.ChatMessage, params Params) (<-chan StreamChunk, error) {
	filtered := FilterParams(a.caps, TurnPlain, params)
	converted, err := convertAnthropicMessages(messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		Messages:  converted,
		MaxTokens: int64(maxTokensOr(filtered.MaxTokens, 4096)),
	}
	if a.system != "" {
		req.System = []anthropic.TextBlockParam{{Type: "text", Text: a.system}}
	}

	stream := a.client.Messages.NewStreaming(ctx, req)

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			if event.Type != "content_block_delta" {
				continue
			}
			delta := event.AsContentBlockDelta().Delta
			if delta.Type != "text_delta" || delta.Text == "" {
				continue
			}
			select {
			case out <- StreamChunk{Text: delta.Text}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamChunk{Err: wrapAnthropicError(err, a.model)}
			return
		}
		out <- StreamChunk{Done: true}
	}()
	return out, nil
}

func (a *AnthropicAdapter) Test(ctx context.Context) TestResult {
	start := time.Now()
	_, err := a.Chat(ctx, []models.ChatMessage{{Role: models.ChatRoleUser, Content: "ping"}}, Params{})
	return TestResult{OK: err == nil, Latency: time.Since(start).Milliseconds(), Sample: "ping"}
}

// convertAnthropicMessages renders the internal transcript into Anthropic's
// content-block shape. Schema B has no dedicated tool role: tool results
// are folded into a user-role message carrying tool_result blocks.
func convertAnthropicMessages(messages []models.ChatMessage) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.ChatRoleSystem {
			continue
		}
		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			input := ParseToolArguments(tc.Input)
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == models.ChatRoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func convertAnthropicTools(tools []models.ToolPermission) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		schemaBytes, err := json.Marshal(t.ParameterSchema)
		if err != nil {
			return nil, fmt.Errorf("tool schema for %s: %w", t.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(schemaBytes, &schema); err != nil {
			return nil, fmt.Errorf("tool schema for %s: %w", t.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, toolParam)
	}
	return out, nil
}

func maxTokensOr(ptr *int, fallback int) int {
	if ptr != nil && *ptr > 0 {
		return *ptr
	}
	return fallback
}

func wrapAnthropicError(err error, model string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("anthropic: %w", agentproviders.NewProviderError("anthropic", model, err))
}
