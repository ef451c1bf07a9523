package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	agentproviders "github.com/nexusgw/gateway/internal/agent/providers"
	"github.com/nexusgw/gateway/pkg/models"
)

// BedrockConfig configures the Bedrock adapter.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Model           string
	System          string
	Caps            models.Capabilities
}

// BedrockAdapter speaks Schema A via the Converse/ConverseStream API: tool
// calls and results are ordinary content blocks within a message, with the
// tool-use id carried on the block itself rather than a separate role.
type BedrockAdapter struct {
	client *bedrockruntime.Client
	model  string
	system string
	caps   models.Capabilities
	base   agentproviders.BaseProvider
}

// NewBedrockAdapter builds an adapter against AWS Bedrock's Converse API.
func NewBedrockAdapter(ctx context.Context, cfg BedrockConfig) (*BedrockAdapter, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockAdapter{
		client: bedrockruntime.NewFromConfig(awsCfg),
		model:  cfg.Model,
		system: cfg.System,
		caps:   cfg.Caps,
		base:   agentproviders.NewBaseProvider("bedrock", 3, time.Second),
	}, nil
}

func (a *BedrockAdapter) Name() string                     { return "bedrock" }
func (a *BedrockAdapter) Capabilities() models.Capabilities { return a.caps }

func (a *BedrockAdapter) Chat(ctx context.Context, messages []models.ChatMessage, params Params) (string, error) {
	text, _, err := a.complete(ctx, messages, nil, params, TurnPlain)
	return text, err
}

func (a *BedrockAdapter) ChatWithTools(ctx context.Context, messages []models.ChatMessage, tools []models.ToolPermission, params Params) (string, []models.ToolCall, error) {
	return a.complete(ctx, messages, tools, params, TurnToolCall)
}

func (a *BedrockAdapter) buildRequest(messages []models.ChatMessage, tools []models.ToolPermission, params Params) *bedrockruntime.ConverseStreamInput {
	req := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(a.model),
		Messages: convertBedrockMessages(messages),
	}
	if a.system != "" {
		req.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: a.system}}
	}
	if params.MaxTokens != nil && *params.MaxTokens > 0 {
		req.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(*params.MaxTokens))}
	}
	if len(tools) > 0 {
		req.ToolConfig = convertBedrockTools(tools)
	}
	return req
}

func (a *BedrockAdapter) complete(ctx context.Context, messages []models.ChatMessage, tools []models.ToolPermission, params Params, turn TurnKind) (string, []models.ToolCall, error) {
	filtered := FilterParams(a.caps, turn, params)
	req := a.buildRequest(messages, tools, filtered)

	var blocks []ContentBlock
	var calls []models.ToolCall
	err := a.base.Retry(ctx, func(e error) bool { return agentproviders.IsRetryable(wrapBedrockError(e, a.model)) }, func() error {
		stream, callErr := a.client.ConverseStream(ctx, req)
		if callErr != nil {
			return callErr
		}
		b, c, drainErr := drainBedrockStream(ctx, stream)
		blocks, calls = b, c
		return drainErr
	})
	if err != nil {
		return "", nil, wrapBedrockError(err, a.model)
	}
	return NewBlockContent(blocks).AsText(), calls, nil
}

func drainBedrockStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput) ([]ContentBlock, []models.ToolCall, error) {
	eventStream := stream.GetStream()
	defer eventStream.Close()

	var blocks []ContentBlock
	var calls []models.ToolCall
	var currentToolCall *models.ToolCall
	var toolInput strings.Builder
	var currentText strings.Builder

	eventChan := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			return blocks, calls, ctx.Err()
		case event, ok := <-eventChan:
			if !ok {
				if currentToolCall != nil {
					currentToolCall.Input = json.RawMessage(toolInput.String())
					calls = append(calls, *currentToolCall)
				}
				return blocks, calls, eventStream.Err()
			}
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentToolCall = &models.ToolCall{
						ID:   aws.ToString(toolUse.Value.ToolUseId),
						Name: aws.ToString(toolUse.Value.Name),
					}
					toolInput.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					currentText.WriteString(delta.Value)
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentToolCall != nil {
					currentToolCall.Input = json.RawMessage(toolInput.String())
					calls = append(calls, *currentToolCall)
					currentToolCall = nil
					toolInput.Reset()
				} else if currentText.Len() > 0 {
					blocks = append(blocks, ContentBlock{Kind: BlockText, Text: currentText.String()})
					currentText.Reset()
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				return blocks, calls, nil
			}
		}
	}
}

func (a *BedrockAdapter) ChatStream(ctx context.Context, messages []models.ChatMessage, params Params) (<-chan StreamChunk, error) {
	filtered := FilterParams(a.caps, TurnPlain, params)
	req := a.buildRequest(messages, nil, filtered)

	stream, err := a.client.ConverseStream(ctx, req)
	if err != nil {
		return nil, wrapBedrockError(err, a.model)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		eventStream := stream.GetStream()
		defer eventStream.Close()
		eventChan := eventStream.Events()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-eventChan:
				if !ok {
					if err := eventStream.Err(); err != nil {
						out <- StreamChunk{Err: wrapBedrockError(err, a.model)}
						return
					}
					out <- StreamChunk{Done: true}
					return
				}
				switch ev := event.(type) {
				case *types.ConverseStreamOutputMemberContentBlockDelta:
					if textDelta, ok := ev.Value.Delta.(*types.ContentBlockDeltaMemberText); ok && textDelta.Value != "" {
						select {
						case out <- StreamChunk{Text: textDelta.Value}:
						case <-ctx.Done():
							return
						}
					}
				case *types.ConverseStreamOutputMemberMessageStop:
					out <- StreamChunk{Done: true}
					return
				}
			}
		}
	}()
	return out, nil
}

func (a *BedrockAdapter) Test(ctx context.Context) TestResult {
	start := time.Now()
	_, err := a.Chat(ctx, []models.ChatMessage{{Role: models.ChatRoleUser, Content: "ping"}}, Params{})
	return TestResult{OK: err == nil, Latency: time.Since(start).Milliseconds(), Sample: "ping"}
}

// convertBedrockMessages renders the internal transcript into Converse API
// messages. Unlike OpenAI's Schema A, Bedrock carries tool results and tool
// calls as content blocks within a single message rather than a dedicated
// role=tool message.
func convertBedrockMessages(messages []models.ChatMessage) []types.Message {
	var out []types.Message
	for _, msg := range messages {
		if msg.Role == models.ChatRoleSystem {
			continue
		}
		var content []types.ContentBlock
		if msg.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}
		for _, tr := range msg.ToolResults {
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(tr.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: tr.Content}},
				},
			})
		}
		for _, tc := range msg.ToolCalls {
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(ParseToolArguments(tc.Input)),
				},
			})
		}
		if len(content) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if msg.Role == models.ChatRoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: content})
	}
	return out
}

func convertBedrockTools(tools []models.ToolPermission) *types.ToolConfiguration {
	bedrockTools := make([]types.Tool, len(tools))
	for i, t := range tools {
		schema := t.ParameterSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		bedrockTools[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: bedrockTools}
}

func wrapBedrockError(err error, model string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("bedrock: %w", agentproviders.NewProviderError("bedrock", model, err))
}
