package providers

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/nexusgw/gateway/pkg/models"
)

func TestConvertBedrockMessagesSkipsSystem(t *testing.T) {
	messages := []models.ChatMessage{
		{Role: models.ChatRoleSystem, Content: "be terse"},
		{Role: models.ChatRoleUser, Content: "hello"},
	}
	out := convertBedrockMessages(messages)
	if len(out) != 1 {
		t.Fatalf("expected system message dropped, got %d", len(out))
	}
	if out[0].Role != types.ConversationRoleUser {
		t.Fatalf("expected user role, got %v", out[0].Role)
	}
}

func TestConvertBedrockMessagesAssistantToolUseBlock(t *testing.T) {
	messages := []models.ChatMessage{
		{
			Role:    models.ChatRoleAssistant,
			Content: "checking",
			ToolCalls: []models.ToolCall{
				{ID: "tooluse_1", Name: "get_account_balance", Input: json.RawMessage(`{"account_id":"abc"}`)},
			},
		},
	}
	out := convertBedrockMessages(messages)
	if len(out) != 1 || out[0].Role != types.ConversationRoleAssistant {
		t.Fatalf("expected single assistant message, got %+v", out)
	}
	if len(out[0].Content) != 2 {
		t.Fatalf("expected text + tool_use block, got %d", len(out[0].Content))
	}
}

func TestConvertBedrockMessagesToolResultBlock(t *testing.T) {
	messages := []models.ChatMessage{
		{
			Role: models.ChatRoleTool,
			ToolResults: []models.ToolResult{
				{ToolCallID: "tooluse_1", Content: "42.00"},
			},
		},
	}
	out := convertBedrockMessages(messages)
	if len(out) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out))
	}
	if _, ok := out[0].Content[0].(*types.ContentBlockMemberToolResult); !ok {
		t.Fatalf("expected tool result content block, got %T", out[0].Content[0])
	}
}

func TestConvertBedrockMessagesEmptyContentDropped(t *testing.T) {
	messages := []models.ChatMessage{{Role: models.ChatRoleAssistant, Content: ""}}
	out := convertBedrockMessages(messages)
	if len(out) != 0 {
		t.Fatalf("expected empty-content message dropped, got %d", len(out))
	}
}

func TestConvertBedrockToolsBuildsToolSpec(t *testing.T) {
	tools := []models.ToolPermission{
		{Name: "transfer_funds", Description: "move money between accounts"},
	}
	cfg := convertBedrockTools(tools)
	if len(cfg.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(cfg.Tools))
	}
	spec, ok := cfg.Tools[0].(*types.ToolMemberToolSpec)
	if !ok {
		t.Fatalf("expected ToolMemberToolSpec, got %T", cfg.Tools[0])
	}
	if *spec.Value.Name != "transfer_funds" {
		t.Fatalf("unexpected tool name: %v", *spec.Value.Name)
	}
}
