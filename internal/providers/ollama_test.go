package providers

import (
	"testing"

	"github.com/nexusgw/gateway/pkg/models"
)

func TestConvertOllamaMessagesSystemPrefixed(t *testing.T) {
	out := convertOllamaMessages("be terse", []models.ChatMessage{
		{Role: models.ChatRoleUser, Content: "hello"},
	})
	if len(out) != 2 || out[0].Role != "system" || out[0].Content != "be terse" {
		t.Fatalf("expected system message prefixed, got %+v", out)
	}
}

func TestConvertOllamaMessagesToolResultBecomesUserText(t *testing.T) {
	out := convertOllamaMessages("", []models.ChatMessage{
		{Role: models.ChatRoleTool, ToolResults: []models.ToolResult{{ToolCallID: "1", Content: "42.00"}}},
	})
	if len(out) != 1 || out[0].Role != "user" {
		t.Fatalf("expected tool result inlined as user message, got %+v", out)
	}
	if out[0].Content != "Tool result: 42.00" {
		t.Fatalf("unexpected inlined content: %q", out[0].Content)
	}
}

func TestInlineToolCatalogAddsSystemDescription(t *testing.T) {
	messages := []models.ChatMessage{{Role: models.ChatRoleUser, Content: "what's my balance"}}
	tools := []models.ToolPermission{{Name: "get_account_balance", Description: "returns balance"}}
	out := inlineToolCatalog(messages, tools)
	if len(out) != 2 || out[0].Role != models.ChatRoleSystem {
		t.Fatalf("expected catalog system message prepended, got %+v", out)
	}
	if out[1].Content != "what's my balance" {
		t.Fatalf("expected original message preserved, got %+v", out[1])
	}
}

func TestInlineToolCatalogNoopWithoutTools(t *testing.T) {
	messages := []models.ChatMessage{{Role: models.ChatRoleUser, Content: "hi"}}
	out := inlineToolCatalog(messages, nil)
	if len(out) != 1 {
		t.Fatalf("expected no-op when no tools, got %+v", out)
	}
}
