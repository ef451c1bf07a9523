package orchestrator

import (
	"encoding/json"
	"testing"

	"github.com/nexusgw/gateway/pkg/models"
)

func TestSanitizeSchemaADropsOrphanToolMessage(t *testing.T) {
	messages := []models.ChatMessage{
		{Role: models.ChatRoleUser, Content: "hi"},
		{Role: models.ChatRoleTool, ToolCallID: "orphan", Content: "leftover"},
		{Role: models.ChatRoleAssistant, ToolCalls: []models.ToolCall{{ID: "call-1", Name: "get_user_profile"}}},
		{Role: models.ChatRoleTool, ToolCallID: "call-1", Content: "profile data"},
	}
	out := sanitizeSchemaA(messages)
	if len(out) != 3 {
		t.Fatalf("expected orphan tool message dropped, got %+v", out)
	}
	for _, m := range out {
		if m.Role == models.ChatRoleTool && m.ToolCallID != "call-1" {
			t.Fatalf("unexpected surviving tool message: %+v", m)
		}
	}
}

func TestSanitizeSchemaBKeepsToolAfterAnyPriorToolCallTurn(t *testing.T) {
	messages := []models.ChatMessage{
		{Role: models.ChatRoleAssistant, ToolCalls: []models.ToolCall{{ID: "call-1", Name: "get_user_profile"}}},
		{Role: models.ChatRoleUser, Content: "and then?"},
		{Role: models.ChatRoleTool, ToolResults: []models.ToolResult{{ToolCallID: "call-1", Content: "ok"}}},
	}
	out := sanitizeSchemaB(messages)
	if len(out) != 3 {
		t.Fatalf("expected tool message kept, got %+v", out)
	}
}

func TestSanitizeSchemaBDropsToolWithNoPriorToolCallTurn(t *testing.T) {
	messages := []models.ChatMessage{
		{Role: models.ChatRoleUser, Content: "hi"},
		{Role: models.ChatRoleTool, ToolResults: []models.ToolResult{{ToolCallID: "x", Content: "ok"}}},
	}
	out := sanitizeSchemaB(messages)
	if len(out) != 1 {
		t.Fatalf("expected orphan tool message dropped, got %+v", out)
	}
}

func TestSanitizeSchemaCDropsAllToolMessages(t *testing.T) {
	messages := []models.ChatMessage{
		{Role: models.ChatRoleAssistant, ToolCalls: []models.ToolCall{{ID: "call-1"}}},
		{Role: models.ChatRoleTool, ToolCallID: "call-1", Content: "ok"},
		{Role: models.ChatRoleUser, Content: "thanks"},
	}
	out := sanitizeSchemaC(messages)
	if len(out) != 2 {
		t.Fatalf("expected tool message dropped, got %+v", out)
	}
}

func TestAppendSchemaAEmitsOneToolMessagePerCall(t *testing.T) {
	calls := []models.ToolCall{{ID: "1", Name: "get_user_profile"}, {ID: "2", Name: "get_account_balance"}}
	results := []models.ToolResult{{ToolCallID: "1", Content: "a"}, {ToolCallID: "2", Content: "b"}}
	out := appendSchemaA(nil, calls, results)
	if len(out) != 3 {
		t.Fatalf("expected 1 assistant + 2 tool messages, got %+v", out)
	}
	if out[0].Role != models.ChatRoleAssistant || len(out[0].ToolCalls) != 2 {
		t.Fatalf("expected assistant turn carrying both tool calls, got %+v", out[0])
	}
}

func TestAppendSchemaBEmitsSingleToolResultsMessage(t *testing.T) {
	calls := []models.ToolCall{{ID: "1", Name: "get_user_profile"}, {ID: "2", Name: "get_account_balance"}}
	results := []models.ToolResult{{ToolCallID: "1", Content: "a"}, {ToolCallID: "2", Content: "b"}}
	out := appendSchemaB(nil, calls, results)
	if len(out) != 2 {
		t.Fatalf("expected 1 assistant + 1 tool_results message, got %+v", out)
	}
	if len(out[1].ToolResults) != 2 {
		t.Fatalf("expected both results bundled, got %+v", out[1])
	}
}

func TestAppendSchemaCSummarizesIntoAssistantText(t *testing.T) {
	calls := []models.ToolCall{{ID: "1", Name: "get_user_profile"}}
	results := []models.ToolResult{{ToolCallID: "1", Content: "ok"}}
	out := appendSchemaC(nil, calls, results)
	if len(out) != 1 || out[0].Role != models.ChatRoleAssistant {
		t.Fatalf("expected single assistant summary message, got %+v", out)
	}
	var decoded []map[string]any
	const prefix = "Function results: "
	if err := json.Unmarshal([]byte(out[0].Content[len(prefix):]), &decoded); err != nil {
		t.Fatalf("expected valid json summary: %v", err)
	}
	if decoded[0]["name"] != "get_user_profile" {
		t.Fatalf("unexpected summary: %+v", decoded)
	}
}
