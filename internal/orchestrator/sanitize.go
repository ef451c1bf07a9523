package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/nexusgw/gateway/pkg/models"
)

// sanitizeTranscript drops tool-role messages that would be orphaned under
// the adapter's declared schema, grounded on the original service's
// _sanitize_messages_for_provider.
func sanitizeTranscript(messages []models.ChatMessage, schema models.ToolSchema) []models.ChatMessage {
	switch schema {
	case models.SchemaA:
		return sanitizeSchemaA(messages)
	case models.SchemaB:
		return sanitizeSchemaB(messages)
	default:
		return sanitizeSchemaC(messages)
	}
}

// sanitizeSchemaA keeps a tool message only if the immediately preceding
// assistant turn declared a matching tool-call id.
func sanitizeSchemaA(messages []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(messages))
	var prevToolIDs map[string]struct{}

	for _, m := range messages {
		switch m.Role {
		case models.ChatRoleAssistant:
			out = append(out, m)
			if len(m.ToolCalls) > 0 {
				prevToolIDs = make(map[string]struct{}, len(m.ToolCalls))
				for _, tc := range m.ToolCalls {
					prevToolIDs[tc.ID] = struct{}{}
				}
			} else {
				prevToolIDs = nil
			}
		case models.ChatRoleTool:
			if prevToolIDs != nil {
				if _, ok := prevToolIDs[m.ToolCallID]; ok {
					out = append(out, m)
				}
			}
		default:
			out = append(out, m)
			prevToolIDs = nil
		}
	}
	return out
}

// sanitizeSchemaB keeps a tool message so long as some earlier assistant
// turn in the transcript declared tool calls at all.
func sanitizeSchemaB(messages []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(messages))
	sawToolCalls := false

	for _, m := range messages {
		switch m.Role {
		case models.ChatRoleAssistant:
			out = append(out, m)
			if len(m.ToolCalls) > 0 {
				sawToolCalls = true
			}
		case models.ChatRoleTool:
			if sawToolCalls {
				out = append(out, m)
			}
		default:
			out = append(out, m)
		}
	}
	return out
}

// sanitizeSchemaC drops every tool-role message: the no-schema adapters
// render tool outputs inline in assistant text instead.
func sanitizeSchemaC(messages []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == models.ChatRoleTool {
			continue
		}
		out = append(out, m)
	}
	return out
}

// appendToolTurn appends the assistant tool-call turn and its results to
// the transcript in the shape the adapter's schema expects.
func appendToolTurn(transcript []models.ChatMessage, schema models.ToolSchema, calls []models.ToolCall, results []models.ToolResult) []models.ChatMessage {
	switch schema {
	case models.SchemaA:
		return appendSchemaA(transcript, calls, results)
	case models.SchemaB:
		return appendSchemaB(transcript, calls, results)
	default:
		return appendSchemaC(transcript, calls, results)
	}
}

func appendSchemaA(transcript []models.ChatMessage, calls []models.ToolCall, results []models.ToolResult) []models.ChatMessage {
	transcript = append(transcript, models.ChatMessage{Role: models.ChatRoleAssistant, ToolCalls: calls})
	for _, r := range results {
		transcript = append(transcript, models.ChatMessage{Role: models.ChatRoleTool, ToolCallID: r.ToolCallID, Content: r.Content})
	}
	return transcript
}

func appendSchemaB(transcript []models.ChatMessage, calls []models.ToolCall, results []models.ToolResult) []models.ChatMessage {
	transcript = append(transcript, models.ChatMessage{Role: models.ChatRoleAssistant, ToolCalls: calls})
	transcript = append(transcript, models.ChatMessage{Role: models.ChatRoleTool, ToolResults: results})
	return transcript
}

func appendSchemaC(transcript []models.ChatMessage, calls []models.ToolCall, results []models.ToolResult) []models.ChatMessage {
	byID := make(map[string]models.ToolResult, len(results))
	for _, r := range results {
		byID[r.ToolCallID] = r
	}
	summary := make([]map[string]any, 0, len(calls))
	for _, c := range calls {
		r := byID[c.ID]
		summary = append(summary, map[string]any{
			"name":    c.Name,
			"result":  r.Content,
			"isError": r.IsError,
		})
	}
	data, err := json.Marshal(summary)
	if err != nil {
		data = []byte("[]")
	}
	content := fmt.Sprintf("Function results: %s", string(data))
	return append(transcript, models.ChatMessage{Role: models.ChatRoleAssistant, Content: content})
}
