package providers

import "github.com/nexusgw/gateway/pkg/models"

// FilterParams applies the vendor parameter-filtering rules of
// SPEC_FULL.md §4.5(c) as a pure function, independent of any network call.
func FilterParams(caps models.Capabilities, turn TurnKind, in Params) Params {
	out := in

	if caps.SupportsReasoning {
		// Reasoning-class models forbid temperature; reasoning-effort may pass through.
		out.Temperature = nil
	} else {
		// Non-reasoning models forward temperature, never reasoning-effort.
		out.ReasoningEffort = nil
	}

	if turn == TurnToolCall && out.Temperature != nil {
		clamped := 0.1
		if *out.Temperature > clamped {
			out.Temperature = &clamped
		}
	}

	return out
}

// FoldLeadingSystemMessage inlines a leading system message into the first
// user message when the model's capabilities report no system-message
// support (SPEC_FULL.md §4.5(c) last rule).
func FoldLeadingSystemMessage(caps models.Capabilities, messages []models.ChatMessage) []models.ChatMessage {
	if caps.SupportsSystemMessages || len(messages) == 0 || messages[0].Role != models.ChatRoleSystem {
		return messages
	}
	sys := messages[0]
	rest := messages[1:]
	for i, m := range rest {
		if m.Role == models.ChatRoleUser {
			folded := make([]models.ChatMessage, len(rest))
			copy(folded, rest)
			folded[i].Content = sys.Content + "\n\n" + m.Content
			return folded
		}
	}
	// No user message to fold into: drop the system message rather than
	// sending an unsupported role.
	return rest
}
