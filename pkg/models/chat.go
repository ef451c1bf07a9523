package models

import "time"

// Principal is the authenticated identity a gateway request is processed on
// behalf of. It is immutable for the lifetime of the request.
type Principal struct {
	UserID         string         `json:"user_id"`
	Scopes         []string       `json:"scopes"`
	Roles          []string       `json:"roles"`
	Attributes     map[string]any `json:"attributes"`
	Tier           string         `json:"tier,omitempty"`
	Region         string         `json:"region,omitempty"`
	Verified       bool           `json:"verified"`
	Expiry         time.Time      `json:"expiry"`
	PermittedTools []string       `json:"permitted_tools,omitempty"`
}

// HasPrecomputedTools reports whether the credential carried an `fxn` claim,
// in which case ABAC resolution is bypassed entirely.
func (p *Principal) HasPrecomputedTools() bool {
	return p != nil && p.PermittedTools != nil
}

// ToolPermission is a catalog entry describing the ABAC gates a tool name
// requires before a principal may invoke it.
type ToolPermission struct {
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	RequiredScopes  []string       `json:"required_scopes,omitempty"`
	RequiredRoles   []string       `json:"required_roles,omitempty"`
	Conditions      map[string]any `json:"conditions,omitempty"`
	ParameterSchema map[string]any `json:"parameters,omitempty"`
}

// ChatRole is the role tag on a gateway transcript message.
type ChatRole string

const (
	ChatRoleSystem    ChatRole = "system"
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
	ChatRoleTool      ChatRole = "tool"
)

// ChatMessage is the internal wire format exchanged between the orchestrator
// and the provider adapters. Unlike the channel-facing Message type, it
// carries a tool_call_id back-reference for Schema A tool-role messages.
type ChatMessage struct {
	Role        ChatRole     `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	ToolCallID  string       `json:"tool_call_id,omitempty"`
}

// ToolSchema identifies the wire convention a vendor adapter speaks for
// rendering tool calls and their results into a transcript.
type ToolSchema string

const (
	// SchemaA: assistant carries tool_calls[]; each result is a separate
	// role=tool message bearing the originating call id (OpenAI-style).
	SchemaA ToolSchema = "schema_a"
	// SchemaB: assistant content is mixed blocks including tool_use;
	// results are a user-role message with tool_result blocks (Anthropic-style).
	SchemaB ToolSchema = "schema_b"
	// SchemaC: no structured schema; results are inlined into text.
	SchemaC ToolSchema = "schema_c"
)

// Capabilities describes what a given (provider, model) combination supports.
type Capabilities struct {
	SupportsStreaming      bool       `json:"supports_streaming"`
	SupportsToolCalls      bool       `json:"supports_tool_calls"`
	SupportsSystemMessages bool       `json:"supports_system_messages"`
	SupportsReasoning      bool       `json:"supports_reasoning"`
	ToolSchema             ToolSchema `json:"tool_schema"`
	MaxContextLength       int        `json:"max_context_length"`
}

// ModelDefaults holds optional per-(provider, friendly) overrides.
type ModelDefaults struct {
	MaxTokens           int `json:"max_tokens,omitempty"`
	RAGTopK             int `json:"rag_k,omitempty"`
	RAGMaxContextChars  int `json:"rag_max_context_chars,omitempty"`
}

// Thread is the active, bounded-lifetime view of a conversation used for
// prompt assembly.
type Thread struct {
	ID           string        `json:"thread_id"`
	OwnerID      string        `json:"user_id"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
	Messages     []ChatMessage `json:"messages"`
}

// AuditRecord is an immutable per-message record retained beyond the active
// thread's lifetime. Uniqueness is on (ThreadID, MessageIndex).
type AuditRecord struct {
	ThreadID     string     `json:"thread_id"`
	UserID       string     `json:"user_id"`
	MessageIndex int64      `json:"message_index"`
	Role         ChatRole   `json:"role"`
	Content      string     `json:"content"`
	Timestamp    time.Time  `json:"timestamp"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}
