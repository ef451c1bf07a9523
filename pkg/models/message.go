package models

import "encoding/json"

// ToolCall represents a model's request to execute a named tool with a set
// of arguments. Input may be a JSON object or, for vendors that encode
// arguments as a string, raw bytes the caller must parse.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of executing a ToolCall: either a result value
// serialized into Content, or a structured error recorded via IsError.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
