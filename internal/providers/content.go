package providers

import (
	"encoding/json"
	"strings"
)

// ContentBlockKind distinguishes a vendor response content block.
type ContentBlockKind string

const (
	BlockText    ContentBlockKind = "text"
	BlockToolUse ContentBlockKind = "tool_use"
	BlockOther   ContentBlockKind = "other"
)

// ContentBlock is one element of a vendor response whose content is a list
// of mixed blocks rather than a plain string.
type ContentBlock struct {
	Kind ContentBlockKind
	Text string
}

// ResponseContent is the sum type SPEC_FULL.md §9 calls for in place of a
// duck-typed response shape: a vendor response body is either a plain
// string or a list of content blocks, never both.
type ResponseContent struct {
	text   *string
	blocks []ContentBlock
}

// NewTextContent wraps a plain string response.
func NewTextContent(text string) ResponseContent {
	return ResponseContent{text: &text}
}

// NewBlockContent wraps a list-of-blocks response.
func NewBlockContent(blocks []ContentBlock) ResponseContent {
	return ResponseContent{blocks: blocks}
}

// AsText is the total projection the Orchestrator uses regardless of which
// shape the vendor returned. A structurally-present-but-empty field yields
// the empty string, never a sentinel (SPEC_FULL.md §4.5 edge cases); a list
// of blocks concatenates its text blocks in declaration order.
func (c ResponseContent) AsText() string {
	if c.text != nil {
		return *c.text
	}
	var sb strings.Builder
	for _, b := range c.blocks {
		if b.Kind == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ParseToolArguments decodes a tool-call argument payload. A malformed JSON
// argument string yields an empty map, never an error (SPEC_FULL.md §4.5
// edge cases, testable property #10).
func ParseToolArguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{}
	}
	if args == nil {
		return map[string]any{}
	}
	return args
}
