// Package providers implements the six vendor-specific adapters behind the
// gateway's uniform Provider interface (SPEC_FULL.md §4.5). Each adapter
// translates messages, tools, and parameters to/from its vendor's wire
// shape and maps vendor errors onto the shared taxonomy.
package providers

import (
	"context"

	agentproviders "github.com/nexusgw/gateway/internal/agent/providers"
	"github.com/nexusgw/gateway/pkg/models"
)

// ErrorClass is the error taxonomy the Orchestrator and HTTP layer use for
// status-code mapping (SPEC_FULL.md §4.5(d), §7).
type ErrorClass string

const (
	ErrorAuth          ErrorClass = "auth"
	ErrorRateLimit     ErrorClass = "rate_limit"
	ErrorModelNotFound ErrorClass = "model_not_found"
	ErrorConnection    ErrorClass = "connection"
	ErrorGeneric       ErrorClass = "generic"
)

// ClassifyVendorError reuses the teacher's FailoverReason classification
// (status code + message pattern matching) and narrows it onto the four
// classes the gateway's error taxonomy distinguishes.
func ClassifyVendorError(err error) ErrorClass {
	reason := agentproviders.ClassifyError(err)
	if pe, ok := agentproviders.GetProviderError(err); ok {
		reason = pe.Reason
	}
	switch reason {
	case agentproviders.FailoverAuth, agentproviders.FailoverBilling:
		return ErrorAuth
	case agentproviders.FailoverRateLimit:
		return ErrorRateLimit
	case agentproviders.FailoverModelUnavailable:
		return ErrorModelNotFound
	case agentproviders.FailoverTimeout, agentproviders.FailoverServerError:
		return ErrorConnection
	default:
		return ErrorGeneric
	}
}

// TurnKind distinguishes a tool-calling turn from a tool-free turn for
// parameter filtering purposes (SPEC_FULL.md §4.5(c)).
type TurnKind string

const (
	TurnToolCall TurnKind = "tool_call"
	TurnPlain    TurnKind = "plain"
)

// Params carries the request-level generation parameters the Orchestrator
// assembles before each vendor call. Fields are pointers so "unset" is
// distinguishable from "zero value" for filtering purposes.
type Params struct {
	Temperature     *float64
	MaxTokens       *int
	ReasoningEffort *string
}

// StreamChunk is a single unit of a streaming chat response.
type StreamChunk struct {
	Text     string
	ToolCall *models.ToolCall
	Done     bool
	Err      error
}

// TestResult is the outcome of a connectivity probe (used by C1's
// switch-model validation flow).
type TestResult struct {
	OK      bool
	Latency int64 // milliseconds
	Sample  string
}

// ProviderAdapter is the contract every vendor-specific adapter satisfies.
// Implementations must be safe for concurrent use: adapters are cached per
// (provider, apiName) and reused across requests (SPEC_FULL.md §5).
type ProviderAdapter interface {
	// Name returns the adapter's provider identifier (e.g. "openai").
	Name() string

	// Chat runs a single tool-free turn and returns the full response text.
	Chat(ctx context.Context, messages []models.ChatMessage, params Params) (string, error)

	// ChatWithTools runs a single turn with tool definitions attached and
	// returns the response text plus any tool calls the model requested.
	ChatWithTools(ctx context.Context, messages []models.ChatMessage, tools []models.ToolPermission, params Params) (string, []models.ToolCall, error)

	// ChatStream runs a tool-free turn and streams the response incrementally.
	ChatStream(ctx context.Context, messages []models.ChatMessage, params Params) (<-chan StreamChunk, error)

	// Test probes connectivity with a minimal request.
	Test(ctx context.Context) TestResult

	// Capabilities reports this adapter's fixed capability set.
	Capabilities() models.Capabilities
}
