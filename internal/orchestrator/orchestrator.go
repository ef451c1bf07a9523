// Package orchestrator implements the C7 state machine that turns a
// principal and an incoming turn into a vendor call, a bounded tool loop,
// and a final natural-language answer, grounded on the original llm_service
// module's chat() method.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexusgw/gateway/internal/memorystore"
	"github.com/nexusgw/gateway/internal/metrics"
	"github.com/nexusgw/gateway/internal/permissions"
	"github.com/nexusgw/gateway/internal/providers"
	"github.com/nexusgw/gateway/internal/tools"
	"github.com/nexusgw/gateway/pkg/models"
)

// DefaultSystemPrompt is prepended to every transcript, ahead of any system
// message already present in history (which is then dropped).
const DefaultSystemPrompt = "You are the assistant for a retail and private banking platform. " +
	"Use the tools available to you to answer questions about accounts, transactions, transfers, " +
	"investments, credit, and loans. Never fabricate account numbers, balances, or transaction data " +
	"— call a tool to retrieve them. Confirm the details of any money movement before executing it."

// MaxToolIterations bounds the tool-calling loop (design default per
// spec.md §4.7 step 4).
const MaxToolIterations = 4

// Orchestrator wires the memory store, permission resolver, and tool
// executor behind the bounded tool-calling loop. A single Orchestrator is
// shared across requests; all per-request state lives in Request/Turn.
type Orchestrator struct {
	Memory       *memorystore.Store
	Resolver     *permissions.Resolver
	Executor     *tools.Executor
	Catalog      map[string]models.ToolPermission
	SystemPrompt string
}

// New builds an Orchestrator over its collaborators. catalog is indexed by
// tool name for descriptor lookup during tool-set assembly.
func New(memory *memorystore.Store, resolver *permissions.Resolver, executor *tools.Executor, catalog []models.ToolPermission) *Orchestrator {
	byName := make(map[string]models.ToolPermission, len(catalog))
	for _, t := range catalog {
		byName[t.Name] = t
	}
	return &Orchestrator{
		Memory:       memory,
		Resolver:     resolver,
		Executor:     executor,
		Catalog:      byName,
		SystemPrompt: DefaultSystemPrompt,
	}
}

// Request is a single incoming turn.
type Request struct {
	ThreadID    string
	Principal   *models.Principal
	UserMessage string
	UseTools    bool
	UseRAG      bool
	// Functions, when non-empty, is a caller-supplied set of tool
	// descriptors (spec.md §6's `functions` field) that is advertised to
	// the model in place of the catalog-derived descriptors. The per-call
	// permission gate in executeCalls still applies regardless of what was
	// advertised, so a caller cannot use this to bypass ABAC.
	Functions []models.ToolPermission
	Params    providers.Params
	// Provider labels vendor-call metrics; set from the active ModelSelector
	// selection by the HTTP layer.
	Provider string
}

// ExecutedCall records one tool invocation made during the loop, whether it
// ran or was denied by the permission gate.
type ExecutedCall struct {
	Call   models.ToolCall
	Result models.ToolResult
	Denied bool
}

// Result is the outcome of a completed turn.
type Result struct {
	Answer        string
	ExecutedCalls []ExecutedCall
	EndSession    bool
}

// Run executes the full 7-step algorithm against the supplied adapter and
// model defaults, which the caller resolves via the C1 registry for the
// principal's active (provider, model) selection.
func (o *Orchestrator) Run(ctx context.Context, adapter providers.ProviderAdapter, defaults models.ModelDefaults, req Request) (*Result, error) {
	caps := adapter.Capabilities()

	transcript, err := o.assembleTranscript(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: assemble transcript: %w", err)
	}

	toolSet := o.assembleToolSet(req)
	useTools := req.UseTools && caps.SupportsToolCalls && len(toolSet) > 0

	params := req.Params
	if params.MaxTokens == nil && defaults.MaxTokens > 0 {
		maxTokens := defaults.MaxTokens
		params.MaxTokens = &maxTokens
	}

	var executed []ExecutedCall
	endSession := false

	if useTools {
		turnParams := providers.FilterParams(caps, providers.TurnToolCall, params)
		for iteration := 0; iteration < MaxToolIterations; iteration++ {
			metrics.LoopIterationsTotal.Inc()
			sanitized := sanitizeTranscript(transcript, caps.ToolSchema)
			sanitized = providers.FoldLeadingSystemMessage(caps, sanitized)

			started := time.Now()
			text, calls, err := adapter.ChatWithTools(ctx, sanitized, toolSet, turnParams)
			metrics.ObserveVendorCall(req.Provider, started, err)
			if err != nil {
				return nil, fmt.Errorf("orchestrator: chat_with_tools: %w", err)
			}
			if len(calls) == 0 {
				if text != "" {
					transcript = append(transcript, models.ChatMessage{Role: models.ChatRoleAssistant, Content: text})
				}
				break
			}

			calls = injectRAGArgs(calls, req.UserMessage, defaults.RAGMaxContextChars)
			turnCalls, turnResults := o.executeCalls(ctx, req.Principal, calls)
			executed = append(executed, turnCalls...)
			for _, c := range turnCalls {
				if c.Call.Name == "trigger_end_session" && !c.Denied && !c.Result.IsError {
					endSession = true
				}
			}
			transcript = appendToolTurn(transcript, caps.ToolSchema, calls, turnResults)
		}
	}

	plainParams := providers.FilterParams(caps, providers.TurnPlain, params)
	finalTranscript := providers.FoldLeadingSystemMessage(caps, transcript)
	started := time.Now()
	answer, err := adapter.Chat(ctx, finalTranscript, plainParams)
	metrics.ObserveVendorCall(req.Provider, started, err)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: final chat: %w", err)
	}

	if err := o.writeBack(ctx, req.ThreadID, req.Principal, answer, executed); err != nil {
		return nil, fmt.Errorf("orchestrator: memory write-back: %w", err)
	}

	if endSession {
		if err := o.Memory.CloseThread(ctx, req.ThreadID); err != nil {
			return nil, fmt.Errorf("orchestrator: close thread: %w", err)
		}
	}

	return &Result{Answer: answer, ExecutedCalls: executed, EndSession: endSession}, nil
}

// assembleTranscript implements step 1: load history, force the banking
// system prompt to the front regardless of any system message already
// present, append the new user turn, and persist it.
func (o *Orchestrator) assembleTranscript(ctx context.Context, req Request) ([]models.ChatMessage, error) {
	history, err := o.Memory.Load(ctx, req.ThreadID)
	if err != nil {
		return nil, err
	}

	transcript := make([]models.ChatMessage, 0, len(history)+2)
	transcript = append(transcript, models.ChatMessage{Role: models.ChatRoleSystem, Content: o.systemPrompt()})
	for _, m := range history {
		if m.Role == models.ChatRoleSystem {
			continue
		}
		transcript = append(transcript, m)
	}

	userMsg := models.ChatMessage{Role: models.ChatRoleUser, Content: req.UserMessage}
	transcript = append(transcript, userMsg)

	userID := ""
	if req.Principal != nil {
		userID = req.Principal.UserID
	}
	if err := o.Memory.Append(ctx, req.ThreadID, userID, []models.ChatMessage{userMsg}); err != nil {
		return nil, err
	}
	return transcript, nil
}

func (o *Orchestrator) systemPrompt() string {
	if o.SystemPrompt != "" {
		return o.SystemPrompt
	}
	return DefaultSystemPrompt
}

// assembleToolSet implements step 2: compile descriptors for the
// principal's permitted tools, plus the unconditionally-whitelisted
// retrieval tool when RAG is requested.
func (o *Orchestrator) assembleToolSet(req Request) []models.ToolPermission {
	if !req.UseTools {
		return nil
	}

	var descriptors []models.ToolPermission
	have := make(map[string]struct{})
	if len(req.Functions) > 0 {
		descriptors = append(descriptors, req.Functions...)
		for _, f := range req.Functions {
			have[f.Name] = struct{}{}
		}
	} else {
		names := o.permittedNames(req.Principal)
		descriptors = make([]models.ToolPermission, 0, len(names)+1)
		for _, n := range names {
			if d, ok := o.Catalog[n]; ok {
				descriptors = append(descriptors, d)
				have[n] = struct{}{}
			}
		}
	}

	if req.UseRAG {
		if _, ok := have[permissions.RAGContextTool]; !ok {
			if d, ok := o.Catalog[permissions.RAGContextTool]; ok {
				descriptors = append(descriptors, d)
			}
		}
	}
	return descriptors
}

// permittedNames resolves the principal's permitted tool set, honoring a
// precomputed fxn claim over live ABAC resolution.
func (o *Orchestrator) permittedNames(p *models.Principal) []string {
	if p == nil {
		return nil
	}
	if p.HasPrecomputedTools() {
		return p.PermittedTools
	}
	return o.Resolver.Resolve(p)
}

// isPermitted reports whether name may be invoked by this principal: either
// it is in the resolved permitted set, or it is the unconditionally
// whitelisted retrieval-context tool.
func (o *Orchestrator) isPermitted(p *models.Principal, name string) bool {
	if name == permissions.RAGContextTool {
		return true
	}
	for _, n := range o.permittedNames(p) {
		if n == name {
			return true
		}
	}
	return false
}

// executeCalls implements the per-call permission gate and dispatch of
// step 4. Denied calls are recorded but never reach the Executor.
func (o *Orchestrator) executeCalls(ctx context.Context, principal *models.Principal, calls []models.ToolCall) ([]ExecutedCall, []models.ToolResult) {
	runnable := make([]models.ToolCall, 0, len(calls))
	runnableIdx := make([]int, 0, len(calls))
	executed := make([]ExecutedCall, len(calls))

	for i, c := range calls {
		if !o.isPermitted(principal, c.Name) {
			metrics.ToolDeniedTotal.WithLabelValues(c.Name).Inc()
			executed[i] = ExecutedCall{
				Call:   c,
				Denied: true,
				Result: models.ToolResult{ToolCallID: c.ID, Content: "tool not permitted for this principal", IsError: true},
			}
			continue
		}
		runnable = append(runnable, c)
		runnableIdx = append(runnableIdx, i)
	}

	if len(runnable) > 0 {
		results := o.Executor.ExecuteConcurrently(ctx, runnable, principal)
		for j, idx := range runnableIdx {
			executed[idx] = ExecutedCall{Call: calls[idx], Result: results[j]}
		}
	}

	allResults := make([]models.ToolResult, len(calls))
	for i, e := range executed {
		allResults[i] = e.Result
	}
	return executed, allResults
}

// writeBack implements step 6: persist the assistant answer plus one
// synthesized summary record per executed tool call, never the raw
// schema-specific tool-role messages.
func (o *Orchestrator) writeBack(ctx context.Context, threadID string, principal *models.Principal, answer string, executed []ExecutedCall) error {
	messages := make([]models.ChatMessage, 0, len(executed)+1)
	for _, e := range executed {
		messages = append(messages, models.ChatMessage{
			Role:    models.ChatRoleAssistant,
			Content: fmt.Sprintf("[tool_result] %s: %s", e.Call.Name, summarize(e.Result)),
		})
	}
	if answer != "" {
		messages = append(messages, models.ChatMessage{Role: models.ChatRoleAssistant, Content: answer})
	}
	if len(messages) == 0 {
		return nil
	}
	userID := ""
	if principal != nil {
		userID = principal.UserID
	}
	return o.Memory.Append(ctx, threadID, userID, messages)
}

// injectRAGArgs fills the retrieval-context tool's call arguments with the
// last user message (as a query fallback per spec.md §4.6 item 1) and the
// registry's per-model character cap, without overriding a value the model
// already supplied. Other tool calls pass through unchanged.
func injectRAGArgs(calls []models.ToolCall, lastUserText string, maxChars int) []models.ToolCall {
	out := make([]models.ToolCall, len(calls))
	for i, c := range calls {
		if c.Name != permissions.RAGContextTool {
			out[i] = c
			continue
		}
		args := map[string]any{}
		if len(c.Input) > 0 {
			_ = json.Unmarshal(c.Input, &args)
		}
		if _, ok := args["_last_user_text"]; !ok {
			args["_last_user_text"] = lastUserText
		}
		if _, ok := args["max_chars"]; !ok && maxChars > 0 {
			args["max_chars"] = maxChars
		}
		input, err := json.Marshal(args)
		if err != nil {
			out[i] = c
			continue
		}
		c.Input = input
		out[i] = c
	}
	return out
}

func summarize(r models.ToolResult) string {
	if r.IsError {
		data, _ := json.Marshal(map[string]any{"error": r.Content})
		return string(data)
	}
	return r.Content
}
