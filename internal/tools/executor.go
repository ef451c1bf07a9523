package tools

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nexusgw/gateway/internal/metrics"
	"github.com/nexusgw/gateway/pkg/models"
)

// Executor dispatches named tool calls against the static Registry with
// bounded concurrency and a per-call timeout, the same semaphore +
// sync.WaitGroup shape as the agent runtime's tool executor.
type Executor struct {
	registry *Registry
	// Concurrency caps simultaneous in-flight backend calls.
	Concurrency int
}

// NewExecutor builds an Executor over registry. Concurrency defaults to 4.
func NewExecutor(registry *Registry, concurrency int) *Executor {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Executor{registry: registry, Concurrency: concurrency}
}

// Execute runs a single tool call and returns its result, never an error —
// failures are always folded into ToolResult.IsError so the Orchestrator can
// feed them back to the model.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall, principal *models.Principal) models.ToolResult {
	started := time.Now()
	result := e.execute(ctx, call, principal)
	metrics.ObserveToolExecution(call.Name, started, result.IsError)
	return result
}

func (e *Executor) execute(ctx context.Context, call models.ToolCall, principal *models.Principal) models.ToolResult {
	fn, ok := e.registry.Get(call.Name)
	if !ok {
		return models.ToolResult{ToolCallID: call.ID, Content: "unknown_tool", IsError: true}
	}

	timeout := DefaultBackendTimeout
	if call.Name == "get_rag_context" {
		timeout = RAGTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := fn(callCtx, principal, call.Input)
	if err != nil {
		return models.ToolResult{ToolCallID: call.ID, Content: classifyError(err), IsError: true}
	}

	content, marshalErr := marshalResult(result)
	if marshalErr != nil {
		return models.ToolResult{ToolCallID: call.ID, Content: "backend_error: could not encode result", IsError: true}
	}
	return models.ToolResult{ToolCallID: call.ID, Content: content}
}

// classifyError renders a Func error into the spec's structured taxonomy:
// {timeout} / {backend_error, status, body_excerpt} / plain validation text
// for caller-input errors.
func classifyError(err error) string {
	var be *backendError
	if errors.As(err, &be) {
		return be.Error()
	}
	var ae *toolArgError
	if errors.As(err, &ae) {
		return ae.msg
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return err.Error()
}

// ExecuteConcurrently runs every call in toolCalls with bounded concurrency,
// preserving input order in the returned slice regardless of completion
// order — callers append results to the transcript in call order.
func (e *Executor) ExecuteConcurrently(ctx context.Context, toolCalls []models.ToolCall, principal *models.Principal) []models.ToolResult {
	results := make([]models.ToolResult, len(toolCalls))

	sem := make(chan struct{}, e.Concurrency)
	var wg sync.WaitGroup
	for i, call := range toolCalls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = models.ToolResult{ToolCallID: tc.ID, Content: "timeout", IsError: true}
				return
			}
			results[idx] = e.Execute(ctx, tc, principal)
		}(i, call)
	}
	wg.Wait()
	return results
}
