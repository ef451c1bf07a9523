package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nexusgw/gateway/internal/memorystore"
	"github.com/nexusgw/gateway/internal/permissions"
	"github.com/nexusgw/gateway/internal/providers"
	"github.com/nexusgw/gateway/internal/tools"
	"github.com/nexusgw/gateway/pkg/models"
)

func newTestStore(t *testing.T) *memorystore.Store {
	t.Helper()
	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := memorystore.Open(memorystore.Config{Path: path, TTL: time.Hour, SweepInterval: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestOrchestrator(t *testing.T, financeHandler http.HandlerFunc) *Orchestrator {
	t.Helper()
	cfg := tools.BackendConfig{}
	if financeHandler != nil {
		srv := httptest.NewServer(financeHandler)
		t.Cleanup(srv.Close)
		cfg.FinanceServiceURL = srv.URL
	}
	executor := tools.NewExecutor(tools.NewRegistry(cfg), 4)
	resolver := permissions.NewResolver(permissions.DefaultCatalog())
	return New(newTestStore(t), resolver, executor, permissions.DefaultCatalog())
}

// fakeAdapter is a scripted ProviderAdapter: each ChatWithTools call
// consumes the next entry in toolTurns, then Chat returns finalAnswer.
type fakeAdapter struct {
	caps        models.Capabilities
	toolTurns   [][]models.ToolCall
	turnIdx     int
	finalAnswer string
	streamChunks []string
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Chat(ctx context.Context, messages []models.ChatMessage, params providers.Params) (string, error) {
	return f.finalAnswer, nil
}

func (f *fakeAdapter) ChatWithTools(ctx context.Context, messages []models.ChatMessage, tools []models.ToolPermission, params providers.Params) (string, []models.ToolCall, error) {
	if f.turnIdx >= len(f.toolTurns) {
		return f.finalAnswer, nil, nil
	}
	calls := f.toolTurns[f.turnIdx]
	f.turnIdx++
	return "", calls, nil
}

func (f *fakeAdapter) ChatStream(ctx context.Context, messages []models.ChatMessage, params providers.Params) (<-chan providers.StreamChunk, error) {
	out := make(chan providers.StreamChunk, len(f.streamChunks)+1)
	for _, c := range f.streamChunks {
		out <- providers.StreamChunk{Text: c}
	}
	out <- providers.StreamChunk{Done: true}
	close(out)
	return out, nil
}

func (f *fakeAdapter) Test(ctx context.Context) providers.TestResult { return providers.TestResult{OK: true} }

func (f *fakeAdapter) Capabilities() models.Capabilities { return f.caps }

func schemaACaps() models.Capabilities {
	return models.Capabilities{
		SupportsStreaming:      true,
		SupportsToolCalls:      true,
		SupportsSystemMessages: true,
		ToolSchema:             models.SchemaA,
		MaxContextLength:       8000,
	}
}

func verifiedPrincipal() *models.Principal {
	return &models.Principal{
		UserID:   "user-1",
		Scopes:   []string{"banking:read"},
		Roles:    []string{"customer"},
		Verified: true,
	}
}

func TestRunPlainTurnNoTools(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	adapter := &fakeAdapter{caps: schemaACaps(), finalAnswer: "your balance is fine"}

	result, err := o.Run(t.Context(), adapter, models.ModelDefaults{}, Request{
		ThreadID:    "t1",
		Principal:   verifiedPrincipal(),
		UserMessage: "hello",
		UseTools:    false,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Answer != "your balance is fine" {
		t.Fatalf("unexpected answer: %+v", result)
	}

	history, err := o.Memory.Load(t.Context(), "t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected user + assistant persisted, got %d: %+v", len(history), history)
	}
}

func TestRunExecutesPermittedToolAndStopsLoop(t *testing.T) {
	financeHandler := func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{{"id": "a1", "type": "checking", "balance": 250.0}})
	}
	o := newTestOrchestrator(t, financeHandler)
	adapter := &fakeAdapter{
		caps: schemaACaps(),
		toolTurns: [][]models.ToolCall{
			{{ID: "call-1", Name: "get_account_balance", Input: json.RawMessage(`{"account_type":"checking"}`)}},
		},
		finalAnswer: "your checking balance is $250",
	}

	result, err := o.Run(t.Context(), adapter, models.ModelDefaults{}, Request{
		ThreadID:    "t2",
		Principal:   verifiedPrincipal(),
		UserMessage: "what's my checking balance?",
		UseTools:    true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.ExecutedCalls) != 1 || result.ExecutedCalls[0].Denied {
		t.Fatalf("expected one permitted executed call, got %+v", result.ExecutedCalls)
	}
	if result.ExecutedCalls[0].Result.IsError {
		t.Fatalf("expected successful tool result, got %+v", result.ExecutedCalls[0].Result)
	}

	history, err := o.Memory.Load(t.Context(), "t2")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, m := range history {
		if m.Role == models.ChatRoleTool {
			t.Fatalf("raw tool-role message must never be persisted, got %+v", m)
		}
	}
	foundSummary := false
	for _, m := range history {
		if m.Role == models.ChatRoleAssistant && len(m.Content) > len("[tool_result]") && m.Content[:13] == "[tool_result]" {
			foundSummary = true
		}
	}
	if !foundSummary {
		t.Fatalf("expected a synthesized [tool_result] record, got %+v", history)
	}
}

func TestRunDeniesUnpermittedTool(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	adapter := &fakeAdapter{
		caps: schemaACaps(),
		toolTurns: [][]models.ToolCall{
			{{ID: "call-1", Name: "get_all_customer_accounts", Input: json.RawMessage(`{}`)}},
		},
		finalAnswer: "I can't do that",
	}

	unprivileged := &models.Principal{UserID: "user-2", Scopes: []string{}, Roles: []string{}}
	result, err := o.Run(t.Context(), adapter, models.ModelDefaults{}, Request{
		ThreadID:    "t3",
		Principal:   unprivileged,
		UserMessage: "list every customer's accounts",
		UseTools:    true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.ExecutedCalls) != 1 || !result.ExecutedCalls[0].Denied {
		t.Fatalf("expected the call to be denied, got %+v", result.ExecutedCalls)
	}
}

func TestRunAlwaysWhitelistsRAGTool(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	unprivileged := &models.Principal{UserID: "user-3"}
	toolSet := o.assembleToolSet(Request{UseTools: true, UseRAG: true, Principal: unprivileged})

	found := false
	for _, d := range toolSet {
		if d.Name == permissions.RAGContextTool {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected get_rag_context in tool set regardless of resolver output, got %+v", toolSet)
	}
}

func TestRunStopsAtIterationBound(t *testing.T) {
	infiniteCall := models.ToolCall{ID: "loop", Name: "get_all_customer_accounts", Input: json.RawMessage(`{}`)}
	turns := make([][]models.ToolCall, MaxToolIterations+2)
	for i := range turns {
		turns[i] = []models.ToolCall{infiniteCall}
	}
	o := newTestOrchestrator(t, nil)
	adapter := &fakeAdapter{caps: schemaACaps(), toolTurns: turns, finalAnswer: "done anyway"}

	admin := &models.Principal{UserID: "admin-1", Roles: []string{"admin"}, Scopes: []string{"admin:read"}}
	result, err := o.Run(t.Context(), adapter, models.ModelDefaults{}, Request{
		ThreadID:    "t4",
		Principal:   admin,
		UserMessage: "keep going",
		UseTools:    true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.ExecutedCalls) != MaxToolIterations {
		t.Fatalf("expected exactly %d iterations worth of calls, got %d", MaxToolIterations, len(result.ExecutedCalls))
	}
	if result.Answer != "done anyway" {
		t.Fatalf("expected final tool-free turn to still run, got %+v", result)
	}
}

func TestRunTriggerEndSessionClosesThread(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	adapter := &fakeAdapter{
		caps: schemaACaps(),
		toolTurns: [][]models.ToolCall{
			{{ID: "call-1", Name: "trigger_end_session", Input: json.RawMessage(`{}`)}},
		},
		finalAnswer: "goodbye",
	}

	result, err := o.Run(t.Context(), adapter, models.ModelDefaults{}, Request{
		ThreadID:    "t5",
		Principal:   verifiedPrincipal(),
		UserMessage: "end this chat",
		UseTools:    true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.EndSession {
		t.Fatalf("expected EndSession to be true, got %+v", result)
	}

	history, err := o.Memory.Load(t.Context(), "t5")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected closed thread's active view to be empty, got %+v", history)
	}
}

func TestRunSucceedsWhenSystemMessagesUnsupported(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	noSystemCaps := schemaACaps()
	noSystemCaps.SupportsSystemMessages = false
	adapter := &fakeAdapter{caps: noSystemCaps, finalAnswer: "ok"}

	_, err := o.Run(t.Context(), adapter, models.ModelDefaults{}, Request{
		ThreadID:    "t6",
		Principal:   verifiedPrincipal(),
		UserMessage: "hi",
		UseTools:    false,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunStreamSimulatesChunksWithoutStreamingSupport(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	caps := schemaACaps()
	caps.SupportsStreaming = false
	adapter := &fakeAdapter{caps: caps, finalAnswer: "a fairly short answer"}

	frames := o.RunStream(t.Context(), adapter, models.ModelDefaults{}, Request{
		ThreadID:    "t7",
		Principal:   verifiedPrincipal(),
		UserMessage: "hi",
		UseTools:    false,
	})

	var content string
	sawDone := false
	for f := range frames {
		if f.Type == "content" {
			content += f.Content
		}
		if f.Type == "done" {
			sawDone = true
		}
		if f.Type == "error" {
			t.Fatalf("unexpected error frame: %s", f.Error)
		}
	}
	if !sawDone {
		t.Fatal("expected a terminal done frame")
	}
	if content != "a fairly short answer" {
		t.Fatalf("expected reassembled content to match full answer, got %q", content)
	}
}

func TestRunStreamTrueStreamingEmitsChunks(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	adapter := &fakeAdapter{caps: schemaACaps(), streamChunks: []string{"hel", "lo "}}

	frames := o.RunStream(t.Context(), adapter, models.ModelDefaults{}, Request{
		ThreadID:    "t8",
		Principal:   verifiedPrincipal(),
		UserMessage: "hi",
		UseTools:    false,
	})

	var chunks []string
	for f := range frames {
		if f.Type == "content" {
			chunks = append(chunks, f.Content)
		}
	}
	if len(chunks) != 2 || chunks[0] != "hel" || chunks[1] != "lo " {
		t.Fatalf("expected true-streamed chunks preserved, got %+v", chunks)
	}
}
