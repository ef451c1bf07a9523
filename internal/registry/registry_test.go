package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nexusgw/gateway/pkg/models"
)

const sampleDoc = `
providers:
  openai:
    reasoning:
      o3: o3-2025-04-16
    one_shot:
      gpt4o: gpt-4o
  anthropic:
    one_shot:
      sonnet: claude-sonnet-4-20250514
model_parameters:
  openai:
    gpt4o:
      max_tokens: 2048
      rag_k: 5
      rag_max_context_chars: 4000
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	if err := os.WriteFile(path, []byte(sampleDoc), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func TestResolveOneShot(t *testing.T) {
	r, err := New(writeSample(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resolved, err := r.Resolve("openai", "gpt4o")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.APIName != "gpt-4o" {
		t.Errorf("api name = %q, want gpt-4o", resolved.APIName)
	}
	if resolved.ModelType != ModelTypeOneShot {
		t.Errorf("model type = %q, want one_shot", resolved.ModelType)
	}
	if resolved.Capabilities.SupportsReasoning {
		t.Errorf("gpt4o should not be reasoning-class")
	}
	if resolved.Defaults.MaxTokens != 2048 {
		t.Errorf("max tokens = %d, want 2048", resolved.Defaults.MaxTokens)
	}
}

func TestResolveReasoningDropsSystemMessages(t *testing.T) {
	r, err := New(writeSample(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resolved, err := r.Resolve("openai", "o3")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !resolved.Capabilities.SupportsReasoning {
		t.Errorf("o3 should be reasoning-class")
	}
	if resolved.Capabilities.SupportsSystemMessages {
		t.Errorf("openai reasoning models should not support system messages")
	}
}

func TestResolveUnknownModel(t *testing.T) {
	r, err := New(writeSample(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.Resolve("openai", "does-not-exist"); err == nil {
		t.Errorf("expected error for unknown model")
	}
}

func TestFriendlyOf(t *testing.T) {
	r, err := New(writeSample(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	friendly, ok := r.FriendlyOf("anthropic", "claude-sonnet-4-20250514")
	if !ok || friendly != "sonnet" {
		t.Errorf("FriendlyOf = (%q, %v), want (sonnet, true)", friendly, ok)
	}
}

func TestReloadSwapsAtomically(t *testing.T) {
	path := writeSample(t)
	r, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	updated := strings.Replace(sampleDoc, "model_parameters:", `  google:
    one_shot:
      gemini: gemini-2.5-pro
model_parameters:`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, err := r.Resolve("google", "gemini"); err != nil {
		t.Errorf("expected gemini resolvable after reload: %v", err)
	}
}

func TestCapabilitiesBySchema(t *testing.T) {
	cases := []struct {
		provider string
		want     models.ToolSchema
	}{
		{"openai", models.SchemaA},
		{"anthropic", models.SchemaB},
		{"ollama", models.SchemaC},
	}
	for _, tc := range cases {
		got := capabilitiesFor(tc.provider, ModelTypeOneShot)
		if got.ToolSchema != tc.want {
			t.Errorf("provider %s: schema = %q, want %q", tc.provider, got.ToolSchema, tc.want)
		}
	}
}
