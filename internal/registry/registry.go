// Package registry resolves friendly model names to vendor API names and
// reports per-model capabilities and parameter defaults, loaded from an
// on-disk document and swapped atomically on reload.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	"github.com/nexusgw/gateway/internal/providers/bedrock"
	"github.com/nexusgw/gateway/pkg/models"
)

// ModelType categorizes a friendly model entry as reasoning-class or
// one-shot (sampling temperature allowed).
type ModelType string

const (
	ModelTypeReasoning ModelType = "reasoning"
	ModelTypeOneShot   ModelType = "one_shot"
)

// Document is the on-disk registry shape: provider -> {reasoning|one_shot ->
// {friendly -> api_name}}, plus optional per-(provider, friendly) defaults.
type Document struct {
	Providers        map[string]ProviderDocument         `yaml:"providers" json:"providers"`
	ModelParameters   map[string]map[string]ParamOverride `yaml:"model_parameters" json:"model_parameters"`
}

// ProviderDocument groups a provider's friendly->api mappings by model type.
type ProviderDocument struct {
	Reasoning map[string]string `yaml:"reasoning" json:"reasoning"`
	OneShot   map[string]string `yaml:"one_shot" json:"one_shot"`
}

// ParamOverride is an optional per-(provider, friendly) parameter default.
type ParamOverride struct {
	MaxTokens          int `yaml:"max_tokens" json:"max_tokens"`
	RAGTopK            int `yaml:"rag_k" json:"rag_k"`
	RAGMaxContextChars int `yaml:"rag_max_context_chars" json:"rag_max_context_chars"`
}

// entry is a single resolved model: one per (provider, friendly).
type entry struct {
	provider string
	friendly string
	apiName  string
	modelType ModelType
}

// view is the immutable snapshot swapped in atomically on Reload.
type view struct {
	byFriendly map[string]entry            // "<provider>/<friendly>" -> entry
	byAPIName  map[string]entry            // "<provider>/<api>" -> entry
	defaults   map[string]models.ModelDefaults // "<provider>/<friendly>" -> defaults
}

// Registry resolves friendly<->api model names and capabilities. Reload
// performs a single atomic pointer swap; all reads are lock-free.
type Registry struct {
	path string
	cur  atomic.Pointer[view]
}

// New constructs a Registry and performs an initial load from path.
func New(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the on-disk document and atomically swaps the in-memory
// view. Existing resolve/list callers see either the old or new view in
// full, never a partial one.
func (r *Registry) Reload() error {
	doc, err := loadDocument(r.path)
	if err != nil {
		return fmt.Errorf("registry: load %s: %w", r.path, err)
	}
	r.cur.Store(buildView(doc))
	return nil
}

func loadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	ext := strings.ToLower(path[strings.LastIndex(path, ".")+1:])
	switch ext {
	case "json", "json5":
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}

func buildView(doc *Document) *view {
	v := &view{
		byFriendly: map[string]entry{},
		byAPIName:  map[string]entry{},
		defaults:   map[string]models.ModelDefaults{},
	}
	for provider, pd := range doc.Providers {
		for friendly, api := range pd.Reasoning {
			e := entry{provider: provider, friendly: friendly, apiName: api, modelType: ModelTypeReasoning}
			v.byFriendly[key(provider, friendly)] = e
			v.byAPIName[key(provider, api)] = e
		}
		for friendly, api := range pd.OneShot {
			e := entry{provider: provider, friendly: friendly, apiName: api, modelType: ModelTypeOneShot}
			v.byFriendly[key(provider, friendly)] = e
			v.byAPIName[key(provider, api)] = e
		}
	}
	for provider, byFriendly := range doc.ModelParameters {
		for friendly, override := range byFriendly {
			v.defaults[key(provider, friendly)] = models.ModelDefaults{
				MaxTokens:          override.MaxTokens,
				RAGTopK:            override.RAGTopK,
				RAGMaxContextChars: override.RAGMaxContextChars,
			}
		}
	}
	return v
}

func key(provider, name string) string { return provider + "/" + name }

// Resolved is the outcome of resolving a (provider, friendly) pair.
type Resolved struct {
	APIName      string
	ModelType    ModelType
	Capabilities models.Capabilities
	Defaults     models.ModelDefaults
}

// Resolve maps a (provider, friendly) pair to its API name, model type,
// computed capabilities, and any configured parameter defaults.
func (r *Registry) Resolve(provider, friendlyName string) (Resolved, error) {
	v := r.cur.Load()
	if v == nil {
		return Resolved{}, fmt.Errorf("registry: not loaded")
	}
	e, ok := v.byFriendly[key(provider, friendlyName)]
	if !ok {
		return Resolved{}, fmt.Errorf("registry: unknown model %s/%s", provider, friendlyName)
	}
	return Resolved{
		APIName:      e.apiName,
		ModelType:    e.modelType,
		Capabilities: capabilitiesFor(provider, e.modelType),
		Defaults:     v.defaults[key(provider, friendlyName)],
	}, nil
}

// FriendlyOf returns the friendly name for a vendor API model name, if known.
func (r *Registry) FriendlyOf(provider, apiName string) (string, bool) {
	v := r.cur.Load()
	if v == nil {
		return "", false
	}
	e, ok := v.byAPIName[key(provider, apiName)]
	if !ok {
		return "", false
	}
	return e.friendly, true
}

// List returns the provider's full friendly model map, grouped by type.
func (r *Registry) List(provider string) map[ModelType]map[string]string {
	v := r.cur.Load()
	if v == nil {
		return nil
	}
	out := map[ModelType]map[string]string{
		ModelTypeReasoning: {},
		ModelTypeOneShot:   {},
	}
	for _, e := range v.byFriendly {
		if e.provider != provider {
			continue
		}
		out[e.modelType][e.friendly] = e.apiName
	}
	return out
}

// Providers returns every provider name with at least one configured model,
// used by the HTTP surface's registry-snapshot endpoint.
func (r *Registry) Providers() []string {
	v := r.cur.Load()
	if v == nil {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	for _, e := range v.byFriendly {
		if _, ok := seen[e.provider]; !ok {
			seen[e.provider] = struct{}{}
			out = append(out, e.provider)
		}
	}
	return out
}

// capabilitiesFor computes capability flags from a small static rule table
// keyed by provider + model type. Reasoning-class models forbid temperature
// and drop system-message support for OpenAI's o-series family.
func capabilitiesFor(provider string, mt ModelType) models.Capabilities {
	caps := models.Capabilities{
		SupportsStreaming: true,
		SupportsToolCalls: true,
		SupportsSystemMessages: true,
		MaxContextLength:  128_000,
	}
	switch provider {
	case "anthropic":
		caps.ToolSchema = models.SchemaB
		caps.MaxContextLength = 200_000
	case "google":
		caps.ToolSchema = models.SchemaB
		caps.MaxContextLength = 1_000_000
	case "bedrock":
		caps.ToolSchema = models.SchemaA
	case "ollama":
		caps.ToolSchema = models.SchemaC
		caps.SupportsToolCalls = false
		caps.MaxContextLength = 32_000
	default: // openai, azure
		caps.ToolSchema = models.SchemaA
	}
	if mt == ModelTypeReasoning {
		caps.SupportsReasoning = true
		if provider == "openai" || provider == "azure" {
			caps.SupportsSystemMessages = false
		}
	}
	return caps
}

// MarshalDocument serializes a document back to YAML, used by tests and by
// operator tooling that edits the registry on disk.
func (d *Document) MarshalDocument() ([]byte, error) {
	return yaml.Marshal(d)
}

// Watch starts an fsnotify watch on the registry's source file and triggers
// Reload on every write, logging (and ignoring) reload failures so a
// malformed edit never takes down an already-loaded registry. The watch
// goroutine has no stop mechanism and runs for the process lifetime,
// matching the teacher's fire-and-forget watch goroutine idiom.
func (r *Registry) Watch(logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("registry: watch %s: %w", r.path, err)
	}
	if err := watcher.Add(r.path); err != nil {
		watcher.Close()
		return fmt.Errorf("registry: watch %s: %w", r.path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.Reload(); err != nil {
					logger.Warn("registry: reload failed", "path", r.path, "error", err)
					continue
				}
				logger.Info("registry: reloaded", "path", r.path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("registry: watch error", "error", err)
			}
		}
	}()
	return nil
}

// MergeBedrockDiscovery queries AWS for the live set of enabled Bedrock
// foundation models and folds them into the "bedrock" provider's view as
// additional one-shot/reasoning entries, keyed by their AWS model id (used
// as both friendly and API name since Bedrock has no separate friendly
// naming convention). Models already present in the on-disk document are
// left untouched — discovery only adds entries the static document doesn't
// already define. A subsequent Reload() discards any merged entries until
// MergeBedrockDiscovery is called again, matching the document as the
// source of truth and discovery as a live supplement.
func (r *Registry) MergeBedrockDiscovery(ctx context.Context, cfg *bedrock.DiscoveryConfig) (int, error) {
	discovered, err := bedrock.DiscoverModels(ctx, cfg)
	if err != nil {
		return 0, fmt.Errorf("registry: bedrock discovery: %w", err)
	}

	cur := r.cur.Load()
	if cur == nil {
		return 0, fmt.Errorf("registry: not loaded")
	}

	merged := &view{
		byFriendly: make(map[string]entry, len(cur.byFriendly)),
		byAPIName:  make(map[string]entry, len(cur.byAPIName)),
		defaults:   make(map[string]models.ModelDefaults, len(cur.defaults)),
	}
	for k, v := range cur.byFriendly {
		merged.byFriendly[k] = v
	}
	for k, v := range cur.byAPIName {
		merged.byAPIName[k] = v
	}
	for k, v := range cur.defaults {
		merged.defaults[k] = v
	}

	added := 0
	for _, d := range discovered {
		if _, exists := merged.byAPIName[key("bedrock", d.ID)]; exists {
			continue
		}
		mt := ModelTypeOneShot
		if d.Reasoning {
			mt = ModelTypeReasoning
		}
		e := entry{provider: "bedrock", friendly: d.ID, apiName: d.ID, modelType: mt}
		merged.byFriendly[key("bedrock", d.ID)] = e
		merged.byAPIName[key("bedrock", d.ID)] = e
		merged.defaults[key("bedrock", d.ID)] = models.ModelDefaults{MaxTokens: d.MaxTokens}
		added++
	}

	r.cur.Store(merged)
	return added, nil
}
