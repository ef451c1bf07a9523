package orchestrator

import (
	"context"

	"github.com/nexusgw/gateway/internal/providers"
	"github.com/nexusgw/gateway/pkg/models"
)

// Frame is one unit of the streaming wire protocol (spec.md §6): a
// content chunk, a batch of requested tool calls, the terminal done
// marker, or a terminal error.
type Frame struct {
	Type          string            `json:"type"`
	Content       string            `json:"content,omitempty"`
	FunctionCalls []models.ToolCall `json:"function_calls,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// simulatedChunkSize matches the original service's fallback chunking when
// the adapter has no true streaming transport.
const simulatedChunkSize = 50

// RunStream mirrors Run but emits incremental frames. A tool-calling turn
// still only streams the final tool-free answer: true streaming plus
// function calls is not attempted mid-loop, matching chat_stream's single
// function_calls frame behavior in the original service.
func (o *Orchestrator) RunStream(ctx context.Context, adapter providers.ProviderAdapter, defaults models.ModelDefaults, req Request) <-chan Frame {
	out := make(chan Frame)
	go func() {
		defer close(out)

		caps := adapter.Capabilities()
		if !req.UseTools || !caps.SupportsToolCalls {
			o.streamPlainTurn(ctx, adapter, defaults, req, out)
			return
		}

		result, err := o.Run(ctx, adapter, defaults, req)
		if err != nil {
			out <- Frame{Type: "error", Error: err.Error()}
			return
		}

		var calls []models.ToolCall
		for _, e := range result.ExecutedCalls {
			calls = append(calls, e.Call)
		}
		if len(calls) > 0 {
			select {
			case out <- Frame{Type: "function_calls", FunctionCalls: calls}:
			case <-ctx.Done():
				return
			}
		}
		emitChunked(ctx, out, result.Answer)
		out <- Frame{Type: "done"}
	}()
	return out
}

// streamPlainTurn handles the tool-free path: true streaming via the
// adapter when supported, otherwise a simulated chunked fallback over the
// full response.
func (o *Orchestrator) streamPlainTurn(ctx context.Context, adapter providers.ProviderAdapter, defaults models.ModelDefaults, req Request, out chan<- Frame) {
	caps := adapter.Capabilities()
	transcript, err := o.assembleTranscript(ctx, req)
	if err != nil {
		out <- Frame{Type: "error", Error: err.Error()}
		return
	}

	params := req.Params
	if params.MaxTokens == nil && defaults.MaxTokens > 0 {
		maxTokens := defaults.MaxTokens
		params.MaxTokens = &maxTokens
	}
	params = providers.FilterParams(caps, providers.TurnPlain, params)
	transcript = providers.FoldLeadingSystemMessage(caps, transcript)

	if !caps.SupportsStreaming {
		answer, err := adapter.Chat(ctx, transcript, params)
		if err != nil {
			out <- Frame{Type: "error", Error: err.Error()}
			return
		}
		if err := o.writeBack(ctx, req.ThreadID, req.Principal, answer, nil); err != nil {
			out <- Frame{Type: "error", Error: err.Error()}
			return
		}
		emitChunked(ctx, out, answer)
		out <- Frame{Type: "done"}
		return
	}

	chunks, err := adapter.ChatStream(ctx, transcript, params)
	if err != nil {
		out <- Frame{Type: "error", Error: err.Error()}
		return
	}

	var full string
	for chunk := range chunks {
		if chunk.Err != nil {
			out <- Frame{Type: "error", Error: chunk.Err.Error()}
			return
		}
		if chunk.Text != "" {
			full += chunk.Text
			select {
			case out <- Frame{Type: "content", Content: chunk.Text}:
			case <-ctx.Done():
				return
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := o.writeBack(ctx, req.ThreadID, req.Principal, full, nil); err != nil {
		out <- Frame{Type: "error", Error: err.Error()}
		return
	}
	out <- Frame{Type: "done"}
}

// emitChunked slices text into fixed-size content frames, the simulated
// streaming fallback for adapters without a true streaming transport.
func emitChunked(ctx context.Context, out chan<- Frame, text string) {
	for i := 0; i < len(text); i += simulatedChunkSize {
		end := i + simulatedChunkSize
		if end > len(text) {
			end = len(text)
		}
		select {
		case out <- Frame{Type: "content", Content: text[i:end]}:
		case <-ctx.Done():
			return
		}
	}
}
