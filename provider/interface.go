// Package provider defines the abstract interface for model backends.
//
// Modelmux routes inference across multiple local backends (an Ollama
// daemon, an LM Studio server, any OpenAI-compatible server) through a
// common Backend interface. This keeps the transport and routing logic
// backend-agnostic, so adding a new runtime never touches the stream
// pipeline or the selection rules.
//
// # Why Backend Abstraction?
//
// The backend abstraction exists to:
//   - Route one request across several runtimes with a uniform contract
//   - Isolate backend-specific wire types from modelmux's core types
//   - Allow easy testing with mock backends
//   - Make adding new backends straightforward (just implement the interface)
//
// # Type Conversions
//
// The provider layer handles all type conversions between modelmux's
// backend-agnostic types and backend-specific types. See the conversion
// functions in conversions.go:
//   - ToOllamaMessages / ToOpenAIMessages / ToLMStudioHistory
//   - FromOllamaToolCalls / ParseToolArguments
//
// # Architecture
//
//   - provider.Backend defines the contract (interface)
//   - provider.OllamaBackend implements it for an Ollama daemon
//   - provider.LMStudioBackend implements it for an LM Studio server
//   - provider.OpenAICompatBackend implements it for OpenAI-compatible servers
//   - provider.NewBackend() factory creates backends from config
//
// # Usage
//
//	cfg := provider.Config{
//	    Kind:    provider.KindOllama,
//	    BaseURL: "http://localhost:11434",
//	    Model:   "llama3.1",
//	}
//	b, err := provider.NewBackend(cfg)
//	if err != nil {
//	    // handle error
//	}
//	handle, err := b.Prepare(ctx, nil)
package provider

import (
	"context"
)

// ProgressFunc receives download or load fractions in [0,1] while a
// backend prepares a model. A nil ProgressFunc is always permitted.
type ProgressFunc func(fraction float64)

// Backend is the uniform contract every model runtime implements.
//
// Availability never returns an error: a backend that cannot be reached
// reports Unavailable. Prepare performs whatever work turns the
// configured model into something Generate can use (pulling, loading
// into memory, or nothing at all) and reports progress along the way.
type Backend interface {
	// Kind identifies which runtime this backend drives.
	Kind() BackendKind

	// Capabilities reports what the backend supports with its current model.
	Capabilities() Capabilities

	// Availability probes the runtime and classifies the configured model.
	Availability(ctx context.Context) Availability

	// Prepare makes the configured model ready and returns a handle for it.
	// onProgress may be nil.
	Prepare(ctx context.Context, onProgress ProgressFunc) (*Handle, error)

	// Generate streams a completion for req against a prepared handle.
	// onDelta receives each text fragment; returning an error from onDelta
	// cancels generation and surfaces that error. Tool calls detected in
	// the response are returned after the stream ends.
	Generate(ctx context.Context, h *Handle, req Request, onDelta func(delta string) error) ([]ToolCall, error)

	// ListModels returns the models this backend can currently serve.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// GetModel returns the currently configured model name.
	GetModel() string

	// SetModel changes the configured model.
	SetModel(model string)
}

// Config holds backend-specific configuration.
type Config struct {
	Kind    BackendKind
	BaseURL string
	Model   string
	APIKey  string // OpenAI-compatible servers only (unused for Ollama and LM Studio)
}
