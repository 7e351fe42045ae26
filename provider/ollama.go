package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"modelmux/tools"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3.1:latest"

	ollamaProbeTimeout = 5 * time.Second
)

// OllamaBackend drives a local Ollama daemon through its native API.
//
// This backend handles all type conversions between modelmux's
// backend-agnostic types and Ollama's specific API types. It converts
// Turn to api.Message, mcptypes.Tool to api.Tool, and api.ToolCall to
// provider.ToolCall.
//
// Ollama is the only backend that can fetch a missing model itself:
// Prepare pulls the configured model from the registry when it is not
// on disk, reporting download progress along the way. Prepared handles
// are never reused across requests because the daemon manages model
// residency on its own.
type OllamaBackend struct {
	client  *api.Client
	baseURL string
	model   string
}

var _ Backend = (*OllamaBackend)(nil)

// NewOllamaBackend creates a new Ollama backend instance.
//
// Parameters:
//   - baseURL: The Ollama server URL (e.g., "http://localhost:11434").
//     If empty, defaults to "http://localhost:11434".
//   - model: The model name to use (e.g., "llama3.1:latest").
//     If empty, defaults to "llama3.1:latest".
//
// Returns an error if the baseURL is invalid.
//
// Example:
//
//	b, err := NewOllamaBackend("http://localhost:11434", "llama3.1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	handle, err := b.Prepare(ctx, nil)
func NewOllamaBackend(baseURL, model string) (*OllamaBackend, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if model == "" {
		model = defaultOllamaModel
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	return &OllamaBackend{
		client:  api.NewClient(parsedURL, http.DefaultClient),
		baseURL: baseURL,
		model:   model,
	}, nil
}

// Kind implements Backend.Kind.
func (b *OllamaBackend) Kind() BackendKind {
	return KindOllama
}

// Capabilities implements Backend.Capabilities.
//
// Ollama accepts image attachments with any model. Tool support depends
// on the model family; see OllamaModelSupportsToolCalling.
func (b *OllamaBackend) Capabilities() Capabilities {
	return Capabilities{
		Multimodal: true,
		Tools:      OllamaModelSupportsToolCalling(b.model),
	}
}

// Availability implements Backend.Availability.
//
// The daemon is probed with a bounded model listing. An unreachable
// daemon is Unavailable; a reachable daemon serves the configured model
// immediately when it is on disk (Available) and can fetch it otherwise
// (Downloadable).
func (b *OllamaBackend) Availability(ctx context.Context) Availability {
	ctx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()

	resp, err := b.client.List(ctx)
	if err != nil {
		return Unavailable
	}

	for _, m := range resp.Models {
		if m.Name == b.model || m.Name == b.model+":latest" {
			return Available
		}
	}
	return Downloadable
}

// Prepare implements Backend.Prepare.
//
// When the configured model is already on disk this returns immediately.
// When it is missing, Prepare pulls it from the Ollama registry and
// reports fractional download progress through onProgress. onProgress
// may be nil.
//
// Example:
//
//	handle, err := b.Prepare(ctx, func(fraction float64) {
//	    fmt.Printf("\rdownloading: %.0f%%", fraction*100)
//	})
func (b *OllamaBackend) Prepare(ctx context.Context, onProgress ProgressFunc) (*Handle, error) {
	availability := b.Availability(ctx)
	switch availability {
	case Unavailable:
		return nil, fmt.Errorf("ollama daemon at %s: %w", b.baseURL, ErrUnavailable)
	case Available:
		return &Handle{Kind: KindOllama, Model: b.model, Availability: Available}, nil
	}

	req := &api.PullRequest{Model: b.model}
	progressFunc := func(resp api.ProgressResponse) error {
		if onProgress != nil && resp.Total > 0 {
			onProgress(float64(resp.Completed) / float64(resp.Total))
		}
		return nil
	}
	if err := b.client.Pull(ctx, req, progressFunc); err != nil {
		return nil, fmt.Errorf("failed to pull %s: %w", b.model, err)
	}
	if onProgress != nil {
		onProgress(1.0)
	}

	return &Handle{Kind: KindOllama, Model: b.model, Availability: Downloadable}, nil
}

// Generate implements Backend.Generate with type conversions.
//
// This method handles all necessary type conversions:
//   - Converts Turn to api.Message (modelmux → Ollama messages)
//   - Converts mcptypes.Tool to api.Tool (MCP → Ollama tools)
//   - Converts api.ToolCall to provider.ToolCall (Ollama → modelmux tool calls)
//
// Text fragments stream through onDelta as they arrive. Tool calls are
// collected across the stream and returned once generation ends.
//
// Example:
//
//	calls, err := b.Generate(ctx, handle, Request{Turns: turns}, func(delta string) error {
//	    fmt.Print(delta)
//	    return nil
//	})
func (b *OllamaBackend) Generate(ctx context.Context, h *Handle, req Request, onDelta func(delta string) error) ([]ToolCall, error) {
	// Convert modelmux turns to Ollama messages
	messages := ToOllamaMessages(req.Turns)

	// Convert MCP tools to Ollama tools (if any)
	var ollamaTools []api.Tool
	if len(req.Tools) > 0 {
		ollamaTools = tools.ToOllamaTools(req.Tools)
	}

	options := map[string]any{}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	chatReq := &api.ChatRequest{
		Model:    h.Model,
		Messages: messages,
		Tools:    ollamaTools,
		Stream:   func(v bool) *bool { return &v }(true),
		Options:  options,
	}

	var calls []ToolCall
	respFunc := func(resp api.ChatResponse) error {
		if len(resp.Message.ToolCalls) > 0 {
			calls = append(calls, FromOllamaToolCalls(resp.Message.ToolCalls)...)
		}
		if resp.Message.Content != "" && onDelta != nil {
			return onDelta(resp.Message.Content)
		}
		return nil
	}

	if err := b.client.Chat(ctx, chatReq, respFunc); err != nil {
		return nil, err
	}
	return calls, nil
}

// ListModels implements Backend.ListModels.
//
// Returns every model present on the Ollama server.
//
// Example:
//
//	models, err := b.ListModels(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, m := range models {
//	    fmt.Printf("%s (%d bytes)\n", m.Name, m.Size)
//	}
func (b *OllamaBackend) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := b.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	models := make([]ModelInfo, len(resp.Models))
	for i, m := range resp.Models {
		models[i] = ModelInfo{
			Name:    m.Name,
			Size:    m.Size,
			Backend: KindOllama,
		}
	}
	return models, nil
}

// GetModel implements Backend.GetModel (direct passthrough).
func (b *OllamaBackend) GetModel() string {
	return b.model
}

// SetModel implements Backend.SetModel (direct passthrough).
//
// Changes the active model for subsequent operations.
//
// Example:
//
//	b.SetModel("llama3.2:latest")
//	// Future requests will use llama3.2
func (b *OllamaBackend) SetModel(model string) {
	b.model = model
}
