package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"modelmux/tools"
)

const defaultOpenAICompatURL = "http://localhost:8080/v1"

// OpenAICompatBackend drives any local server that speaks the OpenAI
// chat completions API (llama.cpp server, vLLM, LocalAI, and the like)
// through the official OpenAI Go SDK with an overridden base URL.
//
// This backend is always constructible and is the last resort in
// automatic selection: availability collapses to a reachability check
// on the models endpoint, since a generic server exposes no download
// or load state.
type OpenAICompatBackend struct {
	client  openai.Client
	model   string
	baseURL string
}

var _ Backend = (*OpenAICompatBackend)(nil)

// NewOpenAICompatBackend creates a new OpenAI-compatible backend
// instance.
//
// Parameters:
//   - baseURL: The server's API base URL (default: "http://localhost:8080/v1")
//   - apiKey: Optional bearer token; most local servers ignore it
//   - model: The model name the server knows (required for generation,
//     may be empty at construction)
//
// Construction never fails: a server that is down simply reports
// Unavailable from Availability.
func NewOpenAICompatBackend(baseURL, apiKey, model string) *OpenAICompatBackend {
	if baseURL == "" {
		baseURL = defaultOpenAICompatURL
	}
	if apiKey == "" {
		// The SDK requires a key; local servers accept anything.
		apiKey = "not-needed"
	}

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)

	return &OpenAICompatBackend{
		client:  client,
		model:   model,
		baseURL: baseURL,
	}
}

// Kind implements Backend.Kind.
func (b *OpenAICompatBackend) Kind() BackendKind {
	return KindOpenAICompat
}

// Capabilities implements Backend.Capabilities.
//
// Tool definitions pass through the standard chat completions tools
// field. File attachments do not: the local servers this backend
// targets reject image content parts.
func (b *OpenAICompatBackend) Capabilities() Capabilities {
	return Capabilities{Multimodal: false, Tools: true}
}

// Availability implements Backend.Availability.
//
// A generic OpenAI-compatible server exposes no model download or load
// state, so the classification is binary: Available when the models
// endpoint answers, Unavailable otherwise.
func (b *OpenAICompatBackend) Availability(ctx context.Context) Availability {
	if _, err := b.client.Models.List(ctx); err != nil {
		return Unavailable
	}
	return Available
}

// Prepare implements Backend.Prepare.
//
// There is nothing to download or load; Prepare just verifies the
// server answers. onProgress is never called.
func (b *OpenAICompatBackend) Prepare(ctx context.Context, onProgress ProgressFunc) (*Handle, error) {
	if b.Availability(ctx) == Unavailable {
		return nil, fmt.Errorf("openai-compatible server at %s: %w", b.baseURL, ErrUnavailable)
	}
	return &Handle{Kind: KindOpenAICompat, Model: b.model, Availability: Available}, nil
}

// Generate implements Backend.Generate with streaming support.
//
// When the request carries tools, a tool instruction preamble is
// prepended as a system message and tool definitions travel in the
// request. Tool calls reported through the API are collected and
// returned; when the API reports none, the accumulated text is scanned
// for leaked tool call JSON as a fallback for models that narrate their
// calls instead.
func (b *OpenAICompatBackend) Generate(ctx context.Context, h *Handle, req Request, onDelta func(delta string) error) ([]ToolCall, error) {
	// Prepend tool instructions if tools present
	turns := req.Turns
	if len(req.Tools) > 0 {
		instruction := SystemTurn(buildToolInstructions(req.Tools))
		turns = append([]Turn{instruction}, req.Turns...)
	}

	params := openai.ChatCompletionNewParams{
		Messages: ToOpenAIMessages(turns),
		Model:    openai.ChatModel(h.Model),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = tools.ToOpenAITools(req.Tools)
	}

	stream := b.client.Chat.Completions.NewStreaming(ctx, params)
	acc := openai.ChatCompletionAccumulator{}

	var calls []ToolCall
	var contentBuilder strings.Builder

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if tool, ok := acc.JustFinishedToolCall(); ok {
			calls = append(calls, ToolCall{
				Name:      tool.Name,
				Arguments: ParseToolArguments(tool.Arguments),
			})
		}

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			content := chunk.Choices[0].Delta.Content
			contentBuilder.WriteString(content)
			if onDelta != nil {
				if err := onDelta(content); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai-compatible streaming error: %w", err)
	}

	// Safety check: recover leaked tool calls if none came via the API
	if len(calls) == 0 && len(req.Tools) > 0 {
		calls = parseLeakedToolCalls(contentBuilder.String())
	}

	return calls, nil
}

// ListModels implements Backend.ListModels.
func (b *OpenAICompatBackend) ListModels(ctx context.Context) ([]ModelInfo, error) {
	modelsPage, err := b.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	result := make([]ModelInfo, 0, len(modelsPage.Data))
	for _, m := range modelsPage.Data {
		result = append(result, ModelInfo{
			Name:    m.ID,
			Size:    0, // the endpoint carries no size info
			Backend: KindOpenAICompat,
		})
	}
	return result, nil
}

// GetModel implements Backend.GetModel.
func (b *OpenAICompatBackend) GetModel() string {
	return b.model
}

// SetModel implements Backend.SetModel.
func (b *OpenAICompatBackend) SetModel(model string) {
	b.model = model
}
