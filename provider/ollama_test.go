package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/ollama/ollama/api"
)

// fakeOllama is a minimal Ollama daemon: it lists canned models on
// /api/tags, streams canned NDJSON lines on /api/chat and /api/pull,
// and records the requests it saw.
type fakeOllama struct {
	models    []api.ListModelResponse
	chatLines []api.ChatResponse
	pullLines []api.ProgressResponse

	mu       sync.Mutex
	lastChat *api.ChatRequest
	pulled   []string
}

func (f *fakeOllama) start(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewEncoder(w).Encode(api.ListResponse{Models: f.models}); err != nil {
			t.Errorf("encoding tags response: %v", err)
		}
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req api.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.lastChat = &req
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		for _, line := range f.chatLines {
			if err := enc.Encode(line); err != nil {
				t.Errorf("encoding chat line: %v", err)
			}
		}
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		var req api.PullRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.pulled = append(f.pulled, req.Model)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		for _, line := range f.pullLines {
			if err := enc.Encode(line); err != nil {
				t.Errorf("encoding pull line: %v", err)
			}
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeOllama) chatRequest() *api.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastChat
}

func (f *fakeOllama) pulledModels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pulled...)
}

// assistantChunk builds one streamed chat line carrying a text fragment.
func assistantChunk(content string, done bool) api.ChatResponse {
	return api.ChatResponse{
		Model:   "llama3.1",
		Message: api.Message{Role: "assistant", Content: content},
		Done:    done,
	}
}

func TestOllamaAvailability(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		onDisk   []string
		expected Availability
	}{
		{
			name:     "exact name match",
			model:    "llama3.1:latest",
			onDisk:   []string{"llama3.1:latest", "qwen2.5:7b"},
			expected: Available,
		},
		{
			name:     "bare name matches latest tag",
			model:    "llama3.1",
			onDisk:   []string{"llama3.1:latest"},
			expected: Available,
		},
		{
			name:     "model not on disk",
			model:    "llama3.1",
			onDisk:   []string{"qwen2.5:7b"},
			expected: Downloadable,
		},
		{
			name:     "empty daemon",
			model:    "llama3.1",
			onDisk:   nil,
			expected: Downloadable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeOllama{}
			for _, name := range tt.onDisk {
				fake.models = append(fake.models, api.ListModelResponse{Name: name})
			}
			srv := fake.start(t)

			b, err := NewOllamaBackend(srv.URL, tt.model)
			if err != nil {
				t.Fatalf("NewOllamaBackend() error = %v", err)
			}

			if got := b.Availability(context.Background()); got != tt.expected {
				t.Errorf("Availability() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestOllamaAvailabilityUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	b, err := NewOllamaBackend(srv.URL, "llama3.1")
	if err != nil {
		t.Fatalf("NewOllamaBackend() error = %v", err)
	}

	if got := b.Availability(context.Background()); got != Unavailable {
		t.Errorf("Availability() = %q, want %q", got, Unavailable)
	}
}

func TestOllamaListModels(t *testing.T) {
	fake := &fakeOllama{
		models: []api.ListModelResponse{
			{Name: "llama3.1:latest", Size: 4_700_000_000},
			{Name: "qwen2.5:7b", Size: 4_400_000_000},
		},
	}
	srv := fake.start(t)

	b, err := NewOllamaBackend(srv.URL, "llama3.1")
	if err != nil {
		t.Fatalf("NewOllamaBackend() error = %v", err)
	}

	models, err := b.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}

	if len(models) != 2 {
		t.Fatalf("got %d models, want 2", len(models))
	}
	if models[0].Name != "llama3.1:latest" || models[0].Size != 4_700_000_000 {
		t.Errorf("model 0: got %+v", models[0])
	}
	if models[1].Name != "qwen2.5:7b" {
		t.Errorf("model 1 name: got %q, want %q", models[1].Name, "qwen2.5:7b")
	}
	for i, m := range models {
		if m.Backend != KindOllama {
			t.Errorf("model %d backend: got %q, want %q", i, m.Backend, KindOllama)
		}
	}
}

func TestOllamaGenerate(t *testing.T) {
	fake := &fakeOllama{
		chatLines: []api.ChatResponse{
			assistantChunk("Hello", false),
			assistantChunk(" there", false),
			assistantChunk("!", true),
		},
	}
	srv := fake.start(t)

	b, err := NewOllamaBackend(srv.URL, "llama3.1")
	if err != nil {
		t.Fatalf("NewOllamaBackend() error = %v", err)
	}

	handle := &Handle{Kind: KindOllama, Model: "llama3.1", Availability: Available}
	req := Request{
		Turns: []Turn{
			SystemTurn("You are helpful."),
			UserTurn("Say hello"),
		},
		Temperature: 0.7,
		MaxTokens:   512,
	}

	var received string
	calls, err := b.Generate(context.Background(), handle, req, func(delta string) error {
		received += delta
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if calls != nil {
		t.Errorf("got %d tool calls, want none", len(calls))
	}
	if received != "Hello there!" {
		t.Errorf("streamed text: got %q, want %q", received, "Hello there!")
	}

	// The wire request carries the converted turns and generation options
	wire := fake.chatRequest()
	if wire == nil {
		t.Fatal("server saw no chat request")
	}
	if wire.Model != "llama3.1" {
		t.Errorf("wire model: got %q, want %q", wire.Model, "llama3.1")
	}
	if len(wire.Messages) != 2 {
		t.Fatalf("wire messages: got %d, want 2", len(wire.Messages))
	}
	if wire.Messages[0].Role != "system" || wire.Messages[1].Content != "Say hello" {
		t.Errorf("wire messages: got %+v", wire.Messages)
	}
	if wire.Stream == nil || !*wire.Stream {
		t.Error("wire request did not ask for streaming")
	}
	if got := wire.Options["temperature"]; got != 0.7 {
		t.Errorf("wire temperature: got %v, want 0.7", got)
	}
	if got := wire.Options["num_predict"]; got != float64(512) {
		t.Errorf("wire num_predict: got %v, want 512", got)
	}
}

func TestOllamaGenerateToolCalls(t *testing.T) {
	fake := &fakeOllama{
		chatLines: []api.ChatResponse{
			{
				Model: "llama3.1",
				Message: api.Message{
					Role: "assistant",
					ToolCalls: []api.ToolCall{
						{
							Function: api.ToolCallFunction{
								Name:      "get_weather",
								Arguments: map[string]any{"location": "Paris"},
							},
						},
					},
				},
			},
			assistantChunk("", true),
		},
	}
	srv := fake.start(t)

	b, err := NewOllamaBackend(srv.URL, "llama3.1")
	if err != nil {
		t.Fatalf("NewOllamaBackend() error = %v", err)
	}

	weatherTool := mcptypes.Tool{
		Name:        "get_weather",
		Description: "Get the current weather for a location",
		InputSchema: mcptypes.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"location": map[string]any{"type": "string"},
			},
			Required: []string{"location"},
		},
	}

	handle := &Handle{Kind: KindOllama, Model: "llama3.1", Availability: Available}
	req := Request{
		Turns: []Turn{UserTurn("What's the weather in Paris?")},
		Tools: []mcptypes.Tool{weatherTool},
	}

	calls, err := b.Generate(context.Background(), handle, req, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(calls))
	}
	if calls[0].Name != "get_weather" {
		t.Errorf("tool call name: got %q, want %q", calls[0].Name, "get_weather")
	}
	if got := calls[0].Arguments["location"]; got != "Paris" {
		t.Errorf("tool call location: got %v, want %q", got, "Paris")
	}

	// Tool definitions must travel on the wire request
	wire := fake.chatRequest()
	if wire == nil {
		t.Fatal("server saw no chat request")
	}
	if len(wire.Tools) != 1 {
		t.Fatalf("wire tools: got %d, want 1", len(wire.Tools))
	}
	if wire.Tools[0].Function.Name != "get_weather" {
		t.Errorf("wire tool name: got %q, want %q", wire.Tools[0].Function.Name, "get_weather")
	}
}

func TestOllamaGenerateDeltaError(t *testing.T) {
	fake := &fakeOllama{
		chatLines: []api.ChatResponse{
			assistantChunk("Hello", false),
			assistantChunk(" there", true),
		},
	}
	srv := fake.start(t)

	b, err := NewOllamaBackend(srv.URL, "llama3.1")
	if err != nil {
		t.Fatalf("NewOllamaBackend() error = %v", err)
	}

	stop := errors.New("stop streaming")
	handle := &Handle{Kind: KindOllama, Model: "llama3.1"}
	_, err = b.Generate(context.Background(), handle, Request{Turns: []Turn{UserTurn("hi")}}, func(delta string) error {
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("Generate() error = %v, want %v", err, stop)
	}
}

func TestOllamaPrepareModelOnDisk(t *testing.T) {
	fake := &fakeOllama{
		models: []api.ListModelResponse{{Name: "llama3.1:latest"}},
	}
	srv := fake.start(t)

	b, err := NewOllamaBackend(srv.URL, "llama3.1")
	if err != nil {
		t.Fatalf("NewOllamaBackend() error = %v", err)
	}

	var fractions []float64
	handle, err := b.Prepare(context.Background(), func(fraction float64) {
		fractions = append(fractions, fraction)
	})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	if handle.Kind != KindOllama || handle.Model != "llama3.1" {
		t.Errorf("handle: got %+v", handle)
	}
	if handle.Availability != Available {
		t.Errorf("handle availability: got %q, want %q", handle.Availability, Available)
	}
	if len(fractions) != 0 {
		t.Errorf("progress reported for a model already on disk: %v", fractions)
	}
	if pulled := fake.pulledModels(); len(pulled) != 0 {
		t.Errorf("unexpected pulls: %v", pulled)
	}
}

func TestOllamaPrepareDownloads(t *testing.T) {
	fake := &fakeOllama{
		models: []api.ListModelResponse{{Name: "qwen2.5:7b"}},
		pullLines: []api.ProgressResponse{
			{Status: "pulling manifest"},
			{Status: "downloading", Total: 1000, Completed: 250},
			{Status: "downloading", Total: 1000, Completed: 1000},
			{Status: "success"},
		},
	}
	srv := fake.start(t)

	b, err := NewOllamaBackend(srv.URL, "llama3.1")
	if err != nil {
		t.Fatalf("NewOllamaBackend() error = %v", err)
	}

	var fractions []float64
	handle, err := b.Prepare(context.Background(), func(fraction float64) {
		fractions = append(fractions, fraction)
	})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	if handle.Availability != Downloadable {
		t.Errorf("handle availability: got %q, want %q", handle.Availability, Downloadable)
	}

	// Lines without a total are skipped; a final 1.0 is always reported.
	want := []float64{0.25, 1.0, 1.0}
	if len(fractions) != len(want) {
		t.Fatalf("fractions: got %v, want %v", fractions, want)
	}
	for i := range want {
		if fractions[i] != want[i] {
			t.Errorf("fraction %d: got %v, want %v", i, fractions[i], want[i])
		}
	}

	pulled := fake.pulledModels()
	if len(pulled) != 1 || pulled[0] != "llama3.1" {
		t.Errorf("pulled models: got %v, want [llama3.1]", pulled)
	}
}

func TestOllamaPrepareUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	b, err := NewOllamaBackend(srv.URL, "llama3.1")
	if err != nil {
		t.Fatalf("NewOllamaBackend() error = %v", err)
	}

	_, err = b.Prepare(context.Background(), nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Prepare() error = %v, want ErrUnavailable", err)
	}
}

func TestOllamaCapabilitiesFollowModel(t *testing.T) {
	b, err := NewOllamaBackend("http://localhost:11434", "llama3.1")
	if err != nil {
		t.Fatalf("NewOllamaBackend() error = %v", err)
	}

	caps := b.Capabilities()
	if !caps.Multimodal {
		t.Error("Multimodal = false, want true")
	}
	if !caps.Tools {
		t.Error("Tools = false for llama3.1, want true")
	}

	b.SetModel("gemma2")
	if b.Capabilities().Tools {
		t.Error("Tools = true for gemma2, want false")
	}
	if !b.Capabilities().Multimodal {
		t.Error("Multimodal should not depend on the model")
	}
}
