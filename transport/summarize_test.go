package transport

import (
	"context"
	"errors"
	"strings"
	"testing"

	"modelmux/provider"
	"modelmux/provider/testutil"
)

func TestSummarizeCollects(t *testing.T) {
	b := testutil.NewMockBackend(provider.KindOllama, "llama3.2")
	var req provider.Request
	b.GenerateFunc = func(ctx context.Context, h *provider.Handle, r provider.Request, onDelta func(string) error) ([]provider.ToolCall, error) {
		req = r
		for _, delta := range []string{"A short", " summary."} {
			if err := onDelta(delta); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	tr := New(testConfig(), nil, b)

	got, err := tr.Summarize(context.Background(), "Long article text.", SummarizeOptions{})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "A short summary." {
		t.Errorf("summary = %q, want %q", got, "A short summary.")
	}

	if len(req.Tools) != 0 {
		t.Errorf("summarization offered %d tools, want 0", len(req.Tools))
	}
	if len(req.Turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(req.Turns))
	}
	if req.Turns[0].Role != provider.RoleSystem || req.Turns[0].Text() != defaultSummarizePrompt {
		t.Errorf("system turn = %+v, want the default summarize prompt", req.Turns[0])
	}
	if req.Turns[1].Role != provider.RoleUser || req.Turns[1].Text() != "Long article text." {
		t.Errorf("user turn = %+v, want the input text", req.Turns[1])
	}
}

func TestSummarizeStreams(t *testing.T) {
	b := testutil.NewMockBackend(provider.KindOllama, "llama3.2")
	b.GenerateFunc = func(ctx context.Context, h *provider.Handle, r provider.Request, onDelta func(string) error) ([]provider.ToolCall, error) {
		for _, delta := range []string{"One", " two", " three"} {
			if err := onDelta(delta); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	tr := New(testConfig(), nil, b)

	var chunks []string
	got, err := tr.Summarize(context.Background(), "text", SummarizeOptions{
		OnChunk: func(c string) { chunks = append(chunks, c) },
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "" {
		t.Errorf("streaming summarize returned %q, want empty string", got)
	}
	if joined := strings.Join(chunks, ""); joined != "One two three" {
		t.Errorf("chunks = %q, want %q", joined, "One two three")
	}
}

func TestSummarizeCustomSystemPrompt(t *testing.T) {
	b := testutil.NewMockBackend(provider.KindOllama, "llama3.2")
	var req provider.Request
	b.GenerateFunc = func(ctx context.Context, h *provider.Handle, r provider.Request, onDelta func(string) error) ([]provider.ToolCall, error) {
		req = r
		return nil, onDelta("ok")
	}
	tr := New(testConfig(), nil, b)

	if _, err := tr.Summarize(context.Background(), "text", SummarizeOptions{
		SystemPrompt: "Summarize in French.",
	}); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if req.Turns[0].Text() != "Summarize in French." {
		t.Errorf("system turn = %q, want the custom prompt", req.Turns[0].Text())
	}
}

func TestSummarizePreparesSilently(t *testing.T) {
	b := testutil.NewMockBackend(provider.KindLMStudio, "qwen2.5-7b")
	b.PrepareFunc = func(ctx context.Context, onProgress provider.ProgressFunc) (*provider.Handle, error) {
		if onProgress != nil {
			t.Error("summarization passed a progress callback to Prepare")
		}
		return &provider.Handle{Kind: provider.KindLMStudio, Model: "qwen2.5-7b"}, nil
	}
	cfg := testConfig()
	cfg.PreferredProvider = "lmstudio"
	tr := New(cfg, nil, b)

	side := make(chan provider.ProgressEvent, 8)
	tr.OnDownloadProgress(func(ev provider.ProgressEvent) { side <- ev })

	for i := 0; i < 2; i++ {
		if _, err := tr.Summarize(context.Background(), "text", SummarizeOptions{}); err != nil {
			t.Fatalf("Summarize %d: %v", i, err)
		}
	}

	// The handle cache is shared with SendMessages, so the second call
	// reused the prepared handle.
	if got := b.PrepareCalls.Load(); got != 1 {
		t.Errorf("PrepareCalls = %d, want 1", got)
	}
	select {
	case ev := <-side:
		t.Fatalf("summarization leaked a progress event: %+v", ev)
	default:
	}
}

func TestSummarizeGenerationError(t *testing.T) {
	b := testutil.NewMockBackend(provider.KindOllama, "llama3.2")
	genErr := errors.New("connection reset")
	b.GenerateFunc = func(ctx context.Context, h *provider.Handle, r provider.Request, onDelta func(string) error) ([]provider.ToolCall, error) {
		return nil, genErr
	}
	tr := New(testConfig(), nil, b)

	_, err := tr.Summarize(context.Background(), "text", SummarizeOptions{})
	if !errors.Is(err, genErr) {
		t.Fatalf("err = %v, want it to wrap %v", err, genErr)
	}
	if !strings.Contains(err.Error(), "ollama") {
		t.Errorf("err %q does not name the backend", err)
	}
}

func TestSummarizeNoBackend(t *testing.T) {
	cfg := testConfig()
	cfg.AlwaysAttemptLastResort = false
	tr := New(cfg, nil)

	_, err := tr.Summarize(context.Background(), "text", SummarizeOptions{})
	if !errors.Is(err, ErrNoBackend) {
		t.Fatalf("err = %v, want ErrNoBackend", err)
	}
}
