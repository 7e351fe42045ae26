package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"modelmux/lmstudio"
)

// LMStudioBackend drives a local LM Studio server over its websocket API.
//
// LM Studio separates downloading a model (done by the user in the LM
// Studio app) from loading it into memory (which this backend can do).
// Prepare therefore distinguishes three situations: the model is already
// loaded and serves immediately, it is on disk and gets loaded with
// progress reporting, or it is absent and Prepare fails with spelling
// suggestions drawn from what is on disk.
//
// This backend reports no multimodal and no tool capability: the
// prediction channel carries plain text history only.
type LMStudioBackend struct {
	host  string
	port  int
	model string

	// Debugf, when set, receives wire-protocol trace lines.
	Debugf func(format string, args ...any)

	mu     sync.Mutex
	client *lmstudio.Client
}

var _ Backend = (*LMStudioBackend)(nil)

// NewLMStudioBackend creates a new LM Studio backend instance.
//
// Parameters:
//   - baseURL: Where the server listens, as "host:port", a bare host, or
//     an http:// URL. Empty means discover on the default local addresses.
//   - model: The model key to use (e.g., "llama-3.2-1b-instruct").
//
// The server is not contacted here; discovery happens on first use.
func NewLMStudioBackend(baseURL, model string) (*LMStudioBackend, error) {
	host, port, err := splitHostPort(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid LM Studio URL: %w", err)
	}

	return &LMStudioBackend{
		host:  host,
		port:  port,
		model: model,
	}, nil
}

// splitHostPort extracts host and port from the configured address.
// Both return values may be zero, which lets discovery probe defaults.
func splitHostPort(baseURL string) (string, int, error) {
	if baseURL == "" {
		return "", 0, nil
	}
	s := strings.TrimPrefix(baseURL, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "ws://")
	s = strings.TrimSuffix(s, "/")

	host, portStr, found := strings.Cut(s, ":")
	if !found {
		return s, 0, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("bad port in %q: %w", baseURL, err)
	}
	return host, port, nil
}

// connect discovers the server and returns a connected client, reusing
// one across calls.
func (b *LMStudioBackend) connect(ctx context.Context) (*lmstudio.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return b.client, nil
	}

	hostport, err := lmstudio.Discover(b.host, b.port)
	if err != nil {
		return nil, fmt.Errorf("lmstudio: %w", ErrUnavailable)
	}

	client := lmstudio.NewClient(hostport)
	client.Debugf = b.Debugf
	b.client = client
	return client, nil
}

// Kind implements Backend.Kind.
func (b *LMStudioBackend) Kind() BackendKind {
	return KindLMStudio
}

// Capabilities implements Backend.Capabilities.
func (b *LMStudioBackend) Capabilities() Capabilities {
	return Capabilities{Multimodal: false, Tools: false}
}

// Availability implements Backend.Availability.
//
// No reachable server means Unavailable. With a server up, the
// configured model is Available when loaded in memory, AfterDownload
// when on disk but not loaded, and Downloadable when the user has not
// downloaded it in the LM Studio app yet.
func (b *LMStudioBackend) Availability(ctx context.Context) Availability {
	client, err := b.connect(ctx)
	if err != nil {
		return Unavailable
	}

	loaded, err := client.ListLoaded(ctx)
	if err != nil {
		return Unavailable
	}
	if b.findModel(loaded) != nil {
		return Available
	}

	downloaded, err := client.ListDownloaded(ctx)
	if err != nil {
		return Unavailable
	}
	if b.findModel(downloaded) != nil {
		return AfterDownload
	}
	return Downloadable
}

// findModel locates the configured model in a listing, matching model
// key first and loaded-instance identifier second.
func (b *LMStudioBackend) findModel(models []lmstudio.Model) *lmstudio.Model {
	for i := range models {
		if models[i].ModelKey == b.model || models[i].Identifier == b.model {
			return &models[i]
		}
	}
	return nil
}

// Prepare implements Backend.Prepare.
//
// An already-loaded model returns a handle immediately. A model on disk
// gets loaded into memory, with load fractions streamed through
// onProgress. A model not on disk cannot be fetched over the wire
// protocol, so Prepare fails with ErrModelNotFound and suggestions
// drawn from the downloaded models.
//
// The returned handle's Session holds the loaded instance reference
// that Generate predicts against.
func (b *LMStudioBackend) Prepare(ctx context.Context, onProgress ProgressFunc) (*Handle, error) {
	client, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}

	loaded, err := client.ListLoaded(ctx)
	if err != nil {
		return nil, fmt.Errorf("lmstudio: %w", ErrUnavailable)
	}
	if m := b.findModel(loaded); m != nil {
		ref := m.InstanceReference
		if ref == "" {
			ref = m.Identifier
		}
		return &Handle{
			Kind:         KindLMStudio,
			Model:        b.model,
			Availability: Available,
			Session:      ref,
		}, nil
	}

	downloaded, err := client.ListDownloaded(ctx)
	if err != nil {
		return nil, fmt.Errorf("lmstudio: %w", ErrUnavailable)
	}
	m := b.findModel(downloaded)
	if m == nil {
		available := make([]ModelInfo, len(downloaded))
		for i, dm := range downloaded {
			available[i] = ModelInfo{Name: dm.ModelKey, Size: dm.SizeBytes, Backend: KindLMStudio}
		}
		return nil, modelNotFoundErr(KindLMStudio, b.model, available)
	}

	ref, err := client.LoadModel(ctx, m.ModelKey, onProgress)
	if err != nil {
		return nil, err
	}

	return &Handle{
		Kind:         KindLMStudio,
		Model:        b.model,
		Availability: AfterDownload,
		Session:      ref,
	}, nil
}

// Generate implements Backend.Generate.
//
// The request's turns flatten to plain text history (file parts drop,
// tool turns become user turns) and stream back token by token through
// onDelta. LM Studio predictions never produce tool calls, so the
// returned slice is always nil.
func (b *LMStudioBackend) Generate(ctx context.Context, h *Handle, req Request, onDelta func(delta string) error) ([]ToolCall, error) {
	client, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}

	ref, ok := h.Session.(string)
	if !ok || ref == "" {
		return nil, fmt.Errorf("lmstudio: handle for %s has no loaded instance", h.Model)
	}

	history := ToLMStudioHistory(req.Turns)
	opts := lmstudio.PredictOptions{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if err := client.Predict(ctx, ref, history, opts, onDelta); err != nil {
		return nil, err
	}
	return nil, nil
}

// ListModels implements Backend.ListModels.
//
// Returns every model downloaded on the server, with loaded instances
// listed first.
func (b *LMStudioBackend) ListModels(ctx context.Context) ([]ModelInfo, error) {
	client, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}

	loaded, err := client.ListLoaded(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list loaded models: %w", err)
	}
	downloaded, err := client.ListDownloaded(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	seen := make(map[string]bool, len(loaded))
	models := make([]ModelInfo, 0, len(downloaded))
	for _, m := range loaded {
		seen[m.ModelKey] = true
		models = append(models, ModelInfo{Name: m.ModelKey, Backend: KindLMStudio})
	}
	for _, m := range downloaded {
		if seen[m.ModelKey] {
			continue
		}
		models = append(models, ModelInfo{Name: m.ModelKey, Size: m.SizeBytes, Backend: KindLMStudio})
	}
	return models, nil
}

// GetModel implements Backend.GetModel.
func (b *LMStudioBackend) GetModel() string {
	return b.model
}

// SetModel implements Backend.SetModel.
func (b *LMStudioBackend) SetModel(model string) {
	b.model = model
}

// Close releases the websocket connections, if any were opened.
func (b *LMStudioBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}
