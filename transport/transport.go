// Package transport decides which inference backend answers a request,
// owns the lifecycle of prepared backend handles, and multiplexes model
// download progress with generated text into one ordered event stream.
//
// # Selection
//
// A Transport resolves the user's preference (auto or one pinned backend)
// to a concrete backend kind lazily, on the first request, and caches the
// resolution until SetPreferredProvider changes the mode. Auto mode walks
// the priority order ollama, lmstudio, openai-compat; the OpenAI-compatible
// backend doubles as an unconditional last resort so auto resolution never
// comes back empty while the policy flag allows it.
//
// # Handles
//
// Prepared backends are cached per kind in a registry that guarantees at
// most one construction in flight per kind, shared by concurrent requests.
// Changing the provider preference drops every cached handle wholesale.
// The ollama backend is exempt from caching: its daemon manages model
// lifecycle on its own, so preparation runs per request.
//
// # Event Ordering
//
// Each request's stream obeys a fixed order: download/load progress events
// first (one correlation id, non-decreasing percent, exactly one terminal
// complete), then text deltas and tool traffic. If a backend starts
// producing text while a progress episode is still open, the transport
// force-closes the episode before forwarding the first delta.
//
// # Usage
//
//	tr := transport.New(cfg, registry,
//	        ollamaBackend, lmstudioBackend, openaiCompatBackend)
//	stream := tr.SendMessages(ctx, []provider.Turn{provider.UserTurn("hi")},
//	        transport.SendOptions{})
//	for {
//	        ev, err := stream.Recv()
//	        if err == io.EOF {
//	                break
//	        }
//	        if err != nil {
//	                return err
//	        }
//	        handle(ev)
//	}
package transport

import (
	"context"
	"sync"

	"modelmux/config"
	"modelmux/provider"
	"modelmux/tools"
)

// Transport routes generation requests to one of the configured backends.
// All state lives on the struct; two transports never share selection or
// handle caches.
type Transport struct {
	cfg      *config.Config
	backends map[provider.BackendKind]provider.Backend
	registry *tools.Registry

	mu       sync.Mutex
	pref     provider.PreferenceMode
	prefGen  uint64
	resolved *provider.BackendKind

	cache    *handleCache
	progress *progressFanout
}

// New builds a Transport over the given backends. The initial preference
// comes from cfg.PreferredProvider ("auto" or a backend name; unknown
// names fall back to auto). reg may be nil when no tools are wired.
func New(cfg *config.Config, reg *tools.Registry, backends ...provider.Backend) *Transport {
	m := make(map[provider.BackendKind]provider.Backend, len(backends))
	for _, b := range backends {
		m[b.Kind()] = b
	}
	if reg == nil {
		reg = tools.NewRegistry()
	}

	pref := provider.AutoMode()
	if cfg.PreferredProvider != "" && cfg.PreferredProvider != "auto" {
		kind, err := provider.ParseKind(cfg.PreferredProvider)
		if err == nil {
			pref = provider.ExplicitMode(kind)
		} else if config.Debug && config.DebugLog != nil {
			config.DebugLog.Printf("[Transport] Unknown preferred_provider %q, using auto", cfg.PreferredProvider)
		}
	}

	return &Transport{
		cfg:      cfg,
		backends: m,
		registry: reg,
		pref:     pref,
		cache:    newHandleCache(),
		progress: &progressFanout{},
	}
}

// Preference returns the current preference mode.
func (t *Transport) Preference() provider.PreferenceMode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pref
}

// SetPreferredProvider switches the preference mode. Setting the mode the
// transport already has is a no-op: the cached resolution and every cached
// handle survive. An actual change drops both; re-resolution happens
// lazily on the next request.
func (t *Transport) SetPreferredProvider(mode provider.PreferenceMode) {
	t.mu.Lock()
	if mode == t.pref {
		t.mu.Unlock()
		return
	}
	t.pref = mode
	t.prefGen++
	t.resolved = nil
	t.mu.Unlock()

	t.cache.invalidate()

	if config.Debug && config.DebugLog != nil {
		config.DebugLog.Printf("[Transport] Preference set to %s, dropped cached handles", mode)
	}
}

// OnDownloadProgress registers a side-channel observer that receives every
// progress event the transport emits, in emission order, independent of
// any Stream. Observers that fall behind miss events instead of slowing
// generation down.
func (t *Transport) OnDownloadProgress(cb func(provider.ProgressEvent)) {
	t.progress.subscribe(cb)
}

// resolve returns the backend kind serving the next request, computing and
// caching it on first use. Probes run outside the lock.
func (t *Transport) resolve(ctx context.Context) (provider.BackendKind, error) {
	t.mu.Lock()
	if t.resolved != nil {
		kind := *t.resolved
		t.mu.Unlock()
		return kind, nil
	}
	pref := t.pref
	gen := t.prefGen
	t.mu.Unlock()

	kind, err := resolveBackend(ctx, pref, t.probe, t.cfg.AlwaysAttemptLastResort)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	if t.prefGen == gen && t.resolved == nil {
		t.resolved = &kind
	}
	if t.resolved != nil {
		kind = *t.resolved
	}
	t.mu.Unlock()

	if config.Debug && config.DebugLog != nil {
		config.DebugLog.Printf("[Transport] Resolved backend %s (preference %s)", kind, pref)
	}
	return kind, nil
}

func (t *Transport) probe(ctx context.Context, kind provider.BackendKind) provider.Availability {
	b, ok := t.backends[kind]
	if !ok {
		return provider.Unavailable
	}
	return b.Availability(ctx)
}
