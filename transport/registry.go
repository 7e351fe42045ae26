package transport

import (
	"context"
	"sync"

	"modelmux/config"
	"modelmux/provider"
)

// inflight is one in-progress Prepare shared by every request that needs
// the same backend kind. handle and err are assigned before done closes.
type inflight struct {
	done   chan struct{}
	handle *provider.Handle
	err    error
}

// handleCache is the model registry: at most one ready handle per backend
// kind, at most one construction in flight per kind, and wholesale
// invalidation on preference change via a generation counter.
//
// The mutex guards the maps and the counter only. Waiting on a
// construction happens outside the critical section, so no lock is held
// across backend I/O.
type handleCache struct {
	mu           sync.Mutex
	generation   uint64
	ready        map[provider.BackendKind]*provider.Handle
	initializing map[provider.BackendKind]*inflight
}

func newHandleCache() *handleCache {
	return &handleCache{
		ready:        make(map[provider.BackendKind]*provider.Handle),
		initializing: make(map[provider.BackendKind]*inflight),
	}
}

// getOrInit returns the ready handle for b's kind, constructing it at most
// once across concurrent callers. onProgress is consulted only by the
// caller that triggers construction; racers wait for the shared result
// without progress callbacks of their own.
//
// KindOllama is never cached. The daemon manages its own model lifecycle,
// so Prepare runs per request and is cheap when the model is already
// pulled.
//
// Construction runs detached from the caller's ctx: an aborted caller gets
// ctx.Err() while the build finishes in the background and, when the
// generation is unchanged, still lands in the cache. A construction that
// finishes for a superseded generation publishes to its waiters but is
// never cached.
func (c *handleCache) getOrInit(ctx context.Context, b provider.Backend, onProgress provider.ProgressFunc) (*provider.Handle, error) {
	kind := b.Kind()
	if kind == provider.KindOllama {
		return b.Prepare(ctx, onProgress)
	}

	c.mu.Lock()
	if h, ok := c.ready[kind]; ok {
		c.mu.Unlock()
		return h, nil
	}
	if fl, ok := c.initializing[kind]; ok {
		c.mu.Unlock()
		return c.wait(ctx, fl)
	}
	fl := &inflight{done: make(chan struct{})}
	c.initializing[kind] = fl
	gen := c.generation
	c.mu.Unlock()

	go func() {
		h, err := b.Prepare(context.WithoutCancel(ctx), onProgress)
		fl.handle, fl.err = h, err
		close(fl.done)

		c.mu.Lock()
		if c.generation == gen {
			// the inflight entry is cleared on failure too, so the next
			// request retries instead of re-reading a dead future
			delete(c.initializing, kind)
			if err == nil {
				c.ready[kind] = h
			}
		}
		c.mu.Unlock()

		if config.Debug && config.DebugLog != nil {
			if err != nil {
				config.DebugLog.Printf("[Transport] Prepare failed for %s: %v", kind, err)
			} else {
				config.DebugLog.Printf("[Transport] Handle ready for %s (model=%s)", kind, h.Model)
			}
		}
	}()

	return c.wait(ctx, fl)
}

func (c *handleCache) wait(ctx context.Context, fl *inflight) (*provider.Handle, error) {
	select {
	case <-fl.done:
		return fl.handle, fl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// invalidate drops every cached handle and orphans in-flight
// constructions.
func (c *handleCache) invalidate() {
	c.mu.Lock()
	c.generation++
	c.ready = make(map[provider.BackendKind]*provider.Handle)
	c.initializing = make(map[provider.BackendKind]*inflight)
	c.mu.Unlock()
}
