// Package tools manages the tool definitions a request may carry and the
// executors behind them: locally registered tools and tools aggregated
// from MCP servers, all addressed by one flat name space.
package tools

import (
	"context"
	"fmt"
	"sync"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// ExecuteFunc runs one tool invocation and returns its textual output.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool pairs a definition the model sees with the executor that backs it.
type Tool struct {
	Def     mcptypes.Tool
	Execute ExecuteFunc
}

// Registry holds the tools available to requests. Safe for concurrent
// use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool under its definition name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Def.Name] = t
}

// Unregister removes a tool. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Definitions returns the definitions for the named tools, skipping
// names the registry does not know. A nil names slice returns every
// registered definition.
func (r *Registry) Definitions(names []string) []mcptypes.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if names == nil {
		defs := make([]mcptypes.Tool, 0, len(r.tools))
		for _, t := range r.tools {
			defs = append(defs, t.Def)
		}
		return defs
	}

	defs := make([]mcptypes.Tool, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			defs = append(defs, t.Def)
		}
	}
	return defs
}

// Execute runs the named tool with the given arguments.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return t.Execute(ctx, args)
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}
