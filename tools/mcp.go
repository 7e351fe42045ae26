package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"modelmux/config"
)

const mcpProtocolVersion = "2025-06-18"

// ServerConfig describes one MCP server to connect. Command starts a
// local stdio server; URL connects to a remote one over SSE or
// streamable HTTP.
type ServerConfig struct {
	Name      string
	Command   string
	Args      []string
	Env       map[string]string
	URL       string
	Transport string // "sse" (default) or "streamable-http", remote only
}

// serverProcess tracks one running MCP server connection.
type serverProcess struct {
	name    string
	cmd     *exec.Cmd // nil for remote servers
	client  *client.Client
	tools   []mcptypes.Tool
	running bool
}

// Manager connects MCP servers and projects their tools into a Registry
// under namespaced names ("servername.toolname"). The transport layer
// only ever sees the registry; the manager owns connection lifecycle.
type Manager struct {
	registry *Registry

	mu      sync.RWMutex
	servers map[string]*serverProcess
}

// NewManager returns a manager that registers tools into registry.
func NewManager(registry *Registry) *Manager {
	return &Manager{
		registry: registry,
		servers:  make(map[string]*serverProcess),
	}
}

// Start connects one MCP server, initializes it, and registers its
// tools.
func (m *Manager) Start(ctx context.Context, cfg ServerConfig) error {
	m.mu.Lock()
	if sp := m.servers[cfg.Name]; sp != nil && sp.running {
		m.mu.Unlock()
		return fmt.Errorf("mcp server %s already running", cfg.Name)
	}
	m.mu.Unlock()

	var mcpClient *client.Client
	var capturedCmd *exec.Cmd
	var err error

	if cfg.URL != "" {
		mcpClient, err = m.connectRemote(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to mcp server %s: %w", cfg.Name, err)
		}
	} else {
		mcpClient, capturedCmd, err = m.startLocal(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to start mcp server %s: %w", cfg.Name, err)
		}
	}

	initReq := mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: mcpProtocolVersion,
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo: mcptypes.Implementation{
				Name:    "modelmux",
				Version: "1.0.0",
			},
		},
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("failed to initialize mcp server %s: %w", cfg.Name, err)
	}

	toolsResult, err := mcpClient.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list tools for %s: %w", cfg.Name, err)
	}

	m.mu.Lock()
	m.servers[cfg.Name] = &serverProcess{
		name:    cfg.Name,
		cmd:     capturedCmd,
		client:  mcpClient,
		tools:   toolsResult.Tools,
		running: true,
	}
	m.mu.Unlock()

	m.registerTools(cfg.Name, toolsResult.Tools)

	if config.DebugLog != nil {
		config.DebugLog.Printf("[MCP] Server '%s' started with %d tools", cfg.Name, len(toolsResult.Tools))
	}
	return nil
}

// registerTools adds every server tool to the registry under its
// namespaced name, backed by an executor that calls the server.
func (m *Manager) registerTools(serverName string, serverTools []mcptypes.Tool) {
	for _, tool := range serverTools {
		namespaced := tool
		namespaced.Name = serverName + "." + tool.Name

		m.registry.Register(Tool{
			Def: namespaced,
			Execute: func(ctx context.Context, args map[string]any) (string, error) {
				return m.call(ctx, namespaced.Name, args)
			},
		})
	}
}

// call executes a namespaced tool on its server and flattens the MCP
// result into text.
func (m *Manager) call(ctx context.Context, namespacedName string, args map[string]any) (string, error) {
	serverName, toolName := splitToolName(namespacedName)

	m.mu.RLock()
	sp, exists := m.servers[serverName]
	m.mu.RUnlock()
	if !exists || !sp.running {
		return "", fmt.Errorf("mcp server %s not running", serverName)
	}

	result, err := sp.client.CallTool(ctx, mcptypes.CallToolRequest{
		Params: mcptypes.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	})
	if err != nil {
		return "", err
	}

	// MCP results carry an array of content items; marshal to keep
	// whatever shape the server produced.
	if len(result.Content) == 0 {
		return "Tool executed successfully (no output)", nil
	}
	resultBytes, err := json.Marshal(result.Content)
	if err != nil {
		return fmt.Sprintf("Tool result (marshal error): %v", err), nil
	}
	return string(resultBytes), nil
}

// splitToolName splits "server.tool" on the first dot.
func splitToolName(namespacedName string) (string, string) {
	idx := strings.Index(namespacedName, ".")
	if idx == -1 {
		return "", namespacedName
	}
	return namespacedName[:idx], namespacedName[idx+1:]
}

// connectRemote builds a client for a remote MCP server.
func (m *Manager) connectRemote(ctx context.Context, cfg ServerConfig) (*client.Client, error) {
	t := cfg.Transport
	if t == "" {
		t = "sse"
	}

	headers := make(map[string]string)
	for key, value := range cfg.Env {
		headers[key] = value
	}

	switch t {
	case "streamable-http":
		var opts []transport.StreamableHTTPCOption
		if len(headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(headers))
		}
		mcpClient, err := client.NewStreamableHttpClient(cfg.URL, opts...)
		if err != nil {
			return nil, err
		}
		if err := mcpClient.GetTransport().Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start HTTP transport: %w", err)
		}
		return mcpClient, nil

	case "sse":
		var opts []transport.ClientOption
		if len(headers) > 0 {
			opts = append(opts, transport.WithHeaders(headers))
		}
		mcpClient, err := client.NewSSEMCPClient(cfg.URL, opts...)
		if err != nil {
			return nil, err
		}
		if err := mcpClient.GetTransport().Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start SSE transport: %w", err)
		}
		return mcpClient, nil

	default:
		return nil, fmt.Errorf("unknown transport type: %s", t)
	}
}

// startLocal launches a stdio MCP server as a child process.
func (m *Manager) startLocal(ctx context.Context, cfg ServerConfig) (*client.Client, *exec.Cmd, error) {
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	var capturedCmd *exec.Cmd
	cmdFunc := func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Env = env
		capturedCmd = cmd
		return cmd, nil
	}

	mcpClient, err := client.NewStdioMCPClientWithOptions(
		cfg.Command,
		env,
		cfg.Args,
		transport.WithCommandFunc(cmdFunc),
	)
	if err != nil {
		return nil, nil, err
	}

	if capturedCmd != nil && capturedCmd.Process != nil && config.DebugLog != nil {
		config.DebugLog.Printf("[MCP] Started local server '%s' with PID %d", cfg.Name, capturedCmd.Process.Pid)
	}
	return mcpClient, capturedCmd, nil
}

// Stop disconnects one server and unregisters its tools. The client
// gets one second to close cleanly before a local process is killed.
func (m *Manager) Stop(ctx context.Context, name string) error {
	m.mu.Lock()
	sp, exists := m.servers[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("mcp server %s not found", name)
	}
	sp.running = false
	delete(m.servers, name)
	m.mu.Unlock()

	for _, tool := range sp.tools {
		m.registry.Unregister(name + "." + tool.Name)
	}

	clientClosed := false
	if sp.client != nil {
		closeCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
		defer cancel()

		closeDone := make(chan error, 1)
		go func() {
			closeDone <- sp.client.Close()
		}()

		select {
		case err := <-closeDone:
			if err == nil {
				clientClosed = true
			} else if config.DebugLog != nil {
				config.DebugLog.Printf("[MCP] Error closing client for '%s': %v", name, err)
			}
		case <-closeCtx.Done():
			if config.DebugLog != nil {
				config.DebugLog.Printf("[MCP] Close timeout for '%s', killing process", name)
			}
		}
	}

	if !clientClosed && sp.cmd != nil && sp.cmd.Process != nil {
		if err := sp.cmd.Process.Kill(); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[MCP] Error killing process for '%s': %v", name, err)
		}
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[MCP] Server '%s' stopped", name)
	}
	return nil
}

// Shutdown stops every server in parallel.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	errChan := make(chan error, len(names))

	for _, name := range names {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			if err := m.Stop(ctx, n); err != nil {
				errChan <- err
			}
		}(name)
	}

	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
