// Package lmstudio implements the LM Studio websocket API: per-namespace
// authentication, request/response RPC, and the channel protocol used for
// model loading and streaming prediction.
//
// The wire format mirrors the official LM Studio SDKs. Each namespace
// ("system", "llm") is served over its own websocket at ws://host/<ns>.
// After a passkey handshake, short operations are RPC calls correlated by
// callId, while long-running operations (loading a model, predicting)
// run over numbered channels that stream channelSend messages until a
// success, error, or close.
package lmstudio

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	systemNamespace = "system"
	llmNamespace    = "llm"

	listLoadedEndpoint     = "listLoaded"
	listDownloadedEndpoint = "listDownloadedModels"
	loadModelEndpoint      = "loadModel"
	unloadModelEndpoint    = "unloadModel"
	predictEndpoint        = "predict"

	rpcTimeout       = 30 * time.Second
	handshakeTimeout = 15 * time.Second
	loadTimeout      = 120 * time.Second
)

// DefaultPorts are the ports an out-of-the-box LM Studio server listens on.
var DefaultPorts = []int{1234, 12345}

// Model is LM Studio's description of one model, downloaded or loaded.
// Identifier and InstanceReference are only set for loaded instances.
type Model struct {
	ModelKey          string `json:"modelKey"`
	Type              string `json:"type"`
	DisplayName       string `json:"displayName,omitempty"`
	SizeBytes         int64  `json:"sizeBytes,omitempty"`
	MaxContextLength  int    `json:"maxContextLength,omitempty"`
	Vision            bool   `json:"vision,omitempty"`
	TrainedForToolUse bool   `json:"trainedForToolUse,omitempty"`
	Identifier        string `json:"identifier,omitempty"`
	InstanceReference string `json:"instanceReference,omitempty"`

	// Loaded is set by the client, not parsed from the wire.
	Loaded bool `json:"-"`
}

// ChatMessage is one turn of a prediction history.
type ChatMessage struct {
	Role    string
	Content string
}

// Client talks to one LM Studio server. It opens one websocket per
// namespace on first use and keeps it for the client's lifetime.
type Client struct {
	host string

	mu    sync.Mutex
	conns map[string]*namespaceConn

	ctx    context.Context
	cancel context.CancelFunc

	// Debugf, when set, receives protocol-level trace lines.
	Debugf func(format string, args ...any)
}

// NewClient returns a client for the server at host ("host:port"; an
// http:// or https:// prefix is tolerated and stripped).
func NewClient(host string) *Client {
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		host:   host,
		conns:  make(map[string]*namespaceConn),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Client) debugf(format string, args ...any) {
	if c.Debugf != nil {
		c.Debugf(format, args...)
	}
}

// conn returns the live connection for a namespace, dialing it if needed.
func (c *Client) conn(ctx context.Context, namespace string) (*namespaceConn, error) {
	c.mu.Lock()
	if nc, ok := c.conns[namespace]; ok && nc.isConnected() {
		c.mu.Unlock()
		return nc, nil
	}
	c.mu.Unlock()

	nc, err := dialNamespace(ctx, c.ctx, c.host, namespace, c.debugf)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conns[namespace] = nc
	c.mu.Unlock()
	return nc, nil
}

// Close tears down every namespace connection.
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for namespace, nc := range c.conns {
		if err := nc.close(); err != nil {
			lastErr = fmt.Errorf("close %s connection: %w", namespace, err)
		}
		delete(c.conns, namespace)
	}
	return lastErr
}

// ListLoaded returns the models currently loaded into memory.
func (c *Client) ListLoaded(ctx context.Context) ([]Model, error) {
	nc, err := c.conn(ctx, llmNamespace)
	if err != nil {
		return nil, fmt.Errorf("connect to llm namespace: %w", err)
	}

	result, err := nc.rpc(ctx, listLoadedEndpoint, nil)
	if err != nil {
		return nil, err
	}

	var models []Model
	if err := json.Unmarshal(result, &models); err != nil {
		return nil, fmt.Errorf("parse loaded models: %w", err)
	}
	for i := range models {
		models[i].Loaded = true
	}
	return models, nil
}

// ListDownloaded returns every model present on disk.
func (c *Client) ListDownloaded(ctx context.Context) ([]Model, error) {
	nc, err := c.conn(ctx, systemNamespace)
	if err != nil {
		return nil, fmt.Errorf("connect to system namespace: %w", err)
	}

	result, err := nc.rpc(ctx, listDownloadedEndpoint, nil)
	if err != nil {
		return nil, err
	}

	var models []Model
	if err := json.Unmarshal(result, &models); err != nil {
		return nil, fmt.Errorf("parse downloaded models: %w", err)
	}
	return models, nil
}

// Unload evicts a loaded instance from memory.
func (c *Client) Unload(ctx context.Context, identifier string) error {
	nc, err := c.conn(ctx, llmNamespace)
	if err != nil {
		return fmt.Errorf("connect to llm namespace: %w", err)
	}

	_, err = nc.rpc(ctx, unloadModelEndpoint, map[string]any{"identifier": identifier})
	return err
}
