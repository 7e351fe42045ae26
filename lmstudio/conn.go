package lmstudio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// envelope is the superset of fields appearing in server messages. Which
// fields are populated depends on Type.
type envelope struct {
	Type      string          `json:"type"`
	CallID    int             `json:"callId,omitempty"`
	ChannelID int             `json:"channelId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Warning   string          `json:"warning,omitempty"`
}

// wireError is the error payload carried by rpcError and channelError
// messages. The server populates different title fields depending on the
// failure, so text() picks the first non-empty one.
type wireError struct {
	Title     string `json:"title,omitempty"`
	RootTitle string `json:"rootTitle,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (e wireError) text() string {
	if e.Title != "" {
		return e.Title
	}
	if e.RootTitle != "" {
		return e.RootTitle
	}
	if e.Message != "" {
		return e.Message
	}
	return "unknown server error"
}

// namespaceConn is one authenticated websocket to a single namespace.
type namespaceConn struct {
	namespace string
	ws        *websocket.Conn
	debugf    func(format string, args ...any)

	// writeMu serializes writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	mu        sync.Mutex
	nextID    int
	pending   map[int]chan envelope
	channels  map[int]chan envelope
	connected bool
}

// dialNamespace connects, authenticates, and starts the read loop.
// clientCtx outlives individual calls and bounds the connection itself.
func dialNamespace(ctx, clientCtx context.Context, host, namespace string, debugf func(string, ...any)) (*namespaceConn, error) {
	u := url.URL{Scheme: "ws", Host: host, Path: "/" + namespace}
	debugf("lmstudio: dialing %s", u.String())

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}

	auth := map[string]any{
		"authVersion":      1,
		"clientIdentifier": uuid.New().String(),
		"clientPasskey":    uuid.New().String(),
	}
	if err := ws.WriteJSON(auth); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send auth: %w", err)
	}

	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var authResp struct {
		Success bool `json:"success"`
	}
	if err := ws.ReadJSON(&authResp); err != nil {
		ws.Close()
		return nil, fmt.Errorf("read auth response: %w", err)
	}
	if !authResp.Success {
		ws.Close()
		return nil, fmt.Errorf("authentication rejected for namespace %s", namespace)
	}
	ws.SetReadDeadline(time.Time{})

	nc := &namespaceConn{
		namespace: namespace,
		ws:        ws,
		debugf:    debugf,
		nextID:    1,
		pending:   make(map[int]chan envelope),
		channels:  make(map[int]chan envelope),
		connected: true,
	}
	go nc.readLoop(clientCtx)
	return nc, nil
}

func (nc *namespaceConn) isConnected() bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.connected
}

func (nc *namespaceConn) close() error {
	nc.mu.Lock()
	if !nc.connected {
		nc.mu.Unlock()
		return nil
	}
	nc.connected = false
	nc.mu.Unlock()
	return nc.ws.Close()
}

// readLoop routes every incoming message to the pending RPC call or open
// channel it belongs to. It exits when the socket closes.
func (nc *namespaceConn) readLoop(ctx context.Context) {
	defer nc.teardown()
	for {
		var env envelope
		if err := nc.ws.ReadJSON(&env); err != nil {
			if ctx.Err() == nil {
				nc.debugf("lmstudio: %s read loop ended: %v", nc.namespace, err)
			}
			return
		}

		switch env.Type {
		case "rpcResult", "rpcError":
			nc.mu.Lock()
			ch, ok := nc.pending[env.CallID]
			delete(nc.pending, env.CallID)
			nc.mu.Unlock()
			if ok {
				ch <- env
			}
		case "channelSend", "channelError", "channelClose":
			nc.mu.Lock()
			ch, ok := nc.channels[env.ChannelID]
			nc.mu.Unlock()
			if ok {
				// Drop rather than block if the consumer stopped reading.
				select {
				case ch <- env:
				default:
					nc.debugf("lmstudio: dropped %s message for channel %d", env.Type, env.ChannelID)
				}
			}
		case "communicationWarning":
			nc.debugf("lmstudio: server warning: %s", env.Warning)
		default:
			nc.debugf("lmstudio: unhandled message type %q on %s", env.Type, nc.namespace)
		}
	}
}

// teardown fails every outstanding call and channel after the socket dies.
func (nc *namespaceConn) teardown() {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.connected = false
	for id, ch := range nc.pending {
		close(ch)
		delete(nc.pending, id)
	}
	for id, ch := range nc.channels {
		close(ch)
		delete(nc.channels, id)
	}
}

func (nc *namespaceConn) writeJSON(v any) error {
	nc.writeMu.Lock()
	defer nc.writeMu.Unlock()
	return nc.ws.WriteJSON(v)
}

// rpc performs one call and waits for its result or error.
func (nc *namespaceConn) rpc(ctx context.Context, endpoint string, parameter any) (json.RawMessage, error) {
	nc.mu.Lock()
	if !nc.connected {
		nc.mu.Unlock()
		return nil, fmt.Errorf("connection to %s namespace is closed", nc.namespace)
	}
	id := nc.nextID
	nc.nextID++
	ch := make(chan envelope, 1)
	nc.pending[id] = ch
	nc.mu.Unlock()

	msg := map[string]any{
		"type":     "rpcCall",
		"endpoint": endpoint,
		"callId":   id,
	}
	if parameter != nil {
		msg["parameter"] = parameter
	}
	if err := nc.writeJSON(msg); err != nil {
		nc.mu.Lock()
		delete(nc.pending, id)
		nc.mu.Unlock()
		return nil, fmt.Errorf("send %s call: %w", endpoint, err)
	}

	timer := time.NewTimer(rpcTimeout)
	defer timer.Stop()

	select {
	case env, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection lost during %s call", endpoint)
		}
		if env.Type == "rpcError" {
			var werr wireError
			if err := json.Unmarshal(env.Error, &werr); err != nil {
				return nil, fmt.Errorf("%s failed", endpoint)
			}
			return nil, fmt.Errorf("%s failed: %s", endpoint, werr.text())
		}
		return env.Result, nil
	case <-timer.C:
		nc.mu.Lock()
		delete(nc.pending, id)
		nc.mu.Unlock()
		return nil, fmt.Errorf("%s call timed out after %s", endpoint, rpcTimeout)
	case <-ctx.Done():
		nc.mu.Lock()
		delete(nc.pending, id)
		nc.mu.Unlock()
		return nil, ctx.Err()
	}
}

// wireChannel is an open server-streaming channel. Messages arrive on msgs
// until the server closes the channel or the socket dies; close releases
// the channel id.
type wireChannel struct {
	id    int
	msgs  chan envelope
	close func()
}

// openChannel starts a channel-based operation on the connection.
func (nc *namespaceConn) openChannel(endpoint string, creationParameter any) (*wireChannel, error) {
	nc.mu.Lock()
	if !nc.connected {
		nc.mu.Unlock()
		return nil, fmt.Errorf("connection to %s namespace is closed", nc.namespace)
	}
	id := nc.nextID
	nc.nextID++
	// Buffered so short bursts survive a slow consumer.
	ch := make(chan envelope, 64)
	nc.channels[id] = ch
	nc.mu.Unlock()

	msg := map[string]any{
		"type":              "channelCreate",
		"channelId":         id,
		"endpoint":          endpoint,
		"creationParameter": creationParameter,
	}
	if err := nc.writeJSON(msg); err != nil {
		nc.mu.Lock()
		delete(nc.channels, id)
		nc.mu.Unlock()
		return nil, fmt.Errorf("open %s channel: %w", endpoint, err)
	}

	return &wireChannel{
		id:   id,
		msgs: ch,
		close: func() {
			nc.mu.Lock()
			delete(nc.channels, id)
			nc.mu.Unlock()
		},
	}, nil
}
