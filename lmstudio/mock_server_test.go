package lmstudio

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// clientMessage is the superset of fields the client sends over a
// namespace socket.
type clientMessage struct {
	Type              string          `json:"type"`
	CallID            int             `json:"callId"`
	ChannelID         int             `json:"channelId"`
	Endpoint          string          `json:"endpoint"`
	Parameter         json.RawMessage `json:"parameter"`
	CreationParameter json.RawMessage `json:"creationParameter"`
}

// mockServer emulates the LM Studio websocket protocol: the passkey
// handshake, RPC calls correlated by callId, and the loadModel/predict
// channels. Every namespace path is served by the same handler, so one
// server backs both the llm and system connections of a client.
type mockServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	loaded     []Model
	downloaded []Model
	loadSteps  []float64
	tokens     []string
	loadError  string // when set, loadModel answers with a channelError

	mu             sync.Mutex
	unloaded       []string
	predictedRefs  []string
	lastPrediction json.RawMessage
}

func newMockServer(t *testing.T) *mockServer {
	m := &mockServer{
		t: t,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		loaded: []Model{
			{
				ModelKey:          "llama-3.2-3b",
				Type:              "llm",
				DisplayName:       "Llama 3.2 3B",
				Identifier:        "llama-3.2-3b",
				InstanceReference: "ref-llama-3.2-3b",
			},
		},
		downloaded: []Model{
			{ModelKey: "llama-3.2-3b", Type: "llm", DisplayName: "Llama 3.2 3B", SizeBytes: 2 << 30},
			{ModelKey: "qwen2.5-7b", Type: "llm", DisplayName: "Qwen2.5 7B", SizeBytes: 4 << 30, TrainedForToolUse: true},
		},
		loadSteps: []float64{0.1, 0.3, 0.5, 0.7, 0.9, 1.0},
		tokens:    []string{"Hello", ", ", "world", "!"},
	}
	m.srv = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.srv.Close)
	return m
}

// host returns the server address in the host:port form NewClient takes.
func (m *mockServer) host() string {
	return strings.TrimPrefix(m.srv.URL, "http://")
}

func (m *mockServer) unloadedModels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.unloaded...)
}

func (m *mockServer) lastPredictionCreation() json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(json.RawMessage(nil), m.lastPrediction...)
}

func (m *mockServer) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	var auth map[string]any
	if err := ws.ReadJSON(&auth); err != nil {
		return
	}
	if err := ws.WriteJSON(map[string]any{"success": true}); err != nil {
		return
	}

	for {
		var msg clientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		switch {
		case msg.Type == "rpcCall":
			m.handleRPC(ws, msg)
		case msg.Type == "channelCreate" && msg.Endpoint == loadModelEndpoint:
			m.handleLoad(ws, msg)
		case msg.Type == "channelCreate" && msg.Endpoint == predictEndpoint:
			m.handlePredict(ws, msg)
		}
	}
}

func (m *mockServer) handleRPC(ws *websocket.Conn, msg clientMessage) {
	var result any
	switch msg.Endpoint {
	case listLoadedEndpoint:
		result = m.loaded
	case listDownloadedEndpoint:
		result = m.downloaded
	case unloadModelEndpoint:
		var param struct {
			Identifier string `json:"identifier"`
		}
		if err := json.Unmarshal(msg.Parameter, &param); err != nil {
			m.t.Errorf("unloadModel parameter: %v", err)
		}
		m.mu.Lock()
		m.unloaded = append(m.unloaded, param.Identifier)
		m.mu.Unlock()
		result = map[string]any{"success": true}
	default:
		m.writeJSON(ws, map[string]any{
			"type":   "rpcError",
			"callId": msg.CallID,
			"error":  map[string]any{"title": "unknown endpoint " + msg.Endpoint},
		})
		return
	}
	m.writeJSON(ws, map[string]any{
		"type":   "rpcResult",
		"callId": msg.CallID,
		"result": result,
	})
}

func (m *mockServer) handleLoad(ws *websocket.Conn, msg clientMessage) {
	if m.loadError != "" {
		m.writeJSON(ws, map[string]any{
			"type":      "channelError",
			"channelId": msg.ChannelID,
			"error":     map[string]any{"title": m.loadError},
		})
		return
	}

	var creation struct {
		ModelKey string `json:"modelKey"`
	}
	if err := json.Unmarshal(msg.CreationParameter, &creation); err != nil {
		m.t.Errorf("loadModel creation parameter: %v", err)
		return
	}

	for _, step := range m.loadSteps {
		m.writeJSON(ws, map[string]any{
			"type":      "channelSend",
			"channelId": msg.ChannelID,
			"message":   map[string]any{"type": "progress", "progress": step},
		})
	}
	m.writeJSON(ws, map[string]any{
		"type":      "channelSend",
		"channelId": msg.ChannelID,
		"message": map[string]any{
			"type": "success",
			"info": map[string]any{
				"identifier":        creation.ModelKey,
				"instanceReference": "ref-" + creation.ModelKey,
			},
		},
	})
}

func (m *mockServer) handlePredict(ws *websocket.Conn, msg clientMessage) {
	var creation struct {
		ModelSpecifier struct {
			InstanceReference string `json:"instanceReference"`
		} `json:"modelSpecifier"`
	}
	if err := json.Unmarshal(msg.CreationParameter, &creation); err != nil {
		m.t.Errorf("predict creation parameter: %v", err)
		return
	}
	m.mu.Lock()
	m.predictedRefs = append(m.predictedRefs, creation.ModelSpecifier.InstanceReference)
	m.lastPrediction = append(json.RawMessage(nil), msg.CreationParameter...)
	m.mu.Unlock()

	for _, token := range m.tokens {
		m.writeJSON(ws, map[string]any{
			"type":      "channelSend",
			"channelId": msg.ChannelID,
			"message": map[string]any{
				"type":     "fragment",
				"fragment": map[string]any{"content": token},
			},
		})
	}
	m.writeJSON(ws, map[string]any{
		"type":      "channelSend",
		"channelId": msg.ChannelID,
		"message":   map[string]any{"type": "success"},
	})
	m.writeJSON(ws, map[string]any{
		"type":      "channelClose",
		"channelId": msg.ChannelID,
	})
}

func (m *mockServer) writeJSON(ws *websocket.Conn, v any) {
	if err := ws.WriteJSON(v); err != nil {
		m.t.Logf("mock server write: %v", err)
	}
}
